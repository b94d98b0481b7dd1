// Package result maps a solved state onto the response records returned to
// callers.
package result

import (
	"math"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/analysis"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

type Response struct {
	Converged  bool      `json:"converged"`
	Method     string    `json:"method"`
	Iterations int       `json:"iterations"`
	CaseID     string    `json:"case_id,omitempty"`
	BaseMVA    float64   `json:"baseMVA"`
	Mismatch   float64   `json:"mismatch_pu"`
	Bus        []Bus     `json:"bus"`
	Branch     []Branch  `json:"branch"`
	BusVm      []float64 `json:"bus_vm,omitempty"` // AC only
	Error      string    `json:"error,omitempty"`
}

// Bus is one bus in input order. Vm and Qinj are AC only.
type Bus struct {
	ID     int      `json:"id"`
	VaDeg  float64  `json:"Va_deg"`
	PinjPu float64  `json:"Pinj_pu"`
	VmPu   *float64 `json:"Vm_pu,omitempty"`
	QinjPu *float64 `json:"Qinj_pu,omitempty"`
}

// Branch is one branch in input order. Only Pft is defined for DC.
type Branch struct {
	Idx    int      `json:"idx"`
	From   int      `json:"f"`
	To     int      `json:"t"`
	PftPu  float64  `json:"Pft_pu"`
	QftPu  *float64 `json:"Qft_pu,omitempty"`
	PtfPu  *float64 `json:"Ptf_pu,omitempty"`
	QtfPu  *float64 `json:"Qtf_pu,omitempty"`
	LossPu *float64 `json:"loss_pu,omitempty"`
}

// Format builds the response for a solved state. Non-finite values of a
// diverged iterate are reported as 0; Error carries the reason.
func Format(net *network.Network, st *analysis.State) *Response {
	ac := st.Method == analysis.AC

	resp := &Response{
		Converged:  st.Converged,
		Method:     string(st.Method),
		Iterations: st.Iterations,
		BaseMVA:    net.BaseMVA(),
		Mismatch:   finite(st.Mismatch),
		Bus:        make([]Bus, net.NumBuses()),
		Branch:     make([]Branch, net.NumBranches()),
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}

	if ac {
		resp.BusVm = make([]float64, net.NumBuses())
	}

	for i := range resp.Bus {
		rec := Bus{
			ID:     net.Bus(i).ID,
			VaDeg:  finite(st.Va[i] * consts.RadToDeg),
			PinjPu: finite(st.P[i]),
		}
		if ac {
			vm := finite(st.Vm[i])
			rec.VmPu = &vm
			rec.QinjPu = value(st.Q[i])
			resp.BusVm[i] = vm
		}
		resp.Bus[i] = rec
	}

	for k := range resp.Branch {
		br := net.Branch(k)
		rec := Branch{
			Idx:   k,
			From:  br.From,
			To:    br.To,
			PftPu: finite(st.Pft[k]),
		}
		if ac {
			rec.QftPu = value(st.Qft[k])
			rec.PtfPu = value(st.Ptf[k])
			rec.QtfPu = value(st.Qtf[k])
			rec.LossPu = value(st.Pft[k] + st.Ptf[k])
		}
		resp.Branch[k] = rec
	}

	return resp
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func value(v float64) *float64 {
	f := finite(v)
	return &f
}
