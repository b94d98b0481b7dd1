package result

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/pkg/analysis"
	"github.com/edp1096/toy-powerflow/pkg/netlist"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

func ptr(v float64) *float64 { return &v }

func twoBus(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.Validate(&netlist.CaseData{
		Buses: []netlist.BusData{{ID: 10, Type: "slack"}, {ID: 20, Pd: 20, Qd: 5}},
		Branches: []netlist.BranchData{
			{From: 10, To: 20, R: 0.01, X: 0.1, HasX: true, InService: true},
		},
	})
	require.NoError(t, err)
	return net
}

func solve(t *testing.T, a analysis.Analysis, net *network.Network) *analysis.State {
	t.Helper()
	require.NoError(t, a.Setup(net))
	require.NoError(t, a.Execute(context.Background()))
	return a.State()
}

func TestFormat_DC(t *testing.T) {
	net := twoBus(t)
	resp := Format(net, solve(t, analysis.NewDC(), net))

	assert.True(t, resp.Converged)
	assert.Equal(t, "dc", resp.Method)
	assert.Equal(t, 1, resp.Iterations)
	assert.Empty(t, resp.Error)
	assert.Nil(t, resp.BusVm)

	require.Len(t, resp.Bus, 2)
	assert.Equal(t, 10, resp.Bus[0].ID)
	assert.Equal(t, 20, resp.Bus[1].ID)
	assert.InDelta(t, -0.2*0.1*180/math.Pi, resp.Bus[1].VaDeg, 1e-9)
	assert.InDelta(t, 0.2, resp.Bus[0].PinjPu, 1e-12)
	assert.Nil(t, resp.Bus[0].VmPu)

	require.Len(t, resp.Branch, 1)
	assert.Equal(t, Branch{Idx: 0, From: 10, To: 20, PftPu: resp.Branch[0].PftPu}, resp.Branch[0])
	assert.InDelta(t, 0.2, resp.Branch[0].PftPu, 1e-12)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Vm_pu")
	assert.NotContains(t, string(data), "Qft_pu")
	assert.NotContains(t, string(data), "bus_vm")
	assert.Contains(t, string(data), `"Va_deg"`)
}

func TestFormat_AC(t *testing.T) {
	net := twoBus(t)
	resp := Format(net, solve(t, analysis.NewAC(), net))

	require.True(t, resp.Converged)
	assert.Equal(t, "ac", resp.Method)
	require.Len(t, resp.BusVm, 2)
	assert.Equal(t, 1.0, resp.BusVm[0])
	require.NotNil(t, resp.Bus[1].VmPu)
	assert.Equal(t, resp.BusVm[1], *resp.Bus[1].VmPu)
	assert.Less(t, resp.BusVm[1], 1.0)

	br := resp.Branch[0]
	require.NotNil(t, br.QftPu)
	require.NotNil(t, br.PtfPu)
	require.NotNil(t, br.LossPu)
	assert.InDelta(t, -0.2, *br.PtfPu, 1e-6)
	assert.InDelta(t, br.PftPu+*br.PtfPu, *br.LossPu, 1e-12)
	assert.Greater(t, *br.LossPu, 0.0)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"bus_vm"`)
	assert.Contains(t, string(data), `"Qinj_pu"`)
}

func TestFormat_NonFinite(t *testing.T) {
	net := twoBus(t)
	st := &analysis.State{
		Method:     analysis.AC,
		Iterations: 3,
		Va:         []float64{0, math.NaN()},
		Vm:         []float64{1, math.Inf(1)},
		P:          []float64{0, math.NaN()},
		Q:          []float64{0, 0},
		Pft:        []float64{math.NaN()},
		Qft:        []float64{0},
		Ptf:        []float64{0},
		Qtf:        []float64{0},
		Mismatch:   math.NaN(),
		Err:        errors.New("diverged"),
	}

	resp := Format(net, st)
	assert.False(t, resp.Converged)
	assert.Equal(t, "diverged", resp.Error)
	assert.Equal(t, 3, resp.Iterations)

	_, err := json.Marshal(resp)
	require.NoError(t, err)
}
