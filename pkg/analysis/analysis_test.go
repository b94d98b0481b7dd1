package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/caselib"
	"github.com/edp1096/toy-powerflow/pkg/netlist"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

func ptr(v float64) *float64 { return &v }

func validate(t *testing.T, raw *netlist.CaseData) *network.Network {
	t.Helper()
	net, err := network.Validate(raw)
	require.NoError(t, err)
	return net
}

func loadCase(t *testing.T, id string) *network.Network {
	t.Helper()
	raw, err := caselib.Load(id)
	require.NoError(t, err)
	return validate(t, raw)
}

// threeBus is the slack/PQ/PV triangle used across the tests. Loads are in
// MW so scale 1 gives angles of a few degrees.
func threeBus(scale float64, lossy bool) *netlist.CaseData {
	c := &netlist.CaseData{
		BaseMVA: ptr(100),
		Buses: []netlist.BusData{
			{ID: 1, Type: "slack"},
			{ID: 2, Type: "pq", Pd: 50 * scale, Qd: 10 * scale},
			{ID: 3, Type: "pv", Pg: 30 * scale, Vm: ptr(1.0)},
		},
		Branches: []netlist.BranchData{
			{From: 1, To: 2, X: 0.1, HasX: true, InService: true},
			{From: 2, To: 3, X: 0.2, HasX: true, InService: true},
			{From: 1, To: 3, X: 0.25, HasX: true, InService: true},
		},
	}
	if lossy {
		c.Buses[2].Vm = ptr(1.02)
		c.Branches[0].R, c.Branches[0].B = 0.01, 0.02
		c.Branches[1].R, c.Branches[1].B = 0.02, 0.04
		c.Branches[2].Ratio = 0.98
	}
	return c
}

func solve(t *testing.T, a Analysis, net *network.Network) *State {
	t.Helper()
	require.NoError(t, a.Setup(net))
	require.NoError(t, a.Execute(context.Background()))
	st := a.State()
	require.NotNil(t, st)
	return st
}

func TestDC_ThreeBus(t *testing.T) {
	net := validate(t, threeBus(1, false))
	st := solve(t, NewDC(), net)

	assert.True(t, st.Converged)
	assert.Equal(t, DC, st.Method)
	assert.Equal(t, 1, st.Iterations)
	assert.NoError(t, st.Err)
	assert.Nil(t, st.Vm)
	assert.Nil(t, st.Qft)

	// B' = [[15 -5] [-5 9]], P = [-0.5 0.3]
	assert.Equal(t, 0.0, st.Va[0])
	assert.InDelta(t, -3.0/110, st.Va[1], 1e-12)
	assert.InDelta(t, 2.0/110, st.Va[2], 1e-12)

	assert.InDelta(t, 30.0/110, st.Pft[0], 1e-12)
	assert.InDelta(t, -25.0/110, st.Pft[1], 1e-12)
	assert.InDelta(t, -8.0/110, st.Pft[2], 1e-12)
	for k := range st.Pft {
		assert.Equal(t, -st.Pft[k], st.Ptf[k])
	}

	assert.InDelta(t, 0.2, st.P[0], 1e-12)
	assert.InDelta(t, -0.5, st.P[1], 1e-12)
	assert.InDelta(t, 0.3, st.P[2], 1e-12)
	assert.Less(t, st.Mismatch, 1e-12)
}

func TestDC_FlowConservation(t *testing.T) {
	net := loadCase(t, "case14")
	st := solve(t, NewDC(), net)
	require.True(t, st.Converged)

	out := make([]float64, net.NumBuses())
	for k := 0; k < net.NumBranches(); k++ {
		f, to := net.Ends(k)
		out[f] += st.Pft[k]
		out[to] += st.Ptf[k]
	}

	total := 0.0
	for i := 0; i < net.NumBuses(); i++ {
		total += st.P[i]
		if i != net.Slack() {
			assert.InDelta(t, net.P(i), out[i], 1e-9, "bus %d", net.Bus(i).ID)
		}
	}
	assert.InDelta(t, 0, total, 1e-9)

	// lossless: the slack covers load minus the bus 2 generator
	assert.InDelta(t, 2.19, st.P[net.Slack()], 1e-9)
}

func TestDC_SlackOnly(t *testing.T) {
	net := validate(t, &netlist.CaseData{Buses: []netlist.BusData{{ID: 1, Type: "slack", Pd: 10}}})
	st := solve(t, NewDC(), net)

	assert.True(t, st.Converged)
	assert.Equal(t, []float64{0}, st.Va)
	assert.Empty(t, st.Pft)
}

func TestDC_SpecThreeBus(t *testing.T) {
	// radial 1-2-3 with the whole load at bus 2
	net := validate(t, &netlist.CaseData{
		BaseMVA: ptr(100),
		Buses: []netlist.BusData{
			{ID: 1, Type: "slack"},
			{ID: 2, Type: "pq", Pd: 50},
			{ID: 3, Type: "pq"},
		},
		Branches: []netlist.BranchData{
			{From: 1, To: 2, X: 0.1, HasX: true, InService: true},
			{From: 2, To: 3, X: 0.15, HasX: true, InService: true},
		},
	})
	st := solve(t, NewDC(), net)

	require.True(t, st.Converged, "%v", st.Err)
	assert.Equal(t, 0.0, st.Va[0])
	assert.InDelta(t, -0.05, st.Va[1], 1e-12)
	assert.InDelta(t, -0.05, st.Va[2], 1e-12)
	assert.InDelta(t, 0.5, st.Pft[0], 1e-12)
	assert.InDelta(t, 0.0, st.Pft[1], 1e-12)
	assert.InDelta(t, 0.5, st.P[0], 1e-12)
}

func TestDC_SingleLine(t *testing.T) {
	net := validate(t, &netlist.CaseData{
		Buses: []netlist.BusData{
			{ID: 1, Type: "slack"},
			{ID: 2, Pd: 30},
		},
		Branches: []netlist.BranchData{{From: 1, To: 2, X: 0.2, HasX: true, InService: true}},
	})
	st := solve(t, NewDC(), net)

	require.True(t, st.Converged, "%v", st.Err)
	assert.Equal(t, 0.0, st.Va[0])
	assert.InDelta(t, -0.06, st.Va[1], 1e-12)
	assert.InDelta(t, 0.3, st.Pft[0], 1e-12)
	assert.InDelta(t, -0.3, st.Ptf[0], 1e-12)
	assert.InDelta(t, 0.3, st.P[0], 1e-12)
}

func TestDC_UnbalancedFlowsNotConverged(t *testing.T) {
	dc := NewDC()
	st := &State{Mismatch: 0.3}
	dc.checkBalance(st)

	assert.False(t, st.Converged)
	assert.ErrorIs(t, st.Err, admittance.ErrSingularSystem)

	st = &State{Mismatch: 1e-14}
	dc.checkBalance(st)
	assert.True(t, st.Converged)
	assert.NoError(t, st.Err)
}

func TestDC_OutOfServiceBranch(t *testing.T) {
	raw := &netlist.CaseData{
		Buses: []netlist.BusData{
			{ID: 1, Type: "slack"},
			{ID: 2, Pd: 50},
		},
		Branches: []netlist.BranchData{
			{From: 1, To: 2, X: 0.1, HasX: true, InService: true},
			{From: 1, To: 2, X: 0.1, HasX: true},
		},
	}
	st := solve(t, NewDC(), validate(t, raw))

	require.True(t, st.Converged, "%v", st.Err)
	require.Len(t, st.Pft, 2)
	assert.InDelta(t, 0.5, st.Pft[0], 1e-12)
	assert.Equal(t, 0.0, st.Pft[1])
	assert.Equal(t, 0.0, st.Ptf[1])
	assert.InDelta(t, -0.05, st.Va[1], 1e-12)
}

func TestAC_OutOfServiceBranch(t *testing.T) {
	raw := threeBus(1, true)
	raw.Branches = append(raw.Branches, netlist.BranchData{From: 1, To: 2, R: 0.01, X: 0.1, HasX: true})
	st := solve(t, NewAC(), validate(t, raw))

	ref := solve(t, NewAC(), validate(t, threeBus(1, true)))

	require.True(t, st.Converged, "%v", st.Err)
	require.Len(t, st.Pft, 4)
	assert.Equal(t, 0.0, st.Pft[3])
	assert.Equal(t, 0.0, st.Qft[3])
	assert.Equal(t, 0.0, st.Ptf[3])
	assert.Equal(t, 0.0, st.Qtf[3])
	for k := range ref.Pft {
		assert.InDelta(t, ref.Pft[k], st.Pft[k], 1e-9, "branch %d", k)
	}
}

func TestAC_ThreeBus(t *testing.T) {
	net := validate(t, threeBus(1, true))
	st := solve(t, NewAC(), net)

	require.True(t, st.Converged, "%v", st.Err)
	assert.Equal(t, AC, st.Method)
	assert.Greater(t, st.Iterations, 1)
	assert.LessOrEqual(t, st.Iterations, 10)
	assert.Less(t, st.Mismatch, consts.DefaultTolerance)

	assert.Equal(t, 0.0, st.Va[0])
	assert.Equal(t, 1.0, st.Vm[0])
	assert.Equal(t, 1.02, st.Vm[2])

	for _, i := range net.NonSlack() {
		assert.InDelta(t, net.P(i), st.P[i], consts.DefaultTolerance)
	}
	for _, i := range net.PQBuses() {
		assert.InDelta(t, net.Q(i), st.Q[i], consts.DefaultTolerance)
	}

	// net injections equal the branch losses
	var sumP, sumQ, lossP, lossQ float64
	for i := range st.P {
		sumP += st.P[i]
		sumQ += st.Q[i]
	}
	for k := range st.Pft {
		lossP += st.Pft[k] + st.Ptf[k]
		lossQ += st.Qft[k] + st.Qtf[k]
	}
	assert.InDelta(t, lossP, sumP, 1e-9)
	assert.InDelta(t, lossQ, sumQ, 1e-9)
	assert.Greater(t, lossP, 0.0)
}

func TestAC_MatchesDCWhenLossless(t *testing.T) {
	raw := threeBus(0.1, false)
	dc := solve(t, NewDC(), validate(t, raw))
	ac := solve(t, NewAC(), validate(t, raw))

	require.True(t, dc.Converged)
	require.True(t, ac.Converged)

	for i := range dc.Va {
		assert.InDelta(t, dc.Va[i], ac.Va[i], 1e-4, "bus %d", i)
		assert.InDelta(t, 1.0, ac.Vm[i], 2e-3, "bus %d", i)
	}
	for k := range dc.Pft {
		assert.InDelta(t, dc.Pft[k], ac.Pft[k], 1e-4, "branch %d", k)
	}
}

func TestAC_Idempotent(t *testing.T) {
	net := loadCase(t, "case9")
	ac := NewAC()

	first := solve(t, ac, net)
	second := solve(t, ac, net)
	assert.Equal(t, first, second)

	other := solve(t, NewAC(), net)
	assert.Equal(t, first, other)
}

func TestAC_MaxIterOne(t *testing.T) {
	net := loadCase(t, "case14")
	st := solve(t, NewAC(WithMaxIter(1), WithFlatStart(true)), net)

	assert.False(t, st.Converged)
	assert.Equal(t, 1, st.Iterations)
	assert.True(t, errors.Is(st.Err, ErrNotConverged), "%v", st.Err)
	assert.Greater(t, st.Mismatch, consts.DefaultTolerance)
}

func TestAC_PublishedCases(t *testing.T) {
	tests := []struct {
		id    string
		slack float64 // published slack generation, pu
	}{
		{"case9", 0.7164},
		{"case14", 2.3239},
		{"case30", 0.2597},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			net := loadCase(t, tt.id)
			st := solve(t, NewAC(WithFlatStart(true)), net)

			require.True(t, st.Converged, "%v", st.Err)
			assert.LessOrEqual(t, st.Iterations, 10)
			assert.InDelta(t, tt.slack, st.P[net.Slack()], 1e-2)
		})
	}
}

func TestAC_Case14StoredSolution(t *testing.T) {
	net := loadCase(t, "case14")
	st := solve(t, NewAC(WithFlatStart(true)), net)
	require.True(t, st.Converged)

	// the case file carries the solved voltages
	for i := 0; i < net.NumBuses(); i++ {
		bus := net.Bus(i)
		assert.InDelta(t, bus.Vm, st.Vm[i], 2e-3, "Vm at bus %d", bus.ID)
		assert.InDelta(t, bus.Va, st.Va[i]*consts.RadToDeg, 0.1, "Va at bus %d", bus.ID)
	}

	// started from the stored solution it has almost nothing left to do
	warm := solve(t, NewAC(), net)
	require.True(t, warm.Converged)
	assert.LessOrEqual(t, warm.Iterations, st.Iterations)
}

func TestAC_Overloaded(t *testing.T) {
	net := validate(t, threeBus(40, false))
	st := solve(t, NewAC(WithMaxIter(20)), net)

	assert.False(t, st.Converged)
	assert.Error(t, st.Err)
	assert.LessOrEqual(t, st.Iterations, 20)
}

func TestAC_Cancelled(t *testing.T) {
	net := loadCase(t, "case14")
	ac := NewAC(WithFlatStart(true))
	require.NoError(t, ac.Setup(net))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ac.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptions(t *testing.T) {
	ba := NewBaseAnalysis(WithMaxIter(0), WithTolerance(-1))
	assert.Equal(t, consts.DefaultMaxIter, ba.MaxIter())
	assert.Equal(t, consts.DefaultTolerance, ba.Tolerance())

	ba = NewBaseAnalysis(WithMaxIter(7), WithTolerance(1e-9))
	assert.Equal(t, 7, ba.MaxIter())
	assert.Equal(t, 1e-9, ba.Tolerance())
}

func TestSetup_NilNetwork(t *testing.T) {
	assert.Error(t, NewDC().Setup(nil))
	assert.Error(t, NewAC().Setup(nil))
}
