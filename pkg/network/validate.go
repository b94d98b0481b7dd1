package network

import (
	"math"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/netlist"
)

// Validate checks a raw case and builds the per-unit network model. The
// first violated invariant is reported; input is never repaired.
func Validate(raw *netlist.CaseData) (*Network, error) {
	if raw == nil {
		return nil, invalid(KindEmpty, "no case supplied")
	}

	baseMVA := consts.DefaultBaseMVA
	if raw.BaseMVA != nil {
		baseMVA = *raw.BaseMVA
	}
	if !finite(baseMVA) || baseMVA <= 0 {
		return nil, invalid(KindBaseMVA, "baseMVA must be positive and finite, got %g", baseMVA)
	}

	if len(raw.Buses) == 0 {
		return nil, invalid(KindEmpty, "case has no buses")
	}

	net := &Network{
		baseMVA: baseMVA,
		buses:   make([]Bus, len(raw.Buses)),
		index:   make(map[int]int, len(raw.Buses)),
		slack:   -1,
	}

	if err := net.setupBuses(raw.Buses); err != nil {
		return nil, err
	}
	if err := net.applyGens(raw.Gens); err != nil {
		return nil, err
	}
	if err := net.setupBranches(raw.Branches); err != nil {
		return nil, err
	}
	if err := checkConnected(net); err != nil {
		return nil, err
	}

	net.p = make([]float64, len(net.buses))
	net.q = make([]float64, len(net.buses))
	for i, bus := range net.buses {
		net.p[i] = (bus.Pg - bus.Pd) / baseMVA
		net.q[i] = (bus.Qg - bus.Qd) / baseMVA
	}

	return net, nil
}

func (n *Network) setupBuses(raw []netlist.BusData) error {
	slacks := 0

	for i, rb := range raw {
		id, ok := busID(rb.ID)
		if !ok {
			return invalid(KindBusID, "bus[%d]: id must be a positive integer, got %g", i, rb.ID)
		}
		if prev, exists := n.index[id]; exists {
			return invalid(KindDuplicateBus, "bus[%d]: id %d already used by bus[%d]", i, id, prev)
		}

		busType, err := ParseBusType(rb.Type)
		if err != nil {
			return invalid(KindBusType, "bus %d: %v", id, err)
		}
		if busType == Slack {
			slacks++
		}

		for _, v := range []float64{rb.Pd, rb.Qd, rb.Pg, rb.Qg, rb.Gs, rb.Bs} {
			if !finite(v) {
				return invalid(KindValue, "bus %d: power and shunt values must be finite", id)
			}
		}

		bus := Bus{
			ID:   id,
			Type: busType,
			Pd:   rb.Pd,
			Qd:   rb.Qd,
			Pg:   rb.Pg,
			Qg:   rb.Qg,
			Gs:   rb.Gs,
			Bs:   rb.Bs,
			Vm:   consts.DefaultVm,
		}
		if rb.Vm != nil {
			bus.Vm = *rb.Vm
		}
		if !finite(bus.Vm) || bus.Vm <= 0 {
			return invalid(KindValue, "bus %d: Vm must be positive and finite, got %g", id, bus.Vm)
		}
		if rb.Va != nil {
			if !finite(*rb.Va) {
				return invalid(KindValue, "bus %d: Va must be finite", id)
			}
			bus.Va = *rb.Va
		}

		n.buses[i] = bus
		n.index[id] = i
		if busType == Slack {
			n.slack = i
		}
	}

	if slacks != 1 {
		return invalid(KindSlackCount, "exactly one slack bus required, found %d", slacks)
	}

	return nil
}

// applyGens aggregates in-service generators onto their buses. A generator
// voltage setpoint becomes the target of a PV or slack bus.
func (n *Network) applyGens(gens []netlist.GenData) error {
	for g, gen := range gens {
		id, ok := busID(gen.Bus)
		if !ok {
			return invalid(KindBusID, "gen[%d]: bus must be a positive integer, got %g", g, gen.Bus)
		}
		i, exists := n.index[id]
		if !exists {
			return invalid(KindUnknownBus, "gen[%d]: bus %d is not declared", g, id)
		}
		if !finite(gen.Pg) || !finite(gen.Qg) {
			return invalid(KindValue, "gen[%d]: Pg and Qg must be finite", g)
		}
		if !gen.InService {
			continue
		}

		bus := &n.buses[i]
		bus.Pg += gen.Pg
		bus.Qg += gen.Qg

		if gen.Vg != nil && bus.Type != PQ {
			if !finite(*gen.Vg) || *gen.Vg <= 0 {
				return invalid(KindValue, "gen[%d]: Vg must be positive and finite, got %g", g, *gen.Vg)
			}
			bus.Vm = *gen.Vg
		}
	}

	return nil
}

func (n *Network) setupBranches(raw []netlist.BranchData) error {
	n.branches = make([]Branch, len(raw))
	n.ends = make([][2]int, len(raw))

	for k, rb := range raw {
		from, okFrom := busID(rb.From)
		to, okTo := busID(rb.To)
		if !okFrom || !okTo {
			return invalid(KindUnknownBus, "branch[%d]: endpoints must be positive integers, got f=%g t=%g", k, rb.From, rb.To)
		}

		f, existsFrom := n.index[from]
		t, existsTo := n.index[to]
		if !existsFrom || !existsTo {
			return invalid(KindUnknownBus, "branch[%d] references unknown bus: f=%d, t=%d", k, from, to)
		}
		if from == to {
			return invalid(KindSelfLoop, "branch[%d]: from and to bus are both %d", k, from)
		}

		if !rb.HasX {
			return invalid(KindReactance, "branch[%d]: missing reactance x", k)
		}
		if !finite(rb.X) || rb.X == 0 || math.IsInf(1/rb.X, 0) {
			return invalid(KindReactance, "branch[%d]: reactance x must be non-zero and finite, got %g", k, rb.X)
		}
		if !finite(rb.R) || !finite(rb.B) {
			return invalid(KindValue, "branch[%d]: r and b must be finite", k)
		}
		if !finite(rb.Ratio) || rb.Ratio < 0 {
			return invalid(KindValue, "branch[%d]: tap ratio must be non-negative and finite, got %g", k, rb.Ratio)
		}

		n.branches[k] = Branch{
			From:      from,
			To:        to,
			R:         rb.R,
			X:         rb.X,
			B:         rb.B,
			Ratio:     rb.Ratio,
			InService: rb.InService,
		}
		n.ends[k] = [2]int{f, t}
	}

	return nil
}

func busID(v float64) (int, bool) {
	if !finite(v) || v <= 0 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
