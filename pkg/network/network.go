package network

import (
	"fmt"
	"strconv"
	"strings"
)

type BusType int

const (
	PQ BusType = iota + 1
	PV
	Slack
)

func (t BusType) String() string {
	switch t {
	case PQ:
		return "pq"
	case PV:
		return "pv"
	case Slack:
		return "slack"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseBusType accepts names (pq, pv, slack/ref/swing) and MATPOWER codes
// (1, 2, 3). An empty string means PQ.
func ParseBusType(s string) (BusType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pq", "1":
		return PQ, nil
	case "pv", "2":
		return PV, nil
	case "slack", "ref", "swing", "3":
		return Slack, nil
	default:
		return 0, fmt.Errorf("unknown bus type %q", s)
	}
}

type Bus struct {
	ID   int
	Type BusType
	Pd   float64 // MW
	Qd   float64 // MVAr
	Pg   float64 // MW
	Qg   float64 // MVAr
	Gs   float64 // MW at V = 1 pu
	Bs   float64 // MVAr at V = 1 pu
	Vm   float64 // target (PV, slack) or initial guess (PQ), pu
	Va   float64 // initial angle guess, degrees
}

type Branch struct {
	From  int // bus id
	To    int // bus id
	R     float64
	X     float64
	B     float64 // total line charging, pu
	Ratio float64 // off-nominal tap, 0 means nominal

	// InService is false for a switched-out branch. It keeps its position in
	// the case but carries no flow.
	InService bool
}

// Tap returns the effective tap ratio.
func (br Branch) Tap() float64 {
	if br.Ratio == 0 {
		return 1
	}
	return br.Ratio
}

// Network is a validated case. It is never modified after Validate.
type Network struct {
	baseMVA  float64
	buses    []Bus
	branches []Branch
	index    map[int]int // bus id -> position
	ends     [][2]int    // branch -> (from, to) positions
	slack    int
	p        []float64 // net injection, pu
	q        []float64
}

func (n *Network) BaseMVA() float64 { return n.baseMVA }

func (n *Network) NumBuses() int { return len(n.buses) }

func (n *Network) NumBranches() int { return len(n.branches) }

func (n *Network) Bus(i int) Bus { return n.buses[i] }

func (n *Network) Branch(k int) Branch { return n.branches[k] }

// Ends returns the bus positions of branch k.
func (n *Network) Ends(k int) (from, to int) {
	return n.ends[k][0], n.ends[k][1]
}

// Slack returns the position of the slack bus.
func (n *Network) Slack() int { return n.slack }

// P returns the specified net active injection of bus i in pu.
func (n *Network) P(i int) float64 { return n.p[i] }

// Q returns the specified net reactive injection of bus i in pu.
func (n *Network) Q(i int) float64 { return n.q[i] }

// NonSlack returns the positions of PV and PQ buses in declared order.
func (n *Network) NonSlack() []int {
	positions := make([]int, 0, len(n.buses)-1)
	for i := range n.buses {
		if i != n.slack {
			positions = append(positions, i)
		}
	}
	return positions
}

// PQBuses returns the positions of PQ buses in declared order.
func (n *Network) PQBuses() []int {
	positions := make([]int, 0, len(n.buses))
	for i, bus := range n.buses {
		if bus.Type == PQ {
			positions = append(positions, i)
		}
	}
	return positions
}
