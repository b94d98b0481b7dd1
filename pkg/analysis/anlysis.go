package analysis

import (
	"context"
	"errors"
	"math"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

type Method string

const (
	DC Method = "dc"
	AC Method = "ac"
)

// ErrNotConverged is the State.Err of an AC solve that used up max_iter.
var ErrNotConverged = errors.New("power flow did not converge")

type Analysis interface {
	Setup(net *network.Network) error
	Execute(ctx context.Context) error
	State() *State
}

// State is a solved operating point. Angles are in radians and every other
// quantity in per unit. AC-only vectors are nil for DC.
type State struct {
	Method     Method
	Converged  bool
	Iterations int
	Va         []float64 // per bus
	Vm         []float64
	P          []float64 // computed injection per bus
	Q          []float64
	Pft        []float64 // per branch, from end
	Qft        []float64
	Ptf        []float64 // per branch, to end
	Qtf        []float64
	Mismatch   float64 // final max mismatch
	Err        error   // reason when not converged
}

func newState(method Method, net *network.Network) *State {
	n, m := net.NumBuses(), net.NumBranches()

	st := &State{
		Method: method,
		Va:     make([]float64, n),
		P:      make([]float64, n),
		Pft:    make([]float64, m),
		Ptf:    make([]float64, m),
	}
	if method == AC {
		st.Vm = make([]float64, n)
		st.Q = make([]float64, n)
		st.Qft = make([]float64, m)
		st.Qtf = make([]float64, m)
	}

	return st
}

type BaseAnalysis struct {
	Network     *network.Network
	state       *State
	convergence struct {
		maxIter   int
		tolerance float64
		flatStart bool
	}
}

type Option func(*BaseAnalysis)

// WithMaxIter caps Newton-Raphson iterations. Non-positive values keep the
// default.
func WithMaxIter(n int) Option {
	return func(a *BaseAnalysis) {
		if n > 0 {
			a.convergence.maxIter = n
		}
	}
}

// WithTolerance sets the mismatch tolerance in pu. Non-positive or
// non-finite values keep the default.
func WithTolerance(tol float64) Option {
	return func(a *BaseAnalysis) {
		if tol > 0 && !math.IsInf(tol, 0) {
			a.convergence.tolerance = tol
		}
	}
}

// WithFlatStart ignores supplied angle guesses and PQ voltage guesses.
func WithFlatStart(flat bool) Option {
	return func(a *BaseAnalysis) {
		a.convergence.flatStart = flat
	}
}

func NewBaseAnalysis(opts ...Option) *BaseAnalysis {
	ba := &BaseAnalysis{}

	ba.convergence.maxIter = consts.DefaultMaxIter
	ba.convergence.tolerance = consts.DefaultTolerance

	for _, opt := range opts {
		opt(ba)
	}

	return ba
}

func (a *BaseAnalysis) Setup(net *network.Network) error {
	if net == nil {
		return errors.New("network not set")
	}
	a.Network = net
	a.state = nil
	return nil
}

func (a *BaseAnalysis) State() *State {
	return a.state
}

func (a *BaseAnalysis) MaxIter() int { return a.convergence.maxIter }

func (a *BaseAnalysis) Tolerance() float64 { return a.convergence.tolerance }
