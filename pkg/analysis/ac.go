package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/sirupsen/logrus"
)

// ACPowerFlow is a polar Newton-Raphson power flow. Unknowns are the angles
// of all non-slack buses followed by the magnitudes of PQ buses.
type ACPowerFlow struct {
	BaseAnalysis
	ybus  *admittance.Ybus
	pvpq  []int // bus positions with an angle unknown
	pq    []int // bus positions with a magnitude unknown
	index []int // bus position -> 1-based unknown index of its angle, 0 for the slack
	vmIdx []int // bus position -> 1-based unknown index of its magnitude, 0 if fixed
}

func NewAC(opts ...Option) *ACPowerFlow {
	return &ACPowerFlow{
		BaseAnalysis: *NewBaseAnalysis(opts...),
	}
}

func (ac *ACPowerFlow) Setup(net *network.Network) error {
	if err := ac.BaseAnalysis.Setup(net); err != nil {
		return err
	}

	n := net.NumBuses()
	ac.pvpq = net.NonSlack()
	ac.pq = net.PQBuses()
	ac.index = make([]int, n)
	ac.vmIdx = make([]int, n)

	for r, i := range ac.pvpq {
		ac.index[i] = r + 1
	}
	for r, i := range ac.pq {
		ac.vmIdx[i] = len(ac.pvpq) + r + 1
	}

	return nil
}

func (ac *ACPowerFlow) Execute(ctx context.Context) error {
	if ac.Network == nil {
		return fmt.Errorf("network not set")
	}

	net := ac.Network
	st := newState(AC, net)
	ac.state = st
	ac.initialize(st)

	ybus, err := admittance.BuildAC(net)
	if err != nil {
		if errors.Is(err, admittance.ErrSingularSystem) {
			st.Err = err
			return nil
		}
		return fmt.Errorf("building Y matrix: %w", err)
	}
	defer ybus.Destroy()
	ac.ybus = ybus
	defer func() { ac.ybus = nil }()

	ac.injections(st)
	mismatch := ac.mismatch(st)
	st.Mismatch = infNorm(mismatch)

	tol := ac.convergence.tolerance
	for st.Mismatch >= tol && !math.IsInf(st.Mismatch, 0) && st.Iterations < ac.convergence.maxIter {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ac power flow after %d iterations: %w", st.Iterations, err)
		}

		dx, err := ac.solveJacobian(st, mismatch)
		if err != nil {
			if errors.Is(err, matrix.ErrSingular) {
				st.Err = fmt.Errorf("%w: jacobian at iteration %d: %v", admittance.ErrSingularSystem, st.Iterations+1, err)
				break
			}
			return fmt.Errorf("jacobian solve error: %w", err)
		}

		ac.update(st, dx)
		st.Iterations++

		ac.injections(st)
		mismatch = ac.mismatch(st)
		st.Mismatch = infNorm(mismatch)

		logrus.WithFields(logrus.Fields{
			"iteration": st.Iterations,
			"mismatch":  st.Mismatch,
		}).Debug("newton-raphson step")
	}

	if math.IsNaN(st.Mismatch) || math.IsInf(st.Mismatch, 0) {
		if st.Err == nil {
			st.Err = fmt.Errorf("%w: mismatch diverged after %d iterations", ErrNotConverged, st.Iterations)
		}
	} else if st.Err == nil && st.Mismatch >= tol {
		st.Err = fmt.Errorf("%w: max mismatch %.3g pu after %d iterations", ErrNotConverged, st.Mismatch, st.Iterations)
	}
	st.Converged = st.Err == nil

	ac.branchFlows(st)

	return nil
}

// initialize sets the starting point. PV and slack magnitudes are always
// their targets; the slack angle is the 0 reference.
func (ac *ACPowerFlow) initialize(st *State) {
	net := ac.Network

	for i := 0; i < net.NumBuses(); i++ {
		bus := net.Bus(i)

		st.Vm[i] = bus.Vm
		if ac.convergence.flatStart && bus.Type == network.PQ {
			st.Vm[i] = consts.DefaultVm
		}

		if i != net.Slack() && !ac.convergence.flatStart {
			st.Va[i] = bus.Va * consts.DegToRad
		}
	}
}

// injections computes S_i = V_i conj(sum_k Y_ik V_k) for every bus.
func (ac *ACPowerFlow) injections(st *State) {
	for i := range st.Va {
		var p, q float64

		for _, k := range ac.coupled(i) {
			y := ac.ybus.Element(i, k)
			g, b := real(y), imag(y)
			sin, cos := math.Sincos(st.Va[i] - st.Va[k])

			p += st.Vm[i] * st.Vm[k] * (g*cos + b*sin)
			q += st.Vm[i] * st.Vm[k] * (g*sin - b*cos)
		}

		st.P[i], st.Q[i] = p, q
	}
}

// mismatch returns specified minus calculated injections, ordered as the
// unknowns (0-based).
func (ac *ACPowerFlow) mismatch(st *State) []float64 {
	net := ac.Network
	f := make([]float64, len(ac.pvpq)+len(ac.pq))

	for r, i := range ac.pvpq {
		f[r] = net.P(i) - st.P[i]
	}
	for r, i := range ac.pq {
		f[len(ac.pvpq)+r] = net.Q(i) - st.Q[i]
	}

	return f
}

// solveJacobian builds J in a fresh sparse matrix and solves J dx = mismatch.
func (ac *ACPowerFlow) solveJacobian(st *State, mismatch []float64) ([]float64, error) {
	mat, err := matrix.NewMatrix(len(mismatch), false)
	if err != nil {
		return nil, err
	}
	defer mat.Destroy()

	ac.stampJacobian(mat, st)
	for r, v := range mismatch {
		mat.AddRHS(r+1, v)
	}

	err = mat.Solve()
	if err != nil {
		return nil, err
	}

	dx := make([]float64, len(mismatch))
	copy(dx, mat.Solution()[1:len(mismatch)+1])
	return dx, nil
}

func (ac *ACPowerFlow) stampJacobian(s matrix.Stamper, st *State) {
	for _, i := range ac.pvpq {
		rowP, rowQ := ac.index[i], ac.vmIdx[i]
		vi := st.Vm[i]

		for _, k := range ac.coupled(i) {
			y := ac.ybus.Element(i, k)
			g, b := real(y), imag(y)
			colTheta, colVm := ac.index[k], ac.vmIdx[k]

			var dPdTheta, dPdVm, dQdTheta, dQdVm float64
			if k == i {
				dPdTheta = -st.Q[i] - b*vi*vi
				dPdVm = st.P[i]/vi + g*vi
				dQdTheta = st.P[i] - g*vi*vi
				dQdVm = st.Q[i]/vi - b*vi
			} else {
				vk := st.Vm[k]
				sin, cos := math.Sincos(st.Va[i] - st.Va[k])

				dPdTheta = vi * vk * (g*sin - b*cos)
				dPdVm = vi * (g*cos + b*sin)
				dQdTheta = -vi * vk * (g*cos + b*sin)
				dQdVm = vi * (g*sin - b*cos)
			}

			if colTheta != 0 {
				s.AddElement(rowP, colTheta, dPdTheta)
				if rowQ != 0 {
					s.AddElement(rowQ, colTheta, dQdTheta)
				}
			}
			if colVm != 0 {
				s.AddElement(rowP, colVm, dPdVm)
				if rowQ != 0 {
					s.AddElement(rowQ, colVm, dQdVm)
				}
			}
		}
	}
}

func (ac *ACPowerFlow) update(st *State, dx []float64) {
	for _, i := range ac.pvpq {
		st.Va[i] += dx[ac.index[i]-1]
	}
	for _, i := range ac.pq {
		st.Vm[i] += dx[ac.vmIdx[i]-1]
	}
}

func (ac *ACPowerFlow) branchFlows(st *State) {
	net := ac.Network

	for k := 0; k < net.NumBranches(); k++ {
		f, t := net.Ends(k)
		ba := ac.ybus.Branch(k)

		vf := cmplx.Rect(st.Vm[f], st.Va[f])
		vt := cmplx.Rect(st.Vm[t], st.Va[t])

		sft := vf * cmplx.Conj(ba.Yff*vf+ba.Yft*vt)
		stf := vt * cmplx.Conj(ba.Ytf*vf+ba.Ytt*vt)

		st.Pft[k], st.Qft[k] = real(sft), imag(sft)
		st.Ptf[k], st.Qtf[k] = real(stf), imag(stf)
	}
}

// coupled returns i followed by its neighbors.
func (ac *ACPowerFlow) coupled(i int) []int {
	nbrs := ac.ybus.Neighbors(i)
	buses := make([]int, 0, len(nbrs)+1)
	buses = append(buses, i)
	return append(buses, nbrs...)
}

func infNorm(v []float64) float64 {
	norm := 0.0
	for _, x := range v {
		if math.IsNaN(x) {
			return math.NaN()
		}
		norm = math.Max(norm, math.Abs(x))
	}
	return norm
}
