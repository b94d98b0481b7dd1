package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/toy-powerflow/pkg/admittance"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// DCPowerFlow solves the linearized model B'θ = P: flat voltage magnitudes,
// lossless branches, small angle differences.
type DCPowerFlow struct{ BaseAnalysis }

func NewDC(opts ...Option) *DCPowerFlow {
	return &DCPowerFlow{
		BaseAnalysis: *NewBaseAnalysis(opts...),
	}
}

func (dc *DCPowerFlow) Execute(ctx context.Context) error {
	if dc.Network == nil {
		return fmt.Errorf("network not set")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dc power flow: %w", err)
	}

	net := dc.Network
	st := newState(DC, net)
	st.Iterations = 1
	dc.state = st

	sys, err := admittance.BuildDC(net)
	if err != nil {
		if errors.Is(err, admittance.ErrSingularSystem) {
			st.Err = err
			return nil
		}
		return fmt.Errorf("building B' matrix: %w", err)
	}
	defer sys.Destroy()

	if sys.Matrix != nil {
		err = sys.Matrix.Solve()
		if err != nil {
			if errors.Is(err, matrix.ErrSingular) {
				st.Err = fmt.Errorf("%w: %v", admittance.ErrSingularSystem, err)
				return nil
			}
			return fmt.Errorf("matrix solve error: %w", err)
		}

		solution := sys.Matrix.Solution()
		for r, i := range sys.Buses {
			st.Va[i] = solution[r+1]
		}
	}

	// Slack angle stays 0. Injections are recomputed from the flows so the
	// slack reports the balancing power.
	for k := 0; k < net.NumBranches(); k++ {
		if !net.Branch(k).InService {
			continue
		}
		f, t := net.Ends(k)
		pft := (st.Va[f] - st.Va[t]) / net.Branch(k).X

		st.Pft[k] = pft
		st.Ptf[k] = -pft
		st.P[f] += pft
		st.P[t] -= pft
	}

	for _, i := range net.NonSlack() {
		st.Mismatch = math.Max(st.Mismatch, math.Abs(net.P(i)-st.P[i]))
	}

	dc.checkBalance(st)
	return nil
}

// checkBalance accepts the solution only if the branch flows reproduce the
// specified injections. An ill-conditioned B' can solve without error and
// still lose power.
func (dc *DCPowerFlow) checkBalance(st *State) {
	if st.Mismatch < dc.convergence.tolerance {
		st.Converged = true
		return
	}
	st.Converged = false
	st.Err = fmt.Errorf("%w: flow balance off by %.3g pu", admittance.ErrSingularSystem, st.Mismatch)
}
