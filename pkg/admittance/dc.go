package admittance

import (
	"fmt"

	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

// DCSystem is the reduced susceptance system B'θ = P with the slack row and
// column removed.
type DCSystem struct {
	Matrix *matrix.SystemMatrix // nil when the slack is the only bus
	Rows   []int                // bus position -> reduced row (1-based), 0 for the slack
	Buses  []int                // reduced row - 1 -> bus position
}

// BuildDC stamps b = 1/x of every in-service branch into B'. Resistance, line charging,
// taps and shunts are not part of the DC model.
func BuildDC(net *network.Network) (*DCSystem, error) {
	nonSlack := net.NonSlack()

	sys := &DCSystem{
		Rows:  make([]int, net.NumBuses()),
		Buses: nonSlack,
	}
	for r, i := range nonSlack {
		sys.Rows[i] = r + 1
	}

	if len(nonSlack) == 0 {
		return sys, nil
	}

	mat, err := matrix.NewMatrix(len(nonSlack), false)
	if err != nil {
		return nil, fmt.Errorf("creating B' matrix: %w", err)
	}

	coupled := make([]bool, len(nonSlack)+1)
	for k := 0; k < net.NumBranches(); k++ {
		if !net.Branch(k).InService {
			continue
		}
		f, t := net.Ends(k)
		rf, rt := sys.Rows[f], sys.Rows[t]

		stampCoupling(mat, rf, rt, 1.0/net.Branch(k).X)
		coupled[rf], coupled[rt] = true, true
	}

	for r, i := range nonSlack {
		if !coupled[r+1] {
			mat.Destroy()
			return nil, fmt.Errorf("%w: bus %d has no branches", ErrSingularSystem, net.Bus(i).ID)
		}
		mat.AddRHS(r+1, net.P(i))
	}

	sys.Matrix = mat
	return sys, nil
}

func (s *DCSystem) Destroy() {
	if s.Matrix != nil {
		s.Matrix.Destroy()
	}
}
