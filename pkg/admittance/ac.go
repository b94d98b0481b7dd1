package admittance

import (
	"fmt"
	"sort"

	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

// BranchAdmittance is the two-port admittance of a branch:
//
//	I_f = Yff V_f + Yft V_t
//	I_t = Ytf V_f + Ytt V_t
type BranchAdmittance struct {
	Yff, Yft, Ytf, Ytt complex128
}

// Ybus is the full bus admittance matrix, slack included.
type Ybus struct {
	mat       *matrix.SystemMatrix
	neighbors [][]int
	branches  []BranchAdmittance
}

func branchAdmittance(br network.Branch) BranchAdmittance {
	y := 1 / complex(br.R, br.X)
	charging := complex(0, br.B/2)
	tau := complex(br.Tap(), 0)

	return BranchAdmittance{
		Yff: (y + charging) / (tau * tau),
		Yft: -y / tau,
		Ytf: -y / tau,
		Ytt: y + charging,
	}
}

// BuildAC stamps every in-service branch pi-model and the bus shunts into Y.
// Out-of-service branches keep a zero two-port.
func BuildAC(net *network.Network) (*Ybus, error) {
	n := net.NumBuses()

	mat, err := matrix.NewMatrix(n, true)
	if err != nil {
		return nil, fmt.Errorf("creating Y matrix: %w", err)
	}

	y := &Ybus{
		mat:       mat,
		neighbors: make([][]int, n),
		branches:  make([]BranchAdmittance, net.NumBranches()),
	}

	adjacent := make([]map[int]struct{}, n)
	for i := range adjacent {
		adjacent[i] = make(map[int]struct{})
	}

	for k := 0; k < net.NumBranches(); k++ {
		if !net.Branch(k).InService {
			continue
		}
		f, t := net.Ends(k)
		ba := branchAdmittance(net.Branch(k))
		y.branches[k] = ba

		// 1-based
		mat.AddComplexElement(f+1, f+1, real(ba.Yff), imag(ba.Yff))
		mat.AddComplexElement(f+1, t+1, real(ba.Yft), imag(ba.Yft))
		mat.AddComplexElement(t+1, f+1, real(ba.Ytf), imag(ba.Ytf))
		mat.AddComplexElement(t+1, t+1, real(ba.Ytt), imag(ba.Ytt))

		adjacent[f][t] = struct{}{}
		adjacent[t][f] = struct{}{}
	}

	base := net.BaseMVA()
	for i := 0; i < n; i++ {
		bus := net.Bus(i)
		if bus.Gs != 0 || bus.Bs != 0 {
			mat.AddComplexElement(i+1, i+1, bus.Gs/base, bus.Bs/base)
		}

		if n > 1 && len(adjacent[i]) == 0 {
			mat.Destroy()
			return nil, fmt.Errorf("%w: bus %d has no branches", ErrSingularSystem, bus.ID)
		}

		nbrs := make([]int, 0, len(adjacent[i]))
		for k := range adjacent[i] {
			nbrs = append(nbrs, k)
		}
		sort.Ints(nbrs)
		y.neighbors[i] = nbrs
	}

	return y, nil
}

func (y *Ybus) Size() int { return len(y.neighbors) }

// Element returns Y[i][k] for bus positions i and k. Uncoupled pairs are 0.
func (y *Ybus) Element(i, k int) complex128 {
	if i != k && !y.adjacent(i, k) {
		return 0
	}
	return y.mat.ComplexElement(i+1, k+1)
}

// Neighbors returns the positions of buses sharing a branch with bus i,
// ascending, without i itself.
func (y *Ybus) Neighbors(i int) []int { return y.neighbors[i] }

func (y *Ybus) Branch(k int) BranchAdmittance { return y.branches[k] }

func (y *Ybus) adjacent(i, k int) bool {
	nbrs := y.neighbors[i]
	idx := sort.SearchInts(nbrs, k)
	return idx < len(nbrs) && nbrs[idx] == k
}

func (y *Ybus) Destroy() {
	if y.mat != nil {
		y.mat.Destroy()
		y.mat = nil
	}
}
