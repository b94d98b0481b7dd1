package matrix

import (
	"errors"
	"fmt"
	"math"

	"github.com/edp1096/sparse"
	"github.com/sirupsen/logrus"
)

// ErrSingular is returned when the system cannot be factored or its
// solution is not finite.
var ErrSingular = errors.New("singular matrix")

type SystemMatrix struct {
	Size      int
	matrix    *sparse.Matrix
	rhs       []float64
	solution  []float64
	isComplex bool
	config    *sparse.Configuration
}

func NewMatrix(size int, isComplex bool) (*SystemMatrix, error) {
	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 isComplex,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           false,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %w", err)
	}

	vectorSize := size + 1 // 1-based indexing
	if isComplex {
		vectorSize *= 2
	}

	return &SystemMatrix{
		Size:      size,
		matrix:    mat,
		rhs:       make([]float64, vectorSize),
		solution:  make([]float64, vectorSize),
		isComplex: isComplex,
		config:    config,
	}, nil
}

func (m *SystemMatrix) inBounds(i, j int) bool {
	if i <= 0 || j <= 0 || i > m.Size || j > m.Size {
		logrus.Warnf("matrix index out of bounds (i=%d, j=%d, size=%d)", i, j, m.Size)
		return false
	}
	return true
}

func (m *SystemMatrix) AddElement(i, j int, value float64) {
	if !m.inBounds(i, j) {
		return
	}
	m.matrix.GetElement(int64(i), int64(j)).Real += value
}

func (m *SystemMatrix) AddComplexElement(i, j int, real, imag float64) {
	if !m.inBounds(i, j) {
		return
	}

	element := m.matrix.GetElement(int64(i), int64(j))
	element.Real += real
	element.Imag += imag
}

func (m *SystemMatrix) AddRHS(i int, value float64) {
	if !m.inBounds(i, i) {
		return
	}
	m.rhs[i] += value
}

// Element reads a stamped entry. Reading an entry that was never stamped
// allocates it as zero.
func (m *SystemMatrix) Element(i, j int) float64 {
	if !m.inBounds(i, j) {
		return 0
	}
	return m.matrix.GetElement(int64(i), int64(j)).Real
}

func (m *SystemMatrix) ComplexElement(i, j int) complex128 {
	if !m.inBounds(i, j) {
		return 0
	}
	element := m.matrix.GetElement(int64(i), int64(j))
	return complex(element.Real, element.Imag)
}

// Solve factors the real system and solves it against the stamped RHS.
func (m *SystemMatrix) Solve() error {
	if m.isComplex {
		return fmt.Errorf("complex system solve is not supported")
	}

	err := m.matrix.Factor()
	if err != nil {
		return fmt.Errorf("%w: factorization failed: %v", ErrSingular, err)
	}

	solution, err := m.matrix.Solve(m.rhs)
	if err != nil {
		return fmt.Errorf("%w: solve failed: %v", ErrSingular, err)
	}

	for i := 1; i <= m.Size; i++ {
		if math.IsNaN(solution[i]) || math.IsInf(solution[i], 0) {
			return fmt.Errorf("%w: non-finite solution at row %d", ErrSingular, i)
		}
	}
	m.solution = solution

	return nil
}

func (m *SystemMatrix) RHS() []float64 {
	return m.rhs
}

// Solution is 1-based, index 0 is unused.
func (m *SystemMatrix) Solution() []float64 {
	return m.solution
}

func (m *SystemMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
