package matrix

// Stamper is what admittance stamps are written into.
type Stamper interface {
	AddElement(i, j int, value float64) // 1-based indexing
	AddRHS(i int, value float64)
	AddComplexElement(i, j int, real, imag float64)
}
