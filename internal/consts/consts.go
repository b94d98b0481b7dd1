package consts

import "math"

const (
	DefaultBaseMVA   = 100.0 // System base power (MVA)
	DefaultMaxIter   = 100   // Newton-Raphson iteration cap
	DefaultTolerance = 1e-6  // Mismatch tolerance (pu)
	DefaultVm        = 1.0   // Voltage magnitude target / initial guess (pu)

	RadToDeg = 180.0 / math.Pi
	DegToRad = math.Pi / 180.0
)
