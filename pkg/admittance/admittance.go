package admittance

import (
	"errors"

	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

// ErrSingularSystem is returned when a bus has no coupling to the rest of
// the network. Validation rules this out; it is kept for callers that build
// matrices from unvalidated data.
var ErrSingularSystem = errors.New("singular system")

// stampCoupling stamps a two-terminal admittance y between rows r1 and r2.
// Row 0 is the reference and is not stamped.
func stampCoupling(s matrix.Stamper, r1, r2 int, y float64) {
	if r1 != 0 {
		s.AddElement(r1, r1, y)
		if r2 != 0 {
			s.AddElement(r1, r2, -y)
		}
	}
	if r2 != 0 {
		if r1 != 0 {
			s.AddElement(r2, r1, -y)
		}
		s.AddElement(r2, r2, y)
	}
}
