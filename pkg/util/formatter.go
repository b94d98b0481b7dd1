package util

import (
	"fmt"
	"math"
)

func FormatValueFactor(value float64, unit string) string {
	absValue := math.Abs(value)
	switch {
	case absValue >= 1e9:
		return fmt.Sprintf("%.3f G%s", value/1e9, unit)
	case absValue >= 1e6:
		return fmt.Sprintf("%.3f M%s", value/1e6, unit)
	case absValue >= 1e3:
		return fmt.Sprintf("%.3f k%s", value/1e3, unit)
	case absValue >= 1 || absValue == 0:
		return fmt.Sprintf("%.3f %s", value, unit)
	case absValue >= 1e-3:
		return fmt.Sprintf("%.3f m%s", value*1e3, unit)
	default:
		return fmt.Sprintf("%.3e %s", value, unit)
	}
}

// FormatPower converts a per-unit power to a prefixed SI value ("232.391 MW").
func FormatPower(pu, baseMVA float64, unit string) string {
	return FormatValueFactor(pu*baseMVA*1e6, unit)
}

func FormatMagnitude(value float64) string {
	return fmt.Sprintf("%7.4f", value) // " 1.0600"
}

func FormatPhase(value float64) string {
	return fmt.Sprintf("%8.3f", value) // " -12.725"
}

func FormatMagnitudePhase(name string, value, phase float64) string {
	return fmt.Sprintf("%s=%s<%sdeg", name, FormatMagnitude(value), FormatPhase(phase))
}
