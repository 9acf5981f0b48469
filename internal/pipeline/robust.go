package pipeline

import (
	"math"

	"github.com/pspoerri/burstfusion/internal/fconfig"
)

// huberWeight returns the Huber robustness weight for a residual given
// a threshold: 1 inside the threshold, threshold/|residual| beyond it.
// Grounded in the original tiled pipeline's inline huberWeight.
func huberWeight(residual, threshold float64) float64 {
	abs := math.Abs(residual)
	if abs <= threshold || threshold <= 0 {
		return 1
	}
	return threshold / abs
}

// tukeyBiweight returns the Tukey biweight robustness weight: a smooth
// falloff to exactly 0 at |residual| >= threshold. Grounded in the
// original tiled pipeline's inline tukeyBiweight.
func tukeyBiweight(residual, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	abs := math.Abs(residual)
	if abs >= threshold {
		return 0
	}
	u := residual / threshold
	t := 1 - u*u
	return t * t
}

// robustnessWeight dispatches to the configured method; RobustnessNone
// always returns 1 (no down-weighting).
func robustnessWeight(method fconfig.RobustnessMethod, residual, threshold float64) float64 {
	switch method {
	case fconfig.RobustnessHuber:
		return huberWeight(residual, threshold)
	case fconfig.RobustnessTukey:
		return tukeyBiweight(residual, threshold)
	default:
		return 1
	}
}
