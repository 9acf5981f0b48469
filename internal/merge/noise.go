package merge

import (
	"math"

	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

type Gray = imagebuf.Gray
type RGB = imagebuf.RGB

// NoiseModel estimates per-pixel noise-adaptive weights from a Laplacian-
// based MAD sigma estimate and a color-difference exponential falloff,
// supplementing the spec's flat confidence*exp(-avg_motion/10) weight
// with an optional noise-aware alternative (see SPEC_FULL.md's
// Supplemented Features; grounded in merge.cpp's NoiseModel).
type NoiseModel struct {
	// Sigma is the estimated per-channel noise standard deviation.
	Sigma float64
}

// laplacianKernel is the 3x3 discrete Laplacian used for the MAD sigma
// estimate.
var laplacianKernel = [3][3]float64{
	{0, -1, 0},
	{-1, 4, -1},
	{0, -1, 0},
}

// EstimateNoise computes a NoiseModel from a single image via a
// Laplacian-response MAD estimator: sigma = MAD / 0.6745, scaled down by
// sqrt(20) to account for the Laplacian's noise amplification, matching
// the reference's constants.
func EstimateNoise(img *Gray) NoiseModel {
	if img.Width < 3 || img.Height < 3 {
		return NoiseModel{Sigma: 0}
	}

	responses := make([]float64, 0, (img.Width-2)*(img.Height-2))
	for y := 1; y < img.Height-1; y++ {
		for x := 1; x < img.Width-1; x++ {
			var sum float64
			for j := -1; j <= 1; j++ {
				for i := -1; i <= 1; i++ {
					sum += img.At(x+i, y+j) * laplacianKernel[j+1][i+1]
				}
			}
			responses = append(responses, sum)
		}
	}
	mad := medianAbsoluteDeviation(responses)
	sigma := mad / 0.6745 / math.Sqrt(20)
	return NoiseModel{Sigma: sigma}
}

func medianAbsoluteDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - m)
	}
	return median(deviations)
}

// ComputeWeight returns a noise-adaptive weight for a candidate pixel
// compared against the reference pixel: a base confidence weight
// attenuated by an exponential falloff in color difference, scaled by
// the estimated noise sigma.
func (nm NoiseModel) ComputeWeight(candidate, reference RGB, baseConfidence float64) float64 {
	colorDiff := math.Sqrt(
		sq(candidate.R-reference.R) + sq(candidate.G-reference.G) + sq(candidate.B-reference.B),
	)
	sigma := nm.Sigma
	if sigma <= 1e-6 {
		sigma = 1e-3
	}
	falloff := math.Exp(-colorDiff / (2 * sigma))
	return baseConfidence * falloff
}

func sq(v float64) float64 { return v * v }
