// Package merge implements the robust same-resolution merger: fusing N
// aligned frames into a single RGB image via a selectable per-channel
// aggregation policy, with an optional confidence-weighted variant and a
// Wiener post-filter.
package merge

import (
	"math"
	"sort"

	"github.com/pspoerri/burstfusion/internal/diag"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

// FrameWeight carries the per-frame scalars needed by the confidence-
// weighted merge variant: alignment confidence and average motion
// magnitude.
type FrameWeight struct {
	Confidence  float64
	AverageMotion float64
}

// Merger fuses aligned frames according to its configuration.
type Merger struct {
	cfg fconfig.Merge
}

// New creates a Merger with the given configuration.
func New(cfg fconfig.Merge) *Merger {
	return &Merger{cfg: cfg}
}

// Merge fuses frames (already aligned/warped to a common grid) into one
// RGB image using the configured aggregation policy. Returns an
// InvalidInput fault if fewer than 1 frame is given or dimensions
// mismatch.
func (m *Merger) Merge(frames []*imagebuf.RGBImage) (*imagebuf.RGBImage, error) {
	if len(frames) == 0 {
		return nil, diag.NewFault(diag.InvalidInput, "merge requires at least one frame")
	}
	w, h := frames[0].Width, frames[0].Height
	for i, f := range frames {
		if f.Width != w || f.Height != h {
			return nil, diag.NewFault(diag.InvalidInput, "frame %d dimensions %dx%d != %dx%d", i, f.Width, f.Height, w, h)
		}
	}

	out := imagebuf.NewRGB(w, h)
	n := len(frames)
	r := make([]float64, n)
	g := make([]float64, n)
	b := make([]float64, n)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for i, f := range frames {
				p := f.At(x, y)
				r[i], g[i], b[i] = p.R, p.G, p.B
			}
			out.Set(x, y, imagebuf.RGB{
				R: m.aggregate(r),
				G: m.aggregate(g),
				B: m.aggregate(b),
			}.Clamp01())
		}
	}

	if m.cfg.ApplyWiener {
		out = applyWiener(out, m.cfg.WienerWindow, m.cfg.WienerNoiseVar)
	}
	return out, nil
}

// MergeWeighted fuses frames using a confidence-weighted variant: each
// frame's contribution is scaled by confidence * exp(-avg_motion/10),
// normalized by the sum of valid weights at each pixel. A pixel that is
// non-finite in a given frame is skipped for that frame; if every sample
// at a pixel is invalid the output pixel is black.
func (m *Merger) MergeWeighted(frames []*imagebuf.RGBImage, weights []FrameWeight) (*imagebuf.RGBImage, error) {
	if len(frames) == 0 {
		return nil, diag.NewFault(diag.InvalidInput, "merge requires at least one frame")
	}
	if len(weights) != len(frames) {
		return nil, diag.NewFault(diag.InvalidInput, "weights length %d != frames length %d", len(weights), len(frames))
	}
	w, h := frames[0].Width, frames[0].Height

	frameWeight := make([]float64, len(frames))
	var totalWeight float64
	for i, fw := range weights {
		frameWeight[i] = fw.Confidence * math.Exp(-fw.AverageMotion/10)
		totalWeight += frameWeight[i]
	}
	useEqual := totalWeight <= 0
	if useEqual {
		for i := range frameWeight {
			frameWeight[i] = 1
		}
	}

	out := imagebuf.NewRGB(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sumR, sumG, sumB, sumW float64
			for i, f := range frames {
				p := f.At(x, y)
				if !p.Finite() {
					continue
				}
				wt := frameWeight[i]
				sumR += p.R * wt
				sumG += p.G * wt
				sumB += p.B * wt
				sumW += wt
			}
			if sumW <= 0 {
				out.Set(x, y, imagebuf.RGB{})
				continue
			}
			out.Set(x, y, imagebuf.RGB{R: sumR / sumW, G: sumG / sumW, B: sumB / sumW}.Clamp01())
		}
	}

	if m.cfg.ApplyWiener {
		out = applyWiener(out, m.cfg.WienerWindow, m.cfg.WienerNoiseVar)
	}
	return out, nil
}

// MergeWeightedWithNoise is MergeWeighted's noise-adaptive variant: instead
// of a flat per-frame weight, each frame's per-pixel contribution is scaled
// by noise.ComputeWeight(candidate, reference, confidence), so frames that
// diverge from the reference color in a way inconsistent with the
// estimated sensor noise are down-weighted pixel by pixel rather than
// frame by frame.
func (m *Merger) MergeWeightedWithNoise(frames []*imagebuf.RGBImage, weights []FrameWeight, refIdx int, noise NoiseModel) (*imagebuf.RGBImage, error) {
	if len(frames) == 0 {
		return nil, diag.NewFault(diag.InvalidInput, "merge requires at least one frame")
	}
	if len(weights) != len(frames) {
		return nil, diag.NewFault(diag.InvalidInput, "weights length %d != frames length %d", len(weights), len(frames))
	}
	if refIdx < 0 || refIdx >= len(frames) {
		return nil, diag.NewFault(diag.InvalidInput, "reference index %d out of range", refIdx)
	}
	w, h := frames[0].Width, frames[0].Height

	out := imagebuf.NewRGB(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ref := frames[refIdx].At(x, y)
			var sumR, sumG, sumB, sumW float64
			for i, f := range frames {
				p := f.At(x, y)
				if !p.Finite() {
					continue
				}
				wt := noise.ComputeWeight(p, ref, weights[i].Confidence)
				sumR += p.R * wt
				sumG += p.G * wt
				sumB += p.B * wt
				sumW += wt
			}
			if sumW <= 0 {
				out.Set(x, y, imagebuf.RGB{})
				continue
			}
			out.Set(x, y, imagebuf.RGB{R: sumR / sumW, G: sumG / sumW, B: sumB / sumW}.Clamp01())
		}
	}

	if m.cfg.ApplyWiener {
		out = applyWiener(out, m.cfg.WienerWindow, m.cfg.WienerNoiseVar)
	}
	return out, nil
}

// aggregate reduces samples (one per frame, for a single channel) using
// the configured method. samples is used as scratch and may be reordered.
func (m *Merger) aggregate(samples []float64) float64 {
	switch m.cfg.Method {
	case fconfig.Trimmed:
		return trimmedMean(samples, m.cfg.TrimRatio)
	case fconfig.Huber:
		return huberMean(samples, m.cfg.HuberDelta)
	case fconfig.Median:
		return median(samples)
	default:
		return mean(samples)
	}
}

func mean(samples []float64) float64 {
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// trimmedMean sorts samples, drops floor(n*ratio) from each end (capped
// so at least one sample survives), and averages the rest.
func trimmedMean(samples []float64, ratio float64) float64 {
	n := len(samples)
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	trim := int(float64(n) * ratio)
	maxTrim := (n - 1) / 2
	if trim > maxTrim {
		trim = maxTrim
	}
	if trim < 0 {
		trim = 0
	}

	lo := trim
	hi := n - trim
	if lo >= hi {
		lo, hi = 0, n
	}

	var sum float64
	for _, v := range sorted[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}

// huberMean initializes at the median and iterates reweighted means with
// Huber weight w(e) = 1 if |e|<=delta else delta/|e|, stopping at
// convergence (<1e-6) or after 10 iterations.
func huberMean(samples []float64, delta float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	estimate := median(sorted)

	for iter := 0; iter < 10; iter++ {
		var sumW, sumWV float64
		for _, v := range samples {
			e := v - estimate
			absE := math.Abs(e)
			var w float64
			if absE <= delta {
				w = 1
			} else {
				w = delta / absE
			}
			sumW += w
			sumWV += w * v
		}
		if sumW == 0 {
			break
		}
		next := sumWV / sumW
		if math.Abs(next-estimate) < 1e-6 {
			estimate = next
			break
		}
		estimate = next
	}
	return estimate
}

// median returns the nth-element median, breaking ties (even n) by
// averaging the two middle values.
func median(samples []float64) float64 {
	n := len(samples)
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// applyWiener applies the Wiener post-filter uniformly to R, G, B: local
// mean and variance in an odd window, output = mean + max(0,
// localVar-noiseVar)/localVar * (value-mean), clamped to [0,1].
func applyWiener(src *imagebuf.RGBImage, window int, noiseVar float64) *imagebuf.RGBImage {
	half := window / 2
	out := imagebuf.NewRGB(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			meanR, varR := localMeanVar(src, x, y, half, func(p imagebuf.RGB) float64 { return p.R })
			meanG, varG := localMeanVar(src, x, y, half, func(p imagebuf.RGB) float64 { return p.G })
			meanB, varB := localMeanVar(src, x, y, half, func(p imagebuf.RGB) float64 { return p.B })

			p := src.At(x, y)
			out.Set(x, y, imagebuf.RGB{
				R: wienerPixel(p.R, meanR, varR, noiseVar),
				G: wienerPixel(p.G, meanG, varG, noiseVar),
				B: wienerPixel(p.B, meanB, varB, noiseVar),
			}.Clamp01())
		}
	}
	return out
}

func wienerPixel(value, localMean, localVar, noiseVar float64) float64 {
	if localVar <= 1e-9 {
		return localMean
	}
	gain := math.Max(0, localVar-noiseVar) / localVar
	return localMean + gain*(value-localMean)
}

func localMeanVar(src *imagebuf.RGBImage, x, y, half int, channel func(imagebuf.RGB) float64) (float64, float64) {
	var sum, sumSq float64
	var count int
	for wy := -half; wy <= half; wy++ {
		py := imagebuf.Clamp(y+wy, 0, src.Height-1)
		for wx := -half; wx <= half; wx++ {
			px := imagebuf.Clamp(x+wx, 0, src.Width-1)
			v := channel(src.At(px, py))
			sum += v
			sumSq += v * v
			count++
		}
	}
	mean := sum / float64(count)
	variance := sumSq/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, variance
}
