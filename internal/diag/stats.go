package diag

import (
	"log"
	"math"

	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

// ChannelStats holds the per-channel scan results used by Stats.
type ChannelStats struct {
	Min, Max, Mean float64
}

// Stats is the numerical health report for an RGB image, ported from the
// reference's ImageStats: per-channel min/max/mean plus counts of
// non-finite and out-of-range samples.
type Stats struct {
	R, G, B          ChannelStats
	NaNCount         int64
	InfCount         int64
	OutOfRangeCount  int64
	TotalPixels      int64
	SanitizedCount   int64
}

// InvalidPercentage returns the number of NaN, Inf, and out-of-range
// (outside the [-1, 2] working range) channel values divided by the pixel
// count. Counts are per channel, so a pixel with several bad channels
// counts more than once; the result is a ratio, not scaled by 100.
func (s Stats) InvalidPercentage() float64 {
	if s.TotalPixels == 0 {
		return 0
	}
	invalid := s.NaNCount + s.InfCount + s.OutOfRangeCount
	return float64(invalid) / float64(s.TotalPixels)
}

// IsHealthy reports whether the scan found no non-finite samples at all.
func (s Stats) IsHealthy() bool {
	return s.NaNCount == 0 && s.InfCount == 0
}

// isValidPixelValue matches the reference's working range check: finite
// and within [-1, 2], a generous band around [0,1] that still catches
// gross accumulation errors before final clamping.
func isValidPixelValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -1 && v <= 2
}

// Scan computes Stats for img without modifying it.
func Scan(img *imagebuf.RGBImage) Stats {
	var s Stats
	var sumR, sumG, sumB float64
	s.R.Min, s.G.Min, s.B.Min = math.Inf(1), math.Inf(1), math.Inf(1)
	s.R.Max, s.G.Max, s.B.Max = math.Inf(-1), math.Inf(-1), math.Inf(-1)

	for y := 0; y < img.Height; y++ {
		for _, p := range img.Row(y) {
			s.TotalPixels++
			for _, ch := range []struct {
				v       float64
				cs      *ChannelStats
				sum     *float64
			}{
				{p.R, &s.R, &sumR},
				{p.G, &s.G, &sumG},
				{p.B, &s.B, &sumB},
			} {
				if math.IsNaN(ch.v) {
					s.NaNCount++
					continue
				}
				if math.IsInf(ch.v, 0) {
					s.InfCount++
					continue
				}
				if !isValidPixelValue(ch.v) {
					s.OutOfRangeCount++
				}
				if ch.v < ch.cs.Min {
					ch.cs.Min = ch.v
				}
				if ch.v > ch.cs.Max {
					ch.cs.Max = ch.v
				}
				*ch.sum += ch.v
			}
		}
	}
	if s.TotalPixels > 0 {
		s.R.Mean = sumR / float64(s.TotalPixels)
		s.G.Mean = sumG / float64(s.TotalPixels)
		s.B.Mean = sumB / float64(s.TotalPixels)
	}
	return s
}

// Sanitize replaces any NaN/Inf channel value in img with 0 in place and
// returns the number of pixels that had at least one channel replaced,
// matching the spec's
// "numerical safety" post-stage scan.
func Sanitize(img *imagebuf.RGBImage) int64 {
	var count int64
	for y := 0; y < img.Height; y++ {
		row := img.Row(y)
		for x := range row {
			p := row[x]
			changed := false
			if math.IsNaN(p.R) || math.IsInf(p.R, 0) {
				p.R = 0
				changed = true
			}
			if math.IsNaN(p.G) || math.IsInf(p.G, 0) {
				p.G = 0
				changed = true
			}
			if math.IsNaN(p.B) || math.IsInf(p.B, 0) {
				p.B = 0
				changed = true
			}
			if changed {
				row[x] = p
				count++
			}
		}
	}
	return count
}

// LogSummary logs s at a severity tier derived from its invalid
// percentage, mirroring the reference's HEALTHY / MINOR BUG / SERIOUS BUG
// tiers.
func (s Stats) LogSummary(prefix string) {
	pct := s.InvalidPercentage()
	switch {
	case pct == 0:
		log.Printf("%s: HEALTHY (0%% invalid, %d pixels)", prefix, s.TotalPixels)
	case pct < 0.001:
		log.Printf("%s: MINOR BUG (%.4f%% invalid)", prefix, pct*100)
	default:
		log.Printf("%s: SERIOUS BUG (%.2f%% invalid, nan=%d inf=%d oor=%d)",
			prefix, pct*100, s.NaNCount, s.InfCount, s.OutOfRangeCount)
	}
}
