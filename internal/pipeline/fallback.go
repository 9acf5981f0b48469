package pipeline

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/pspoerri/burstfusion/internal/align"
	"github.com/pspoerri/burstfusion/internal/diag"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

// estimateGlobalMotion runs the coarse-to-fine tile aligner (with the
// configured alignment settings) over the whole frame and returns its
// average per-tile motion magnitude relative to the reference, or +Inf
// when the alignment is invalid. It is used only to decide whether the
// tiled/MFSR path is worth attempting.
func estimateGlobalMotion(cfg fconfig.Alignment, refLuma, targetLuma *imagebuf.Gray) float64 {
	aligner := align.New(cfg)
	aligner.SetReference(refLuma)
	alignment := aligner.Align(targetLuma)
	if !alignment.Valid {
		return math.Inf(1)
	}
	return alignment.AverageMotion
}

// checkMotionFallback inspects the global motion estimates across all
// non-reference frames, returning the first applicable FallbackReason
// (diag.FallbackNone if motion is within bounds for every frame). Run
// before the expensive tiled pass so excessive motion or a failed
// global alignment short-circuits straight to the upscale fallback.
func checkMotionFallback(cfg fconfig.Tiled, motions []float64) diag.FallbackReason {
	for _, m := range motions {
		if math.IsInf(m, 1) {
			return diag.FallbackAlignmentFailed
		}
		if m > cfg.FallbackMotionPx {
			return diag.FallbackExcessiveMotion
		}
	}
	return diag.FallbackNone
}

// checkCoverageFallback reports diag.FallbackLowCoverage if the tiled
// pass's realized output coverage fell below half the frame.
func checkCoverageFallback(coverage float64) diag.FallbackReason {
	if coverage < 0.5 {
		return diag.FallbackLowCoverage
	}
	return diag.FallbackNone
}

// fallbackUpscale resamples the reference frame alone to the requested
// scale factor using a high-quality whole-frame bilinear upscale,
// bypassing alignment, flow, and MFSR entirely. This is the sole use of
// golang.org/x/image/draw in the module: the Lanczos splatting kernel
// used by the normal tiled path is a hand-written accumulator, not a
// whole-image resize, so draw's Image-level scaler has no role there.
func fallbackUpscale(reference *imagebuf.RGBImage, scale int) *imagebuf.RGBImage {
	src := imagebuf.ToStdImage(reference)
	dstRect := image.Rect(0, 0, reference.Width*scale, reference.Height*scale)
	dst := image.NewRGBA(dstRect)
	draw.BiLinear.Scale(dst, dstRect, src, src.Bounds(), draw.Over, nil)
	return imagebuf.FromStdImage(dst)
}
