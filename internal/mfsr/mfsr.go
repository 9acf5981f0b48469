package mfsr

import (
	"math"

	"github.com/pspoerri/burstfusion/internal/align"
	"github.com/pspoerri/burstfusion/internal/diag"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

// SubpixelField is the per-tile sub-pixel refinement of one frame's
// coarse motion, on the mfsr.tile_size grid (independent of the
// alignment stage's own tile_size).
type SubpixelField struct {
	TilesX, TilesY, TileSize int
	Vectors                  []align.SubpixelMotion
}

// At returns the SubpixelMotion for tile (tx, ty), clamped to the grid.
func (f SubpixelField) At(tx, ty int) align.SubpixelMotion {
	tx = imagebuf.Clamp(tx, 0, f.TilesX-1)
	ty = imagebuf.Clamp(ty, 0, f.TilesY-1)
	return f.Vectors[ty*f.TilesX+tx]
}

func (f SubpixelField) set(tx, ty int, v align.SubpixelMotion) {
	f.Vectors[ty*f.TilesX+tx] = v
}

// identityField returns a SubpixelField of zero motion and full
// confidence, used for the reference frame itself.
func identityField(tilesX, tilesY, tileSize int) SubpixelField {
	f := SubpixelField{TilesX: tilesX, TilesY: tilesY, TileSize: tileSize, Vectors: make([]align.SubpixelMotion, tilesX*tilesY)}
	for i := range f.Vectors {
		f.Vectors[i] = align.SubpixelMotion{Confidence: 1}
	}
	return f
}

// RefineField derives a SubpixelField on the mfsr tile grid from a
// coarse integer MotionField (produced by the alignment stage) by
// calling align.RefineSubpixel tile-by-tile. The coarse field's own
// tile boundaries need not match tileSize; each mfsr tile samples the
// coarse field at its own center.
func RefineField(ref, target *imagebuf.Gray, coarse align.MotionField, tileSize int) SubpixelField {
	tilesX := ceilDiv(ref.Width, tileSize)
	tilesY := ceilDiv(ref.Height, tileSize)
	field := SubpixelField{TilesX: tilesX, TilesY: tilesY, TileSize: tileSize, Vectors: make([]align.SubpixelMotion, tilesX*tilesY)}

	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			cx := tx*tileSize + tileSize/2
			cy := ty*tileSize + tileSize/2
			var coarseTX, coarseTY int
			if coarse.TileSize > 0 {
				coarseTX = cx / coarse.TileSize
				coarseTY = cy / coarse.TileSize
			}
			mv := coarse.At(coarseTX, coarseTY)
			field.set(tx, ty, align.RefineSubpixel(ref, target, tx, ty, tileSize, mv))
		}
	}
	return field
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Diagnostics reports summary statistics for one accumulation run.
type Diagnostics struct {
	Coverage        float64
	AverageShift    float64
	FramesAccumulated int
	GapsFilled      int
}

// Result is the output of Process: the super-resolved image plus
// diagnostics.
type Result struct {
	Image       *imagebuf.RGBImage
	Diagnostics Diagnostics
	Valid       bool
}

// FrameInput pairs one frame's RGB data, its luma for refinement, and
// its coarse integer motion field against the reference (the reference
// frame itself passes a zero-valued MotionField; it is treated as
// identity).
type FrameInput struct {
	RGB    *imagebuf.RGBImage
	Luma   *imagebuf.Gray
	Motion align.MotionField
	IsRef  bool
	// Confidence is the frame-level alignment confidence (from
	// align.Alignment.Confidence), multiplying every sample's scatter
	// weight. Ignored (treated as 1) for the reference frame.
	Confidence float64
}

// Process accumulates all frames onto a cfg.ScaleFactor upsampled grid
// using bilinear (2x2) splatting — optionally Gaussian-weighted per
// cfg.UseWeightedAccumulation — followed by gap filling and
// normalization. Returns an invalid Result if frames is empty or
// dimensions disagree.
func Process(refIdx int, frames []FrameInput, cfg fconfig.MFSR) (Result, error) {
	if len(frames) == 0 {
		return Result{}, diag.NewFault(diag.InvalidInput, "mfsr requires at least one frame")
	}
	if refIdx < 0 || refIdx >= len(frames) {
		return Result{}, diag.NewFault(diag.InvalidInput, "reference index %d out of range", refIdx)
	}
	refFrame := frames[refIdx]
	if refFrame.Luma == nil || refFrame.RGB == nil {
		return Result{}, diag.NewFault(diag.ReferenceNotSet, "reference frame has no data")
	}
	width, height := refFrame.RGB.Width, refFrame.RGB.Height
	scale := cfg.ScaleFactor
	if scale < 1 {
		scale = 1
	}
	outW, outH := width*scale, height*scale

	acc := NewAccumulator(outW, outH)
	tileSize := cfg.TileSize
	if tileSize < 1 {
		tileSize = 16
	}

	var totalShift float64
	var shiftSamples int
	contributed := 0

	for i, fr := range frames {
		if fr.RGB == nil {
			continue
		}
		if fr.RGB.Width != width || fr.RGB.Height != height {
			return Result{}, diag.NewFault(diag.InvalidInput, "frame %d dimensions mismatch reference", i)
		}

		var subpixel SubpixelField
		frameConfidence := fr.Confidence
		if fr.IsRef || i == refIdx {
			subpixel = identityField(ceilDiv(width, tileSize), ceilDiv(height, tileSize), tileSize)
			frameConfidence = 1
		} else {
			if fr.Luma == nil {
				continue
			}
			subpixel = RefineField(refFrame.Luma, fr.Luma, fr.Motion, tileSize)
		}

		scatterFrame(acc, fr.RGB, subpixel, scale, frameConfidence, cfg.UseWeightedAccumulation)
		contributed++

		for ty := 0; ty < subpixel.TilesY; ty++ {
			for tx := 0; tx < subpixel.TilesX; tx++ {
				sm := subpixel.At(tx, ty)
				totalShift += math.Hypot(sm.DX, sm.DY)
				shiftSamples++
			}
		}
	}

	gapsFilled := acc.FillGaps(3)
	coverage := acc.Coverage()

	avgShift := 0.0
	if shiftSamples > 0 {
		avgShift = totalShift / float64(shiftSamples)
	}

	return Result{
		Image: acc.Finalize(),
		Diagnostics: Diagnostics{
			Coverage:          coverage,
			AverageShift:      avgShift,
			FramesAccumulated: contributed,
			GapsFilled:        gapsFilled,
		},
		Valid: contributed > 0 && coverage > 0,
	}, nil
}

// scatterFrame splats every pixel of frame into acc's output grid,
// displaced by its tile's sub-pixel motion and scaled by scale.
func scatterFrame(acc *Accumulator, frame *imagebuf.RGBImage, subpixel SubpixelField, scale int, confidence float64, useGaussian bool) {
	if subpixel.TileSize <= 0 {
		return
	}
	for y := 0; y < frame.Height; y++ {
		ty := y / subpixel.TileSize
		row := frame.Row(y)
		for x := 0; x < frame.Width; x++ {
			tx := x / subpixel.TileSize
			sm := subpixel.At(tx, ty)

			srcX := float64(x) - sm.DX
			srcY := float64(y) - sm.DY
			outX := srcX * float64(scale)
			outY := srcY * float64(scale)

			weight := confidence * sm.Confidence
			if weight <= 0 {
				continue
			}
			acc.AddBilinear(outX, outY, row[x], weight, useGaussian)
		}
	}
}
