// Package align implements the coarse, integer-pixel tile aligner: a
// coarse-to-fine block-matching search over a Gaussian pyramid that
// produces a per-tile translation minimizing mean absolute luminance
// difference against a reference frame.
package align

import (
	"math"

	"github.com/pspoerri/burstfusion/internal/diag"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
	"github.com/pspoerri/burstfusion/internal/pyramid"
)

// MotionVector is one tile's integer displacement and its match cost.
type MotionVector struct {
	DX, DY int
	Cost   float64
}

// MotionField is a grid of MotionVector, one per alignment tile.
type MotionField struct {
	TilesX, TilesY, TileSize int
	Vectors                  []MotionVector
}

// NewMotionField allocates a zero-valued field of the given tile grid.
func NewMotionField(tilesX, tilesY, tileSize int) MotionField {
	return MotionField{
		TilesX:   tilesX,
		TilesY:   tilesY,
		TileSize: tileSize,
		Vectors:  make([]MotionVector, tilesX*tilesY),
	}
}

// At returns the MotionVector for tile (tx, ty), clamping to the grid
// border the way the reference clamps warp lookups at tile boundaries.
func (f MotionField) At(tx, ty int) MotionVector {
	tx = imagebuf.Clamp(tx, 0, f.TilesX-1)
	ty = imagebuf.Clamp(ty, 0, f.TilesY-1)
	return f.Vectors[ty*f.TilesX+tx]
}

// Set stores the MotionVector for tile (tx, ty).
func (f MotionField) Set(tx, ty int, v MotionVector) {
	f.Vectors[ty*f.TilesX+tx] = v
}

// SubpixelMotion is a tile's fractional displacement refinement, stored
// as explicit float fields rather than the side-channel the reference
// used (see SPEC_FULL.md's Supplemented Features).
type SubpixelMotion struct {
	DX, DY     float64
	Confidence float64
}

// Alignment summarizes one non-reference frame's registration against
// the reference: the per-tile field plus scalar summaries.
type Alignment struct {
	Field         MotionField
	AverageMotion float64
	Confidence    float64
	Valid         bool
}

// Aligner holds the reference pyramid and tile geometry across calls to
// Align for successive target frames.
type Aligner struct {
	cfg           fconfig.Alignment
	refPyramid    *pyramid.Gaussian
	width, height int
	tilesX, tilesY int
}

// New creates an Aligner with the given configuration.
func New(cfg fconfig.Alignment) *Aligner {
	return &Aligner{cfg: cfg}
}

// SetReference builds the reference's Gaussian pyramid and derives the
// tile grid dimensions from its size.
func (a *Aligner) SetReference(reference *imagebuf.Gray) {
	a.refPyramid = pyramid.BuildGaussian(reference, a.cfg.PyramidLevels)
	a.width = reference.Width
	a.height = reference.Height
	a.tilesX = ceilDiv(a.width, a.cfg.TileSize)
	a.tilesY = ceilDiv(a.height, a.cfg.TileSize)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Align produces a MotionField aligning target to the previously set
// reference, via coarse-to-fine block matching.
func (a *Aligner) Align(target *imagebuf.Gray) Alignment {
	if a.refPyramid == nil || a.refPyramid.NumLevels() == 0 {
		return Alignment{Valid: false}
	}

	targetPyramid := pyramid.BuildGaussian(target, a.cfg.PyramidLevels)
	numLevels := a.refPyramid.NumLevels()
	if targetPyramid.NumLevels() < numLevels {
		numLevels = targetPyramid.NumLevels()
	}

	var field MotionField
	for level := numLevels - 1; level >= 0; level-- {
		refLevel := a.refPyramid.Level(level)
		targetLevel := targetPyramid.Level(level)

		scale := 1 << uint(level)
		tileSizeAtLevel := a.cfg.TileSize / scale
		if tileSizeAtLevel < 1 {
			tileSizeAtLevel = 1
		}
		tilesX := ceilDiv(refLevel.Width, tileSizeAtLevel)
		tilesY := ceilDiv(refLevel.Height, tileSizeAtLevel)

		next := NewMotionField(tilesX, tilesY, tileSizeAtLevel)
		for ty := 0; ty < tilesY; ty++ {
			for tx := 0; tx < tilesX; tx++ {
				var initDX, initDY int
				if level < numLevels-1 {
					coarser := field.At(tx/2, ty/2)
					initDX = coarser.DX * 2
					initDY = coarser.DY * 2
				}
				next.Set(tx, ty, alignTile(refLevel, targetLevel, tx, ty, tileSizeAtLevel,
					initDX, initDY, a.cfg.SearchRadius))
			}
		}
		field = next
	}

	var totalMotion float64
	var totalCost float64
	for _, v := range field.Vectors {
		totalMotion += math.Hypot(float64(v.DX), float64(v.DY))
		totalCost += v.Cost
	}
	n := float64(len(field.Vectors))
	avgMotion := 0.0
	avgCost := 0.0
	if n > 0 {
		avgMotion = totalMotion / n
		avgCost = totalCost / n
	}
	confidence := math.Exp(-avgCost)
	return Alignment{
		Field:         field,
		AverageMotion: avgMotion,
		Confidence:    confidence,
		Valid:         confidence > 0.1,
	}
}

// alignTile performs a full search in [-searchRadius, +searchRadius]^2
// around (initDX, initDY), returning the lowest-cost candidate; exact
// cost ties are resolved by betterCandidate (smaller |dx|+|dy|, then
// smaller dx, then smaller dy), independent of the scan order.
func alignTile(ref, target *imagebuf.Gray, tx, ty, tileSize, initDX, initDY, searchRadius int) MotionVector {
	best := MotionVector{DX: initDX, DY: initDY, Cost: math.Inf(1)}
	haveBest := false
	for dy := initDY - searchRadius; dy <= initDY+searchRadius; dy++ {
		for dx := initDX - searchRadius; dx <= initDX+searchRadius; dx++ {
			cost := tileMAD(ref, target, tx, ty, tileSize, dx, dy)
			candidate := MotionVector{DX: dx, DY: dy, Cost: cost}
			if !haveBest || betterCandidate(candidate, best) {
				best = candidate
				haveBest = true
			}
		}
	}
	return best
}

// betterCandidate reports whether a should replace b as the current
// winner: strictly lower cost wins outright; on an exact cost tie, the
// smaller |dx|+|dy| wins, then the smaller dx, then the smaller dy.
func betterCandidate(a, b MotionVector) bool {
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	aMag := iabs(a.DX) + iabs(a.DY)
	bMag := iabs(b.DX) + iabs(b.DY)
	if aMag != bMag {
		return aMag < bMag
	}
	if a.DX != b.DX {
		return a.DX < b.DX
	}
	return a.DY < b.DY
}

func iabs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// tileMAD computes the mean absolute difference between the reference
// tile at (tx, ty) and the target shifted by (dx, dy), counting only
// pixels where both samples lie fully inside their respective frames.
func tileMAD(ref, target *imagebuf.Gray, tx, ty, tileSize, dx, dy int) float64 {
	x0 := tx * tileSize
	y0 := ty * tileSize
	x1 := x0 + tileSize
	y1 := y0 + tileSize
	if x1 > ref.Width {
		x1 = ref.Width
	}
	if y1 > ref.Height {
		y1 = ref.Height
	}

	var sum float64
	var count int
	for y := y0; y < y1; y++ {
		ty2 := y + dy
		if ty2 < 0 || ty2 >= target.Height {
			continue
		}
		refRow := ref.Row(y)
		targetRow := target.Row(ty2)
		for x := x0; x < x1; x++ {
			tx2 := x + dx
			if tx2 < 0 || tx2 >= target.Width {
				continue
			}
			sum += math.Abs(refRow[x] - targetRow[tx2])
			count++
		}
	}
	if count == 0 {
		return math.Inf(1)
	}
	return sum / float64(count)
}

// Warp samples rgb using bilinear interpolation with the per-tile motion
// of the nearest tile; sample coordinates and tile indices are clamped to
// bounds, matching the reference's warpImage.
func (a *Aligner) Warp(rgb *imagebuf.RGBImage, alignment Alignment) *imagebuf.RGBImage {
	out := imagebuf.NewRGB(rgb.Width, rgb.Height)
	field := alignment.Field
	if field.TileSize <= 0 {
		out.Fill(imagebuf.RGB{})
		return out
	}
	for y := 0; y < rgb.Height; y++ {
		ty := y / field.TileSize
		for x := 0; x < rgb.Width; x++ {
			tx := x / field.TileSize
			mv := field.At(tx, ty)
			sx := float64(x) + float64(mv.DX)
			sy := float64(y) + float64(mv.DY)
			sx = math.Max(0, math.Min(float64(rgb.Width-1), sx))
			sy = math.Max(0, math.Min(float64(rgb.Height-1), sy))
			out.Set(x, y, imagebuf.BilinearRGB(rgb, sx, sy))
		}
	}
	return out
}

// RefineSubpixel refines the integer motion for one tile to sub-pixel
// precision using a 3x3 SAD grid around the integer offset, bilinear
// sampling the target, and fitting a parabola independently along each
// axis (clamped to +/-0.5). If the refined SAD is more than 10% worse
// than the integer SAD, the refinement is rejected: the integer motion
// is kept and confidence is halved. This is shared by the optional
// alignment-stage refinement and by MFSR's mandatory one (see
// SPEC_FULL.md's Supplemented Features — the reference left this
// unimplemented as a side-channel stub).
func RefineSubpixel(ref, target *imagebuf.Gray, tx, ty, tileSize int, mv MotionVector) SubpixelMotion {
	var sad [3][3]float64
	for j := -1; j <= 1; j++ {
		for i := -1; i <= 1; i++ {
			sad[j+1][i+1] = subpixelTileSAD(ref, target, tx, ty, tileSize, float64(mv.DX+i), float64(mv.DY+j))
		}
	}

	centerSAD := sad[1][1]
	deltaX := parabolaFit(sad[1][0], sad[1][1], sad[1][2])
	deltaY := parabolaFit(sad[0][1], sad[1][1], sad[2][1])

	refinedDX := float64(mv.DX) + deltaX
	refinedDY := float64(mv.DY) + deltaY
	refinedSAD := subpixelTileSAD(ref, target, tx, ty, tileSize, refinedDX, refinedDY)

	curvatureX := sad[1][0] - 2*sad[1][1] + sad[1][2]
	curvatureY := sad[0][1] - 2*sad[1][1] + sad[2][1]
	curvature := (curvatureX + curvatureY) / 2

	var confidence float64
	if curvature > 0 {
		confidence = math.Min(1, curvature*10)
	} else {
		confidence = 0.5
	}

	if refinedSAD > centerSAD*1.1 {
		return SubpixelMotion{DX: float64(mv.DX), DY: float64(mv.DY), Confidence: confidence / 2}
	}
	return SubpixelMotion{DX: refinedDX, DY: refinedDY, Confidence: confidence}
}

// parabolaFit fits a parabola through three equally spaced samples
// (left, center, right) and returns the offset of its vertex from the
// center sample, clamped to [-0.5, 0.5].
func parabolaFit(left, center, right float64) float64 {
	denom := left - 2*center + right
	if math.Abs(denom) < 1e-9 {
		return 0
	}
	offset := 0.5 * (left - right) / denom
	if offset < -0.5 {
		offset = -0.5
	}
	if offset > 0.5 {
		offset = 0.5
	}
	return offset
}

// subpixelTileSAD computes the sum of absolute differences between the
// reference tile and the target bilinearly sampled at a fractional
// shift.
func subpixelTileSAD(ref, target *imagebuf.Gray, tx, ty, tileSize int, dx, dy float64) float64 {
	x0 := tx * tileSize
	y0 := ty * tileSize
	x1 := x0 + tileSize
	y1 := y0 + tileSize
	if x1 > ref.Width {
		x1 = ref.Width
	}
	if y1 > ref.Height {
		y1 = ref.Height
	}

	var sum float64
	for y := y0; y < y1; y++ {
		refRow := ref.Row(y)
		for x := x0; x < x1; x++ {
			sample := imagebuf.BilinearGray(target, float64(x)+dx, float64(y)+dy)
			sum += math.Abs(refRow[x] - sample)
		}
	}
	return sum
}

// FallbackAlignment returns an invalid, zero-motion Alignment, used when
// the aligner cannot run (no reference set, degenerate input).
func FallbackAlignment() Alignment {
	return Alignment{Valid: false}
}

// AsFault converts a failed Alignment into a diag.Fault, for callers that
// need to surface an error rather than inspect Valid directly.
func (al Alignment) AsFault() error {
	if al.Valid {
		return nil
	}
	return diag.NewFault(diag.AlignmentFailed, "tile aligner produced no valid field")
}
