// Package flow implements dense hierarchical Lucas-Kanade optical flow:
// a per-pixel sub-pixel displacement field from a reference frame to a
// target frame, refined coarse-to-fine over a Gaussian pyramid.
package flow

import (
	"math"

	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
	"github.com/pspoerri/burstfusion/internal/pyramid"
)

// scharrX and scharrY are the 3x3 Scharr gradient kernels, normalized by
// a weight of 32 as the reference does.
var scharrX = [3][3]float64{
	{-3, 0, 3},
	{-10, 0, 10},
	{-3, 0, 3},
}

var scharrY = [3][3]float64{
	{-3, -10, -3},
	{0, 0, 0},
	{3, 10, 3},
}

const scharrNorm = 32.0

// Vector is a per-pixel sub-pixel displacement with confidence in [0,1],
// derived from the smallest eigenvalue of the local structure tensor
// normalized against its trace.
type Vector struct {
	DX, DY     float64
	Confidence float64
}

// Field is a per-pixel grid of Vector.
type Field struct {
	Width, Height int
	Vectors       []Vector
}

// NewField allocates a zero-valued flow field.
func NewField(width, height int) Field {
	return Field{Width: width, Height: height, Vectors: make([]Vector, width*height)}
}

// At returns the Vector at (x, y).
func (f Field) At(x, y int) Vector { return f.Vectors[y*f.Width+x] }

// Set stores the Vector at (x, y).
func (f Field) Set(x, y int, v Vector) { f.Vectors[y*f.Width+x] = v }

// Result summarizes a flow computation: the dense field plus aggregate
// diagnostics.
type Result struct {
	Field            Field
	AverageMagnitude float64
	Coverage         float64
	Valid            bool
}

// highConfidenceThreshold is the confidence above which a flow vector
// counts toward coverage and the average-motion aggregate (matches the
// reference's 0.3 cutoff).
const highConfidenceThreshold = 0.3

// Flower computes dense optical flow against a previously set reference
// frame, reusing precomputed gradients across calls for different
// targets.
type Flower struct {
	cfg           fconfig.Flow
	pyramidLevels int
	refPyramid    *pyramid.Gaussian
	gradX, gradY  []*imagebuf.Gray // per pyramid level
}

// New creates a Flower with the given flow configuration and pyramid
// depth (shared with the tile aligner's alignment.pyramid_levels).
func New(cfg fconfig.Flow, pyramidLevels int) *Flower {
	return &Flower{cfg: cfg, pyramidLevels: pyramidLevels}
}

// SetReference builds the reference's Gaussian pyramid and precomputes
// Scharr gradients at every level.
func (fl *Flower) SetReference(reference *imagebuf.Gray) {
	fl.refPyramid = pyramid.BuildGaussian(reference, fl.pyramidLevels)
	n := fl.refPyramid.NumLevels()
	fl.gradX = make([]*imagebuf.Gray, n)
	fl.gradY = make([]*imagebuf.Gray, n)
	for i := 0; i < n; i++ {
		level := fl.refPyramid.Level(i)
		fl.gradX[i], fl.gradY[i] = computeGradients(level)
	}
}

// computeGradients convolves src with the Scharr kernels, dividing by the
// normalization weight, with a zeroed one-pixel border.
func computeGradients(src *imagebuf.Gray) (*imagebuf.Gray, *imagebuf.Gray) {
	gx := imagebuf.NewGray(src.Width, src.Height)
	gy := imagebuf.NewGray(src.Width, src.Height)
	for y := 1; y < src.Height-1; y++ {
		for x := 1; x < src.Width-1; x++ {
			var sx, sy float64
			for j := -1; j <= 1; j++ {
				for i := -1; i <= 1; i++ {
					v := src.At(x+i, y+j)
					sx += v * scharrX[j+1][i+1]
					sy += v * scharrY[j+1][i+1]
				}
			}
			gx.Set(x, y, sx/scharrNorm)
			gy.Set(x, y, sy/scharrNorm)
		}
	}
	return gx, gy
}

// Compute produces a Field mapping the reference to target, computed
// coarse-to-fine over the pyramid. initial, if non-nil, seeds the
// coarsest level's flow (the hook point for an externally supplied
// homography-derived initial flow; this module never computes one
// itself).
func (fl *Flower) Compute(target *imagebuf.Gray, initial *Field) Result {
	if fl.refPyramid == nil || fl.refPyramid.NumLevels() == 0 {
		return Result{Valid: false}
	}

	targetPyramid := pyramid.BuildGaussian(target, fl.pyramidLevels)
	numLevels := fl.refPyramid.NumLevels()
	if targetPyramid.NumLevels() < numLevels {
		numLevels = targetPyramid.NumLevels()
	}

	var field Field
	for level := numLevels - 1; level >= 0; level-- {
		refLevel := fl.refPyramid.Level(level)
		targetLevel := targetPyramid.Level(level)

		var levelField Field
		if level == numLevels-1 {
			levelField = NewField(refLevel.Width, refLevel.Height)
			if initial != nil {
				scale := 1.0 / math.Pow(2, float64(level))
				levelField = downscaleFlow(*initial, refLevel.Width, refLevel.Height, scale)
			}
		} else {
			levelField = upsampleFlow(field, refLevel.Width, refLevel.Height)
		}

		field = fl.refineLevel(refLevel, targetLevel, fl.gradX[level], fl.gradY[level], levelField)
	}

	var sumMag float64
	var highConfCount int
	for _, v := range field.Vectors {
		if v.Confidence > highConfidenceThreshold {
			sumMag += math.Hypot(v.DX, v.DY)
			highConfCount++
		}
	}
	total := len(field.Vectors)
	coverage := 0.0
	avgMag := 0.0
	if total > 0 {
		coverage = float64(highConfCount) / float64(total)
	}
	if highConfCount > 0 {
		avgMag = sumMag / float64(highConfCount)
	}

	return Result{
		Field:            field,
		AverageMagnitude: avgMag,
		Coverage:         coverage,
		Valid:            coverage > 0.5,
	}
}

// refineLevel runs Lucas-Kanade refinement at every pixel of one pyramid
// level, starting from the (possibly upsampled) current field.
func (fl *Flower) refineLevel(ref, target, gx, gy *imagebuf.Gray, current Field) Field {
	out := NewField(ref.Width, ref.Height)
	half := fl.cfg.WindowSize / 2

	for y := 0; y < ref.Height; y++ {
		for x := 0; x < ref.Width; x++ {
			cur := current.At(x, y)
			refined := fl.computePixelFlow(ref, target, gx, gy, x, y, half, cur.DX, cur.DY)
			if refined.Confidence > 0.1 {
				out.Set(x, y, refined)
			} else {
				out.Set(x, y, Vector{DX: cur.DX, DY: cur.DY, Confidence: refined.Confidence})
			}
		}
	}
	return out
}

// computePixelFlow iteratively refines the flow at a single pixel via
// windowed Lucas-Kanade, matching section 4.3 of the specification.
func (fl *Flower) computePixelFlow(ref, target, gx, gy *imagebuf.Gray, x, y, half int, dx0, dy0 float64) Vector {
	dx, dy := dx0, dy0
	windowArea := (2*half + 1) * (2*half + 1)
	minValid := windowArea / 4

	var minEigen, trace float64

	for iter := 0; iter < fl.cfg.MaxIterations; iter++ {
		var sumIxIx, sumIxIy, sumIyIy, sumIxIt, sumIyIt float64
		var valid int

		for wy := -half; wy <= half; wy++ {
			py := y + wy
			if py < 0 || py >= ref.Height {
				continue
			}
			for wx := -half; wx <= half; wx++ {
				px := x + wx
				if px < 0 || px >= ref.Width {
					continue
				}
				tx := float64(px) + dx
				ty := float64(py) + dy
				if tx < 0 || tx >= float64(target.Width-1) || ty < 0 || ty >= float64(target.Height-1) {
					continue
				}

				ix := gx.At(px, py)
				iy := gy.At(px, py)
				targetVal := imagebuf.BilinearGray(target, tx, ty)
				it := targetVal - ref.At(px, py)

				sumIxIx += ix * ix
				sumIxIy += ix * iy
				sumIyIy += iy * iy
				sumIxIt += ix * it
				sumIyIt += iy * it
				valid++
			}
		}

		if valid < minValid {
			return Vector{DX: dx, DY: dy, Confidence: 0}
		}

		trace = sumIxIx + sumIyIy
		det := sumIxIx*sumIyIy - sumIxIy*sumIxIy
		discriminant := math.Sqrt(math.Max(0, trace*trace-4*det))
		minEigen = (trace - discriminant) / 2

		if math.Abs(det) < 1e-6 || minEigen < fl.cfg.MinEigenThreshold {
			return Vector{DX: dx, DY: dy, Confidence: 0.1}
		}

		invDet := 1.0 / det
		du := invDet * (sumIyIy*(-sumIxIt) - sumIxIy*(-sumIyIt))
		dv := invDet * (sumIxIx*(-sumIyIt) - sumIxIy*(-sumIxIt))

		dx += du
		dy += dv

		if math.Abs(du) < fl.cfg.ConvergenceThreshold && math.Abs(dv) < fl.cfg.ConvergenceThreshold {
			break
		}
	}

	confidence := 1.0
	if trace > 0 {
		confidence = math.Min(1, minEigen/(0.1*trace))
	}
	return Vector{DX: dx, DY: dy, Confidence: confidence}
}

// upsampleFlow bilinearly upsamples field to the target dimensions and
// scales dx, dy by 2, matching the coarse-to-fine handoff in section 4.3.
func upsampleFlow(field Field, targetW, targetH int) Field {
	out := NewField(targetW, targetH)
	if field.Width == 0 || field.Height == 0 {
		return out
	}
	for y := 0; y < targetH; y++ {
		srcY := float64(y) / 2.0
		for x := 0; x < targetW; x++ {
			srcX := float64(x) / 2.0
			v := sampleFieldBilinear(field, srcX, srcY)
			out.Set(x, y, Vector{DX: v.DX * 2, DY: v.DY * 2, Confidence: v.Confidence})
		}
	}
	return out
}

// downscaleFlow samples an externally supplied flow field (e.g. from a
// gyro homography) down to a coarser level without the x2 scaling
// upsampleFlow applies, since the caller's field is already expressed at
// full resolution and scale converts it to the coarsest level's units.
func downscaleFlow(field Field, targetW, targetH int, scale float64) Field {
	out := NewField(targetW, targetH)
	if field.Width == 0 || field.Height == 0 {
		return out
	}
	for y := 0; y < targetH; y++ {
		srcY := float64(y) / scale
		for x := 0; x < targetW; x++ {
			srcX := float64(x) / scale
			v := sampleFieldBilinear(field, srcX, srcY)
			out.Set(x, y, Vector{DX: v.DX * scale, DY: v.DY * scale, Confidence: v.Confidence})
		}
	}
	return out
}

// sampleFieldBilinear samples field at fractional coordinates (x, y)
// using clamped 4-tap bilinear interpolation over dx, dy, and confidence
// independently, matching imagebuf.BilinearRGB's border behavior.
func sampleFieldBilinear(field Field, x, y float64) Vector {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	x0c := imagebuf.Clamp(x0, 0, field.Width-1)
	x1c := imagebuf.Clamp(x0+1, 0, field.Width-1)
	y0c := imagebuf.Clamp(y0, 0, field.Height-1)
	y1c := imagebuf.Clamp(y0+1, 0, field.Height-1)

	v00 := field.At(x0c, y0c)
	v10 := field.At(x1c, y0c)
	v01 := field.At(x0c, y1c)
	v11 := field.At(x1c, y1c)

	lerp := func(a, b, t float64) float64 { return a + (b-a)*t }
	return Vector{
		DX:         lerp(lerp(v00.DX, v10.DX, fx), lerp(v01.DX, v11.DX, fx), fy),
		DY:         lerp(lerp(v00.DY, v10.DY, fx), lerp(v01.DY, v11.DY, fx), fy),
		Confidence: lerp(lerp(v00.Confidence, v10.Confidence, fx), lerp(v01.Confidence, v11.Confidence, fx), fy),
	}
}

// ToMotionField downsamples a per-pixel flow field into a tile-grid
// integer motion field by averaging high-confidence flow vectors within
// each tile and rounding to the nearest integer; tiles with no
// high-confidence vectors are left zero-valued and implicitly invalid.
func ToMotionField(field Field, tileSize int) (dx, dy [][]int, valid [][]bool) {
	tilesX := (field.Width + tileSize - 1) / tileSize
	tilesY := (field.Height + tileSize - 1) / tileSize
	dx = make([][]int, tilesY)
	dy = make([][]int, tilesY)
	valid = make([][]bool, tilesY)
	for ty := 0; ty < tilesY; ty++ {
		dx[ty] = make([]int, tilesX)
		dy[ty] = make([]int, tilesX)
		valid[ty] = make([]bool, tilesX)
		for tx := 0; tx < tilesX; tx++ {
			x0 := tx * tileSize
			y0 := ty * tileSize
			x1 := imagebuf.Clamp(x0+tileSize, 0, field.Width)
			y1 := imagebuf.Clamp(y0+tileSize, 0, field.Height)

			var sumX, sumY float64
			var count int
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					v := field.At(x, y)
					if v.Confidence > highConfidenceThreshold {
						sumX += v.DX
						sumY += v.DY
						count++
					}
				}
			}
			if count > 0 {
				dx[ty][tx] = int(math.Floor(sumX/float64(count) + 0.5))
				dy[ty][tx] = int(math.Floor(sumY/float64(count) + 0.5))
				valid[ty][tx] = true
			}
		}
	}
	return
}
