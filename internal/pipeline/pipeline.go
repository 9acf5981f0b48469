package pipeline

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/pspoerri/burstfusion/internal/align"
	"github.com/pspoerri/burstfusion/internal/diag"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/flow"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
	"github.com/pspoerri/burstfusion/internal/mfsr"
)

// TileStat reports per-tile diagnostics for one processed region.
type TileStat struct {
	Region       TileRegion
	Coverage     float64
	AverageShift float64
	ShiftSamples int
	FramesUsed   int
}

// Result is the tiled pipeline's output: the fused, super-resolved
// image plus enough diagnostics to explain what happened.
type Result struct {
	Image         *imagebuf.RGBImage
	ScaleFactor   int
	Fallback      diag.FallbackReason
	Coverage      float64
	AverageMotion float64
	Success       bool
	TileStats     []TileStat
}

// Driver runs the tiled multi-frame super-resolution pipeline: per-tile
// alignment, dense flow, and MFSR accumulation, blended back into one
// global output with triangular overlap weights, and a whole-frame
// upscale fallback when motion is excessive or coverage is too low.
type Driver struct {
	cfg         fconfig.Config
	sink        diag.Sink
	concurrency int
}

// New creates a Driver. concurrency <= 0 defaults to 4 workers.
func New(cfg fconfig.Config, sink diag.Sink, concurrency int) *Driver {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Driver{cfg: cfg, sink: sink, concurrency: concurrency}
}

// Process fuses frames (all the same dimensions) into a super-resolved
// image at fconfig.MFSR.ScaleFactor, using frames[refIdx] as the
// geometric and radiometric reference.
func (d *Driver) Process(frames []*imagebuf.RGBImage, refIdx int) (Result, error) {
	if len(frames) == 0 {
		return Result{}, diag.NewFault(diag.InvalidInput, "pipeline requires at least one frame")
	}
	if refIdx < 0 || refIdx >= len(frames) {
		return Result{}, diag.NewFault(diag.InvalidInput, "reference index %d out of range", refIdx)
	}
	width, height := frames[refIdx].Width, frames[refIdx].Height
	for i, f := range frames {
		if f.Width != width || f.Height != height {
			return Result{}, diag.NewFault(diag.InvalidInput, "frame %d dimensions %dx%d != %dx%d", i, f.Width, f.Height, width, height)
		}
	}

	scale := d.cfg.MFSR.ScaleFactor
	if scale < 1 {
		scale = 1
	}

	luma := make([]*imagebuf.Gray, len(frames))
	for i, f := range frames {
		luma[i] = imagebuf.ToGray(f)
	}

	motions := make([]float64, 0, len(frames)-1)
	for i := range frames {
		if i == refIdx {
			continue
		}
		motions = append(motions, estimateGlobalMotion(d.cfg.Alignment, luma[refIdx], luma[i]))
	}

	if reason := checkMotionFallback(d.cfg.Tiled, motions); reason != diag.FallbackNone {
		diag.Notify(d.sink, "pipeline", 1.0, "falling back to whole-frame upscale: "+reason.String())
		return Result{
			Image:         fallbackUpscale(frames[refIdx], scale),
			ScaleFactor:   scale,
			Fallback:      reason,
			AverageMotion: averageFiniteMotion(motions),
			Success:       true,
		}, nil
	}

	regions := computeTileGrid(width, height, d.cfg.Tiled.TileWidth, d.cfg.Tiled.TileHeight, d.cfg.Tiled.Overlap)
	if len(regions) == 0 {
		return Result{}, diag.NewFault(diag.InvalidInput, "empty tile grid for %dx%d image", width, height)
	}

	outW, outH := width*scale, height*scale
	globalColor := make([]imagebuf.RGB, outW*outH)
	globalWeight := make([]float64, outW*outH)
	tileStats := make([]TileStat, len(regions))
	var mu sync.Mutex

	jobs := make(chan int, len(regions))
	var wg sync.WaitGroup
	var processedCount atomic.Int64

	worker := func() {
		defer wg.Done()
		for idx := range jobs {
			region := regions[idx]
			color, weight, stat := d.processTile(frames, luma, refIdx, region, scale)

			mu.Lock()
			blendInto(globalColor, globalWeight, outW, color, weight, region, scale)
			mu.Unlock()

			tileStats[idx] = stat
			processedCount.Add(1)
			diag.Notify(d.sink, "pipeline", float64(processedCount.Load())/float64(len(regions)), "tiles processed")
		}
	}

	workers := d.concurrency
	if workers > len(regions) {
		workers = len(regions)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go worker()
	}
	for i := range regions {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	out := imagebuf.NewRGB(outW, outH)
	var filled int
	for i := range out.Pix {
		if globalWeight[i] > 0 {
			inv := 1.0 / globalWeight[i]
			out.Pix[i] = imagebuf.RGB{
				R: globalColor[i].R * inv,
				G: globalColor[i].G * inv,
				B: globalColor[i].B * inv,
			}.Clamp01()
			filled++
		}
	}
	coverage := float64(filled) / float64(len(out.Pix))

	aggregateMotion := aggregateTileMotion(tileStats)

	if reason := checkCoverageFallback(coverage); reason != diag.FallbackNone {
		diag.Notify(d.sink, "pipeline", 1.0, "post-hoc fallback: coverage too low")
		return Result{
			Image:         fallbackUpscale(frames[refIdx], scale),
			ScaleFactor:   scale,
			Fallback:      reason,
			Coverage:      coverage,
			AverageMotion: aggregateMotion,
			Success:       true,
			TileStats:     tileStats,
		}, nil
	}

	return Result{
		Image:         out,
		ScaleFactor:   scale,
		Fallback:      diag.FallbackNone,
		Coverage:      coverage,
		AverageMotion: aggregateMotion,
		Success:       true,
		TileStats:     tileStats,
	}, nil
}

// averageFiniteMotion averages the finite entries of motions, used for
// the pre-tiled-pass fallback's diagnostic (some entries may be +Inf for
// frames whose global alignment failed outright).
func averageFiniteMotion(motions []float64) float64 {
	var sum float64
	var count int
	for _, m := range motions {
		if math.IsInf(m, 0) {
			continue
		}
		sum += m
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// aggregateTileMotion rolls up every tile's average shift into one
// sample-weighted average flow magnitude across the whole image.
func aggregateTileMotion(stats []TileStat) float64 {
	var sum float64
	var samples int
	for _, s := range stats {
		sum += s.AverageShift * float64(s.ShiftSamples)
		samples += s.ShiftSamples
	}
	if samples == 0 {
		return 0
	}
	return sum / float64(samples)
}

// processTile runs per-frame motion estimation (tile-aligner, dense flow,
// or flow seeded by the tile aligner, per cfg.Alignment.Mode) and
// Lanczos-weighted MFSR accumulation for one tile region, returning its
// finalized padded-tile pixels, per-pixel blend weight map (both
// row-major over the padded region at output scale), and diagnostics.
func (d *Driver) processTile(frames []*imagebuf.RGBImage, luma []*imagebuf.Gray, refIdx int, region TileRegion, scale int) ([]imagebuf.RGB, []float64, TileStat) {
	refLumaCrop := cropGray(luma[refIdx], region.X0, region.Y0, region.X1, region.Y1)
	refRGBCrop := cropRGB(frames[refIdx], region.X0, region.Y0, region.X1, region.Y1)
	w, h := region.width(), region.height()

	acc := mfsr.NewAccumulator(w*scale, h*scale)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc.AddLanczos(float64(x*scale), float64(y*scale), refRGBCrop.At(x, y), 1.0)
		}
	}

	var flower *flow.Flower
	var aligner *align.Aligner
	switch d.cfg.Alignment.Mode {
	case fconfig.DenseFlow, fconfig.Hybrid:
		flower = flow.New(d.cfg.Flow, d.cfg.Alignment.PyramidLevels)
		flower.SetReference(refLumaCrop)
	}
	switch d.cfg.Alignment.Mode {
	case fconfig.Hybrid, fconfig.TileBased:
		aligner = align.New(d.cfg.Alignment)
		aligner.SetReference(refLumaCrop)
	}

	var totalShift float64
	var shiftSamples int
	framesUsed := 1

	for i := range frames {
		if i == refIdx {
			continue
		}
		targetLumaCrop := cropGray(luma[i], region.X0, region.Y0, region.X1, region.Y1)
		targetRGBCrop := cropRGB(frames[i], region.X0, region.Y0, region.X1, region.Y1)

		dx, dy, conf, ok := d.estimateTileMotion(aligner, flower, refLumaCrop, targetLumaCrop, w, h)
		if !ok {
			continue
		}
		framesUsed++

		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				idx := y*w + x
				if conf[idx] <= 0.1 {
					continue
				}
				vdx, vdy := dx[idx], dy[idx]
				predicted := imagebuf.BilinearRGB(targetRGBCrop, float64(x)+vdx, float64(y)+vdy)
				ref := refRGBCrop.At(x, y)
				residual := colorDistance(predicted, ref)
				rw := robustnessWeight(d.cfg.Tiled.Robustness, residual, d.cfg.Tiled.RobustnessThreshold)
				weight := conf[idx] * rw
				if weight <= 0 {
					continue
				}

				pixel := targetRGBCrop.At(x, y)
				outX := (float64(x) - vdx) * float64(scale)
				outY := (float64(y) - vdy) * float64(scale)
				acc.AddLanczos(outX, outY, pixel, weight)

				totalShift += math.Hypot(vdx, vdy)
				shiftSamples++
			}
		}
	}

	acc.FillGaps(3)
	tileColor := make([]imagebuf.RGB, acc.Width*acc.Height)
	tileWeight := make([]float64, acc.Width*acc.Height)
	for i, c := range acc.Cells {
		tileColor[i] = c.Normalize()
		if !c.Empty() {
			tileWeight[i] = 1
		}
	}

	avgShift := 0.0
	if shiftSamples > 0 {
		avgShift = totalShift / float64(shiftSamples)
	}

	return tileColor, tileWeight, TileStat{
		Region:       region,
		Coverage:     acc.Coverage(),
		AverageShift: avgShift,
		ShiftSamples: shiftSamples,
		FramesUsed:   framesUsed,
	}
}

// estimateTileMotion produces flattened per-pixel dx/dy/confidence
// slices (row-major over the tile's w x h crop) for one candidate frame,
// dispatching on cfg.Alignment.Mode:
//
//   - TileBased: the coarse tile aligner's integer motion, refined to
//     sub-pixel precision per tile via mfsr.RefineField and broadcast
//     uniformly across each tile's pixels.
//   - DenseFlow: per-pixel hierarchical Lucas-Kanade flow, unseeded.
//   - Hybrid: per-pixel flow seeded at the coarsest pyramid level with
//     the tile aligner's integer motion, per flow.Compute's initial hook.
//
// Returns ok=false if the underlying aligner/flow pass was invalid.
func (d *Driver) estimateTileMotion(aligner *align.Aligner, flower *flow.Flower, refLumaCrop, targetLumaCrop *imagebuf.Gray, w, h int) (dx, dy, conf []float64, ok bool) {
	switch d.cfg.Alignment.Mode {
	case fconfig.DenseFlow:
		result := flower.Compute(targetLumaCrop, nil)
		if !result.Valid {
			return nil, nil, nil, false
		}
		dx, dy, conf = flattenFlowField(result.Field, w, h)
		return dx, dy, conf, true

	case fconfig.Hybrid:
		alignment := aligner.Align(targetLumaCrop)
		if !alignment.Valid {
			return nil, nil, nil, false
		}
		initial := seedFlowField(alignment.Field, w, h)
		result := flower.Compute(targetLumaCrop, &initial)
		if !result.Valid {
			return nil, nil, nil, false
		}
		dx, dy, conf = flattenFlowField(result.Field, w, h)
		return dx, dy, conf, true

	default: // fconfig.TileBased
		alignment := aligner.Align(targetLumaCrop)
		if !alignment.Valid {
			return nil, nil, nil, false
		}
		tileSize := d.cfg.Alignment.TileSize
		subpixel := mfsr.RefineField(refLumaCrop, targetLumaCrop, alignment.Field, tileSize)
		dx, dy, conf = flattenSubpixelField(subpixel, alignment.Confidence, w, h, tileSize)
		return dx, dy, conf, true
	}
}

// flattenFlowField copies a flow.Field spanning the full crop into flat
// per-pixel dx/dy/confidence slices.
func flattenFlowField(field flow.Field, w, h int) (dx, dy, conf []float64) {
	dx = make([]float64, w*h)
	dy = make([]float64, w*h)
	conf = make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := field.At(x, y)
			idx := y*w + x
			dx[idx], dy[idx], conf[idx] = v.DX, v.DY, v.Confidence
		}
	}
	return dx, dy, conf
}

// seedFlowField broadcasts a coarse per-tile align.MotionField across a
// full-resolution flow.Field: Hybrid mode's seed for dense flow's
// coarsest pyramid level (flow.Compute's initial argument).
func seedFlowField(coarse align.MotionField, w, h int) flow.Field {
	out := flow.NewField(w, h)
	if coarse.TileSize <= 0 {
		return out
	}
	for y := 0; y < h; y++ {
		ty := y / coarse.TileSize
		for x := 0; x < w; x++ {
			tx := x / coarse.TileSize
			mv := coarse.At(tx, ty)
			out.Set(x, y, flow.Vector{DX: float64(mv.DX), DY: float64(mv.DY), Confidence: 1})
		}
	}
	return out
}

// flattenSubpixelField broadcasts a tile-granularity subpixel motion
// field across per-pixel dx/dy/confidence slices, scaling each tile's
// confidence by the frame-wide alignment confidence.
func flattenSubpixelField(field mfsr.SubpixelField, alignConfidence float64, w, h, tileSize int) (dx, dy, conf []float64) {
	dx = make([]float64, w*h)
	dy = make([]float64, w*h)
	conf = make([]float64, w*h)
	if tileSize <= 0 {
		return dx, dy, conf
	}
	for y := 0; y < h; y++ {
		ty := y / tileSize
		for x := 0; x < w; x++ {
			tx := x / tileSize
			sm := field.At(tx, ty)
			idx := y*w + x
			dx[idx], dy[idx] = sm.DX, sm.DY
			conf[idx] = sm.Confidence * alignConfidence
		}
	}
	return dx, dy, conf
}

func colorDistance(a, b imagebuf.RGB) float64 {
	dr, dg, db := a.R-b.R, a.G-b.G, a.B-b.B
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

// blendInto accumulates one tile's finalized pixels into the global
// output buffers, weighting each tile pixel by its own accumulation
// weight (0 if that cell was never filled) times the triangular
// cross-tile blend weight for its position within the padded region.
func blendInto(globalColor []imagebuf.RGB, globalWeight []float64, outW int, tileColor []imagebuf.RGB, tileWeight []float64, region TileRegion, scale int) {
	w, h := region.width(), region.height()
	tileW := w * scale
	originX := region.X0 * scale
	originY := region.Y0 * scale

	for ly := 0; ly < h*scale; ly++ {
		gy := originY + ly
		for lx := 0; lx < tileW; lx++ {
			idx := ly*tileW + lx
			if tileWeight[idx] <= 0 {
				continue
			}
			gx := originX + lx
			gIdx := gy*outW + gx

			bw := blendWeight(lx/scale, ly/scale, w, h, region)
			weight := tileWeight[idx] * bw
			c := tileColor[idx]
			globalColor[gIdx].R += c.R * weight
			globalColor[gIdx].G += c.G * weight
			globalColor[gIdx].B += c.B * weight
			globalWeight[gIdx] += weight
		}
	}
}
