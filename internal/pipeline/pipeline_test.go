package pipeline

import (
	"math"
	"testing"

	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

func patternFrame(w, h int, seed int) *imagebuf.RGBImage {
	img := imagebuf.NewRGB(w, h)
	state := uint32(seed + 1)
	for y := 0; y < h; y++ {
		row := img.Row(y)
		for x := range row {
			state = state*1664525 + 1013904223
			v := float64(state%1000) / 1000.0
			row[x] = imagebuf.RGB{R: v, G: v, B: v}
		}
	}
	return img
}

func smallConfig() fconfig.Config {
	cfg := fconfig.Default()
	cfg.Tiled.TileWidth = 16
	cfg.Tiled.TileHeight = 16
	cfg.Tiled.Overlap = 4
	cfg.Alignment.TileSize = 8
	cfg.Alignment.SearchRadius = 4
	cfg.Alignment.PyramidLevels = 2
	cfg.Flow.WindowSize = 5
	cfg.Flow.MaxIterations = 4
	cfg.MFSR.ScaleFactor = 2
	cfg.MFSR.TileSize = 8
	return cfg
}

// T8/S2-style: identical frames should not trigger any fallback and
// should yield a coverage close to complete.
func TestProcessIdenticalFramesNoFallback(t *testing.T) {
	img := patternFrame(32, 32, 1)
	cfg := smallConfig()
	d := New(cfg, nil, 2)

	result, err := d.Process([]*imagebuf.RGBImage{img, img, img}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fallback != 0 {
		t.Fatalf("expected no fallback for identical frames, got %v", result.Fallback)
	}
	if result.ScaleFactor != cfg.MFSR.ScaleFactor {
		t.Fatalf("expected scale factor %d, got %d", cfg.MFSR.ScaleFactor, result.ScaleFactor)
	}
	if result.Image.Width != 32*cfg.MFSR.ScaleFactor || result.Image.Height != 32*cfg.MFSR.ScaleFactor {
		t.Fatalf("unexpected output dimensions: %dx%d", result.Image.Width, result.Image.Height)
	}
	if result.Coverage < 0.8 {
		t.Fatalf("expected high coverage for identical frames, got %v", result.Coverage)
	}
	if !result.Success {
		t.Fatalf("expected Success on the non-fallback path")
	}
	if result.AverageMotion > 1e-6 {
		t.Fatalf("expected near-zero average motion for identical frames, got %v", result.AverageMotion)
	}
}

// Every alignment mode should process identical frames without error and
// report Success, since cfg.Alignment.Mode must actually steer
// processTile rather than sit unread.
func TestProcessAllAlignmentModesSucceed(t *testing.T) {
	img := patternFrame(32, 32, 4)
	for _, mode := range []fconfig.AlignmentMode{fconfig.TileBased, fconfig.DenseFlow, fconfig.Hybrid} {
		cfg := smallConfig()
		cfg.Alignment.Mode = mode
		d := New(cfg, nil, 2)

		result, err := d.Process([]*imagebuf.RGBImage{img, img}, 0)
		if err != nil {
			t.Fatalf("mode %v: unexpected error: %v", mode, err)
		}
		if !result.Success {
			t.Fatalf("mode %v: expected Success", mode)
		}
	}
}

func TestProcessRejectsEmptyInput(t *testing.T) {
	d := New(smallConfig(), nil, 2)
	if _, err := d.Process(nil, 0); err == nil {
		t.Fatalf("expected error for empty frame list")
	}
}

func TestProcessRejectsBadReferenceIndex(t *testing.T) {
	d := New(smallConfig(), nil, 2)
	img := patternFrame(16, 16, 2)
	if _, err := d.Process([]*imagebuf.RGBImage{img}, 3); err == nil {
		t.Fatalf("expected error for out-of-range reference index")
	}
}

func TestProcessRejectsMismatchedDimensions(t *testing.T) {
	d := New(smallConfig(), nil, 2)
	a := patternFrame(16, 16, 1)
	b := patternFrame(20, 20, 2)
	if _, err := d.Process([]*imagebuf.RGBImage{a, b}, 0); err == nil {
		t.Fatalf("expected error for mismatched dimensions")
	}
}

// S5-style: a frame displaced far beyond fallback_motion_px should
// trigger the whole-frame upscale fallback rather than running the
// tiled path.
func TestProcessExcessiveMotionFallsBack(t *testing.T) {
	ref := patternFrame(48, 48, 3)
	shifted := imagebuf.NewRGB(48, 48)
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			sx := imagebuf.Clamp(x-40, 0, 47)
			sy := imagebuf.Clamp(y-40, 0, 47)
			shifted.Set(x, y, ref.At(sx, sy))
		}
	}

	cfg := smallConfig()
	cfg.Tiled.FallbackMotionPx = 5
	d := New(cfg, nil, 2)

	result, err := d.Process([]*imagebuf.RGBImage{ref, shifted}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fallback == 0 {
		t.Fatalf("expected a fallback reason for excessive motion")
	}
	if result.Image.Width != 48*cfg.MFSR.ScaleFactor {
		t.Fatalf("fallback image has wrong width: %d", result.Image.Width)
	}
}

func TestComputeTileGridCoversWholeImage(t *testing.T) {
	regions := computeTileGrid(40, 25, 16, 16, 4)
	if len(regions) == 0 {
		t.Fatalf("expected at least one region")
	}
	covered := make([][]bool, 25)
	for i := range covered {
		covered[i] = make([]bool, 40)
	}
	for _, r := range regions {
		for y := r.CoreY0; y < r.CoreY1; y++ {
			for x := r.CoreX0; x < r.CoreX1; x++ {
				if covered[y][x] {
					t.Fatalf("core regions overlap at (%d,%d)", x, y)
				}
				covered[y][x] = true
			}
		}
	}
	for y := 0; y < 25; y++ {
		for x := 0; x < 40; x++ {
			if !covered[y][x] {
				t.Fatalf("pixel (%d,%d) not covered by any tile core", x, y)
			}
		}
	}
}

func TestBlendWeightTapersAtOverlap(t *testing.T) {
	regions := computeTileGrid(64, 64, 16, 16, 8)
	var interior TileRegion
	for _, r := range regions {
		if r.PadLeft > 0 && r.PadTop > 0 && r.PadRight > 0 && r.PadBottom > 0 {
			interior = r
			break
		}
	}
	if interior.PadLeft == 0 {
		t.Fatalf("expected to find an interior tile with padding on all sides")
	}
	w, h := interior.width(), interior.height()
	edge := blendWeight(0, h/2, w, h, interior)
	center := blendWeight(w/2, h/2, w, h, interior)
	if edge >= center {
		t.Fatalf("expected edge blend weight (%v) to be less than center (%v)", edge, center)
	}
}

func TestHuberWeightAndTukeyBiweightBehavior(t *testing.T) {
	if w := huberWeight(0.05, 0.5); w != 1 {
		t.Fatalf("expected weight 1 inside threshold, got %v", w)
	}
	if w := huberWeight(2.0, 0.5); w >= 1 {
		t.Fatalf("expected weight < 1 beyond threshold, got %v", w)
	}
	if w := tukeyBiweight(0.0, 0.5); math.Abs(w-1) > 1e-9 {
		t.Fatalf("expected tukey weight 1 at zero residual, got %v", w)
	}
	if w := tukeyBiweight(0.6, 0.5); w != 0 {
		t.Fatalf("expected tukey weight 0 beyond threshold, got %v", w)
	}
}
