package align

import (
	"math"
	"testing"

	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

func noiseImage(w, h int, seed int) *imagebuf.Gray {
	im := imagebuf.NewGray(w, h)
	state := uint32(seed + 1)
	for y := 0; y < h; y++ {
		row := im.Row(y)
		for x := range row {
			state = state*1664525 + 1013904223
			row[x] = float64(state%1000) / 1000.0
		}
	}
	return im
}

// shiftImage returns src with its content displaced by (dx, dy): the
// value that was at (x, y) in src appears at (x+dx, y+dy) in the result,
// so that aligning the result back to src recovers motion (dx, dy).
func shiftImage(src *imagebuf.Gray, dx, dy int) *imagebuf.Gray {
	out := imagebuf.NewGray(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			sx := imagebuf.Clamp(x-dx, 0, src.Width-1)
			sy := imagebuf.Clamp(y-dy, 0, src.Height-1)
			out.Set(x, y, src.At(sx, sy))
		}
	}
	return out
}

// T2: aligning identical frames yields zero motion everywhere, cost 0,
// average_motion 0.
func TestAlignIdenticalFramesZeroMotion(t *testing.T) {
	img := noiseImage(64, 64, 1)
	cfg := fconfig.Default().Alignment
	cfg.TileSize = 32
	cfg.SearchRadius = 4

	a := New(cfg)
	a.SetReference(img)
	result := a.Align(img)

	if !result.Valid {
		t.Fatalf("expected valid alignment")
	}
	for i, v := range result.Field.Vectors {
		if v.DX != 0 || v.DY != 0 {
			t.Fatalf("tile %d: expected zero motion, got (%d,%d)", i, v.DX, v.DY)
		}
		if v.Cost != 0 {
			t.Fatalf("tile %d: expected zero cost, got %v", i, v.Cost)
		}
	}
	if result.AverageMotion != 0 {
		t.Fatalf("expected average motion 0, got %v", result.AverageMotion)
	}
}

// S2-style: integer shift burst recovers the exact shift within the
// search radius.
func TestAlignIntegerShiftRecovered(t *testing.T) {
	ref := noiseImage(64, 64, 2)
	shifted := shiftImage(ref, 1, 0)

	cfg := fconfig.Default().Alignment
	cfg.TileSize = 32
	cfg.SearchRadius = 2

	a := New(cfg)
	a.SetReference(ref)
	result := a.Align(shifted)

	if !result.Valid {
		t.Fatalf("expected valid alignment")
	}
	for i, v := range result.Field.Vectors {
		if v.DX != 1 || v.DY != 0 {
			t.Fatalf("tile %d: expected motion (1,0), got (%d,%d)", i, v.DX, v.DY)
		}
	}
}

func TestAlignNoReferenceIsInvalid(t *testing.T) {
	cfg := fconfig.Default().Alignment
	a := New(cfg)
	result := a.Align(noiseImage(16, 16, 3))
	if result.Valid {
		t.Fatalf("expected invalid alignment with no reference set")
	}
	if result.AsFault() == nil {
		t.Fatalf("expected fault for invalid alignment")
	}
}

// T9: Warp(identity alignment)(x) = x.
func TestWarpIdentityIsNoop(t *testing.T) {
	rgb := imagebuf.NewRGB(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			rgb.Set(x, y, imagebuf.RGB{R: float64(x) / 16, G: float64(y) / 16, B: 0.5})
		}
	}
	field := NewMotionField(1, 1, 16)
	identity := Alignment{Field: field, Valid: true}

	a := New(fconfig.Default().Alignment)
	warped := a.Warp(rgb, identity)

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			want := rgb.At(x, y)
			got := warped.At(x, y)
			if math.Abs(want.R-got.R) > 1e-9 || math.Abs(want.G-got.G) > 1e-9 || math.Abs(want.B-got.B) > 1e-9 {
				t.Fatalf("warp(identity) mismatch at (%d,%d): got %+v want %+v", x, y, got, want)
			}
		}
	}
}

func TestRefineSubpixelZeroShiftStaysNearIntegerOrRejects(t *testing.T) {
	ref := noiseImage(32, 32, 4)
	sp := RefineSubpixel(ref, ref, 0, 0, 16, MotionVector{DX: 0, DY: 0})
	if math.Abs(sp.DX) > 0.5 || math.Abs(sp.DY) > 0.5 {
		t.Fatalf("expected subpixel offsets within [-0.5,0.5], got (%v,%v)", sp.DX, sp.DY)
	}
	if sp.Confidence < 0 || sp.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", sp.Confidence)
	}
}
