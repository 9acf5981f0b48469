package flow

import (
	"math"
	"testing"

	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

func noiseImage(w, h, seed int) *imagebuf.Gray {
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

func TestSampleFieldBilinearInterpolatesBetweenCells(t *testing.T) {
	field := NewField(2, 1)
	field.Set(0, 0, Vector{DX: 0, DY: 0, Confidence: 0})
	field.Set(1, 0, Vector{DX: 10, DY: 0, Confidence: 1})

	mid := sampleFieldBilinear(field, 0.5, 0)
	if math.Abs(mid.DX-5) > 1e-9 {
		t.Fatalf("expected midpoint DX 5, got %v", mid.DX)
	}
	if math.Abs(mid.Confidence-0.5) > 1e-9 {
		t.Fatalf("expected midpoint confidence 0.5, got %v", mid.Confidence)
	}

	quarter := sampleFieldBilinear(field, 0.25, 0)
	if math.Abs(quarter.DX-2.5) > 1e-9 {
		t.Fatalf("expected quarter-point DX 2.5, got %v", quarter.DX)
	}
}

func TestComputeIdenticalFramesLowMotion(t *testing.T) {
	img := noiseImage(48, 48, 1)
	cfg := fconfig.Default().Flow
	fl := New(cfg, 3)
	fl.SetReference(img)
	result := fl.Compute(img, nil)

	if !result.Valid {
		t.Fatalf("expected valid flow result for identical frames")
	}
	if result.AverageMagnitude > 0.2 {
		t.Fatalf("expected near-zero average motion for identical frames, got %v", result.AverageMagnitude)
	}
}

func TestComputeNoReferenceInvalid(t *testing.T) {
	fl := New(fconfig.Default().Flow, 3)
	result := fl.Compute(noiseImage(16, 16, 2), nil)
	if result.Valid {
		t.Fatalf("expected invalid result with no reference set")
	}
}

func TestFieldConfidenceInRange(t *testing.T) {
	img := noiseImage(32, 32, 3)
	fl := New(fconfig.Default().Flow, 2)
	fl.SetReference(img)
	result := fl.Compute(img, nil)
	for i, v := range result.Field.Vectors {
		if v.Confidence < 0 || v.Confidence > 1 {
			t.Fatalf("vector %d confidence out of range: %v", i, v.Confidence)
		}
		if math.IsNaN(v.DX) || math.IsNaN(v.DY) {
			t.Fatalf("vector %d has NaN displacement", i)
		}
	}
}

func TestToMotionFieldAveragesHighConfidence(t *testing.T) {
	field := NewField(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			field.Set(x, y, Vector{DX: 2, DY: -1, Confidence: 0.9})
		}
	}
	dx, dy, valid := ToMotionField(field, 4)
	if !valid[0][0] {
		t.Fatalf("expected tile to be valid")
	}
	if dx[0][0] != 2 || dy[0][0] != -1 {
		t.Fatalf("got motion (%d,%d), want (2,-1)", dx[0][0], dy[0][0])
	}
}

func TestToMotionFieldLowConfidenceLeavesInvalid(t *testing.T) {
	field := NewField(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			field.Set(x, y, Vector{DX: 5, DY: 5, Confidence: 0.1})
		}
	}
	_, _, valid := ToMotionField(field, 4)
	if valid[0][0] {
		t.Fatalf("expected tile to stay invalid with only low-confidence vectors")
	}
}
