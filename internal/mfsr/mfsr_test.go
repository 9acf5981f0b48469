package mfsr

import (
	"math"
	"testing"

	"github.com/pspoerri/burstfusion/internal/align"
	"github.com/pspoerri/burstfusion/internal/fconfig"
	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

func solidRGB(w, h int, v imagebuf.RGB) *imagebuf.RGBImage {
	img := imagebuf.NewRGB(w, h)
	img.Fill(v)
	return img
}

func solidGray(w, h int, v float64) *imagebuf.Gray {
	img := imagebuf.NewGray(w, h)
	img.Fill(v)
	return img
}

// T3-style: a single reference-only frame at scale 1 reproduces the
// input (no motion to accumulate, every cell filled exactly once).
func TestProcessSingleFrameScaleOne(t *testing.T) {
	rgb := solidRGB(8, 8, imagebuf.RGB{R: 0.4, G: 0.5, B: 0.6})
	luma := solidGray(8, 8, 0.5)
	cfg := fconfig.Default().MFSR
	cfg.ScaleFactor = 1

	frames := []FrameInput{{RGB: rgb, Luma: luma, IsRef: true, Confidence: 1}}
	result, err := Process(0, frames, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result")
	}
	if result.Diagnostics.Coverage < 0.9 {
		t.Fatalf("expected near-complete coverage, got %v", result.Diagnostics.Coverage)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			p := result.Image.At(x, y)
			if math.Abs(p.R-0.4) > 0.05 || math.Abs(p.G-0.5) > 0.05 || math.Abs(p.B-0.6) > 0.05 {
				t.Fatalf("pixel (%d,%d) drifted: %+v", x, y, p)
			}
		}
	}
}

// T4-style: requesting an unknown/out-of-range reference index is
// rejected.
func TestProcessRejectsBadReferenceIndex(t *testing.T) {
	rgb := solidRGB(4, 4, imagebuf.RGB{R: 1, G: 1, B: 1})
	luma := solidGray(4, 4, 1)
	cfg := fconfig.Default().MFSR
	_, err := Process(5, []FrameInput{{RGB: rgb, Luma: luma, IsRef: true}}, cfg)
	if err == nil {
		t.Fatalf("expected error for out-of-range reference index")
	}
}

func TestProcessRejectsEmptyInput(t *testing.T) {
	cfg := fconfig.Default().MFSR
	_, err := Process(0, nil, cfg)
	if err == nil {
		t.Fatalf("expected error for empty frame list")
	}
}

// Accumulating more frames (even duplicates of the reference) should
// only increase or maintain coverage, never reduce it.
func TestProcessMultipleFramesImprovesCoverage(t *testing.T) {
	rgb := solidRGB(16, 16, imagebuf.RGB{R: 0.3, G: 0.3, B: 0.3})
	luma := solidGray(16, 16, 0.3)
	cfg := fconfig.Default().MFSR
	cfg.ScaleFactor = 2

	single := []FrameInput{{RGB: rgb, Luma: luma, IsRef: true, Confidence: 1}}
	multi := []FrameInput{
		{RGB: rgb, Luma: luma, IsRef: true, Confidence: 1},
		{RGB: rgb, Luma: luma, Motion: align.NewMotionField(1, 1, 16), Confidence: 0.9},
		{RGB: rgb, Luma: luma, Motion: align.NewMotionField(1, 1, 16), Confidence: 0.9},
	}

	rSingle, err := Process(0, single, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rMulti, err := Process(0, multi, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rMulti.Diagnostics.Coverage < rSingle.Diagnostics.Coverage-1e-9 {
		t.Fatalf("coverage should not regress with more frames: single=%v multi=%v",
			rSingle.Diagnostics.Coverage, rMulti.Diagnostics.Coverage)
	}
	if rMulti.Diagnostics.FramesAccumulated != 3 {
		t.Fatalf("expected 3 frames accumulated, got %d", rMulti.Diagnostics.FramesAccumulated)
	}
}

func TestAccumulatorFillGapsFillsIsolatedHole(t *testing.T) {
	acc := NewAccumulator(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			if x == 2 && y == 2 {
				continue
			}
			acc.add(x, y, imagebuf.RGB{R: 0.5, G: 0.5, B: 0.5}, 1)
		}
	}
	if acc.At(2, 2).Empty() == false {
		t.Fatalf("expected hole to start empty")
	}
	filled := acc.FillGaps(3)
	if filled == 0 {
		t.Fatalf("expected at least one cell filled")
	}
	if acc.At(2, 2).Empty() {
		t.Fatalf("expected hole to be filled")
	}
	v := acc.At(2, 2).Normalize()
	if math.Abs(v.R-0.5) > 0.05 {
		t.Fatalf("filled value drifted: %+v", v)
	}
}

func TestLanczosWeightZeroAtInteger(t *testing.T) {
	if w := LanczosWeight(0, 2); w != 1 {
		t.Fatalf("expected weight 1 at distance 0, got %v", w)
	}
	if w := LanczosWeight(2, 2); w != 0 {
		t.Fatalf("expected weight 0 at the support radius, got %v", w)
	}
	if w := LanczosWeight(3, 2); w != 0 {
		t.Fatalf("expected weight 0 beyond the support radius, got %v", w)
	}
}

func TestAddLanczosConservesEnergyApproximately(t *testing.T) {
	acc := NewAccumulator(8, 8)
	acc.AddLanczos(4.0, 4.0, imagebuf.RGB{R: 1, G: 1, B: 1}, 1.0)
	var total float64
	for _, c := range acc.Cells {
		total += c.SumWeight
	}
	if total <= 0 {
		t.Fatalf("expected positive accumulated weight, got %v", total)
	}
}
