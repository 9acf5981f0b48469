package fconfig

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateRejectsBadTileSize(t *testing.T) {
	cfg := Default()
	cfg.Alignment.TileSize = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for odd/small tile size")
	}
}

func TestValidateRejectsBadScaleFactor(t *testing.T) {
	cfg := Default()
	cfg.MFSR.ScaleFactor = 5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for scale factor 5")
	}
}

func TestValidateRejectsEvenWienerWindow(t *testing.T) {
	cfg := Default()
	cfg.Merge.WienerWindow = 4
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for even wiener window")
	}
}

func TestStringersCoverKnownValues(t *testing.T) {
	if TileBased.String() != "TileBased" || DenseFlow.String() != "DenseFlow" || Hybrid.String() != "Hybrid" {
		t.Fatalf("alignment mode stringer mismatch")
	}
	if Mean.String() != "Mean" || Trimmed.String() != "Trimmed" || Huber.String() != "Huber" || Median.String() != "Median" {
		t.Fatalf("merge method stringer mismatch")
	}
	if RobustnessNone.String() != "None" || RobustnessHuber.String() != "Huber" || RobustnessTukey.String() != "Tukey" {
		t.Fatalf("robustness stringer mismatch")
	}
}
