package pyramid

import (
	"math"
	"testing"

	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

func solid(w, h int, v float64) *imagebuf.Gray {
	im := imagebuf.NewGray(w, h)
	im.Fill(v)
	return im
}

// T1: levels[i+1] has exactly floor(levels[i].w/2) x floor(levels[i].h/2).
// The constant-image half of T1 is checked by
// TestGaussianConstantImageStaysConstant.
func TestGaussianLevelDimensions(t *testing.T) {
	img := solid(64, 48, 0.3)
	p := BuildGaussian(img, 4)
	if p.NumLevels() < 2 {
		t.Fatalf("expected multiple levels, got %d", p.NumLevels())
	}
	for i := 0; i < p.NumLevels()-1; i++ {
		cur := p.Level(i)
		next := p.Level(i + 1)
		wantW := cur.Width / 2
		wantH := cur.Height / 2
		if next.Width != wantW || next.Height != wantH {
			t.Fatalf("level %d: got %dx%d, want %dx%d", i+1, next.Width, next.Height, wantW, wantH)
		}
	}
}

func TestGaussianConstantImageStaysConstant(t *testing.T) {
	img := solid(32, 32, 0.7)
	p := BuildGaussian(img, 3)
	for lvl := 0; lvl < p.NumLevels(); lvl++ {
		level := p.Level(lvl)
		for _, v := range level.Pix {
			if math.Abs(v-0.7) > 1e-6 {
				t.Fatalf("level %d: value %v diverged from constant 0.7", lvl, v)
			}
		}
	}
}

func TestGaussianStopsBelow4x4(t *testing.T) {
	img := solid(8, 8, 0.1)
	p := BuildGaussian(img, 6)
	last := p.Level(p.NumLevels() - 1)
	if last.Width < 4 || last.Height < 4 {
		t.Fatalf("pyramid descended below 4x4: %dx%d", last.Width, last.Height)
	}
}

func TestGaussianDeterministic(t *testing.T) {
	img := imagebuf.NewGray(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, float64(x*y)/255.0)
		}
	}
	a := BuildGaussian(img, 4)
	b := BuildGaussian(img, 4)
	for lvl := 0; lvl < a.NumLevels(); lvl++ {
		la, lb := a.Level(lvl), b.Level(lvl)
		for i := range la.Pix {
			if la.Pix[i] != lb.Pix[i] {
				t.Fatalf("non-deterministic pyramid at level %d pixel %d", lvl, i)
			}
		}
	}
}

func TestLaplacianReconstructsOriginal(t *testing.T) {
	img := imagebuf.NewGray(16, 16)
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, float64(x+y)/30.0)
		}
	}
	l := BuildLaplacian(img, 3)
	rec := l.Reconstruct()
	if rec.Width != img.Width || rec.Height != img.Height {
		t.Fatalf("reconstructed dims %dx%d != original %dx%d", rec.Width, rec.Height, img.Width, img.Height)
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			if math.Abs(rec.At(x, y)-img.At(x, y)) > 1e-6 {
				t.Fatalf("reconstruction mismatch at (%d,%d): got %v want %v", x, y, rec.At(x, y), img.At(x, y))
			}
		}
	}
}

func TestRGBPyramidConstant(t *testing.T) {
	img := imagebuf.NewRGB(32, 32)
	img.Fill(imagebuf.RGB{R: 0.2, G: 0.4, B: 0.6})
	p := BuildRGBPyramid(img, 3)
	for lvl := 0; lvl < p.NumLevels(); lvl++ {
		level := p.Level(lvl)
		for _, v := range level.Pix {
			if math.Abs(v.R-0.2) > 1e-6 || math.Abs(v.G-0.4) > 1e-6 || math.Abs(v.B-0.6) > 1e-6 {
				t.Fatalf("level %d: RGB %+v diverged from constant", lvl, v)
			}
		}
	}
}
