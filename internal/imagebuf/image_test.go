package imagebuf

import "testing"

func solidGray(w, h int, v float64) *Gray {
	im := NewGray(w, h)
	im.Fill(v)
	return im
}

func checkerRGB(w, h int) *RGBImage {
	im := NewRGB(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				im.Set(x, y, RGB{1, 1, 1})
			} else {
				im.Set(x, y, RGB{0, 0, 0})
			}
		}
	}
	return im
}

func TestImageInvariants(t *testing.T) {
	im := NewGray(4, 3)
	if im.Stride != im.Width {
		t.Fatalf("stride %d != width %d", im.Stride, im.Width)
	}
	if len(im.Pix) != im.Stride*im.Height {
		t.Fatalf("pix length %d != stride*height %d", len(im.Pix), im.Stride*im.Height)
	}
}

func TestFillAndAt(t *testing.T) {
	im := solidGray(5, 5, 0.5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			if im.At(x, y) != 0.5 {
				t.Fatalf("at(%d,%d) = %v, want 0.5", x, y, im.At(x, y))
			}
		}
	}
}

func TestClone(t *testing.T) {
	im := checkerRGB(4, 4)
	clone := im.Clone()
	clone.Set(0, 0, RGB{9, 9, 9})
	if im.At(0, 0) == clone.At(0, 0) {
		t.Fatalf("clone mutated original")
	}
}

func TestToGrayConstant(t *testing.T) {
	im := NewRGB(2, 2)
	im.Fill(RGB{1, 1, 1})
	gray := ToGray(im)
	for _, v := range gray.Pix {
		if v < 0.999 || v > 1.001 {
			t.Fatalf("expected luma ~1.0, got %v", v)
		}
	}
}

func TestBilinearGrayIdentityAtIntegers(t *testing.T) {
	im := NewGray(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			im.Set(x, y, float64(x+y))
		}
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			got := BilinearGray(im, float64(x), float64(y))
			want := im.At(x, y)
			if got != want {
				t.Fatalf("bilinear at integer (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestBilinearGrayClampsBorder(t *testing.T) {
	im := solidGray(3, 3, 2.0)
	got := BilinearGray(im, -5, -5)
	if got != 2.0 {
		t.Fatalf("expected clamped sample 2.0, got %v", got)
	}
	got = BilinearGray(im, 100, 100)
	if got != 2.0 {
		t.Fatalf("expected clamped sample 2.0, got %v", got)
	}
}

func TestRGBPoolReuse(t *testing.T) {
	var pool RGBPool
	a := pool.Get(8, 8)
	a.Set(0, 0, RGB{1, 1, 1})
	pool.Put(a)
	b := pool.Get(8, 8)
	if b.At(0, 0) != (RGB{}) {
		t.Fatalf("pooled image was not cleared on reuse")
	}
}

func TestRGBClampAndFinite(t *testing.T) {
	p := RGB{-1, 2, 0.5}
	c := p.Clamp01()
	if c.R != 0 || c.G != 1 || c.B != 0.5 {
		t.Fatalf("clamp01 = %+v", c)
	}
	bad := RGB{R: 1.0 / zero()}
	if bad.Finite() {
		t.Fatalf("expected non-finite pixel to be detected")
	}
}

func zero() float64 { return 0 }
