package imagebuf

import (
	"image"
	"image/color"
)

// FromStdImage converts a standard library image.Image into an
// RGBImage with channels normalized to [0,1].
func FromStdImage(src image.Image) *RGBImage {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := NewRGB(w, h)
	for y := 0; y < h; y++ {
		row := out.Row(y)
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row[x] = RGB{R: float64(r) / 65535, G: float64(g) / 65535, B: float64(b) / 65535}
		}
	}
	return out
}

// ToStdImage converts an RGBImage back into a standard library
// *image.RGBA, clamping every channel to [0,1] before quantizing to
// 8 bits.
func ToStdImage(src *RGBImage) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		row := src.Row(y)
		for x := 0; x < src.Width; x++ {
			p := row[x].Clamp01()
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(p.R*255 + 0.5),
				G: uint8(p.G*255 + 0.5),
				B: uint8(p.B*255 + 0.5),
				A: 255,
			})
		}
	}
	return out
}
