// Package pyramid builds Gaussian and Laplacian multi-resolution pyramids
// used by the tile aligner and dense optical flow stages.
package pyramid

import "github.com/pspoerri/burstfusion/internal/imagebuf"

// gaussKernel is the separable 5-tap [1,4,6,4,1]/16 blur kernel.
var gaussKernel = [5]float64{1.0 / 16, 4.0 / 16, 6.0 / 16, 4.0 / 16, 1.0 / 16}

// Gaussian is an ordered sequence of luminance images L0..Lk-1, where L0
// is the input and each subsequent level is a half-resolution, Gaussian-
// prefiltered downsampling of the previous one. Construction stops when a
// level would be smaller than 4x4 in either dimension.
type Gaussian struct {
	levels []*imagebuf.Gray
}

// MaxLevels bounds pyramid depth; the reference builds at most this many
// levels, matching common.h's MAX_PYRAMID_LEVELS.
const MaxLevels = 6

// BuildGaussian constructs a Gaussian pyramid from image with up to
// maxLevels levels (clamped to [1, MaxLevels]). Level 0 is the input
// image itself (shared, not copied). Deterministic: identical input
// produces bit-identical output.
func BuildGaussian(image *imagebuf.Gray, maxLevels int) *Gaussian {
	if maxLevels < 1 {
		maxLevels = 1
	}
	if maxLevels > MaxLevels {
		maxLevels = MaxLevels
	}

	p := &Gaussian{levels: make([]*imagebuf.Gray, 0, maxLevels)}
	p.levels = append(p.levels, image)

	for i := 1; i < maxLevels; i++ {
		down := downsample2x(p.levels[i-1])
		if down.Empty() || down.Width < 4 || down.Height < 4 {
			break
		}
		p.levels = append(p.levels, down)
	}
	return p
}

// NumLevels returns the number of levels actually built.
func (p *Gaussian) NumLevels() int { return len(p.levels) }

// Level returns pyramid level i, clamped to the valid range.
func (p *Gaussian) Level(i int) *imagebuf.Gray {
	return p.levels[imagebuf.Clamp(i, 0, len(p.levels)-1)]
}

// downsample2x blurs src separably with the 5-tap Gaussian kernel (clamp-
// to-border) and subsamples by 2.
func downsample2x(src *imagebuf.Gray) *imagebuf.Gray {
	dstW := src.Width / 2
	dstH := src.Height / 2
	if dstW < 1 || dstH < 1 {
		return imagebuf.NewGray(0, 0)
	}

	blurredH := blurHorizontal(src)
	blurred := blurVertical(blurredH)

	dst := imagebuf.NewGray(dstW, dstH)
	for y := 0; y < dstH; y++ {
		srcRow := blurred.Row(y * 2)
		dstRow := dst.Row(y)
		for x := 0; x < dstW; x++ {
			dstRow[x] = srcRow[x*2]
		}
	}
	return dst
}

func blurHorizontal(src *imagebuf.Gray) *imagebuf.Gray {
	dst := imagebuf.NewGray(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		srcRow := src.Row(y)
		dstRow := dst.Row(y)
		for x := 0; x < src.Width; x++ {
			var sum float64
			for k := -2; k <= 2; k++ {
				sx := imagebuf.Clamp(x+k, 0, src.Width-1)
				sum += srcRow[sx] * gaussKernel[k+2]
			}
			dstRow[x] = sum
		}
	}
	return dst
}

func blurVertical(src *imagebuf.Gray) *imagebuf.Gray {
	dst := imagebuf.NewGray(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		dstRow := dst.Row(y)
		for x := 0; x < src.Width; x++ {
			var sum float64
			for k := -2; k <= 2; k++ {
				sy := imagebuf.Clamp(y+k, 0, src.Height-1)
				sum += src.At(x, sy) * gaussKernel[k+2]
			}
			dstRow[x] = sum
		}
	}
	return dst
}

// RGBPyramid is the three-channel analogue of Gaussian, used when a
// caller wants multi-resolution RGB rather than luminance only.
type RGBPyramid struct {
	levels []*imagebuf.RGBImage
}

// BuildRGBPyramid is the RGB counterpart of BuildGaussian.
func BuildRGBPyramid(image *imagebuf.RGBImage, maxLevels int) *RGBPyramid {
	if maxLevels < 1 {
		maxLevels = 1
	}
	if maxLevels > MaxLevels {
		maxLevels = MaxLevels
	}

	p := &RGBPyramid{levels: make([]*imagebuf.RGBImage, 0, maxLevels)}
	p.levels = append(p.levels, image)

	for i := 1; i < maxLevels; i++ {
		down := downsample2xRGB(p.levels[i-1])
		if down.Empty() || down.Width < 4 || down.Height < 4 {
			break
		}
		p.levels = append(p.levels, down)
	}
	return p
}

// NumLevels returns the number of levels actually built.
func (p *RGBPyramid) NumLevels() int { return len(p.levels) }

// Level returns pyramid level i, clamped to the valid range.
func (p *RGBPyramid) Level(i int) *imagebuf.RGBImage {
	return p.levels[imagebuf.Clamp(i, 0, len(p.levels)-1)]
}

func downsample2xRGB(src *imagebuf.RGBImage) *imagebuf.RGBImage {
	dstW := src.Width / 2
	dstH := src.Height / 2
	if dstW < 1 || dstH < 1 {
		return imagebuf.NewRGB(0, 0)
	}

	blurredH := blurHorizontalRGB(src)
	blurred := blurVerticalRGB(blurredH)

	dst := imagebuf.NewRGB(dstW, dstH)
	for y := 0; y < dstH; y++ {
		srcRow := blurred.Row(y * 2)
		dstRow := dst.Row(y)
		for x := 0; x < dstW; x++ {
			dstRow[x] = srcRow[x*2]
		}
	}
	return dst
}

func blurHorizontalRGB(src *imagebuf.RGBImage) *imagebuf.RGBImage {
	dst := imagebuf.NewRGB(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		srcRow := src.Row(y)
		dstRow := dst.Row(y)
		for x := 0; x < src.Width; x++ {
			var sum imagebuf.RGB
			for k := -2; k <= 2; k++ {
				sx := imagebuf.Clamp(x+k, 0, src.Width-1)
				w := gaussKernel[k+2]
				sum = sum.Add(srcRow[sx].Scale(w))
			}
			dstRow[x] = sum
		}
	}
	return dst
}

func blurVerticalRGB(src *imagebuf.RGBImage) *imagebuf.RGBImage {
	dst := imagebuf.NewRGB(src.Width, src.Height)
	for y := 0; y < src.Height; y++ {
		dstRow := dst.Row(y)
		for x := 0; x < src.Width; x++ {
			var sum imagebuf.RGB
			for k := -2; k <= 2; k++ {
				sy := imagebuf.Clamp(y+k, 0, src.Height-1)
				w := gaussKernel[k+2]
				sum = sum.Add(src.At(x, sy).Scale(w))
			}
			dstRow[x] = sum
		}
	}
	return dst
}
