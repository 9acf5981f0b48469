// Package pipeline implements the tiled multi-frame super-resolution
// driver: it partitions the reference frame into overlapping tiles,
// runs alignment, dense flow, and MFSR accumulation independently per
// tile, and blends the results back into one global output using
// triangular overlap weights, falling back to a plain upscale of the
// reference frame when motion is too large or reconstruction coverage
// is too poor.
package pipeline

import "github.com/pspoerri/burstfusion/internal/imagebuf"

// TileRegion describes one tile's padded (with overlap) extent and its
// unpadded "core" extent, both in reference-frame input coordinates.
type TileRegion struct {
	TileX, TileY int

	// Padded region actually processed, clamped to image bounds.
	X0, Y0, X1, Y1 int

	// Core region this tile is responsible for in the final blend
	// (no overlap with neighboring tiles' core regions).
	CoreX0, CoreY0, CoreX1, CoreY1 int

	// How much of the requested half-overlap padding survived
	// clamping to the image border, per side. A zero pad on a side
	// means this tile touches the image edge there and needs no
	// tapering on that side.
	PadLeft, PadTop, PadRight, PadBottom int
}

func (r TileRegion) width() int  { return r.X1 - r.X0 }
func (r TileRegion) height() int { return r.Y1 - r.Y0 }

// computeTileGrid partitions a width x height image into a grid of
// tileW x tileH core tiles, each padded by up to overlap/2 pixels on
// every side (clamped at the image border).
func computeTileGrid(width, height, tileW, tileH, overlap int) []TileRegion {
	if tileW <= 0 || tileH <= 0 {
		return nil
	}
	pad := overlap / 2

	var regions []TileRegion
	tilesX := ceilDiv(width, tileW)
	tilesY := ceilDiv(height, tileH)

	for ty := 0; ty < tilesY; ty++ {
		coreY0 := ty * tileH
		coreY1 := min(coreY0+tileH, height)
		for tx := 0; tx < tilesX; tx++ {
			coreX0 := tx * tileW
			coreX1 := min(coreX0+tileW, width)

			x0 := max(0, coreX0-pad)
			y0 := max(0, coreY0-pad)
			x1 := min(width, coreX1+pad)
			y1 := min(height, coreY1+pad)

			regions = append(regions, TileRegion{
				TileX: tx, TileY: ty,
				X0: x0, Y0: y0, X1: x1, Y1: y1,
				CoreX0: coreX0, CoreY0: coreY0, CoreX1: coreX1, CoreY1: coreY1,
				PadLeft:   coreX0 - x0,
				PadTop:    coreY0 - y0,
				PadRight:  x1 - coreX1,
				PadBottom: y1 - coreY1,
			})
		}
	}
	return regions
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// cropGray extracts the sub-image [x0,x1) x [y0,y1) of src.
func cropGray(src *imagebuf.Gray, x0, y0, x1, y1 int) *imagebuf.Gray {
	w, h := x1-x0, y1-y0
	out := imagebuf.NewGray(w, h)
	for y := 0; y < h; y++ {
		srcRow := src.Row(y + y0)
		dstRow := out.Row(y)
		copy(dstRow, srcRow[x0:x1])
	}
	return out
}

// cropRGB extracts the sub-image [x0,x1) x [y0,y1) of src.
func cropRGB(src *imagebuf.RGBImage, x0, y0, x1, y1 int) *imagebuf.RGBImage {
	w, h := x1-x0, y1-y0
	out := imagebuf.NewRGB(w, h)
	for y := 0; y < h; y++ {
		srcRow := src.Row(y + y0)
		dstRow := out.Row(y)
		copy(dstRow, srcRow[x0:x1])
	}
	return out
}

// edgeRamp returns a linear taper in [0,1] for a coordinate u pixels in
// from the edge of a pad band of the given width: 0 at the outer edge,
// 1 once u >= padWidth. A zero-width band (tile touches the image
// border) always returns 1 — there is no neighbor to blend against.
func edgeRamp(u, padWidth int) float64 {
	if padWidth <= 0 {
		return 1
	}
	if u >= padWidth {
		return 1
	}
	if u <= 0 {
		return 0
	}
	return float64(u) / float64(padWidth)
}

// blendWeight returns the triangular blend weight at local position
// (lx, ly) within a padded tile of the given size, tapering to 0 across
// each side's surviving overlap pad and staying at 1 in the interior
// and along image-border sides (zero pad).
func blendWeight(lx, ly, w, h int, r TileRegion) float64 {
	wx := edgeRamp(lx, r.PadLeft) * edgeRamp(w-1-lx, r.PadRight)
	wy := edgeRamp(ly, r.PadTop) * edgeRamp(h-1-ly, r.PadBottom)
	weight := wx * wy
	if weight <= 0 {
		weight = 1e-6
	}
	return weight
}
