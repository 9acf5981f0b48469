// Package mfsr implements the multi-frame super-resolution accumulator:
// sub-pixel refinement of coarse tile motion, scatter/splat of every
// input pixel onto a higher-resolution grid, normalization, and gap
// filling.
package mfsr

import (
	"math"

	"github.com/pspoerri/burstfusion/internal/imagebuf"
)

// Cell is one output-grid accumulator cell. Invariants: SumWeight >= 0;
// a cell is "empty" iff SampleCount == 0.
type Cell struct {
	SumR, SumG, SumB float64
	SumWeight        float64
	SampleCount      int
}

// Empty reports whether the cell has received no samples.
func (c Cell) Empty() bool { return c.SampleCount == 0 }

// Normalize returns sum/weight clamped per channel to [0,1]; an empty
// cell normalizes to black.
func (c Cell) Normalize() imagebuf.RGB {
	if c.SumWeight <= 0 {
		return imagebuf.RGB{}
	}
	inv := 1.0 / c.SumWeight
	return imagebuf.RGB{R: c.SumR * inv, G: c.SumG * inv, B: c.SumB * inv}.Clamp01()
}

// Accumulator is an S*width x S*height grid of Cell.
type Accumulator struct {
	Width, Height int
	Cells         []Cell
}

// NewAccumulator allocates a zero-valued accumulator of the given output
// dimensions.
func NewAccumulator(width, height int) *Accumulator {
	return &Accumulator{Width: width, Height: height, Cells: make([]Cell, width*height)}
}

func (a *Accumulator) index(x, y int) int { return y*a.Width + x }

// At returns the Cell at (x, y).
func (a *Accumulator) At(x, y int) Cell { return a.Cells[a.index(x, y)] }

// lanczosA is the Lanczos-2 support radius.
const lanczosA = 2.0

// LanczosWeight evaluates the Lanczos kernel of radius a at the given
// distance: sinc(d)*sinc(d/a) for |d|<a, 0 beyond, 1.0 at d=0.
func LanczosWeight(distance, a float64) float64 {
	if distance == 0 {
		return 1
	}
	if math.Abs(distance) >= a {
		return 0
	}
	piD := math.Pi * distance
	return (a * math.Sin(piD) * math.Sin(piD/a)) / (piD * piD)
}

// GaussianWeight evaluates an unnormalized Gaussian falloff with the
// given standard deviation, used by the optional weighted-accumulation
// bilinear path (matches the reference's gaussianWeight).
func GaussianWeight(distance, sigma float64) float64 {
	return math.Exp(-(distance * distance) / (2 * sigma * sigma))
}

// AddBilinear splats pixel*weight into the 2x2 neighborhood of
// fractional output coordinates (outX, outY), following the reference's
// plain-bilinear or Gaussian-weighted scatter. If useGaussian is true,
// the per-cell contribution weight is GaussianWeight(dist, 0.7)*weight;
// otherwise it is the product of the per-axis linear falloffs
// (1-distX)*(1-distY)*weight. Contributions below 0.01 are skipped, as
// in the reference.
func (a *Accumulator) AddBilinear(outX, outY float64, pixel imagebuf.RGB, weight float64, useGaussian bool) {
	if !pixel.Finite() || weight <= 0 {
		return
	}
	x0 := int(math.Floor(outX))
	y0 := int(math.Floor(outY))

	for dy := 0; dy <= 1; dy++ {
		py := y0 + dy
		if py < 0 || py >= a.Height {
			continue
		}
		distY := math.Abs(outY - float64(py))
		for dx := 0; dx <= 1; dx++ {
			px := x0 + dx
			if px < 0 || px >= a.Width {
				continue
			}
			distX := math.Abs(outX - float64(px))

			var kernelWeight float64
			if useGaussian {
				dist := math.Hypot(distX, distY)
				kernelWeight = GaussianWeight(dist, 0.7)
			} else {
				kernelWeight = (1 - distX) * (1 - distY)
			}

			w := kernelWeight * weight
			if w <= 0.01 {
				continue
			}
			a.add(px, py, pixel, w)
		}
	}
}

// AddLanczos splats pixel*weight into the 4x4 Lanczos-2 neighborhood of
// fractional output coordinates (outX, outY), as used by the tiled
// pipeline's per-pixel scatter.
func (a *Accumulator) AddLanczos(outX, outY float64, pixel imagebuf.RGB, weight float64) {
	if !pixel.Finite() || weight <= 0 {
		return
	}
	x0 := int(math.Floor(outX)) - 1
	y0 := int(math.Floor(outY)) - 1

	for ky := 0; ky < 4; ky++ {
		py := y0 + ky
		if py < 0 || py >= a.Height {
			continue
		}
		distY := math.Abs(outY - float64(py))
		wy := LanczosWeight(distY, lanczosA)
		for kx := 0; kx < 4; kx++ {
			px := x0 + kx
			if px < 0 || px >= a.Width {
				continue
			}
			distX := math.Abs(outX - float64(px))
			wx := LanczosWeight(distX, lanczosA)

			w := wx * wy * weight
			if w <= 0 {
				continue
			}
			a.add(px, py, pixel, w)
		}
	}
}

func (a *Accumulator) add(x, y int, pixel imagebuf.RGB, weight float64) {
	idx := a.index(x, y)
	c := a.Cells[idx]
	c.SumR += pixel.R * weight
	c.SumG += pixel.G * weight
	c.SumB += pixel.B * weight
	c.SumWeight += weight
	c.SampleCount++
	a.Cells[idx] = c
}

// gapFillSentinelWeight marks a filled cell with a small positive weight
// so it is not mistaken for truly empty on a later pass.
const gapFillSentinelWeight = 0.001

// FillGaps runs up to passes rounds of 8-connected inverse-distance gap
// filling: every empty cell whose 8-neighborhood contains at least one
// non-empty cell is set to the inverse-distance-weighted average of
// those neighbors and marked filled (not revisited within the same
// pass). Returns the total number of cells filled.
func (a *Accumulator) FillGaps(passes int) int {
	totalFilled := 0
	for pass := 0; pass < passes; pass++ {
		type fill struct {
			idx        int
			r, g, b    float64
		}
		var fills []fill

		for y := 0; y < a.Height; y++ {
			for x := 0; x < a.Width; x++ {
				c := a.At(x, y)
				if !c.Empty() {
					continue
				}
				var sumR, sumG, sumB, sumW float64
				var found bool
				for dy := -1; dy <= 1; dy++ {
					ny := y + dy
					if ny < 0 || ny >= a.Height {
						continue
					}
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx := x + dx
						if nx < 0 || nx >= a.Width {
							continue
						}
						nc := a.At(nx, ny)
						if nc.Empty() {
							continue
						}
						dist := math.Hypot(float64(dx), float64(dy))
						w := 1.0 / dist
						norm := nc.Normalize()
						sumR += norm.R * w
						sumG += norm.G * w
						sumB += norm.B * w
						sumW += w
						found = true
					}
				}
				if found && sumW > 0 {
					fills = append(fills, fill{idx: a.index(x, y), r: sumR / sumW, g: sumG / sumW, b: sumB / sumW})
				}
			}
		}

		if len(fills) == 0 {
			break
		}
		for _, f := range fills {
			a.Cells[f.idx] = Cell{
				SumR:        f.r * gapFillSentinelWeight,
				SumG:        f.g * gapFillSentinelWeight,
				SumB:        f.b * gapFillSentinelWeight,
				SumWeight:   gapFillSentinelWeight,
				SampleCount: 1,
			}
		}
		totalFilled += len(fills)
	}
	return totalFilled
}

// Coverage returns the fraction of non-empty cells.
func (a *Accumulator) Coverage() float64 {
	if len(a.Cells) == 0 {
		return 0
	}
	var filled int
	for _, c := range a.Cells {
		if !c.Empty() {
			filled++
		}
	}
	return float64(filled) / float64(len(a.Cells))
}

// Finalize normalizes every cell into an output RGB image.
func (a *Accumulator) Finalize() *imagebuf.RGBImage {
	out := imagebuf.NewRGB(a.Width, a.Height)
	for y := 0; y < a.Height; y++ {
		row := out.Row(y)
		for x := 0; x < a.Width; x++ {
			row[x] = a.At(x, y).Normalize()
		}
	}
	return out
}
