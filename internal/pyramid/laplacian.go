package pyramid

import "github.com/pspoerri/burstfusion/internal/imagebuf"

// Laplacian is a band-pass decomposition built on top of a Gaussian
// pyramid: each level stores the residual detail lost by downsampling,
// and the coarsest level stores the low-frequency remainder. It is not
// part of the alignment/MFSR critical path; it exists for callers that
// want per-band diagnostics on top of the same pyramid machinery.
type Laplacian struct {
	details  []*imagebuf.Gray
	residual *imagebuf.Gray
}

// BuildLaplacian constructs a Laplacian pyramid from image with up to
// maxLevels Gaussian levels feeding it.
func BuildLaplacian(image *imagebuf.Gray, maxLevels int) *Laplacian {
	gauss := BuildGaussian(image, maxLevels)
	n := gauss.NumLevels()

	l := &Laplacian{details: make([]*imagebuf.Gray, 0, n-1)}
	for i := 0; i < n-1; i++ {
		current := gauss.Level(i)
		next := gauss.Level(i + 1)
		up := upsample2x(next, current.Width, current.Height)

		detail := imagebuf.NewGray(current.Width, current.Height)
		for y := 0; y < current.Height; y++ {
			curRow := current.Row(y)
			upRow := up.Row(y)
			detRow := detail.Row(y)
			for x := range curRow {
				detRow[x] = curRow[x] - upRow[x]
			}
		}
		l.details = append(l.details, detail)
	}
	l.residual = gauss.Level(n - 1)
	return l
}

// NumDetailLevels returns the number of stored detail bands.
func (l *Laplacian) NumDetailLevels() int { return len(l.details) }

// Detail returns the detail band at level i.
func (l *Laplacian) Detail(i int) *imagebuf.Gray { return l.details[i] }

// Residual returns the lowest-frequency remainder.
func (l *Laplacian) Residual() *imagebuf.Gray { return l.residual }

// Reconstruct sums the residual and every detail band back into the
// original-resolution image.
func (l *Laplacian) Reconstruct() *imagebuf.Gray {
	if len(l.details) == 0 {
		return l.residual.Clone()
	}

	current := l.residual
	for i := len(l.details) - 1; i >= 0; i-- {
		detail := l.details[i]
		up := upsample2x(current, detail.Width, detail.Height)

		next := imagebuf.NewGray(detail.Width, detail.Height)
		for y := 0; y < detail.Height; y++ {
			upRow := up.Row(y)
			detRow := detail.Row(y)
			nextRow := next.Row(y)
			for x := range detRow {
				nextRow[x] = upRow[x] + detRow[x]
			}
		}
		current = next
	}
	return current
}

// upsample2x bilinearly upsamples src to the given target dimensions.
func upsample2x(src *imagebuf.Gray, targetW, targetH int) *imagebuf.Gray {
	dst := imagebuf.NewGray(targetW, targetH)
	for y := 0; y < targetH; y++ {
		srcY := float64(y) / 2.0
		dstRow := dst.Row(y)
		for x := 0; x < targetW; x++ {
			srcX := float64(x) / 2.0
			dstRow[x] = imagebuf.BilinearGray(src, srcX, srcY)
		}
	}
	return dst
}
