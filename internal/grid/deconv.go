package grid

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/banshee-data/atomfit/internal/density"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Deconvolve applies a Wiener filter that approximately inverts the
// rendering of atoms with the given radius, sharpening g toward a map of
// atom centers.
//
// The point-spread function is the kernel of one atom rendered at voxel
// Shape/2, circularly shifted so its peak sits at voxel (0,0,0). The filter
// is conj(H)/(|H|² + noiseRatio). With noiseRatio zero it is the exact
// inverse filter; frequencies where H vanishes are then dropped.
func Deconvolve(g *Grid, radius, radiusMultiple, noiseRatio float64) (*Grid, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if noiseRatio < 0 || math.IsNaN(noiseRatio) {
		return nil, fmt.Errorf("noise ratio must be non-negative, got %g", noiseRatio)
	}
	if radius <= 0 {
		return nil, fmt.Errorf("deconvolution radius must be positive, got %g", radius)
	}

	psf := pointSpread(g, radius, radiusMultiple)
	data := make([]complex128, g.Len())
	for i, v := range g.Values {
		data[i] = complex(v, 0)
	}

	t := newTransform3(g.Shape)
	t.forward(psf)
	t.forward(data)

	for f, h := range psf {
		den := real(h*cmplx.Conj(h)) + noiseRatio
		if den == 0 {
			data[f] = 0
			continue
		}
		data[f] *= cmplx.Conj(h) / complex(den, 0)
	}

	t.inverse(data)
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = real(v)
	}
	return g.Fold(out)
}

// DeconvolveChannels deconvolves each grid with its own radius.
func DeconvolveChannels(grids []*Grid, radii []float64, radiusMultiple, noiseRatio float64) ([]*Grid, error) {
	if len(grids) != len(radii) {
		return nil, fmt.Errorf("%d grids but %d radii", len(grids), len(radii))
	}
	out := make([]*Grid, len(grids))
	for i, g := range grids {
		d, err := Deconvolve(g, radii[i], radiusMultiple, noiseRatio)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// pointSpread renders one atom at voxel Shape/2 and rolls it to the origin.
func pointSpread(g *Grid, radius, radiusMultiple float64) []complex128 {
	c := [3]int{g.Shape[0] / 2, g.Shape[1] / 2, g.Shape[2] / 2}
	atom := g.Point(g.Index(c[0], c[1], c[2]))
	cloud := g.Cloud()

	psf := make([]complex128, g.Len())
	cloud.Within(atom, density.Cutoff(radius, radiusMultiple), func(idx int) {
		v := density.Density(atom, radius, cloud.Points[idx], radiusMultiple)
		if v == 0 {
			return
		}
		k := idx % g.Shape[2]
		j := (idx / g.Shape[2]) % g.Shape[1]
		i := idx / (g.Shape[1] * g.Shape[2])
		si := mod(i-c[0], g.Shape[0])
		sj := mod(j-c[1], g.Shape[1])
		sk := mod(k-c[2], g.Shape[2])
		psf[g.Index(si, sj, sk)] = complex(v, 0)
	})
	return psf
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}

// transform3 is a separable 3-D DFT over row-major data built from 1-D
// complex FFTs along each axis.
type transform3 struct {
	shape   [3]int
	strides [3]int
	ffts    [3]*fourier.CmplxFFT
}

func newTransform3(shape [3]int) *transform3 {
	t := &transform3{
		shape:   shape,
		strides: [3]int{shape[1] * shape[2], shape[2], 1},
	}
	for a, n := range shape {
		t.ffts[a] = fourier.NewCmplxFFT(n)
	}
	return t
}

func (t *transform3) forward(data []complex128) {
	t.apply(data, false)
}

// inverse is normalised so forward followed by inverse is the identity.
func (t *transform3) inverse(data []complex128) {
	t.apply(data, true)
	scale := complex(1/float64(len(data)), 0)
	for i := range data {
		data[i] *= scale
	}
}

func (t *transform3) apply(data []complex128, inverse bool) {
	for a := 0; a < 3; a++ {
		n := t.shape[a]
		if n == 1 {
			continue
		}
		b, c := (a+1)%3, (a+2)%3
		line := make([]complex128, n)
		out := make([]complex128, n)
		for ib := 0; ib < t.shape[b]; ib++ {
			for ic := 0; ic < t.shape[c]; ic++ {
				base := ib*t.strides[b] + ic*t.strides[c]
				for s := 0; s < n; s++ {
					line[s] = data[base+s*t.strides[a]]
				}
				if inverse {
					out = t.ffts[a].Sequence(out, line)
				} else {
					out = t.ffts[a].Coefficients(out, line)
				}
				for s := 0; s < n; s++ {
					data[base+s*t.strides[a]] = out[s]
				}
			}
		}
	}
}
