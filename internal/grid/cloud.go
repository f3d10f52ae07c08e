package grid

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Cloud is the read-only point view of a grid: one world-space point per
// voxel, in flat voxel order. Clouds taken straight from a grid keep the
// lattice layout so neighbourhood queries can skip distant voxels.
type Cloud struct {
	Points []r3.Vec

	lattice *lattice
}

type lattice struct {
	shape  [3]int
	origin r3.Vec
	res    float64
}

// NewCloud returns the voxel-center coordinates origin + resolution·index
// for a grid of the given layout.
func NewCloud(shape [3]int, center r3.Vec, resolution float64) *Cloud {
	o := origin(shape, center, resolution)
	pts := make([]r3.Vec, 0, shape[0]*shape[1]*shape[2])
	for i := 0; i < shape[0]; i++ {
		for j := 0; j < shape[1]; j++ {
			for k := 0; k < shape[2]; k++ {
				pts = append(pts, r3.Vec{
					X: o.X + resolution*float64(i),
					Y: o.Y + resolution*float64(j),
					Z: o.Z + resolution*float64(k),
				})
			}
		}
	}
	return &Cloud{
		Points:  pts,
		lattice: &lattice{shape: shape, origin: o, res: resolution},
	}
}

// Len returns the number of points.
func (c *Cloud) Len() int {
	return len(c.Points)
}

// Within calls fn for every point index that may lie within cutoff of pos.
// On a lattice cloud only the enclosing voxel box is visited; filtered
// clouds are scanned linearly. Callers still see points in the box corners
// outside the sphere.
func (c *Cloud) Within(pos r3.Vec, cutoff float64, fn func(i int)) {
	if c.lattice == nil {
		c2 := cutoff * cutoff
		for i, p := range c.Points {
			if r3.Norm2(r3.Sub(p, pos)) < c2 {
				fn(i)
			}
		}
		return
	}

	l := c.lattice
	var lo, hi [3]int
	coord := [3]float64{pos.X - l.origin.X, pos.Y - l.origin.Y, pos.Z - l.origin.Z}
	for a := 0; a < 3; a++ {
		lo[a] = int(math.Ceil((coord[a] - cutoff) / l.res))
		hi[a] = int(math.Floor((coord[a] + cutoff) / l.res))
		if lo[a] < 0 {
			lo[a] = 0
		}
		if hi[a] > l.shape[a]-1 {
			hi[a] = l.shape[a] - 1
		}
		if lo[a] > hi[a] {
			return
		}
	}
	for i := lo[0]; i <= hi[0]; i++ {
		for j := lo[1]; j <= hi[1]; j++ {
			base := (i*l.shape[1] + j) * l.shape[2]
			for k := lo[2]; k <= hi[2]; k++ {
				fn(base + k)
			}
		}
	}
}

// Filter returns the cloud of points whose keep flag is set, and the
// original index of each kept point.
func (c *Cloud) Filter(keep []bool) (*Cloud, []int) {
	out := &Cloud{}
	var idx []int
	for i, p := range c.Points {
		if keep[i] {
			out.Points = append(out.Points, p)
			idx = append(idx, i)
		}
	}
	return out, idx
}
