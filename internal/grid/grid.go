package grid

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// Grid is a 3-D voxel tensor of density for one channel. Grids of one
// molecule share Shape, Center and Resolution.
type Grid struct {
	Shape      [3]int
	Values     []float64
	Center     r3.Vec
	Resolution float64
}

// New returns a zero grid.
func New(shape [3]int, center r3.Vec, resolution float64) *Grid {
	return &Grid{
		Shape:      shape,
		Values:     make([]float64, shape[0]*shape[1]*shape[2]),
		Center:     center,
		Resolution: resolution,
	}
}

// Validate checks the shape, resolution and value count.
func (g *Grid) Validate() error {
	for a, n := range g.Shape {
		if n <= 0 {
			return fmt.Errorf("grid axis %d has non-positive size %d", a, n)
		}
	}
	if g.Resolution <= 0 || math.IsNaN(g.Resolution) {
		return fmt.Errorf("grid resolution must be positive, got %g", g.Resolution)
	}
	if len(g.Values) != g.Len() {
		return fmt.Errorf("grid has %d values, shape %v needs %d", len(g.Values), g.Shape, g.Len())
	}
	return nil
}

// Len returns the number of voxels.
func (g *Grid) Len() int {
	return g.Shape[0] * g.Shape[1] * g.Shape[2]
}

// Index returns the flat index of voxel (i, j, k).
func (g *Grid) Index(i, j, k int) int {
	return (i*g.Shape[1]+j)*g.Shape[2] + k
}

// Origin returns the world position of voxel (0, 0, 0). It keeps the grid
// centered on Center.
func (g *Grid) Origin() r3.Vec {
	return origin(g.Shape, g.Center, g.Resolution)
}

func origin(shape [3]int, center r3.Vec, res float64) r3.Vec {
	return r3.Vec{
		X: center.X - res*float64(shape[0]-1)/2,
		Y: center.Y - res*float64(shape[1]-1)/2,
		Z: center.Z - res*float64(shape[2]-1)/2,
	}
}

// Point returns the world position of flat index idx.
func (g *Grid) Point(idx int) r3.Vec {
	nz := g.Shape[2]
	ny := g.Shape[1]
	k := idx % nz
	j := (idx / nz) % ny
	i := idx / (ny * nz)
	o := g.Origin()
	return r3.Vec{
		X: o.X + g.Resolution*float64(i),
		Y: o.Y + g.Resolution*float64(j),
		Z: o.Z + g.Resolution*float64(k),
	}
}

// Cloud returns the point-cloud view of the grid layout.
func (g *Grid) Cloud() *Cloud {
	return NewCloud(g.Shape, g.Center, g.Resolution)
}

// Fold returns a grid with the same layout holding values.
func (g *Grid) Fold(values []float64) (*Grid, error) {
	if len(values) != g.Len() {
		return nil, fmt.Errorf("cannot fold %d values into shape %v", len(values), g.Shape)
	}
	return &Grid{Shape: g.Shape, Values: values, Center: g.Center, Resolution: g.Resolution}, nil
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Values = append([]float64(nil), g.Values...)
	return &out
}

// Max returns the largest voxel value, or zero for an empty grid.
func (g *Grid) Max() float64 {
	if len(g.Values) == 0 {
		return 0
	}
	return floats.Max(g.Values)
}

// Sum returns the total density.
func (g *Grid) Sum() float64 {
	return floats.Sum(g.Values)
}

// SumSquares returns the squared L2 norm of the values.
func (g *Grid) SumSquares() float64 {
	return floats.Dot(g.Values, g.Values)
}

// Scale multiplies every voxel by f in place.
func (g *Grid) Scale(f float64) {
	floats.Scale(f, g.Values)
}

// SameLayout reports whether o shares shape, center and resolution with g.
func (g *Grid) SameLayout(o *Grid) bool {
	return g.Shape == o.Shape && g.Center == o.Center && g.Resolution == o.Resolution
}

// Sum adds grids voxel by voxel. All grids must share one layout.
func Sum(grids []*Grid) (*Grid, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("no grids to sum")
	}
	out := New(grids[0].Shape, grids[0].Center, grids[0].Resolution)
	for i, g := range grids {
		if !out.SameLayout(g) {
			return nil, fmt.Errorf("grid %d layout differs from grid 0", i)
		}
		floats.Add(out.Values, g.Values)
	}
	return out, nil
}
