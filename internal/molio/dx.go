package molio

import (
	"bufio"
	"fmt"
	"io"

	"github.com/banshee-data/atomfit/internal/grid"
)

// WriteDX writes g as an OpenDX scalar field. Values are emitted in
// (x, y, z) row-major order, three per line.
func WriteDX(w io.Writer, g *grid.Grid) error {
	if err := g.Validate(); err != nil {
		return err
	}
	nx, ny, nz := g.Shape[0], g.Shape[1], g.Shape[2]
	o := g.Origin()
	res := g.Resolution

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "object 1 class gridpositions counts %d %d %d\n", nx, ny, nz)
	fmt.Fprintf(bw, "origin %.5f %.5f %.5f\n", o.X, o.Y, o.Z)
	fmt.Fprintf(bw, "delta %.5f 0 0\n", res)
	fmt.Fprintf(bw, "delta 0 %.5f 0\n", res)
	fmt.Fprintf(bw, "delta 0 0 %.5f\n", res)
	fmt.Fprintf(bw, "object 2 class gridconnections counts %d %d %d\n", nx, ny, nz)
	fmt.Fprintf(bw, "object 3 class array type double rank 0 items [ %d ] data follows\n", g.Len())
	for i, v := range g.Values {
		sep := byte(' ')
		if (i+1)%3 == 0 || i == len(g.Values)-1 {
			sep = '\n'
		}
		fmt.Fprintf(bw, "%.10f%c", v, sep)
	}
	return bw.Flush()
}
