package molio

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WritePymol writes a pymol script named scriptPath that loads every DX
// grid as a map object, groups the maps, then loads each structure file.
func WritePymol(w io.Writer, scriptPath string, dxFiles []string, structures ...string) error {
	bw := bufio.NewWriter(w)
	maps := make([]string, 0, len(dxFiles))
	for _, dx := range dxFiles {
		obj := strings.TrimSuffix(dx, ".dx") + "_grid"
		fmt.Fprintf(bw, "load %s, %s\n", dx, obj)
		maps = append(maps, obj)
	}
	if len(maps) > 0 {
		group := strings.TrimSuffix(scriptPath, ".pymol") + "_grids"
		fmt.Fprintf(bw, "group %s, %s\n", group, strings.Join(maps, " "))
	}
	for _, s := range structures {
		if s != "" {
			fmt.Fprintf(bw, "load %s\n", s)
		}
	}
	return bw.Flush()
}
