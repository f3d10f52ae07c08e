package molio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/fsutil"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/pipeline"
	"gonum.org/v1/gonum/spatial/r3"
)

// maxBundleSize caps the bundle file read into memory.
const maxBundleSize = 1 << 30

// BundleFile is the JSON layout of a grid bundle: one channel catalog and
// any number of molecules whose grids are index-aligned with it.
type BundleFile struct {
	Resolution float64          `json:"resolution"`
	Channels   []atoms.Channel  `json:"channels"`
	Molecules  []BundleMolecule `json:"molecules"`
}

// BundleMolecule is one molecule of a bundle. Grids holds one flattened
// row-major (x, y, z) tensor per channel.
type BundleMolecule struct {
	Name   string      `json:"name"`
	Center [3]float64  `json:"center"`
	Shape  [3]int      `json:"shape"`
	Grids  [][]float64 `json:"grids"`
	Counts []int       `json:"counts,omitempty"`
}

// Bundle yields the molecules of a bundle file in order.
type Bundle struct {
	file *BundleFile
	next int
}

// OpenBundle reads and checks the bundle at path.
func OpenBundle(fs fsutil.FileSystem, path string) (*Bundle, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("bundle file must have .json extension, got %q", ext)
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", path, err)
	}
	if len(data) > maxBundleSize {
		return nil, fmt.Errorf("bundle %s too large: %d bytes", path, len(data))
	}
	var file BundleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse bundle %s: %w", path, err)
	}
	return NewBundle(&file)
}

// NewBundle wraps a decoded bundle after checking its header.
func NewBundle(file *BundleFile) (*Bundle, error) {
	if file.Resolution <= 0 {
		return nil, fmt.Errorf("%w: bundle resolution must be positive, got %g", fit.ErrInvalidArgument, file.Resolution)
	}
	if len(file.Channels) == 0 {
		return nil, fmt.Errorf("%w: bundle has no channels", fit.ErrInvalidArgument)
	}
	for _, ch := range file.Channels {
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", fit.ErrInvalidArgument, err)
		}
	}
	return &Bundle{file: file}, nil
}

// Channels returns the channel catalog.
func (b *Bundle) Channels() []atoms.Channel {
	return b.file.Channels
}

// Len returns the number of molecules in the bundle.
func (b *Bundle) Len() int {
	return len(b.file.Molecules)
}

// Next returns the next molecule, or io.EOF once every molecule was read.
func (b *Bundle) Next(ctx context.Context) (*pipeline.Molecule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.next >= len(b.file.Molecules) {
		return nil, io.EOF
	}
	m := b.file.Molecules[b.next]
	b.next++

	name := m.Name
	if name == "" {
		name = fmt.Sprintf("mol%d", b.next-1)
	}
	if len(m.Grids) != len(b.file.Channels) {
		return nil, fmt.Errorf("%w: molecule %s has %d grids for %d channels",
			fit.ErrInvalidArgument, name, len(m.Grids), len(b.file.Channels))
	}
	center := r3.Vec{X: m.Center[0], Y: m.Center[1], Z: m.Center[2]}
	grids := make([]*grid.Grid, len(m.Grids))
	for c, values := range m.Grids {
		g := &grid.Grid{Shape: m.Shape, Values: values, Center: center, Resolution: b.file.Resolution}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("%w: molecule %s channel %s: %v",
				fit.ErrInvalidArgument, name, b.file.Channels[c].Name, err)
		}
		grids[c] = g
	}
	return &pipeline.Molecule{
		Name:     name,
		Channels: b.file.Channels,
		Grids:    grids,
		Counts:   m.Counts,
	}, nil
}

var _ pipeline.Generator = (*Bundle)(nil)
