package pipeline

import (
	"fmt"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/grid"
)

// CombineChannels merges channels of the same element by summing their
// grids. The merged channel is named after the element and keeps the
// radius and valence of the first channel seen. counts, when non-nil, are
// summed the same way.
func CombineChannels(channels []atoms.Channel, grids []*grid.Grid, counts []int) ([]atoms.Channel, []*grid.Grid, []int, error) {
	if len(channels) != len(grids) {
		return nil, nil, nil, fmt.Errorf("%d channels for %d grids", len(channels), len(grids))
	}
	index := make(map[string]int)
	var (
		outCh     []atoms.Channel
		outGrids  []*grid.Grid
		outCounts []int
	)
	for c, ch := range channels {
		k, ok := index[ch.Symbol]
		if !ok {
			k = len(outCh)
			index[ch.Symbol] = k
			merged := ch
			merged.Name = ch.Symbol
			outCh = append(outCh, merged)
			outGrids = append(outGrids, grid.New(grids[c].Shape, grids[c].Center, grids[c].Resolution))
			if counts != nil {
				outCounts = append(outCounts, 0)
			}
		}
		sum, err := grid.Sum([]*grid.Grid{outGrids[k], grids[c]})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("combining channel %s: %w", ch.Name, err)
		}
		outGrids[k] = sum
		if counts != nil {
			outCounts[k] += counts[c]
		}
	}
	return outCh, outGrids, outCounts, nil
}

// ScaleGrids returns copies of grids multiplied by f.
func ScaleGrids(grids []*grid.Grid, f float64) []*grid.Grid {
	out := make([]*grid.Grid, len(grids))
	for c, g := range grids {
		out[c] = g.Clone()
		if f != 1 {
			out[c].Scale(f)
		}
	}
	return out
}

// DeconvGrids sharpens every channel grid with a Wiener filter built from
// that channel's rendering radius.
func DeconvGrids(grids []*grid.Grid, radii []float64, radiusMultiple, noiseRatio float64) ([]*grid.Grid, error) {
	return grid.DeconvolveChannels(grids, radii, radiusMultiple, noiseRatio)
}

// preprocess applies combination, deconvolution and scaling in that order.
func (o Options) preprocess(mol *Molecule) ([]atoms.Channel, []*grid.Grid, []int, error) {
	channels, grids, counts := mol.Channels, mol.Grids, mol.Counts
	if o.CombineChannels {
		var err error
		channels, grids, counts, err = CombineChannels(channels, grids, counts)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if o.DeconvGrids {
		var err error
		grids, err = DeconvGrids(grids, atoms.Radii(channels, o.RadiusFactor), o.RadiusMultiple, o.NoiseRatio)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return channels, ScaleGrids(grids, o.ScaleGrids), counts, nil
}
