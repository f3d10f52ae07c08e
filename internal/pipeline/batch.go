package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/banshee-data/atomfit/internal/monitoring"
	"golang.org/x/sync/errgroup"
)

// RunBatch drains gen and fits every molecule with up to workers molecules
// in flight. Results are returned in generator order. The first failure
// cancels the remaining fits.
func (r *Runner) RunBatch(ctx context.Context, gen Generator, workers int) ([]*MoleculeResult, error) {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	// Each molecule owns one slot so workers never touch the shared slice.
	type slot struct{ res *MoleculeResult }
	var slots []*slot
	for {
		mol, err := gen.Next(gctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, err
		}
		s := &slot{}
		slots = append(slots, s)
		g.Go(func() error {
			res, err := r.Run(gctx, mol)
			if err != nil {
				return err
			}
			s.res = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*MoleculeResult, len(slots))
	for i, s := range slots {
		results[i] = s.res
	}
	if r.Options.Verbose > 0 {
		monitoring.Logf("[pipeline] fitted %d molecules", len(results))
	}
	return results, nil
}
