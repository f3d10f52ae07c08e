package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/search"
	"github.com/banshee-data/atomfit/internal/timeutil"
	"golang.org/x/sync/errgroup"
)

// Molecule is the density of one molecule: one grid per channel, all with
// the same layout.
type Molecule struct {
	Name     string
	Channels []atoms.Channel
	Grids    []*grid.Grid

	// Counts optionally prescribes the number of atoms per channel for
	// exact-count fitting.
	Counts []int
}

// Validate checks the molecule is fit for fitting.
func (m *Molecule) Validate() error {
	if len(m.Channels) == 0 {
		return fmt.Errorf("%w: molecule %q has no channels", fit.ErrInvalidArgument, m.Name)
	}
	if len(m.Grids) != len(m.Channels) {
		return fmt.Errorf("%w: molecule %q has %d grids for %d channels", fit.ErrInvalidArgument, m.Name, len(m.Grids), len(m.Channels))
	}
	if m.Counts != nil && len(m.Counts) != len(m.Channels) {
		return fmt.Errorf("%w: molecule %q has %d atom counts for %d channels", fit.ErrInvalidArgument, m.Name, len(m.Counts), len(m.Channels))
	}
	for c, ch := range m.Channels {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("%w: %v", fit.ErrInvalidArgument, err)
		}
		if err := m.Grids[c].Validate(); err != nil {
			return fmt.Errorf("%w: channel %s: %v", fit.ErrInvalidArgument, ch.Name, err)
		}
		if !m.Grids[c].SameLayout(m.Grids[0]) {
			return fmt.Errorf("%w: channel %s grid layout differs", fit.ErrInvalidArgument, ch.Name)
		}
	}
	return nil
}

// Generator yields molecules one at a time and returns io.EOF when done.
type Generator interface {
	Next(ctx context.Context) (*Molecule, error)
}

// JointChannel marks a search that covered every channel at once.
const JointChannel = -1

// SearchResult summarises one greedy search.
type SearchResult struct {
	// Channel is the searched channel, or JointChannel for a bonded search.
	Channel    int
	Atoms      int
	Loss       float64
	Trivial    bool
	Steps      []search.Step
	Trajectory []search.Snapshot
}

// MoleculeResult is the fitted structure of one molecule.
type MoleculeResult struct {
	Name string

	// Channels and Grids are the preprocessed inputs the atoms were fit to.
	Channels []atoms.Channel
	Grids    []*grid.Grid

	Set *atoms.Set

	// FitLoss is the summed goodness-of-fit reported by the searches.
	FitLoss float64
	// Loss is ½Σ(pred − target)² over every channel for the final atoms.
	Loss float64

	Searches []SearchResult
	Elapsed  time.Duration
}

// Runner fits molecules with fixed options.
type Runner struct {
	Options Options
	Clock   timeutil.Clock
}

// NewRunner returns a Runner timing fits with the real clock.
func NewRunner(opts Options) *Runner {
	return &Runner{Options: opts, Clock: timeutil.RealClock{}}
}

// Run fits one molecule.
func (r *Runner) Run(ctx context.Context, mol *Molecule) (*MoleculeResult, error) {
	o := r.Options
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := mol.Validate(); err != nil {
		return nil, err
	}
	if o.ExactCounts && mol.Counts == nil {
		return nil, fmt.Errorf("%w: molecule %q has no atom counts", fit.ErrInvalidArgument, mol.Name)
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()

	channels, grids, counts, err := o.preprocess(mol)
	if err != nil {
		return nil, fmt.Errorf("preprocessing %s: %w", mol.Name, err)
	}
	radii := atoms.Radii(channels, o.RadiusFactor)
	cloud := grids[0].Cloud()

	res := &MoleculeResult{Name: mol.Name, Channels: channels, Grids: grids}
	if o.Bonded {
		err = r.fitJoint(ctx, res, cloud, radii)
	} else {
		err = r.fitChannels(ctx, res, cloud, radii, counts)
	}
	if err != nil {
		return nil, fmt.Errorf("fitting %s: %w", mol.Name, err)
	}

	if o.FineTune && res.Set.Len() > 0 {
		if err := r.fineTune(res, cloud, radii); err != nil {
			return nil, fmt.Errorf("fine-tuning %s: %w", mol.Name, err)
		}
	}

	final := &fit.Problem{Cloud: cloud, Targets: gridValues(grids), Radii: radii, RadiusMultiple: o.RadiusMultiple}
	res.Loss = final.L2(final.Predict(res.Set.Pos, res.Set.Channel))
	res.Elapsed = clock.Since(start)

	if o.Verbose > 0 {
		var sum, sq float64
		for _, g := range grids {
			sum += g.Sum()
			sq += g.SumSquares()
		}
		monitoring.Logf("[pipeline] %-20s shape = %d×%v, density_norm = %.5f, density_sum = %.5f, n_atoms = %d, loss = %.5f, time = %v",
			mol.Name, len(grids), grids[0].Shape, math.Sqrt(sq), sum, res.Set.Len(), res.Loss, res.Elapsed)
	}
	return res, nil
}

func gridValues(grids []*grid.Grid) [][]float64 {
	out := make([][]float64, len(grids))
	for c, g := range grids {
		out[c] = g.Values
	}
	return out
}

// problem builds the fitting problem for the given targets, restricting
// mixture fits to points above the density threshold unless the density
// noise model needs the background.
func (r *Runner) problem(cloud *grid.Cloud, targets [][]float64, radii []float64) (*fit.Problem, []fit.NoiseParams) {
	o := r.Options
	p := &fit.Problem{Cloud: cloud, Targets: targets, Radii: radii, RadiusMultiple: o.RadiusMultiple}
	if !o.GMM {
		return p, nil
	}
	noiseInit := make([]fit.NoiseParams, len(targets))
	for t, v := range targets {
		noiseInit[t] = fit.NoiseParamsFromDensity(v)
	}
	if o.Noise != fit.NoiseDensity {
		p, _ = p.Threshold(o.DensityThreshold)
	}
	return p, noiseInit
}

func (r *Runner) searcher(channels []atoms.Channel, noiseInit []fit.NoiseParams) *search.Searcher {
	o := r.Options
	return &search.Searcher{
		Fitter:   o.fitter(noiseInit),
		Channels: channels,
		Options: search.Options{
			Greedy:       o.Greedy,
			Bonded:       o.Bonded,
			MaxInitBondE: o.MaxInitBondE,
			Deconv:       o.DeconvFit,
			NoiseRatio:   o.NoiseRatio,
			SeedAtom:     o.GMM && o.Noise == fit.NoiseNone,
			Diagnostic:   o.Diagnostic,
			Verbose:      o.Verbose,
		},
	}
}

// fitChannels runs one independent search per channel, concurrently when
// Parallel is set, and joins the atom sets in channel order.
func (r *Runner) fitChannels(ctx context.Context, res *MoleculeResult, cloud *grid.Cloud, radii []float64, counts []int) error {
	o := r.Options
	n := len(res.Channels)
	sets := make([]*atoms.Set, n)
	results := make([]SearchResult, n)

	g, ctx := errgroup.WithContext(ctx)
	if !o.Parallel {
		g.SetLimit(1)
	}
	for c := 0; c < n; c++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ch, target := res.Channels[c], res.Grids[c]
			results[c] = SearchResult{Channel: c}
			if target.Max() <= o.DensityThreshold {
				if o.Verbose > 1 {
					monitoring.Logf("[pipeline] channel %s below density threshold, skipped", ch.Name)
				}
				sets[c] = atoms.NewSet()
				results[c].Trivial = true
				return nil
			}
			if o.Verbose > 1 {
				monitoring.Logf("[pipeline] channel_name = %s, element = %s, atom_radius = %g", ch.Name, ch.Symbol, ch.Radius)
			}

			p, noiseInit := r.problem(cloud, [][]float64{target.Values}, radii[c:c+1])
			s := r.searcher([]atoms.Channel{ch}, noiseInit)
			var (
				sr  *search.Result
				err error
			)
			if o.ExactCounts {
				sr, err = s.FitExact(p, []*grid.Grid{target}, []int{counts[c]})
			} else {
				sr, err = s.Run(p, []*grid.Grid{target})
			}
			if err != nil {
				return fmt.Errorf("channel %s: %w", ch.Name, err)
			}

			set := sr.Set.Clone()
			for i := range set.Channel {
				set.Channel[i] = c
			}
			sets[c] = set
			results[c] = SearchResult{
				Channel:    c,
				Atoms:      set.Len(),
				Loss:       sr.Loss,
				Steps:      sr.Steps,
				Trajectory: relabel(sr.Trajectory, c),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	res.Set = atoms.Concat(sets...)
	res.Searches = results
	for _, sr := range results {
		res.FitLoss += sr.Loss
	}
	return nil
}

func relabel(traj []search.Snapshot, c int) []search.Snapshot {
	for k := range traj {
		set := traj[k].Set.Clone()
		for i := range set.Channel {
			set.Channel[i] = c
		}
		traj[k].Set = set
	}
	return traj
}

// fitJoint runs one bonded search across every channel.
func (r *Runner) fitJoint(ctx context.Context, res *MoleculeResult, cloud *grid.Cloud, radii []float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := r.Options
	trivial := true
	for _, g := range res.Grids {
		if g.Max() > o.DensityThreshold {
			trivial = false
			break
		}
	}
	if trivial {
		res.Set = atoms.NewSet()
		res.Searches = []SearchResult{{Channel: JointChannel, Trivial: true}}
		return nil
	}

	p, noiseInit := r.problem(cloud, gridValues(res.Grids), radii)
	sr, err := r.searcher(res.Channels, noiseInit).Run(p, res.Grids)
	if err != nil {
		return err
	}
	res.Set = sr.Set
	res.FitLoss = sr.Loss
	res.Searches = []SearchResult{{
		Channel:    JointChannel,
		Atoms:      sr.Set.Len(),
		Loss:       sr.Loss,
		Steps:      sr.Steps,
		Trajectory: sr.Trajectory,
	}}
	return nil
}

// fineTune refines every atom by gradient descent against the sum of the
// channel grids. Each atom keeps its channel radius and its bonds.
func (r *Runner) fineTune(res *MoleculeResult, cloud *grid.Cloud, radii []float64) error {
	sum, err := grid.Sum(res.Grids)
	if err != nil {
		return err
	}
	p := &fit.Problem{
		Cloud:          cloud,
		Targets:        [][]float64{sum.Values},
		Radii:          radii,
		TargetOf:       make([]int, len(radii)),
		RadiusMultiple: r.Options.RadiusMultiple,
	}
	tuned, err := r.Options.descent().Fit(p, res.Set)
	if err != nil {
		return err
	}
	res.Set = tuned.Set
	return nil
}
