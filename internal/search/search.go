package search

import (
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"gonum.org/v1/gonum/spatial/r3"
)

// State is a step of the greedy search.
type State int

const (
	StateEmpty State = iota
	StateOptimize
	StateEvaluate
	StateExpand
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateOptimize:
		return "OPTIMIZE"
	case StateEvaluate:
		return "EVALUATE"
	case StateExpand:
		return "EXPAND"
	case StateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options control how the search proposes and accepts atoms.
type Options struct {
	// Greedy warm-starts each fit from the previous accepted positions
	// instead of the previous initial positions.
	Greedy bool

	// Bonded proposes only atoms that bond to the current set.
	Bonded       bool
	MaxInitBondE float64

	// Deconv proposes atoms from the deconvolved residual density rather
	// than the raw target.
	Deconv     bool
	NoiseRatio float64

	// SeedAtom starts from one candidate instead of an empty set, needed
	// when the fitter cannot fit zero atoms.
	SeedAtom bool

	// Diagnostic keeps a copy of every accepted state.
	Diagnostic bool

	Verbose int
}

// Searcher runs the greedy structure search. Channels holds the raw
// channel records, indexed like the problem's Radii.
type Searcher struct {
	Fitter   fit.Fitter
	Channels []atoms.Channel
	Options  Options
}

// Step records one accepted outer iteration.
type Step struct {
	Atoms      int
	Loss       float64
	Iterations int
}

// Snapshot is a full accepted state, kept in diagnostic mode.
type Snapshot struct {
	Set  *atoms.Set
	Loss float64
}

// Result is the best state found.
type Result struct {
	Set       *atoms.Set
	Loss      float64
	Predicted [][]float64

	Steps      []Step
	Trajectory []Snapshot

	// Fits counts fitter invocations, including the rejected final one.
	Fits int
}

// Proposer yields the next candidate for the current best set.
type Proposer interface {
	Propose(set *atoms.Set) (Candidate, bool)
}

// run holds the per-call state of a search.
type run struct {
	*Searcher
	p     *fit.Problem
	grids []*grid.Grid
	full  *fit.Problem
	prop  Proposer
}

func (s *Searcher) validate(p *fit.Problem, grids []*grid.Grid) error {
	if s.Fitter == nil {
		return fmt.Errorf("%w: searcher has no fitter", fit.ErrInvalidArgument)
	}
	if len(s.Channels) != len(p.Radii) {
		return fmt.Errorf("%w: %d channels for %d rendering radii", fit.ErrInvalidArgument, len(s.Channels), len(p.Radii))
	}
	if err := p.Validate(nil); err != nil {
		return err
	}
	if s.Options.Bonded && s.Options.MaxInitBondE <= 0 {
		return fmt.Errorf("%w: bonded search needs a positive max initial bond energy", fit.ErrInvalidArgument)
	}
	if s.Options.Deconv {
		if s.Options.NoiseRatio < 0 {
			return fmt.Errorf("%w: negative noise ratio %g", fit.ErrInvalidArgument, s.Options.NoiseRatio)
		}
		if len(grids) != len(p.Targets) {
			return fmt.Errorf("%w: deconvolution needs %d target grids, got %d", fit.ErrInvalidArgument, len(p.Targets), len(grids))
		}
		for t, g := range grids {
			if !g.SameLayout(grids[0]) {
				return fmt.Errorf("%w: grid %d layout differs", fit.ErrInvalidArgument, t)
			}
		}
	}
	return nil
}

func (s *Searcher) newRun(p *fit.Problem, grids []*grid.Grid) *run {
	r := &run{Searcher: s, p: p, grids: grids}
	if s.Options.Deconv {
		full := *p
		full.Cloud = grids[0].Cloud()
		full.Targets = make([][]float64, len(grids))
		for t, g := range grids {
			full.Targets[t] = g.Values
		}
		r.full = &full
	}
	return r
}

// Run searches for the atom set that best explains p. grids holds the
// full target grids and is only needed for deconvolution-guided
// proposals.
func (s *Searcher) Run(p *fit.Problem, grids []*grid.Grid) (*Result, error) {
	if err := s.validate(p, grids); err != nil {
		return nil, err
	}
	r := s.newRun(p, grids)

	var (
		state = StateEmpty
		init  = atoms.NewSet()
		best  = atoms.NewSet()
		last  *fit.Result
		res   = &Result{Loss: math.Inf(1)}
		err   error
	)
	for state != StateTerminated {
		if s.Options.Verbose > 3 {
			monitoring.Logf("[search] state = %s, n_atoms = %d", state, init.Len())
		}
		switch state {
		case StateEmpty:
			state = StateOptimize
			if s.Options.SeedAtom {
				cand, ok, err := r.propose(best)
				if err != nil {
					return nil, err
				}
				if !ok {
					state = StateTerminated
					break
				}
				if _, err := init.Add(cand.Pos, cand.Channel, nil); err != nil {
					return nil, err
				}
			}

		case StateOptimize:
			last, err = s.Fitter.Fit(p, init)
			if err != nil {
				return nil, fmt.Errorf("fitting %d atoms: %w", init.Len(), err)
			}
			res.Fits++
			state = StateEvaluate

		case StateEvaluate:
			if last.Loss >= res.Loss {
				if s.Options.Verbose > 1 {
					monitoring.Logf("[search] n_atoms = %d, loss = %f rejected", last.Set.Len(), last.Loss)
				}
				state = StateTerminated
				break
			}
			best = last.Set
			res.Set, res.Loss, res.Predicted = best, last.Loss, last.Predicted
			res.Steps = append(res.Steps, Step{Atoms: best.Len(), Loss: last.Loss, Iterations: last.Iterations})
			if s.Options.Diagnostic {
				res.Trajectory = append(res.Trajectory, Snapshot{Set: best.Clone(), Loss: last.Loss})
			}
			if s.Options.Verbose > 1 {
				monitoring.Logf("[search] n_atoms = %d, loss = %f", best.Len(), last.Loss)
			}
			if s.Options.Greedy {
				init = best.Clone()
			}
			state = StateExpand

		case StateExpand:
			cand, ok, err := r.propose(best)
			if err != nil {
				return nil, err
			}
			if !ok {
				state = StateTerminated
				break
			}
			if _, err := init.Add(cand.Pos, cand.Channel, cand.Bonds); err != nil {
				return nil, fmt.Errorf("adding candidate: %w", err)
			}
			state = StateOptimize
		}
	}

	if res.Set == nil {
		// the only fit produced a non-finite loss
		res.Set = atoms.NewSet()
		if last != nil {
			res.Set, res.Loss, res.Predicted = last.Set, last.Loss, last.Predicted
		}
	}
	return res, nil
}

// FitExact places counts[c] atoms of each channel from the unconstrained
// candidate streams and fits them in a single call.
func (s *Searcher) FitExact(p *fit.Problem, grids []*grid.Grid, counts []int) (*Result, error) {
	if err := s.validate(p, grids); err != nil {
		return nil, err
	}
	if s.Options.Bonded {
		return nil, fmt.Errorf("%w: exact atom counts are not supported in bonded mode", fit.ErrInvalidArgument)
	}
	if len(counts) != len(s.Channels) {
		return nil, fmt.Errorf("%w: %d atom counts for %d channels", fit.ErrInvalidArgument, len(counts), len(s.Channels))
	}
	r := s.newRun(p, grids)
	points, values, err := r.proposalDensity(atoms.NewSet())
	if err != nil {
		return nil, err
	}

	init := atoms.NewSet()
	for c, n := range counts {
		st := NewChannelStream(c, points, values[c], s.Channels[c].Radius)
		for k := 0; k < n; k++ {
			cand, ok := st.Next()
			if !ok {
				return nil, fmt.Errorf("%w: channel %s has room for %d of %d atoms", fit.ErrInvalidArgument, s.Channels[c].Name, k, n)
			}
			if _, err := init.Add(cand.Pos, c, nil); err != nil {
				return nil, err
			}
		}
	}

	fitted, err := s.Fitter.Fit(p, init)
	if err != nil {
		return nil, fmt.Errorf("fitting %d atoms: %w", init.Len(), err)
	}
	if s.Options.Verbose > 1 {
		monitoring.Logf("[search] n_atoms = %d, loss = %f", fitted.Set.Len(), fitted.Loss)
	}
	res := &Result{
		Set:       fitted.Set,
		Loss:      fitted.Loss,
		Predicted: fitted.Predicted,
		Steps:     []Step{{Atoms: fitted.Set.Len(), Loss: fitted.Loss, Iterations: fitted.Iterations}},
		Fits:      1,
	}
	if s.Options.Diagnostic {
		res.Trajectory = []Snapshot{{Set: fitted.Set.Clone(), Loss: fitted.Loss}}
	}
	return res, nil
}

// propose asks the proposer for a candidate, rebuilding it from the
// current residual when proposals are deconvolution guided.
func (r *run) propose(best *atoms.Set) (Candidate, bool, error) {
	if r.prop == nil || r.Options.Deconv {
		points, values, err := r.proposalDensity(best)
		if err != nil {
			return Candidate{}, false, err
		}
		if r.Options.Bonded {
			r.prop = NewBondedProposer(r.Channels, points, values, r.Options.MaxInitBondE)
		} else {
			r.prop = newStreams(r.Channels, points, values, best)
		}
	}
	cand, ok := r.prop.Propose(best)
	return cand, ok, nil
}

// proposalDensity returns the points and per-channel values candidates are
// ranked by: the problem's own targets, or the deconvolved residual of the
// full grids against best.
func (r *run) proposalDensity(best *atoms.Set) ([]r3.Vec, [][]float64, error) {
	values := make([][]float64, len(r.Channels))
	if !r.Options.Deconv {
		for c := range values {
			values[c] = r.p.Targets[r.p.Target(c)]
		}
		return r.p.Cloud.Points, values, nil
	}

	full := r.full
	residual := full.Residual(full.Predict(best.Pos, best.Channel))
	grids := make([]*grid.Grid, len(residual))
	radii := make([]float64, len(residual))
	for t := range residual {
		g, err := r.grids[t].Fold(residual[t])
		if err != nil {
			return nil, nil, err
		}
		grids[t] = g
	}
	for c := len(r.Channels) - 1; c >= 0; c-- {
		radii[full.Target(c)] = full.Radii[c]
	}
	deconv, err := grid.DeconvolveChannels(grids, radii, full.RadiusMultiple, r.Options.NoiseRatio)
	if err != nil {
		return nil, nil, fmt.Errorf("deconvolving residual: %w", err)
	}
	for c := range values {
		values[c] = deconv[full.Target(c)].Values
	}
	return full.Cloud.Points, values, nil
}

// streams merges one Stream per channel, yielding the densest head.
type streams struct {
	s     []*Stream
	heads []*Candidate
}

func newStreams(channels []atoms.Channel, points []r3.Vec, values [][]float64, seed *atoms.Set) *streams {
	st := &streams{s: make([]*Stream, len(channels)), heads: make([]*Candidate, len(channels))}
	for c, ch := range channels {
		st.s[c] = NewChannelStream(c, points, values[c], ch.Radius)
		for i, pos := range seed.Pos {
			if seed.Channel[i] == c {
				st.s[c].Seed(pos)
			}
		}
	}
	return st
}

// Propose implements Proposer. The set is not consulted; streams track
// their own accepted points.
func (st *streams) Propose(*atoms.Set) (Candidate, bool) {
	best := -1
	for c, s := range st.s {
		if st.heads[c] == nil {
			if cand, ok := s.Next(); ok {
				st.heads[c] = &cand
			}
		}
		if st.heads[c] != nil && (best < 0 || st.heads[c].Density > st.heads[best].Density) {
			best = c
		}
	}
	if best < 0 {
		return Candidate{}, false
	}
	cand := *st.heads[best]
	st.heads[best] = nil
	return cand, true
}

var (
	_ Proposer = (*streams)(nil)
	_ Proposer = (*BondedProposer)(nil)
)
