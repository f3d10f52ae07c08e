package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/config"
	"github.com/banshee-data/atomfit/internal/fit"
	"github.com/banshee-data/atomfit/internal/grid"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"github.com/banshee-data/atomfit/internal/testutil"
	"github.com/banshee-data/atomfit/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	carbon = atoms.Channel{Name: "C", AtomicNumber: 6, Symbol: "C", Radius: 1.0, MaxBonds: 4}
	oxygen = atoms.Channel{Name: "O", AtomicNumber: 8, Symbol: "O", Radius: 1.0, MaxBonds: 2}

	left  = r3.Vec{X: -1.5, Y: 0.2, Z: -0.1}
	right = r3.Vec{X: 1.5, Y: -0.2, Z: 0.1}
)

func defaultOptions(t *testing.T) Options {
	t.Helper()
	opts, err := OptionsFromConfig(config.DefaultFittingConfig())
	require.NoError(t, err)
	opts.MaxIter = 100
	opts.Greedy = true
	return opts
}

// twoChannel puts one carbon blob left of the origin and one oxygen blob
// right of it.
func twoChannel(t *testing.T, name string) *Molecule {
	return &Molecule{
		Name:     name,
		Channels: []atoms.Channel{carbon, oxygen},
		Grids: []*grid.Grid{
			testutil.BlobGrid(t, 16, 0.5, 1.0, left),
			testutil.BlobGrid(t, 16, 0.5, 1.0, right),
		},
	}
}

func nearest(set *atoms.Set, want r3.Vec, channel int) float64 {
	best := math.Inf(1)
	for i, p := range set.Pos {
		if set.Channel[i] == channel {
			best = math.Min(best, r3.Norm(r3.Sub(p, want)))
		}
	}
	return best
}

func TestRunner_EmptyDensity(t *testing.T) {
	mol := &Molecule{
		Name:     "empty",
		Channels: []atoms.Channel{carbon, oxygen},
		Grids:    []*grid.Grid{grid.New([3]int{8, 8, 8}, r3.Vec{}, 0.5), grid.New([3]int{8, 8, 8}, r3.Vec{}, 0.5)},
	}
	for _, bonded := range []bool{false, true} {
		opts := defaultOptions(t)
		opts.Bonded = bonded
		res, err := NewRunner(opts).Run(context.Background(), mol)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Set.Len())
		assert.Equal(t, 0.0, res.Loss)
		for _, sr := range res.Searches {
			assert.True(t, sr.Trivial)
		}
	}
}

func TestRunner_PerChannelSearch(t *testing.T) {
	opts := defaultOptions(t)
	res, err := NewRunner(opts).Run(context.Background(), twoChannel(t, "pair"))
	require.NoError(t, err)

	require.Equal(t, 2, res.Set.Len())
	assert.Equal(t, []int{0, 1}, res.Set.Channel)
	assert.Less(t, nearest(res.Set, left, 0), 0.1)
	assert.Less(t, nearest(res.Set, right, 1), 0.1)

	require.Len(t, res.Searches, 2)
	for c, sr := range res.Searches {
		assert.Equal(t, c, sr.Channel)
		assert.Equal(t, 1, sr.Atoms)
		assert.False(t, sr.Trivial)
	}
	assert.InDelta(t, res.Searches[0].Loss+res.Searches[1].Loss, res.FitLoss, 1e-12)
	norm := 0.5 * (res.Grids[0].SumSquares() + res.Grids[1].SumSquares())
	assert.Less(t, res.Loss, 0.01*norm)
}

func TestRunner_ParallelMatchesSequential(t *testing.T) {
	opts := defaultOptions(t)
	seq, err := NewRunner(opts).Run(context.Background(), twoChannel(t, "seq"))
	require.NoError(t, err)

	opts.Parallel = true
	par, err := NewRunner(opts).Run(context.Background(), twoChannel(t, "par"))
	require.NoError(t, err)

	assert.Equal(t, seq.Set.Pos, par.Set.Pos)
	assert.Equal(t, seq.Set.Channel, par.Set.Channel)
	assert.Equal(t, seq.Loss, par.Loss)
}

func TestRunner_ExactCounts(t *testing.T) {
	opts := defaultOptions(t)
	opts.ExactCounts = true

	mol := twoChannel(t, "exact")
	_, err := NewRunner(opts).Run(context.Background(), mol)
	assert.ErrorIs(t, err, fit.ErrInvalidArgument)

	mol.Counts = []int{1, 1}
	res, err := NewRunner(opts).Run(context.Background(), mol)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, res.Set.Count(2))
}

func TestRunner_FineTuneKeepsAtoms(t *testing.T) {
	opts := defaultOptions(t)
	opts.FineTune = true
	res, err := NewRunner(opts).Run(context.Background(), twoChannel(t, "tuned"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Set.Len())
	assert.Less(t, nearest(res.Set, left, 0), 0.1)
	assert.Less(t, nearest(res.Set, right, 1), 0.1)
}

func TestRunner_BondedJointSearch(t *testing.T) {
	a, b := r3.Vec{X: -0.75, Y: 0.25, Z: 0.25}, r3.Vec{X: 1.25, Y: 0.25, Z: 0.25}
	mol := &Molecule{
		Name:     "ethane-ish",
		Channels: []atoms.Channel{carbon},
		Grids:    []*grid.Grid{testutil.BlobGrid(t, 16, 0.5, 1.0, a, b)},
	}
	opts := defaultOptions(t)
	opts.Bonded = true
	opts.MaxIter = 50
	opts.MaxInitBondE = 0.6

	res, err := NewRunner(opts).Run(context.Background(), mol)
	require.NoError(t, err)
	require.Len(t, res.Searches, 1)
	assert.Equal(t, JointChannel, res.Searches[0].Channel)
	require.Equal(t, 2, res.Set.Len())
	assert.True(t, res.Set.Bonds.Bonded(0, 1))
}

func TestRunner_Elapsed(t *testing.T) {
	clock := timeutil.NewSteppingClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3*time.Second)
	r := &Runner{Options: defaultOptions(t), Clock: clock}
	res, err := r.Run(context.Background(), twoChannel(t, "timed"))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, res.Elapsed)
}

func TestRunner_VerboseLogging(t *testing.T) {
	rec := &monitoring.Recorder{}
	monitoring.SetLogger(rec.Logf)
	t.Cleanup(func() { monitoring.SetLogger(log.Printf) })

	mol := twoChannel(t, "noisy")
	mol.Grids[1] = grid.New(mol.Grids[0].Shape, mol.Grids[0].Center, mol.Grids[0].Resolution)
	opts := defaultOptions(t)
	opts.Verbose = 2
	_, err := NewRunner(opts).Run(context.Background(), mol)
	require.NoError(t, err)

	var skipped, summary bool
	for _, line := range rec.Lines() {
		skipped = skipped || strings.Contains(line, "channel O below density threshold")
		summary = summary || strings.HasPrefix(line, "[pipeline] noisy")
	}
	assert.True(t, skipped, "expected a skipped-channel line")
	assert.True(t, summary, "expected a per-molecule summary line")
}

func TestRunner_InvalidInput(t *testing.T) {
	good := twoChannel(t, "good")
	cases := map[string]*Molecule{
		"no channels":   {Name: "none"},
		"grid mismatch": {Name: "g", Channels: good.Channels, Grids: good.Grids[:1]},
		"count mismatch": {
			Name: "c", Channels: good.Channels, Grids: good.Grids, Counts: []int{1},
		},
		"layout mismatch": {
			Name: "l", Channels: good.Channels,
			Grids: []*grid.Grid{good.Grids[0], grid.New([3]int{8, 8, 8}, r3.Vec{}, 0.5)},
		},
		"bad channel": {
			Name: "b", Channels: []atoms.Channel{{Name: "X"}}, Grids: good.Grids[:1],
		},
	}
	r := NewRunner(defaultOptions(t))
	for name, mol := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Run(context.Background(), mol)
			assert.ErrorIs(t, err, fit.ErrInvalidArgument)
		})
	}
}

func TestOptions_Validate(t *testing.T) {
	cases := map[string]func(*Options){
		"noise without mixture": func(o *Options) { o.Noise = fit.NoiseDensity },
		"bonded exact":          func(o *Options) { o.Bonded = true; o.ExactCounts = true },
		"bonded mixture":        func(o *Options) { o.Bonded = true; o.GMM = true },
		"radius factor":         func(o *Options) { o.RadiusFactor = 0 },
		"noise ratio":           func(o *Options) { o.NoiseRatio = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opts := defaultOptions(t)
			mutate(&opts)
			assert.ErrorIs(t, opts.validate(), fit.ErrInvalidArgument)
		})
	}
	assert.NoError(t, defaultOptions(t).validate())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultFittingConfig()
	mode, noise := config.ModeGMM, "d"
	cfg.FitMode = &mode
	cfg.NoiseModel = &noise

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.True(t, opts.GMM)
	assert.Equal(t, fit.NoiseDensity, opts.Noise)
	assert.Equal(t, fit.CriterionNLL, opts.Criterion)
	assert.IsType(t, &fit.GMM{}, opts.fitter(nil))

	opts, err = OptionsFromConfig(nil)
	require.NoError(t, err)
	assert.False(t, opts.GMM)
	assert.IsType(t, &fit.GradientDescent{}, opts.fitter(nil))
}

func TestCombineChannels(t *testing.T) {
	ca := atoms.Channel{Name: "C_aromatic", Symbol: "C", Radius: 1.0, MaxBonds: 3}
	cs := atoms.Channel{Name: "C_sp3", Symbol: "C", Radius: 1.2, MaxBonds: 4}
	g := func(v float64) *grid.Grid {
		out := grid.New([3]int{1, 1, 2}, r3.Vec{}, 1)
		out.Values[0] = v
		return out
	}

	channels, grids, counts, err := CombineChannels(
		[]atoms.Channel{ca, oxygen, cs},
		[]*grid.Grid{g(1), g(2), g(4)},
		[]int{2, 1, 3},
	)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "C", channels[0].Name)
	assert.Equal(t, 1.0, channels[0].Radius)
	assert.Equal(t, "O", channels[1].Name)
	assert.Equal(t, []float64{5, 0}, grids[0].Values)
	assert.Equal(t, []float64{2, 0}, grids[1].Values)
	assert.Equal(t, []int{5, 1}, counts)

	_, _, counts, err = CombineChannels([]atoms.Channel{ca}, []*grid.Grid{g(1)}, nil)
	require.NoError(t, err)
	assert.Nil(t, counts)

	_, _, _, err = CombineChannels([]atoms.Channel{ca}, nil, nil)
	assert.Error(t, err)
}

func TestScaleGrids(t *testing.T) {
	in := grid.New([3]int{1, 1, 2}, r3.Vec{}, 1)
	in.Values = []float64{1, 2}
	out := ScaleGrids([]*grid.Grid{in}, 3)
	assert.Equal(t, []float64{3, 6}, out[0].Values)
	assert.Equal(t, []float64{1, 2}, in.Values)
}

// mixedCarbon has two carbon channels of different radius next to oxygen.
func mixedCarbon(t *testing.T) *Molecule {
	return &Molecule{
		Name: "mixed",
		Channels: []atoms.Channel{
			{Name: "C_ar", Symbol: "C", Radius: 1.0, MaxBonds: 3},
			oxygen,
			{Name: "C_sp3", Symbol: "C", Radius: 1.2, MaxBonds: 4},
		},
		Grids: []*grid.Grid{
			testutil.BlobGrid(t, 12, 0.5, 1.0, r3.Vec{X: -1}),
			testutil.BlobGrid(t, 12, 0.5, 1.0, r3.Vec{X: 1}),
			testutil.BlobGrid(t, 12, 0.5, 1.2, r3.Vec{Y: 1.2}),
		},
	}
}

func TestPreprocess_CombineDeconvolveScale(t *testing.T) {
	opts := defaultOptions(t)
	opts.CombineChannels = true
	opts.DeconvGrids = true
	opts.NoiseRatio = 0.01
	opts.ScaleGrids = 2
	mol := mixedCarbon(t)

	channels, grids, _, err := opts.preprocess(mol)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "C", channels[0].Name)

	combinedCh, combined, _, err := CombineChannels(mol.Channels, mol.Grids, nil)
	require.NoError(t, err)
	sharp, err := DeconvGrids(combined, atoms.Radii(combinedCh, opts.RadiusFactor), opts.RadiusMultiple, opts.NoiseRatio)
	require.NoError(t, err)
	want := ScaleGrids(sharp, 2)
	require.Len(t, grids, len(want))
	for c := range want {
		assert.InDeltaSlice(t, want[c].Values, grids[c].Values, 1e-9, "channel %d", c)
	}

	// deconvolving before combining uses the C_sp3 radius on its own grid
	early, err := DeconvGrids(mol.Grids, atoms.Radii(mol.Channels, opts.RadiusFactor), opts.RadiusMultiple, opts.NoiseRatio)
	require.NoError(t, err)
	_, earlyCombined, _, err := CombineChannels(mol.Channels, early, nil)
	require.NoError(t, err)
	diff := 0.0
	for i, v := range ScaleGrids(earlyCombined, 2)[0].Values {
		diff = math.Max(diff, math.Abs(v-grids[0].Values[i]))
	}
	assert.Greater(t, diff, 1e-6)

	// inputs are untouched
	assert.Len(t, mol.Grids, 3)
	assert.Equal(t, testutil.BlobGrid(t, 12, 0.5, 1.0, r3.Vec{X: -1}).Values, mol.Grids[0].Values)
}

func TestRunner_DeconvGrids(t *testing.T) {
	opts := defaultOptions(t)
	opts.DeconvGrids = true
	opts.NoiseRatio = 0.01
	mol := twoChannel(t, "sharp")

	res, err := NewRunner(opts).Run(context.Background(), mol)
	require.NoError(t, err)

	want, err := DeconvGrids(mol.Grids, atoms.Radii(mol.Channels, opts.RadiusFactor), opts.RadiusMultiple, opts.NoiseRatio)
	require.NoError(t, err)
	require.Len(t, res.Grids, 2)
	sq := 0.0
	for c := range want {
		assert.InDeltaSlice(t, want[c].Values, res.Grids[c].Values, 1e-9, "channel %d", c)
		assert.NotEqual(t, mol.Grids[c].Values, res.Grids[c].Values)
		sq += res.Grids[c].SumSquares()
	}
	// the search never ends worse than the empty fit of the sharpened grids
	assert.LessOrEqual(t, res.Loss, 0.5*sq+1e-9)
}

type sliceGenerator struct {
	mols []*Molecule
	err  error
}

func (g *sliceGenerator) Next(ctx context.Context) (*Molecule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(g.mols) == 0 {
		if g.err != nil {
			return nil, g.err
		}
		return nil, io.EOF
	}
	m := g.mols[0]
	g.mols = g.mols[1:]
	return m, nil
}

func TestRunBatch_PreservesOrder(t *testing.T) {
	gen := &sliceGenerator{mols: []*Molecule{twoChannel(t, "a"), twoChannel(t, "b"), twoChannel(t, "c")}}
	results, err := NewRunner(defaultOptions(t)).RunBatch(context.Background(), gen, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, results[i].Name)
		assert.Equal(t, 2, results[i].Set.Len())
	}
}

func TestRunBatch_Errors(t *testing.T) {
	bad := &Molecule{Name: "bad"}
	gen := &sliceGenerator{mols: []*Molecule{twoChannel(t, "a"), bad}}
	_, err := NewRunner(defaultOptions(t)).RunBatch(context.Background(), gen, 0)
	assert.ErrorIs(t, err, fit.ErrInvalidArgument)

	readErr := errors.New("truncated bundle")
	gen = &sliceGenerator{err: readErr}
	_, err = NewRunner(defaultOptions(t)).RunBatch(context.Background(), gen, 1)
	assert.ErrorIs(t, err, readErr)

	results, err := NewRunner(defaultOptions(t)).RunBatch(context.Background(), &sliceGenerator{}, 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}
