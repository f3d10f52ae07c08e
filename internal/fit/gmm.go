package fit

import (
	"fmt"
	"math"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseModel selects the optional background component of the mixture.
type NoiseModel string

const (
	// NoiseNone fits atoms only.
	NoiseNone NoiseModel = ""
	// NoiseDensity adds a Normal component over the density value of each
	// point.
	NoiseDensity NoiseModel = "d"
	// NoiseProb adds a component with constant probability per point.
	NoiseProb NoiseModel = "p"
)

// ParseNoiseModel accepts "", "none", "d" or "p".
func ParseNoiseModel(s string) (NoiseModel, error) {
	switch s {
	case "", "none":
		return NoiseNone, nil
	case "d":
		return NoiseDensity, nil
	case "p":
		return NoiseProb, nil
	}
	return NoiseNone, fmt.Errorf("%w: unknown noise model %q", ErrInvalidArgument, s)
}

// Criterion selects the goodness-of-fit the mixture fitter reports as Loss.
type Criterion string

const (
	CriterionNLL Criterion = "nll"
	CriterionAIC Criterion = "aic"
	CriterionL2  Criterion = "L2"
)

// ParseCriterion accepts "nll", "aic" or "L2".
func ParseCriterion(s string) (Criterion, error) {
	switch Criterion(s) {
	case CriterionNLL, CriterionAIC, CriterionL2:
		return Criterion(s), nil
	}
	return "", fmt.Errorf("%w: unknown goodness-of-fit criterion %q", ErrInvalidArgument, s)
}

// NoiseParams are the parameters of the noise component. Mean and Var
// describe the "d" model; Prob is the constant probability of the "p" model.
type NoiseParams struct {
	Mean float64
	Var  float64
	Prob float64
}

// NoiseParamsFromDensity derives initial noise parameters from the full,
// unthresholded density of a channel.
func NoiseParamsFromDensity(values []float64) NoiseParams {
	if len(values) == 0 {
		return NoiseParams{Var: 1, Prob: 1}
	}
	np := NoiseParams{
		Mean: stat.Mean(values, nil),
		Prob: 1 / float64(len(values)),
	}
	if len(values) > 1 {
		np.Var = stat.Variance(values, nil)
	}
	if !(np.Var > 0) {
		np.Var = 1
	}
	return np
}

// GMM fits atoms by Expectation-Maximization, treating each target as an
// independent mixture of isotropic Gaussians (one per atom rendered into
// it) plus an optional noise component. Points are weighted by their
// non-negative density, except in the mean and variance of the "d" noise
// component, which are estimated over every point including the zero
// density background.
type GMM struct {
	MaxIter   int
	Noise     NoiseModel
	Criterion Criterion

	// NoiseInit holds the initial noise parameters per target. When nil
	// they are derived from the problem targets.
	NoiseInit []NoiseParams

	Verbose int
}

// Name implements Fitter.
func (g *GMM) Name() string { return "gmm" }

// component is one mixture term of a single target.
type component struct {
	atom   int // index into the atom set, -1 for noise
	logW   float64
	normal *distmv.Normal
}

type mixture struct {
	target int
	comps  []component
	noise  NoiseParams
	init   NoiseParams

	// responsibility statistics of the last E-step; resp and mean are
	// density weighted, the noise sums are not
	sumW    float64
	resp    []float64
	mean    []r3.Vec
	noiseR  float64
	noiseD  float64
	noiseD2 float64
}

// newMixture builds the mixture of target t with uniform weights.
func (g *GMM) newMixture(p *Problem, init *atoms.Set, t int) (*mixture, error) {
	m := &mixture{target: t}
	if g.Noise != NoiseNone {
		if g.NoiseInit != nil {
			m.init = g.NoiseInit[t]
		} else {
			m.init = NoiseParamsFromDensity(p.Targets[t])
		}
		m.noise = m.init
	}
	for j, c := range init.Channel {
		if p.Target(c) == t {
			m.comps = append(m.comps, component{atom: j})
		}
	}
	if g.Noise != NoiseNone {
		m.comps = append(m.comps, component{atom: -1})
	}
	if len(m.comps) == 0 {
		return nil, fmt.Errorf("%w: target %d has no mixture components", ErrInvalidArgument, t)
	}
	w := math.Log(1 / float64(len(m.comps)))
	for k := range m.comps {
		m.comps[k].logW = w
	}
	return m, nil
}

// Fit implements Fitter.
//
// Each iteration computes responsibilities in log space, then updates atom
// means, noise parameters and mixture weights. Weights are only updated
// when a noise component and at least one atom are present. A noise
// variance that collapses to zero or NaN is reset to its initial value.
// Iteration stops once the expected log-likelihood changes by less than
// 1e-3 or after MaxIter iterations. The likelihood never decreases without
// a noise component or with the "p" model. The "d" noise statistics are
// not density weighted, so with "d" it may fall while the noise component
// settles onto the background.
func (g *GMM) Fit(p *Problem, init *atoms.Set) (*Result, error) {
	if err := p.Validate(init); err != nil {
		return nil, err
	}
	if _, err := ParseCriterion(string(g.Criterion)); err != nil {
		return nil, err
	}
	if _, err := ParseNoiseModel(string(g.Noise)); err != nil {
		return nil, err
	}
	if g.NoiseInit != nil && len(g.NoiseInit) != len(p.Targets) {
		return nil, fmt.Errorf("%w: %d noise initialisations for %d targets", ErrInvalidArgument, len(g.NoiseInit), len(p.Targets))
	}

	pos := append([]r3.Vec(nil), init.Pos...)
	mixtures := make([]*mixture, len(p.Targets))
	for t := range p.Targets {
		m, err := g.newMixture(p, init, t)
		if err != nil {
			return nil, err
		}
		mixtures[t] = m
	}

	estep := func() (float64, error) {
		ll := 0.0
		for _, m := range mixtures {
			v, err := g.expect(p, m, pos, init.Channel)
			if err != nil {
				return 0, err
			}
			ll += v
		}
		return ll, nil
	}

	ll, err := estep()
	if err != nil {
		return nil, err
	}
	res := &Result{Trace: []float64{ll}}
	for res.Iterations < g.MaxIter {
		for _, m := range mixtures {
			g.maximize(m, pos)
		}
		res.Iterations++
		cur, err := estep()
		if err != nil {
			return nil, err
		}
		res.Trace = append(res.Trace, cur)
		gain := cur - ll
		ll = cur
		if g.Verbose > 2 {
			monitoring.Logf("[fit] gmm iteration = %d, ll = %.6f (%.6f)", res.Iterations, ll, gain)
		}
		if math.Abs(gain) < convergenceTol {
			break
		}
	}

	res.Set = init.WithPositions(pos)
	res.Predicted = p.Predict(pos, init.Channel)
	switch g.Criterion {
	case CriterionNLL:
		res.Loss = -ll
	case CriterionAIC:
		res.Loss = 2*float64(g.ParamCount(init.Len(), len(p.Targets))) - 2*ll
	case CriterionL2:
		res.Loss = p.L2(res.Predicted)
	}
	return res, nil
}

// ParamCount is the number of free parameters of a fit with nAtoms atoms
// over nTargets independent mixtures: three coordinates per atom, the
// noise parameters and the free mixture weights of each target.
func (g *GMM) ParamCount(nAtoms, nTargets int) int {
	n := 3 * nAtoms
	comps := nAtoms
	switch g.Noise {
	case NoiseDensity:
		n += 2 * nTargets
		comps += nTargets
	case NoiseProb:
		n += nTargets
		comps += nTargets
	}
	return n + comps - nTargets
}

// expect evaluates the expected log-likelihood of the current parameters of
// one mixture and accumulates the responsibility statistics for the next
// update.
func (g *GMM) expect(p *Problem, m *mixture, pos []r3.Vec, channels []int) (float64, error) {
	for k := range m.comps {
		c := &m.comps[k]
		if c.atom < 0 {
			continue
		}
		v := 0.5 * p.Radii[channels[c.atom]]
		v *= v
		x := pos[c.atom]
		normal, ok := distmv.NewNormal([]float64{x.X, x.Y, x.Z}, mat.NewSymDense(3, []float64{
			v, 0, 0,
			0, v, 0,
			0, 0, v,
		}), nil)
		if !ok {
			return 0, fmt.Errorf("%w: covariance of atom %d is not positive definite", ErrInvalidArgument, c.atom)
		}
		c.normal = normal
	}
	var noiseDist distuv.Normal
	if g.Noise == NoiseDensity {
		noiseDist = distuv.Normal{Mu: m.noise.Mean, Sigma: math.Sqrt(m.noise.Var)}
	}

	nc := len(m.comps)
	m.sumW, m.noiseR, m.noiseD, m.noiseD2 = 0, 0, 0, 0
	m.resp = make([]float64, nc)
	m.mean = make([]r3.Vec, nc)
	logJoint := make([]float64, nc)
	pt := make([]float64, 3)

	ll := 0.0
	for i, d := range p.Targets[m.target] {
		w := math.Max(d, 0)
		if w == 0 && g.Noise != NoiseDensity {
			continue
		}
		x := p.Cloud.Points[i]
		pt[0], pt[1], pt[2] = x.X, x.Y, x.Z
		for k, c := range m.comps {
			switch {
			case c.atom >= 0:
				logJoint[k] = c.logW + c.normal.LogProb(pt)
			case g.Noise == NoiseDensity:
				logJoint[k] = c.logW + noiseDist.LogProb(d)
			default:
				logJoint[k] = c.logW + math.Log(m.noise.Prob)
			}
		}
		logP := floats.LogSumExp(logJoint)
		ll += w * logP
		m.sumW += w
		for k, c := range m.comps {
			gamma := math.Exp(logJoint[k] - logP)
			r := w * gamma
			m.resp[k] += r
			if c.atom >= 0 {
				m.mean[k] = r3.Add(m.mean[k], r3.Scale(r, x))
			} else {
				m.noiseR += gamma
				m.noiseD += gamma * d
				m.noiseD2 += gamma * d * d
			}
		}
	}
	return ll, nil
}

// maximize applies one M-step from the statistics of the last expect call.
func (g *GMM) maximize(m *mixture, pos []r3.Vec) {
	nc := len(m.comps)
	nAtoms := 0
	for k, c := range m.comps {
		if c.atom < 0 {
			continue
		}
		nAtoms++
		if m.resp[k] > 0 {
			pos[c.atom] = r3.Scale(1/m.resp[k], m.mean[k])
		}
	}

	if g.Noise == NoiseDensity {
		r := m.noiseR
		mu := m.noiseD / r
		v := m.noiseD2/r - mu*mu
		if math.IsNaN(mu) || math.IsNaN(v) || v <= 0 {
			m.noise.Mean, m.noise.Var = m.init.Mean, m.init.Var
		} else {
			m.noise.Mean, m.noise.Var = mu, v
		}
	}

	if g.Noise != NoiseNone && nAtoms > 0 && m.sumW > 0 {
		pNoise := m.resp[nc-1] / m.sumW
		logAtom := math.Log((1 - pNoise) / float64(nAtoms))
		for k := range m.comps {
			if m.comps[k].atom >= 0 {
				m.comps[k].logW = logAtom
			} else {
				m.comps[k].logW = math.Log(pNoise)
			}
		}
	}
}

var _ Fitter = (*GMM)(nil)
