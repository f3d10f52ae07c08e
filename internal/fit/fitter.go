package fit

import (
	"errors"
	"fmt"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/density"
	"github.com/banshee-data/atomfit/internal/grid"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidArgument marks configuration or input errors that must not be
// retried.
var ErrInvalidArgument = errors.New("invalid argument")

// convergenceTol is the minimum loss improvement (or log-likelihood gain)
// per iteration that keeps a fitter iterating.
const convergenceTol = 1e-3

// Fitter refines all positions of init against p. Labels and bonds of init
// are preserved in the result.
type Fitter interface {
	Fit(p *Problem, init *atoms.Set) (*Result, error)
	Name() string
}

// Problem is the density a fitter reproduces.
type Problem struct {
	Cloud *grid.Cloud

	// Targets holds one density slice per target, aligned with Cloud.
	Targets [][]float64

	// Radii is the rendering radius of each channel, already scaled by any
	// radius factor.
	Radii []float64

	// TargetOf maps channel to target index. Nil means channel c renders
	// into target c.
	TargetOf []int

	RadiusMultiple float64
}

// Target returns the target index atoms of channel ch render into.
func (p *Problem) Target(ch int) int {
	if p.TargetOf == nil {
		return ch
	}
	return p.TargetOf[ch]
}

// Validate checks that the problem is consistent with set.
func (p *Problem) Validate(set *atoms.Set) error {
	if p.Cloud == nil {
		return fmt.Errorf("%w: problem has no point cloud", ErrInvalidArgument)
	}
	for t, tgt := range p.Targets {
		if len(tgt) != p.Cloud.Len() {
			return fmt.Errorf("%w: target %d has %d values for %d points", ErrInvalidArgument, t, len(tgt), p.Cloud.Len())
		}
	}
	if p.TargetOf != nil && len(p.TargetOf) != len(p.Radii) {
		return fmt.Errorf("%w: %d target mappings for %d channels", ErrInvalidArgument, len(p.TargetOf), len(p.Radii))
	}
	for c := range p.Radii {
		if t := p.Target(c); t < 0 || t >= len(p.Targets) {
			return fmt.Errorf("%w: channel %d maps to missing target %d", ErrInvalidArgument, c, t)
		}
	}
	if set == nil {
		return nil
	}
	if err := set.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	for i, c := range set.Channel {
		if c < 0 || c >= len(p.Radii) {
			return fmt.Errorf("%w: atom %d has unknown channel %d", ErrInvalidArgument, i, c)
		}
	}
	return nil
}

// Predict renders atoms at pos with the given channels into one density
// slice per target.
func (p *Problem) Predict(pos []r3.Vec, channels []int) [][]float64 {
	pred := make([][]float64, len(p.Targets))
	for t := range pred {
		pred[t] = make([]float64, p.Cloud.Len())
	}
	for j, x := range pos {
		radius := p.Radii[channels[j]]
		out := pred[p.Target(channels[j])]
		p.Cloud.Within(x, density.Cutoff(radius, p.RadiusMultiple), func(i int) {
			out[i] += density.Density(x, radius, p.Cloud.Points[i], p.RadiusMultiple)
		})
	}
	return pred
}

// L2 returns ½Σ(pred − target)² over every point and target.
func (p *Problem) L2(pred [][]float64) float64 {
	var sum float64
	for t, tgt := range p.Targets {
		for i, v := range tgt {
			d := pred[t][i] - v
			sum += d * d
		}
	}
	return sum / 2
}

// Residual returns target − pred for every target.
func (p *Problem) Residual(pred [][]float64) [][]float64 {
	out := make([][]float64, len(p.Targets))
	for t, tgt := range p.Targets {
		out[t] = make([]float64, len(tgt))
		for i, v := range tgt {
			out[t][i] = v - pred[t][i]
		}
	}
	return out
}

// Threshold returns a problem restricted to points where any target is
// above thr, plus the original index of each kept point.
func (p *Problem) Threshold(thr float64) (*Problem, []int) {
	keep := make([]bool, p.Cloud.Len())
	for _, tgt := range p.Targets {
		for i, v := range tgt {
			if v > thr {
				keep[i] = true
			}
		}
	}
	cloud, idx := p.Cloud.Filter(keep)
	out := *p
	out.Cloud = cloud
	out.Targets = make([][]float64, len(p.Targets))
	for t, tgt := range p.Targets {
		out.Targets[t] = make([]float64, len(idx))
		for k, i := range idx {
			out.Targets[t][k] = tgt[i]
		}
	}
	return &out, idx
}

// Result is the outcome of one Fit call.
type Result struct {
	Set *atoms.Set

	// Predicted is the final rendered density per target.
	Predicted [][]float64

	// Loss is the L2-plus-energy loss for gradient descent, or the chosen
	// goodness-of-fit criterion for the mixture model.
	Loss float64

	Iterations int

	// Trace is the loss (GD) or expected log-likelihood (GMM) after each
	// accepted iteration, starting with the initial state.
	Trace []float64
}
