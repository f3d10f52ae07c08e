package fit

import (
	"fmt"

	"github.com/banshee-data/atomfit/internal/atoms"
	"github.com/banshee-data/atomfit/internal/density"
	"github.com/banshee-data/atomfit/internal/monitoring"
	"gonum.org/v1/gonum/spatial/r3"
)

// Default gradient descent parameters.
const (
	DefaultLearningRate = 0.01
	DefaultMomentum     = 0.9
)

// GradientDescent fits atoms by momentum gradient descent on
// ½Σ(pred − target)² + Σ_bonds BondEnergy(d, ideal, LambdaE).
type GradientDescent struct {
	MaxIter      int
	LearningRate float64
	Momentum     float64
	LambdaE      float64
	Verbose      int
}

// NewGradientDescent returns a fitter with the default step parameters.
func NewGradientDescent(maxIter int) *GradientDescent {
	return &GradientDescent{
		MaxIter:      maxIter,
		LearningRate: DefaultLearningRate,
		Momentum:     DefaultMomentum,
	}
}

// Name implements Fitter.
func (gd *GradientDescent) Name() string { return "gd" }

// Fit implements Fitter.
//
// Each iteration takes velocity = mo·velocity + (1−mo)·gradient and moves
// positions by −lr·velocity. Iteration stops once the loss improves by no
// more than 1e-3, after MaxIter steps, or immediately for an empty set. A
// step that raises the loss is discarded.
func (gd *GradientDescent) Fit(p *Problem, init *atoms.Set) (*Result, error) {
	if err := p.Validate(init); err != nil {
		return nil, err
	}
	if gd.Momentum < 0 || gd.Momentum >= 1 {
		return nil, fmt.Errorf("%w: momentum must be in [0, 1), got %g", ErrInvalidArgument, gd.Momentum)
	}
	if gd.LearningRate <= 0 {
		return nil, fmt.Errorf("%w: learning rate must be positive, got %g", ErrInvalidArgument, gd.LearningRate)
	}

	n := init.Len()
	pos := append([]r3.Vec(nil), init.Pos...)
	pairs := init.Bonds.Pairs()

	pred := p.Predict(pos, init.Channel)
	loss := gd.loss(p, pos, pairs, pred)
	res := &Result{Trace: []float64{loss}}

	if n > 0 {
		vel := make([]r3.Vec, n)
		next := make([]r3.Vec, n)
		nextVel := make([]r3.Vec, n)
		mo := gd.Momentum

		for res.Iterations < gd.MaxIter {
			grad := gd.gradient(p, pos, init.Channel, pairs, pred)
			for j := range pos {
				nextVel[j] = r3.Add(r3.Scale(mo, vel[j]), r3.Scale(1-mo, grad[j]))
				next[j] = r3.Sub(pos[j], r3.Scale(gd.LearningRate, nextVel[j]))
			}
			nextPred := p.Predict(next, init.Channel)
			nextLoss := gd.loss(p, next, pairs, nextPred)
			res.Iterations++

			if nextLoss > loss {
				if gd.Verbose > 2 {
					monitoring.Logf("[fit] gd iteration = %d, loss rose to %.6f, keeping %.6f", res.Iterations, nextLoss, loss)
				}
				break
			}
			delta := nextLoss - loss
			pos, next = next, pos
			vel, nextVel = nextVel, vel
			pred, loss = nextPred, nextLoss
			res.Trace = append(res.Trace, loss)

			if gd.Verbose > 2 {
				monitoring.Logf("[fit] gd iteration = %d, loss = %.6f (%.6f)", res.Iterations, loss, delta)
			}
			if delta > -convergenceTol {
				break
			}
		}
	}

	res.Set = init.WithPositions(pos)
	res.Predicted = pred
	res.Loss = loss
	return res, nil
}

func (gd *GradientDescent) loss(p *Problem, pos []r3.Vec, pairs []atoms.Pair, pred [][]float64) float64 {
	loss := p.L2(pred)
	if gd.LambdaE != 0 {
		for _, b := range pairs {
			d := r3.Norm(r3.Sub(pos[b.I], pos[b.J]))
			loss += density.BondEnergy(d, b.Ideal, gd.LambdaE)
		}
	}
	return loss
}

func (gd *GradientDescent) gradient(p *Problem, pos []r3.Vec, channels []int, pairs []atoms.Pair, pred [][]float64) []r3.Vec {
	grad := make([]r3.Vec, len(pos))
	for j, x := range pos {
		radius := p.Radii[channels[j]]
		t := p.Target(channels[j])
		tgt, out := p.Targets[t], pred[t]
		var g r3.Vec
		p.Cloud.Within(x, density.Cutoff(radius, p.RadiusMultiple), func(i int) {
			r := out[i] - tgt[i]
			if r == 0 {
				return
			}
			g = r3.Add(g, r3.Scale(r, density.Gradient(x, radius, p.Cloud.Points[i], p.RadiusMultiple)))
		})
		grad[j] = g
	}
	if gd.LambdaE != 0 {
		for _, b := range pairs {
			g := density.BondGradient(pos[b.I], pos[b.J], b.Ideal, gd.LambdaE)
			grad[b.I] = r3.Add(grad[b.I], g)
			grad[b.J] = r3.Sub(grad[b.J], g)
		}
	}
	return grad
}

var _ Fitter = (*GradientDescent)(nil)
