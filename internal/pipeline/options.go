package pipeline

import (
	"fmt"

	"github.com/banshee-data/atomfit/internal/config"
	"github.com/banshee-data/atomfit/internal/fit"
)

// Options is the validated form of a fitting request.
type Options struct {
	GMM          bool
	MaxIter      int
	LearningRate float64
	Momentum     float64
	LambdaE      float64
	Noise        fit.NoiseModel
	Criterion    fit.Criterion

	DensityThreshold float64
	CombineChannels  bool
	DeconvGrids      bool
	ScaleGrids       float64
	NoiseRatio       float64
	RadiusFactor     float64
	RadiusMultiple   float64

	DeconvFit    bool
	Greedy       bool
	Bonded       bool
	MaxInitBondE float64
	ExactCounts  bool
	FineTune     bool
	Parallel     bool
	Diagnostic   bool
	Verbose      int
}

// OptionsFromConfig validates cfg and resolves its defaults.
func OptionsFromConfig(cfg *config.FittingConfig) (Options, error) {
	if cfg == nil {
		cfg = config.EmptyFittingConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	noise, err := fit.ParseNoiseModel(cfg.GetNoiseModel())
	if err != nil {
		return Options{}, err
	}
	criterion, err := fit.ParseCriterion(cfg.GetGOFCriterion())
	if err != nil {
		return Options{}, err
	}
	return Options{
		GMM:              cfg.GetFitMode() == config.ModeGMM,
		MaxIter:          cfg.GetMaxIter(),
		LearningRate:     cfg.GetLearningRate(),
		Momentum:         cfg.GetMomentum(),
		LambdaE:          cfg.GetLambdaE(),
		Noise:            noise,
		Criterion:        criterion,
		DensityThreshold: cfg.GetDensityThreshold(),
		CombineChannels:  cfg.GetCombineChannels(),
		DeconvGrids:      cfg.GetDeconvGrids(),
		ScaleGrids:       cfg.GetScaleGrids(),
		NoiseRatio:       cfg.GetNoiseRatio(),
		RadiusFactor:     cfg.GetRadiusFactor(),
		RadiusMultiple:   cfg.GetRadiusMultiple(),
		DeconvFit:        cfg.GetDeconvFit(),
		Greedy:           cfg.GetGreedy(),
		Bonded:           cfg.GetBonded(),
		MaxInitBondE:     cfg.GetMaxInitBondE(),
		ExactCounts:      cfg.GetExactCounts(),
		FineTune:         cfg.GetFineTune(),
		Parallel:         cfg.GetParallel(),
		Diagnostic:       cfg.GetDiagnostic(),
		Verbose:          cfg.GetVerbose(),
	}, nil
}

// validate repeats the cross-field checks for options built by hand.
func (o Options) validate() error {
	if !o.GMM && o.Noise != fit.NoiseNone {
		return fmt.Errorf("%w: noise model %q requires the mixture fitter", fit.ErrInvalidArgument, o.Noise)
	}
	if o.Bonded && o.ExactCounts {
		return fmt.Errorf("%w: exact atom counts cannot be combined with bonded search", fit.ErrInvalidArgument)
	}
	if o.Bonded && o.GMM && o.Noise == fit.NoiseNone {
		return fmt.Errorf("%w: bonded mixture search needs a noise model", fit.ErrInvalidArgument)
	}
	if o.RadiusFactor <= 0 || o.RadiusMultiple <= 0 {
		return fmt.Errorf("%w: radius factor and multiple must be positive", fit.ErrInvalidArgument)
	}
	if o.NoiseRatio < 0 {
		return fmt.Errorf("%w: negative noise ratio %g", fit.ErrInvalidArgument, o.NoiseRatio)
	}
	return nil
}

// fitter builds the configured local optimiser. noiseInit seeds the
// mixture noise component per target and is ignored for gradient descent.
func (o Options) fitter(noiseInit []fit.NoiseParams) fit.Fitter {
	if o.GMM {
		return &fit.GMM{
			MaxIter:   o.MaxIter,
			Noise:     o.Noise,
			Criterion: o.Criterion,
			NoiseInit: noiseInit,
			Verbose:   o.Verbose,
		}
	}
	return o.descent()
}

func (o Options) descent() *fit.GradientDescent {
	return &fit.GradientDescent{
		MaxIter:      o.MaxIter,
		LearningRate: o.LearningRate,
		Momentum:     o.Momentum,
		LambdaE:      o.LambdaE,
		Verbose:      o.Verbose,
	}
}
