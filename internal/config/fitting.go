package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/atomfit/internal/fit"
)

// DefaultConfigPath is the path to the canonical fitting defaults file.
const DefaultConfigPath = "config/fitting.defaults.json"

// Fit modes.
const (
	ModeGradientDescent = "gd"
	ModeGMM             = "gmm"
)

// FittingConfig holds every recognised fitting option. Nil fields fall
// back to the defaults returned by the Get* accessors, so partial files are
// safe.
type FittingConfig struct {
	// Optimiser
	FitMode      *string  `json:"fit_mode,omitempty"` // "gd" or "gmm"
	MaxIter      *int     `json:"max_iter,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	Momentum     *float64 `json:"momentum,omitempty"`
	LambdaE      *float64 `json:"lambda_e,omitempty"`

	// Mixture model only
	NoiseModel   *string `json:"noise_model,omitempty"`   // "", "d" or "p"
	GOFCriterion *string `json:"gof_criterion,omitempty"` // "nll", "aic" or "L2"

	// Grid preprocessing
	DensityThreshold *float64 `json:"density_threshold,omitempty"`
	CombineChannels  *bool    `json:"combine_channels,omitempty"`
	DeconvGrids      *bool    `json:"deconv_grids,omitempty"`
	ScaleGrids       *float64 `json:"scale_grids,omitempty"`
	NoiseRatio       *float64 `json:"noise_ratio,omitempty"`
	RadiusFactor     *float64 `json:"radius_factor,omitempty"`
	RadiusMultiple   *float64 `json:"radius_multiple,omitempty"`

	// Search
	DeconvFit    *bool    `json:"deconv_fit,omitempty"`
	Greedy       *bool    `json:"greedy,omitempty"`
	Bonded       *bool    `json:"bonded,omitempty"`
	MaxInitBondE *float64 `json:"max_init_bond_e,omitempty"`
	ExactCounts  *bool    `json:"exact_counts,omitempty"`
	FineTune     *bool    `json:"fine_tune,omitempty"`
	Parallel     *bool    `json:"parallel,omitempty"`
	Diagnostic   *bool    `json:"diagnostic,omitempty"`
	Verbose      *int     `json:"verbose,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyFittingConfig returns a FittingConfig with all fields nil.
func EmptyFittingConfig() *FittingConfig {
	return &FittingConfig{}
}

// DefaultFittingConfig returns a config with every field set to its
// default value.
func DefaultFittingConfig() *FittingConfig {
	c := EmptyFittingConfig()
	return &FittingConfig{
		FitMode:          ptrString(c.GetFitMode()),
		MaxIter:          ptrInt(c.GetMaxIter()),
		LearningRate:     ptrFloat64(c.GetLearningRate()),
		Momentum:         ptrFloat64(c.GetMomentum()),
		LambdaE:          ptrFloat64(c.GetLambdaE()),
		NoiseModel:       ptrString(c.GetNoiseModel()),
		GOFCriterion:     ptrString(c.GetGOFCriterion()),
		DensityThreshold: ptrFloat64(c.GetDensityThreshold()),
		CombineChannels:  ptrBool(c.GetCombineChannels()),
		DeconvGrids:      ptrBool(c.GetDeconvGrids()),
		ScaleGrids:       ptrFloat64(c.GetScaleGrids()),
		NoiseRatio:       ptrFloat64(c.GetNoiseRatio()),
		RadiusFactor:     ptrFloat64(c.GetRadiusFactor()),
		RadiusMultiple:   ptrFloat64(c.GetRadiusMultiple()),
		DeconvFit:        ptrBool(c.GetDeconvFit()),
		Greedy:           ptrBool(c.GetGreedy()),
		Bonded:           ptrBool(c.GetBonded()),
		MaxInitBondE:     ptrFloat64(c.GetMaxInitBondE()),
		ExactCounts:      ptrBool(c.GetExactCounts()),
		FineTune:         ptrBool(c.GetFineTune()),
		Parallel:         ptrBool(c.GetParallel()),
		Diagnostic:       ptrBool(c.GetDiagnostic()),
		Verbose:          ptrInt(c.GetVerbose()),
	}
}

// LoadFittingConfig loads a FittingConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadFittingConfig(path string) (*FittingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFittingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *FittingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFittingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks individual values and the combinations the fitters
// cannot honour. Failures wrap fit.ErrInvalidArgument.
func (c *FittingConfig) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", fit.ErrInvalidArgument, fmt.Sprintf(format, args...))
	}

	mode := c.GetFitMode()
	if mode != ModeGradientDescent && mode != ModeGMM {
		return invalid("fit_mode must be %q or %q, got %q", ModeGradientDescent, ModeGMM, mode)
	}
	noise, err := fit.ParseNoiseModel(c.GetNoiseModel())
	if err != nil {
		return err
	}
	if _, err := fit.ParseCriterion(c.GetGOFCriterion()); err != nil {
		return err
	}
	if mode == ModeGradientDescent && noise != fit.NoiseNone {
		return invalid("noise_model %q requires fit_mode %q", c.GetNoiseModel(), ModeGMM)
	}
	if c.GetMaxIter() < 0 {
		return invalid("max_iter must be non-negative, got %d", c.GetMaxIter())
	}
	if c.GetLearningRate() <= 0 {
		return invalid("learning_rate must be positive, got %f", c.GetLearningRate())
	}
	if m := c.GetMomentum(); m < 0 || m >= 1 {
		return invalid("momentum must be in [0, 1), got %f", m)
	}
	if c.GetNoiseRatio() < 0 {
		return invalid("noise_ratio must be non-negative, got %f", c.GetNoiseRatio())
	}
	if c.GetRadiusFactor() <= 0 {
		return invalid("radius_factor must be positive, got %f", c.GetRadiusFactor())
	}
	if c.GetRadiusMultiple() <= 0 {
		return invalid("radius_multiple must be positive, got %f", c.GetRadiusMultiple())
	}
	if c.GetBonded() {
		if c.GetExactCounts() {
			return invalid("exact_counts cannot be combined with bonded search")
		}
		if mode == ModeGMM && noise == fit.NoiseNone {
			return invalid("bonded GMM search needs a noise model")
		}
		if c.GetMaxInitBondE() <= 0 {
			return invalid("max_init_bond_e must be positive, got %f", c.GetMaxInitBondE())
		}
	}
	return nil
}

// GetFitMode returns the fit_mode value or the default.
func (c *FittingConfig) GetFitMode() string {
	if c.FitMode == nil {
		return ModeGradientDescent
	}
	return *c.FitMode
}

// GetMaxIter returns the max_iter value or the default.
func (c *FittingConfig) GetMaxIter() int {
	if c.MaxIter == nil {
		return 1000
	}
	return *c.MaxIter
}

// GetLearningRate returns the learning_rate value or the default.
func (c *FittingConfig) GetLearningRate() float64 {
	if c.LearningRate == nil {
		return fit.DefaultLearningRate
	}
	return *c.LearningRate
}

// GetMomentum returns the momentum value or the default.
func (c *FittingConfig) GetMomentum() float64 {
	if c.Momentum == nil {
		return fit.DefaultMomentum
	}
	return *c.Momentum
}

// GetLambdaE returns the lambda_e value or the default.
func (c *FittingConfig) GetLambdaE() float64 {
	if c.LambdaE == nil {
		return 0
	}
	return *c.LambdaE
}

// GetNoiseModel returns the noise_model value or the default.
func (c *FittingConfig) GetNoiseModel() string {
	if c.NoiseModel == nil {
		return ""
	}
	return *c.NoiseModel
}

// GetGOFCriterion returns the gof_criterion value or the default.
func (c *FittingConfig) GetGOFCriterion() string {
	if c.GOFCriterion == nil {
		return string(fit.CriterionNLL)
	}
	return *c.GOFCriterion
}

// GetDensityThreshold returns the density_threshold value or the default.
func (c *FittingConfig) GetDensityThreshold() float64 {
	if c.DensityThreshold == nil {
		return 0
	}
	return *c.DensityThreshold
}

// GetCombineChannels returns the combine_channels value or the default.
func (c *FittingConfig) GetCombineChannels() bool {
	if c.CombineChannels == nil {
		return false
	}
	return *c.CombineChannels
}

// GetDeconvGrids returns the deconv_grids value or the default.
func (c *FittingConfig) GetDeconvGrids() bool {
	if c.DeconvGrids == nil {
		return false
	}
	return *c.DeconvGrids
}

// GetScaleGrids returns the scale_grids value or the default.
func (c *FittingConfig) GetScaleGrids() float64 {
	if c.ScaleGrids == nil {
		return 1
	}
	return *c.ScaleGrids
}

// GetNoiseRatio returns the noise_ratio value or the default.
func (c *FittingConfig) GetNoiseRatio() float64 {
	if c.NoiseRatio == nil {
		return 1
	}
	return *c.NoiseRatio
}

// GetRadiusFactor returns the radius_factor value or the default.
func (c *FittingConfig) GetRadiusFactor() float64 {
	if c.RadiusFactor == nil {
		return 1
	}
	return *c.RadiusFactor
}

// GetRadiusMultiple returns the radius_multiple value or the default.
func (c *FittingConfig) GetRadiusMultiple() float64 {
	if c.RadiusMultiple == nil {
		return 1.5
	}
	return *c.RadiusMultiple
}

// GetDeconvFit returns the deconv_fit value or the default.
func (c *FittingConfig) GetDeconvFit() bool {
	if c.DeconvFit == nil {
		return false
	}
	return *c.DeconvFit
}

// GetGreedy returns the greedy value or the default.
func (c *FittingConfig) GetGreedy() bool {
	if c.Greedy == nil {
		return false
	}
	return *c.Greedy
}

// GetBonded returns the bonded value or the default.
func (c *FittingConfig) GetBonded() bool {
	if c.Bonded == nil {
		return false
	}
	return *c.Bonded
}

// GetMaxInitBondE returns the max_init_bond_e value or the default.
func (c *FittingConfig) GetMaxInitBondE() float64 {
	if c.MaxInitBondE == nil {
		return 0.5
	}
	return *c.MaxInitBondE
}

// GetExactCounts returns the exact_counts value or the default.
func (c *FittingConfig) GetExactCounts() bool {
	if c.ExactCounts == nil {
		return false
	}
	return *c.ExactCounts
}

// GetFineTune returns the fine_tune value or the default.
func (c *FittingConfig) GetFineTune() bool {
	if c.FineTune == nil {
		return false
	}
	return *c.FineTune
}

// GetParallel returns the parallel value or the default.
func (c *FittingConfig) GetParallel() bool {
	if c.Parallel == nil {
		return false
	}
	return *c.Parallel
}

// GetDiagnostic returns the diagnostic value or the default.
func (c *FittingConfig) GetDiagnostic() bool {
	if c.Diagnostic == nil {
		return false
	}
	return *c.Diagnostic
}

// GetVerbose returns the verbose value or the default.
func (c *FittingConfig) GetVerbose() int {
	if c.Verbose == nil {
		return 0
	}
	return *c.Verbose
}
