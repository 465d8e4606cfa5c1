// Package config provides configuration loading and management for mrregister.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mrregister/internal/logger"
	"mrregister/pkg/metric"
	"mrregister/pkg/optim"
	"mrregister/pkg/registration"
	"mrregister/pkg/transform"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// Transform is the transform model: rigid or affine
		Transform string `yaml:"transform"`

		// Metric is the similarity measure: mse, ncc or lncc
		Metric string `yaml:"metric"`

		// Strategy selects symmetric (midway space) or nonsymmetric registration
		Strategy string `yaml:"strategy"`

		// InitType is how the transform is initialised: mass, geometric or none
		InitType string `yaml:"initType"`

		// ScaleFactor lists the resampling factor of each level, coarse to fine
		ScaleFactor []float64 `yaml:"scaleFactor"`

		// MaxIter is the iteration budget of each level, or one value for all
		MaxIter []int `yaml:"maxIter"`

		// Sparsity is the fraction of voxels sampled per level (0 means all)
		Sparsity []float64 `yaml:"sparsity"`

		// SmoothFactor scales the smoothing applied at every level
		SmoothFactor float64 `yaml:"smoothFactor"`

		// KernelExtent is the neighbourhood size of local metrics
		KernelExtent []int `yaml:"kernelExtent"`

		// RegressionPolicy is accept or revert
		RegressionPolicy string `yaml:"regressionPolicy"`
	} `yaml:"registration"`

	// Optimiser parameters
	Optimiser struct {
		// Algorithm is gd (gradient descent) or lbfgs
		Algorithm string `yaml:"algorithm"`

		// GradTolerance stops a level when the gradient norm falls below it
		GradTolerance float64 `yaml:"gradTolerance"`

		// StepTolerance stops a level when the step length falls below it
		StepTolerance float64 `yaml:"stepTolerance"`

		// LogFile receives one line per optimizer iteration if set
		LogFile string `yaml:"logFile"`
	} `yaml:"optimiser"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Seed fixes the voxel subsets drawn when sparsity is used
		Seed int64 `yaml:"seed"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// SaveResliced writes the moving image resliced onto the fixed grid
		SaveResliced bool `yaml:"saveResliced"`

		// DebugDir receives the working images of every level if set
		DebugDir string `yaml:"debugDir"`

		// Verbose adds debug messages to the per-level progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.Transform = "affine"
	cfg.Registration.Metric = "mse"
	cfg.Registration.Strategy = "symmetric"
	cfg.Registration.InitType = "mass"
	cfg.Registration.ScaleFactor = []float64{0.5, 1.0}
	cfg.Registration.MaxIter = []int{300}
	cfg.Registration.Sparsity = []float64{0.0}
	cfg.Registration.SmoothFactor = 1.0
	cfg.Registration.KernelExtent = []int{1, 1, 1}
	cfg.Registration.RegressionPolicy = "accept"

	// Set default optimiser parameters
	cfg.Optimiser.Algorithm = "gd"
	cfg.Optimiser.GradTolerance = 1e-6
	cfg.Optimiser.StepTolerance = 1e-10

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Seed = 0

	// Set default output parameters
	cfg.Output.SaveResliced = true
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// LogLevel is the logging threshold of a run. Progress messages are shown by
// default; Verbose adds debug output.
func (cfg *Config) LogLevel() logger.LogLevel {
	if cfg.Output.Verbose {
		return logger.LogDebug
	}
	return logger.LogInfo
}

// Apply configures a registration driver. The first invalid value is
// returned as a registration configuration error.
func (cfg *Config) Apply(r *registration.Linear) error {
	reg := cfg.Registration

	strategy, err := registration.ParseStrategy(reg.Strategy)
	if err != nil {
		return err
	}
	initType, err := registration.ParseInitType(reg.InitType)
	if err != nil {
		return err
	}
	policy, err := registration.ParseRegressionPolicy(reg.RegressionPolicy)
	if err != nil {
		return err
	}

	for _, set := range []func() error{
		func() error { return r.SetScaleFactor(reg.ScaleFactor) },
		func() error { return r.SetMaxIter(reg.MaxIter) },
		func() error { return r.SetSparsity(reg.Sparsity) },
		func() error { return r.SetSmoothingFactor(reg.SmoothFactor) },
		func() error { return r.SetExtent(reg.KernelExtent) },
		func() error { return r.SetStrategy(strategy) },
		func() error { return r.SetInitType(initType) },
		func() error { return r.SetRegressionPolicy(policy) },
		func() error { return r.SetGradTolerance(cfg.Optimiser.GradTolerance) },
		func() error { return r.SetStepTolerance(cfg.Optimiser.StepTolerance) },
	} {
		if err := set(); err != nil {
			return err
		}
	}

	opt, err := cfg.NewOptimizer()
	if err != nil {
		return err
	}
	r.SetOptimizer(opt)
	r.SetNumWorkers(cfg.Processing.NumCores)
	r.SetSeed(cfg.Processing.Seed)
	r.SetDebugDir(cfg.Output.DebugDir)
	return nil
}

// NewTransform returns an identity transform of the configured type
func (cfg *Config) NewTransform() (*transform.Linear, error) {
	kind, err := transform.ParseKind(cfg.Registration.Transform)
	if err != nil {
		return nil, err
	}
	return transform.New(kind)
}

// NewMetric returns the configured similarity metric
func (cfg *Config) NewMetric() (metric.Metric, error) {
	return metric.New(cfg.Registration.Metric)
}

// NewOptimizer returns the configured optimizer. lbfgs only works with
// affine transforms.
func (cfg *Config) NewOptimizer() (optim.Optimizer, error) {
	switch cfg.Optimiser.Algorithm {
	case "gd", "":
		return optim.NewGradientDescent(), nil
	case "lbfgs":
		if cfg.Registration.Transform != "affine" {
			return nil, fmt.Errorf("the lbfgs optimiser needs an affine transform, got %s", cfg.Registration.Transform)
		}
		return &optim.LBFGS{}, nil
	}
	return nil, fmt.Errorf("unknown optimiser %q (want gd or lbfgs)", cfg.Optimiser.Algorithm)
}
