package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mrregister/internal/logger"
	"mrregister/pkg/metric"
	"mrregister/pkg/optim"
	"mrregister/pkg/registration"
	"mrregister/pkg/transform"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, []float64{0.5, 1.0}, cfg.Registration.ScaleFactor)
	assert.Equal(t, []int{300}, cfg.Registration.MaxIter)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Registration.Transform = "rigid"
	cfg.Registration.ScaleFactor = []float64{0.25, 0.5, 1}
	cfg.Registration.Sparsity = []float64{0.1, 0.2, 0}
	cfg.Output.DebugDir = "debug"
	require.NoError(t, SaveConfig(cfg, path))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadPartialFileKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "registration:\n  metric: ncc\n  maxIter: [100, 50]\noptimiser:\n  algorithm: lbfgs\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ncc", cfg.Registration.Metric)
	assert.Equal(t, []int{100, 50}, cfg.Registration.MaxIter)
	assert.Equal(t, "affine", cfg.Registration.Transform)
	assert.Equal(t, "lbfgs", cfg.Optimiser.Algorithm)
	assert.Equal(t, 1e-6, cfg.Optimiser.GradTolerance)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registration: [unclosed"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestApply(t *testing.T) {
	cfg := DefaultConfig()
	r := registration.NewLinear()
	require.NoError(t, cfg.Apply(r))

	cfg.Registration.ScaleFactor = []float64{0.5, 2}
	err := cfg.Apply(r)
	assert.True(t, errors.Is(err, registration.ErrConfig))

	cfg = DefaultConfig()
	cfg.Registration.Strategy = "sideways"
	err = cfg.Apply(r)
	assert.True(t, errors.Is(err, registration.ErrConfig))

	cfg = DefaultConfig()
	cfg.Registration.Sparsity = []float64{2}
	err = cfg.Apply(r)
	assert.True(t, errors.Is(err, registration.ErrConfig))
}

func TestFactories(t *testing.T) {
	cfg := DefaultConfig()

	tr, err := cfg.NewTransform()
	require.NoError(t, err)
	assert.Equal(t, transform.KindAffine, tr.Kind())

	m, err := cfg.NewMetric()
	require.NoError(t, err)
	assert.IsType(t, metric.MeanSquared{}, m)

	opt, err := cfg.NewOptimizer()
	require.NoError(t, err)
	assert.IsType(t, &optim.GradientDescent{}, opt)

	cfg.Optimiser.Algorithm = "lbfgs"
	opt, err = cfg.NewOptimizer()
	require.NoError(t, err)
	assert.IsType(t, &optim.LBFGS{}, opt)

	cfg.Registration.Transform = "rigid"
	_, err = cfg.NewOptimizer()
	assert.Error(t, err)

	cfg.Optimiser.Algorithm = "newton"
	_, err = cfg.NewOptimizer()
	assert.Error(t, err)

	cfg.Registration.Transform = "bspline"
	_, err = cfg.NewTransform()
	assert.Error(t, err)

	cfg.Registration.Metric = "mi"
	_, err = cfg.NewMetric()
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, logger.LogInfo, cfg.LogLevel(), "progress messages must be shown by default")

	cfg.Output.Verbose = true
	assert.Equal(t, logger.LogDebug, cfg.LogLevel())
}
