// Package registration drives multi-resolution linear registration of two
// 3-D images. A Linear driver holds the per-level schedule, initialises the
// transform, optionally builds a midway space in which both images are
// compared symmetrically, and then runs one optimisation per resolution
// level, coarse to fine, folding each result back into the transform before
// the next level starts.
package registration

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"mrregister/internal/logger"
	"mrregister/internal/models"
	"mrregister/internal/workerpool"
	"mrregister/pkg/filter"
	"mrregister/pkg/metric"
	"mrregister/pkg/optim"
	"mrregister/pkg/transform"
	"mrregister/pkg/volume"
)

// Transform is the transform optimised by the driver. *transform.Linear
// implements it.
type Transform interface {
	metric.Transform
	transform.Initialisable

	SetParameters(x []float64) error
	OptimiserWeights() []float64
	Updater() optim.Updater
}

// SymmetricTransform is a Transform that can move each image half way. The
// symmetric strategy requires it.
type SymmetricTransform interface {
	Transform
	Half() volume.Affine
	HalfInverse() (volume.Affine, error)
}

// midwayResolution scales the mean voxel size of the inputs to give the
// voxel size of the midway space
const midwayResolution = 1.0

// Linear is the multi-resolution registration driver. Configure it with the
// Set* methods, which reject invalid values immediately, then call one of the
// Run methods. A Linear must not be used by several runs at once.
type Linear struct {
	// maxIter is the iteration budget per level, or one value for all levels
	maxIter []int

	// scaleFactor is the resampling factor of each level, coarse to fine
	scaleFactor []float64

	// sparsity is the fraction of voxels sampled per level (0 means all)
	sparsity []float64

	// smoothFactor sets the smoothing stdev smoothFactor/(2·scale) in mm
	smoothFactor float64

	// kernelExtent is the neighbourhood size used by local metrics
	kernelExtent []int

	gradTolerance float64
	stepTolerance float64

	// logStream receives the optimizer diagnostics, one line per iteration
	logStream io.Writer

	initType   InitType
	directions *mat.Dense
	strategy   Strategy
	regression RegressionPolicy
	seed       int64

	// debugDir, when set, receives the working images of every level and the
	// final half transforms
	debugDir string

	optimizer optim.Optimizer
	log       logger.ILogger
	pool      *workerpool.Pool
	observer  LevelObserver

	summaries []models.LevelSummary
}

// NewLinear returns a driver with the default schedule: two levels at scale
// 0.5 and 1, 300 iterations each, no sparsity, smoothing factor 1 and
// centre of mass initialisation
func NewLinear() *Linear {
	return &Linear{
		maxIter:       []int{300},
		scaleFactor:   []float64{0.5, 1},
		sparsity:      []float64{0},
		smoothFactor:  1,
		kernelExtent:  []int{1, 1, 1},
		gradTolerance: 1e-6,
		stepTolerance: 1e-10,
		initType:      InitMass,
		strategy:      StrategySymmetric,
		regression:    RegressionAccept,
		optimizer:     optim.NewGradientDescent(),
		log:           &logger.NullLogger{},
	}
}

func checkMaxIter(maxIter []int) error {
	if len(maxIter) == 0 {
		return configErrorf("the max number of iterations needs to be defined for each multi-resolution level")
	}
	for _, n := range maxIter {
		if n <= 0 {
			return configErrorf("the number of iterations must be positive")
		}
	}
	return nil
}

func checkScaleFactor(scale []float64) error {
	if len(scale) == 0 {
		return configErrorf("at least one multi-resolution level is needed")
	}
	for _, s := range scale {
		if !(s > 0 && s <= 1) {
			return configErrorf("the scale factor for each multi-resolution level must be between 0 and 1")
		}
	}
	return nil
}

func checkSparsity(sparsity []float64) error {
	if len(sparsity) == 0 {
		return configErrorf("the sparsity level needs to be defined for each multi-resolution level")
	}
	for _, s := range sparsity {
		if !(s >= 0 && s <= 1) {
			return configErrorf("sparsity must be between 0.0 and 1.0")
		}
	}
	return nil
}

func checkExtent(extent []int) error {
	if len(extent) != 1 && len(extent) != 3 {
		return configErrorf("the neighborhood kernel extent needs 1 or 3 values, got %d", len(extent))
	}
	for _, e := range extent {
		if e < 1 {
			return configErrorf("the neighborhood kernel extent must be at least 1 voxel")
		}
	}
	return nil
}

// SetMaxIter sets the iteration budget of each level. A single value applies
// to every level.
func (r *Linear) SetMaxIter(maxIter []int) error {
	if err := checkMaxIter(maxIter); err != nil {
		return err
	}
	r.maxIter = append([]int(nil), maxIter...)
	return nil
}

// SetScaleFactor sets the resampling factor of each level, coarse to fine.
// The number of values defines the number of levels.
func (r *Linear) SetScaleFactor(scale []float64) error {
	if err := checkScaleFactor(scale); err != nil {
		return err
	}
	r.scaleFactor = append([]float64(nil), scale...)
	return nil
}

// SetSparsity sets the fraction of voxels sampled at each level
func (r *Linear) SetSparsity(sparsity []float64) error {
	if err := checkSparsity(sparsity); err != nil {
		return err
	}
	r.sparsity = append([]float64(nil), sparsity...)
	return nil
}

// SetSmoothingFactor sets the smoothing applied at every level
func (r *Linear) SetSmoothingFactor(f float64) error {
	if !(f >= 0) || math.IsInf(f, 0) {
		return configErrorf("the smoothing factor must be non-negative")
	}
	r.smoothFactor = f
	return nil
}

// SetExtent sets the neighbourhood extent of local metrics, one value for all
// axes or one per axis
func (r *Linear) SetExtent(extent []int) error {
	if err := checkExtent(extent); err != nil {
		return err
	}
	r.kernelExtent = append([]int(nil), extent...)
	return nil
}

// SetInitType selects how the transform is initialised
func (r *Linear) SetInitType(t InitType) error {
	switch t {
	case InitMass, InitGeometric, InitNone:
		r.initType = t
		return nil
	}
	return configErrorf("unknown initialisation type %d", int(t))
}

// SetTransformType is an alias of SetInitType
func (r *Linear) SetTransformType(t InitType) error {
	return r.SetInitType(t)
}

// SetDirections sets the orientation directions (3xN) handed to metrics that
// use them. nil clears them.
func (r *Linear) SetDirections(directions *mat.Dense) error {
	if directions == nil {
		r.directions = nil
		return nil
	}
	rows, _ := directions.Dims()
	if rows != 3 {
		return configErrorf("directions must have 3 rows, got %d", rows)
	}
	r.directions = mat.DenseCopyOf(directions)
	return nil
}

// SetGradTolerance sets the gradient norm below which a level stops
func (r *Linear) SetGradTolerance(tol float64) error {
	if !(tol >= 0) {
		return configErrorf("the gradient tolerance must be non-negative")
	}
	r.gradTolerance = tol
	return nil
}

// SetStepTolerance sets the step length below which a level stops
func (r *Linear) SetStepTolerance(tol float64) error {
	if !(tol >= 0) {
		return configErrorf("the step tolerance must be non-negative")
	}
	r.stepTolerance = tol
	return nil
}

// SetLogStream sets the writer receiving optimizer diagnostics. Two blank
// lines separate the levels. nil disables it.
func (r *Linear) SetLogStream(w io.Writer) {
	r.logStream = w
}

// SetStrategy selects symmetric or non-symmetric registration
func (r *Linear) SetStrategy(s Strategy) error {
	if s != StrategySymmetric && s != StrategyNonSymmetric {
		return configErrorf("unknown registration strategy %d", int(s))
	}
	r.strategy = s
	return nil
}

// SetRegressionPolicy decides whether a level that made the cost worse is
// kept
func (r *Linear) SetRegressionPolicy(p RegressionPolicy) error {
	if p != RegressionAccept && p != RegressionRevert {
		return configErrorf("unknown regression policy %d", int(p))
	}
	r.regression = p
	return nil
}

// SetSeed fixes the random voxel subsets used with sparsity
func (r *Linear) SetSeed(seed int64) {
	r.seed = seed
}

// SetDebugDir enables the debug dumps. An empty string disables them.
func (r *Linear) SetDebugDir(dir string) {
	r.debugDir = dir
}

// SetOptimizer replaces the default gradient descent
func (r *Linear) SetOptimizer(o optim.Optimizer) {
	if o == nil {
		o = optim.NewGradientDescent()
	}
	r.optimizer = o
}

// SetLogger sets the logger receiving progress messages
func (r *Linear) SetLogger(l logger.ILogger) {
	if l == nil {
		l = &logger.NullLogger{}
	}
	r.log = l
}

// SetNumWorkers sets the number of goroutines used by filters and metrics.
// n <= 0 uses GOMAXPROCS.
func (r *Linear) SetNumWorkers(n int) {
	r.pool = workerpool.New(n)
}

// SetObserver registers a function told about every stage of a run
func (r *Linear) SetObserver(o LevelObserver) {
	r.observer = o
}

// Summaries returns one summary per level of the last run
func (r *Linear) Summaries() []models.LevelSummary {
	return r.summaries
}

// runConfig is the per-run copy of the schedule with every per-level array
// broadcast to the number of levels
type runConfig struct {
	maxIter      []int
	scaleFactor  []float64
	sparsity     []float64
	kernelExtent []int
}

func (r *Linear) validate() (runConfig, error) {
	if err := checkScaleFactor(r.scaleFactor); err != nil {
		return runConfig{}, err
	}
	if err := checkMaxIter(r.maxIter); err != nil {
		return runConfig{}, err
	}
	if err := checkSparsity(r.sparsity); err != nil {
		return runConfig{}, err
	}
	if err := checkExtent(r.kernelExtent); err != nil {
		return runConfig{}, err
	}

	levels := len(r.scaleFactor)
	cfg := runConfig{
		scaleFactor:  append([]float64(nil), r.scaleFactor...),
		kernelExtent: append([]int(nil), r.kernelExtent...),
	}

	switch len(r.maxIter) {
	case 1:
		cfg.maxIter = make([]int, levels)
		for i := range cfg.maxIter {
			cfg.maxIter[i] = r.maxIter[0]
		}
	case levels:
		cfg.maxIter = append([]int(nil), r.maxIter...)
	default:
		return runConfig{}, configErrorf("the max number of iterations needs to be defined for each multi-resolution level")
	}

	switch len(r.sparsity) {
	case 1:
		cfg.sparsity = make([]float64, levels)
		for i := range cfg.sparsity {
			cfg.sparsity[i] = r.sparsity[0]
		}
	case levels:
		cfg.sparsity = append([]float64(nil), r.sparsity...)
	default:
		return runConfig{}, configErrorf("the sparsity level needs to be defined for each multi-resolution level")
	}
	return cfg, nil
}

func (r *Linear) notify(stage Stage, level int) {
	if r.observer != nil {
		r.observer(stage, level)
	}
}

// Run registers b to a without masks
func (r *Linear) Run(ctx context.Context, m metric.Metric, t Transform, a, b *volume.Volume) error {
	return r.RunMasked(ctx, m, t, a, b, nil, nil)
}

// RunIm1Mask registers b to a, sampling only inside maskA
func (r *Linear) RunIm1Mask(ctx context.Context, m metric.Metric, t Transform, a, b, maskA *volume.Volume) error {
	return r.RunMasked(ctx, m, t, a, b, maskA, nil)
}

// RunIm2Mask registers b to a, sampling only inside maskB
func (r *Linear) RunIm2Mask(ctx context.Context, m metric.Metric, t Transform, a, b, maskB *volume.Volume) error {
	return r.RunMasked(ctx, m, t, a, b, nil, maskB)
}

// RunMasked registers b to a. On success t holds the transform from a's
// scanner space to b's. Either mask may be nil; a non-zero mask voxel marks
// where the image may be sampled.
//
// The configuration is checked before any image is touched. The context is
// checked between levels; a cancelled run returns the context's error and
// leaves t at the last committed level.
func (r *Linear) RunMasked(ctx context.Context, m metric.Metric, t Transform, a, b, maskA, maskB *volume.Volume) error {
	r.summaries = nil
	r.notify(StageUnvalidated, -1)

	cfg, err := r.validate()
	if err != nil {
		return err
	}
	if m == nil {
		return errors.New("registration needs a metric")
	}
	if t == nil {
		return errors.New("registration needs a transform")
	}
	symmetric := r.strategy == StrategySymmetric
	var st SymmetricTransform
	if symmetric {
		var ok bool
		if st, ok = t.(SymmetricTransform); !ok {
			return configErrorf("symmetric registration needs a transform with half transforms, got %T", t)
		}
	}
	r.notify(StageValidated, -1)

	if err := a.Validate(); err != nil {
		return errors.Wrap(err, "first image")
	}
	if err := b.Validate(); err != nil {
		return errors.Wrap(err, "second image")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch r.initType {
	case InitMass:
		err = transform.InitialiseUsingImageMass(t, a, b, maskA, maskB)
	case InitGeometric:
		err = transform.InitialiseUsingImageCentres(t, a, b)
	}
	if err != nil {
		return errors.Wrap(err, "initialising transform")
	}
	r.notify(StageInitialized, -1)

	var prep LevelPreparer
	if symmetric {
		half := st.Half()
		halfInv, err := st.HalfInverse()
		if err != nil {
			return errors.Wrap(err, "initial transform")
		}
		h, err := filter.ComputeMinimumAverageHeader(
			[]volume.Header{a.Header, b.Header}, midwayResolution, 0,
			[]volume.Affine{half, halfInv})
		if err != nil {
			return errors.Wrap(err, "computing midway space")
		}
		r.log.Debugf("midway space: %v", h)
		prep = &symmetricPreparer{a: a, b: b, midway: h, smoothFactor: r.smoothFactor, pool: r.pool, log: r.log}
	} else {
		r.log.Infof("non-symmetric metric")
		prep = &nonSymmetricPreparer{a: a, b: b, smoothFactor: r.smoothFactor, pool: r.pool, log: r.log}
	}

	for level, scale := range cfg.scaleFactor {
		if err := ctx.Err(); err != nil {
			return err
		}
		summary, err := r.runLevel(level, scale, cfg, m, t, prep, maskA, maskB)
		if err != nil {
			return errors.Wrapf(err, "level %d", level+1)
		}
		r.summaries = append(r.summaries, summary)
	}

	if r.debugDir != "" && symmetric {
		if err := saveHalfTransforms(r.debugDir, st); err != nil {
			return err
		}
	}
	r.notify(StageDone, -1)
	return nil
}

func (r *Linear) runLevel(level int, scale float64, cfg runConfig, m metric.Metric, t Transform, prep LevelPreparer, maskA, maskB *volume.Volume) (models.LevelSummary, error) {
	msg := fmt.Sprintf("multi-resolution level %d, scale factor: %g", level+1, scale)
	if cfg.sparsity[level] > 0 {
		msg += fmt.Sprintf(", sparsity: %g", cfg.sparsity[level])
	}
	r.log.Infof("%s", msg)
	r.notify(StagePreparingLevel, level)

	restore := logger.Latch(r.log, logger.LogError)
	images, err := prep.Prepare(level, scale)
	restore()
	if err != nil {
		return models.LevelSummary{}, err
	}

	params, err := metric.NewParams(t, images.A, images.B, images.Midway, r.strategy == StrategySymmetric)
	if err != nil {
		return models.LevelSummary{}, err
	}
	params.Sparsity = cfg.sparsity[level]
	params.Seed = r.seed + int64(level)
	params.Pool = r.pool
	r.log.Debugf("neighbourhood kernel extent: %v", cfg.kernelExtent)
	if err := params.SetExtent(cfg.kernelExtent); err != nil {
		return models.LevelSummary{}, err
	}
	if err := params.SetMaskA(maskA); err != nil {
		return models.LevelSummary{}, err
	}
	if err := params.SetMaskB(maskB); err != nil {
		return models.LevelSummary{}, err
	}

	evaluate := metric.NewEvaluate(m, params)
	if r.directions != nil {
		evaluate.SetDirections(r.directions)
	}

	x0 := t.Parameters()
	costBefore, err := evaluate.Evaluate(x0, make([]float64, len(x0)))
	if err != nil {
		return models.LevelSummary{}, err
	}

	r.notify(StageOptimizing, level)
	res, err := r.optimizer.Run(evaluate, x0, t.OptimiserWeights(), t.Updater(), optim.Settings{
		MaxIterations: cfg.maxIter[level],
		GradTolerance: r.gradTolerance,
		StepTolerance: r.stepTolerance,
		Log:           r.logStream,
	})
	if err != nil {
		return models.LevelSummary{}, errors.Wrap(err, "optimizer")
	}

	summary := models.LevelSummary{
		Level:         level,
		ScaleFactor:   scale,
		Sparsity:      cfg.sparsity[level],
		MaxIterations: cfg.maxIter[level],
		Iterations:    res.Iterations,
		Evaluations:   evaluate.Evaluations(),
		CostBefore:    costBefore,
		CostAfter:     res.F,
		Parameters:    res.X,
	}
	if r.regression == RegressionRevert && res.F > costBefore {
		r.log.Infof("level %d increased the cost from %g to %g, keeping previous parameters", level+1, costBefore, res.F)
		summary.Reverted = true
		summary.CostAfter = costBefore
		summary.Parameters = x0
	}
	if err := t.SetParameters(summary.Parameters); err != nil {
		return models.LevelSummary{}, errors.Wrap(err, "committing parameters")
	}
	r.notify(StageParametersCommitted, level)

	if r.logStream != nil {
		if _, err := io.WriteString(r.logStream, "\n\n"); err != nil {
			return models.LevelSummary{}, errors.Wrap(err, "writing optimizer log")
		}
	}
	r.log.Debugf("%v", summary)

	if r.debugDir != "" {
		if err := dumpLevel(r.debugDir, level, t, images, r.strategy == StrategySymmetric, r.pool); err != nil {
			return models.LevelSummary{}, err
		}
	}
	return summary, nil
}
