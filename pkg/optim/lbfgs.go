package optim

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// LBFGS runs gonum's limited-memory BFGS in preconditioned coordinates
// x = x0 + sqrt(w)⊙u. It only supports the linear update rule: transforms
// that project their parameters after each step must use GradientDescent.
type LBFGS struct {
	// Store is the number of past updates kept (gonum default if 0)
	Store int
}

// Run implements Optimizer
func (l *LBFGS) Run(f Function, x0, weights []float64, updater Updater, settings Settings) (Result, error) {
	n := f.Size()
	if len(x0) != n {
		return Result{}, errors.Errorf("initial vector has %d entries, function expects %d", len(x0), n)
	}
	if weights != nil && len(weights) != n {
		return Result{}, errors.Errorf("weight vector has %d entries, function expects %d", len(weights), n)
	}
	if settings.MaxIterations <= 0 {
		return Result{}, errors.Errorf("the number of iterations must be positive, got %d", settings.MaxIterations)
	}
	if updater != nil && updater != LinearUpdate {
		return Result{}, errors.New("L-BFGS only supports the linear parameter update")
	}

	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
		if weights != nil {
			scale[i] = math.Sqrt(weights[i])
		}
	}
	toX := func(dst, u []float64) {
		for i := range u {
			dst[i] = x0[i] + scale[i]*u[i]
		}
	}

	// gonum asks for Func and Grad separately at the same point; cache the
	// last evaluation so each point is evaluated once
	var evalErr error
	var evals int
	var lastU []float64
	var lastF float64
	lastGrad := make([]float64, n)
	x := make([]float64, n)
	gx := make([]float64, n)
	eval := func(u []float64) {
		if lastU != nil && floats.Equal(u, lastU) {
			return
		}
		toX(x, u)
		cost, err := f.Evaluate(x, gx)
		evals++
		if err != nil && evalErr == nil {
			evalErr = err
		}
		if err != nil {
			cost = math.Inf(1)
		}
		for i := range gx {
			lastGrad[i] = scale[i] * gx[i]
		}
		lastF = cost
		lastU = append(lastU[:0], u...)
	}

	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			eval(u)
			return lastF
		},
		Grad: func(grad, u []float64) {
			eval(u)
			copy(grad, lastGrad)
		},
		Status: func() (optimize.Status, error) {
			if evalErr != nil {
				return optimize.Failure, evalErr
			}
			return optimize.NotTerminated, nil
		},
	}

	opts := &optimize.Settings{
		GradientThreshold: settings.GradTolerance,
		MajorIterations:   settings.MaxIterations,
		Converger: &stepConverge{
			tol:   settings.StepTolerance,
			scale: scale,
			stall: optimize.FunctionConverge{Iterations: 20},
		},
	}
	if settings.Log != nil {
		opts.Recorder = &logRecorder{settings: settings}
	}

	result, err := optimize.Minimize(problem, make([]float64, n), opts, &optimize.LBFGS{Store: l.Store})
	if evalErr != nil {
		return Result{}, errors.Wrap(evalErr, "L-BFGS evaluation")
	}
	if result == nil {
		return Result{}, errors.Wrap(err, "L-BFGS")
	}

	res := Result{
		X:           make([]float64, n),
		F:           result.F,
		Iterations:  result.MajorIterations,
		Evaluations: evals,
	}
	toX(res.X, result.X)
	switch {
	case err != nil:
		// line search failures leave the best point found so far
		res.Status = Failed
	case result.Status == optimize.GradientThreshold:
		res.Status = GradientConverged
	case result.Status == optimize.FunctionConvergence:
		res.Status = FunctionConverged
	case result.Status == optimize.StepConvergence:
		res.Status = StepConverged
	case result.Status == optimize.IterationLimit:
		res.Status = IterationLimit
	default:
		res.Status = StepConverged
	}
	return res, nil
}

// stepConverge stops a run once a major iteration moves the parameters by
// less than tol (Euclidean norm in parameter units, not preconditioned
// units). It also stops when the cost has not decreased for the number of
// iterations configured on stall.
type stepConverge struct {
	tol   float64
	scale []float64
	stall optimize.FunctionConverge
	prev  []float64
}

func (c *stepConverge) Init(dim int) {
	c.prev = nil
	c.stall.Init(dim)
}

func (c *stepConverge) Converged(loc *optimize.Location) optimize.Status {
	if c.prev != nil && c.tol > 0 {
		step := 0.0
		for i, u := range loc.X {
			d := c.scale[i] * (u - c.prev[i])
			step += d * d
		}
		if math.Sqrt(step) < c.tol {
			return optimize.StepConvergence
		}
	}
	c.prev = append(c.prev[:0], loc.X...)
	return c.stall.Converged(loc)
}

type logRecorder struct {
	settings Settings
}

func (r *logRecorder) Init() error { return nil }

func (r *logRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	gnorm := 0.0
	if loc.Gradient != nil {
		gnorm = floats.Norm(loc.Gradient, 2)
	}
	_, err := fmt.Fprintf(r.settings.Log, "%d %.10g %d %.6g\n", stats.MajorIterations, loc.F, stats.FuncEvaluations, gnorm)
	return err
}
