// Package optim holds the gradient-based optimizers that drive each
// registration level. An optimizer minimises a Function of a parameter
// vector, preconditioned by per-parameter weights, and delegates the actual
// parameter step to an Updater so that transforms with constrained parameters
// (rigid rotations) stay valid.
package optim

import (
	"io"
)

// Function is a scalar cost with an analytic gradient
type Function interface {
	// Size returns the number of parameters
	Size() int
	// Evaluate returns the cost at x and writes the gradient into grad
	Evaluate(x, grad []float64) (float64, error)
}

// Updater computes newx from x and a step delta. It returns false when the
// step leaves the parameters unchanged.
type Updater interface {
	Update(newx, x, delta []float64) bool
}

// UpdaterFunc adapts a plain function to the Updater interface
type UpdaterFunc func(newx, x, delta []float64) bool

// Update calls f
func (f UpdaterFunc) Update(newx, x, delta []float64) bool {
	return f(newx, x, delta)
}

// LinearUpdate is the plain newx = x + delta rule
var LinearUpdate Updater = linearUpdate{}

type linearUpdate struct{}

func (linearUpdate) Update(newx, x, delta []float64) bool {
	changed := false
	for i := range x {
		v := x[i] + delta[i]
		if v != x[i] {
			changed = true
		}
		newx[i] = v
	}
	return changed
}

// Settings controls the stopping rules of an optimizer run
type Settings struct {
	// MaxIterations caps the number of iterations (must be > 0)
	MaxIterations int
	// GradTolerance stops the run when the preconditioned gradient norm falls below it
	GradTolerance float64
	// StepTolerance stops the run when the step length falls below it. L-BFGS
	// measures the Euclidean length of each major iteration's move.
	StepTolerance float64
	// InitialStepSize is the first step length in preconditioned units (default 1)
	InitialStepSize float64
	// Log receives one diagnostic line per iteration if non-nil
	Log io.Writer
}

// Status reports why a run stopped
type Status int

const (
	// IterationLimit means MaxIterations was reached
	IterationLimit Status = iota
	// GradientConverged means the gradient fell below GradTolerance
	GradientConverged
	// StepConverged means the step length fell below StepTolerance or the
	// updater stopped changing the parameters
	StepConverged
	// FunctionConverged means the cost stopped improving
	FunctionConverged
	// Failed means the optimizer gave up without converging
	Failed
)

func (s Status) String() string {
	switch s {
	case IterationLimit:
		return "iteration limit"
	case GradientConverged:
		return "gradient converged"
	case StepConverged:
		return "step converged"
	case FunctionConverged:
		return "function converged"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is the outcome of a run. X is the best parameter vector seen.
type Result struct {
	X           []float64
	F           float64
	Iterations  int
	Evaluations int
	Status      Status
}

// Optimizer minimises f starting at x0. weights scales each gradient
// component (preconditioning) and updater applies each step.
type Optimizer interface {
	Run(f Function, x0, weights []float64, updater Updater, settings Settings) (Result, error)
}
