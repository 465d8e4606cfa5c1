package optim

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// GradientDescent is a preconditioned steepest-descent optimizer with an
// adaptive step length. Each accepted step multiplies the step length by
// UpFactor, each rejected one by DownFactor.
type GradientDescent struct {
	UpFactor   float64
	DownFactor float64
}

// NewGradientDescent returns a GradientDescent with the usual factors 3 and 0.1
func NewGradientDescent() *GradientDescent {
	return &GradientDescent{UpFactor: 3, DownFactor: 0.1}
}

// Run implements Optimizer
func (gd *GradientDescent) Run(f Function, x0, weights []float64, updater Updater, settings Settings) (Result, error) {
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
	if updater == nil {
		updater = LinearUpdate
	}
	up, down := gd.UpFactor, gd.DownFactor
	if up <= 1 {
		up = 3
	}
	if down <= 0 || down >= 1 {
		down = 0.1
	}
	alpha := settings.InitialStepSize
	if alpha <= 0 {
		alpha = 1
	}

	x := append([]float64(nil), x0...)
	g := make([]float64, n)
	cost, err := f.Evaluate(x, g)
	if err != nil {
		return Result{}, errors.Wrap(err, "initial evaluation")
	}
	res := Result{Evaluations: 1}

	d := make([]float64, n)
	dnorm := descent(d, g, weights)

	newx := make([]float64, n)
	newg := make([]float64, n)
	step := make([]float64, n)
	status := IterationLimit

	for res.Iterations < settings.MaxIterations {
		if dnorm == 0 || dnorm < settings.GradTolerance || math.IsNaN(dnorm) {
			status = GradientConverged
			break
		}
		floats.ScaleTo(step, alpha/dnorm, d)
		if !updater.Update(newx, x, step) {
			status = StepConverged
			break
		}
		res.Iterations++
		newcost, err := f.Evaluate(newx, newg)
		res.Evaluations++
		if err != nil {
			return Result{}, errors.Wrapf(err, "evaluation at iteration %d", res.Iterations)
		}

		if newcost < cost {
			copy(x, newx)
			copy(g, newg)
			cost = newcost
			dnorm = descent(d, g, weights)
			alpha *= up
		} else {
			alpha *= down
		}

		if settings.Log != nil {
			fmt.Fprintf(settings.Log, "%d %.10g %.6g %.6g\n", res.Iterations, cost, alpha, dnorm)
		}
		if alpha < settings.StepTolerance {
			status = StepConverged
			break
		}
	}

	res.X = x
	res.F = cost
	res.Status = status
	return res, nil
}

// descent writes the preconditioned descent direction -w⊙g into d and
// returns its norm
func descent(d, g, weights []float64) float64 {
	for i := range g {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		d[i] = -w * g[i]
	}
	return floats.Norm(d, 2)
}
