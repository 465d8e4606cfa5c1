package optim

import (
	"math"

	"github.com/pkg/errors"
)

// NumericalGradient estimates the gradient of f at x by central differences.
// The increment for parameter i is increment*scales[i] (scales may be nil).
func NumericalGradient(f Function, x []float64, increment float64, scales []float64) ([]float64, error) {
	n := f.Size()
	if len(x) != n {
		return nil, errors.Errorf("vector has %d entries, function expects %d", len(x), n)
	}
	if increment <= 0 {
		return nil, errors.Errorf("increment must be positive, got %g", increment)
	}
	grad := make([]float64, n)
	scratch := make([]float64, n)
	probe := append([]float64(nil), x...)
	for i := 0; i < n; i++ {
		h := increment
		if scales != nil {
			h *= scales[i]
		}
		probe[i] = x[i] + h
		fp, err := f.Evaluate(probe, scratch)
		if err != nil {
			return nil, err
		}
		probe[i] = x[i] - h
		fm, err := f.Evaluate(probe, scratch)
		if err != nil {
			return nil, err
		}
		probe[i] = x[i]
		grad[i] = (fp - fm) / (2 * h)
	}
	return grad, nil
}

// CheckGradient compares the analytic gradient of f at x with a central
// difference estimate and returns the largest absolute difference, relative
// to the largest gradient magnitude.
func CheckGradient(f Function, x []float64, increment float64, scales []float64) (float64, error) {
	numeric, err := NumericalGradient(f, x, increment, scales)
	if err != nil {
		return 0, err
	}
	analytic := make([]float64, len(x))
	if _, err := f.Evaluate(x, analytic); err != nil {
		return 0, err
	}
	worst, norm := 0.0, 0.0
	for i := range analytic {
		worst = math.Max(worst, math.Abs(analytic[i]-numeric[i]))
		norm = math.Max(norm, math.Max(math.Abs(analytic[i]), math.Abs(numeric[i])))
	}
	if norm == 0 {
		return 0, nil
	}
	return worst / norm, nil
}
