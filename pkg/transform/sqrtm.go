package transform

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	sqrtmMaxIterations = 100
	sqrtmTolerance     = 1e-13
)

// sqrtm returns the principal square root of the square matrix a using the
// Denman-Beavers iteration. a must have no eigenvalues on the closed negative
// real axis.
func sqrtm(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()
	if r != c {
		return nil, errors.Errorf("square root of non-square %dx%d matrix", r, c)
	}
	y := mat.DenseCopyOf(a)
	z := mat.NewDense(r, r, nil)
	for i := 0; i < r; i++ {
		z.Set(i, i, 1)
	}

	var yInv, zInv, next mat.Dense
	for it := 0; it < sqrtmMaxIterations; it++ {
		if err := yInv.Inverse(y); err != nil {
			return nil, errors.Wrap(err, "matrix has no principal square root")
		}
		if err := zInv.Inverse(z); err != nil {
			return nil, errors.Wrap(err, "matrix has no principal square root")
		}
		next.Add(y, &zInv)
		next.Scale(0.5, &next)
		z.Add(z, &yInv)
		z.Scale(0.5, z)

		diff := 0.0
		for i := 0; i < r; i++ {
			for j := 0; j < r; j++ {
				diff = math.Max(diff, math.Abs(next.At(i, j)-y.At(i, j)))
			}
		}
		y.Copy(&next)
		if diff <= sqrtmTolerance*math.Max(1, mat.Norm(y, math.Inf(1))) {
			return y, nil
		}
	}
	return nil, errors.New("matrix square root did not converge")
}
