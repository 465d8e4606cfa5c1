package volume

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Affine is a 3-D affine map x' = M·x + T. It is the non-homogeneous part of
// a 4x4 projective matrix whose last row is [0 0 0 1].
type Affine struct {
	M [3][3]float64
	T [3]float64
}

// Identity returns the identity map
func Identity() Affine {
	return Affine{M: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// Translation returns the map x' = x + t
func Translation(t r3.Vec) Affine {
	a := Identity()
	a.T = [3]float64{t.X, t.Y, t.Z}
	return a
}

// Apply maps p through the affine
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a.M[0][0]*p.X + a.M[0][1]*p.Y + a.M[0][2]*p.Z + a.T[0],
		Y: a.M[1][0]*p.X + a.M[1][1]*p.Y + a.M[1][2]*p.Z + a.T[1],
		Z: a.M[2][0]*p.X + a.M[2][1]*p.Y + a.M[2][2]*p.Z + a.T[2],
	}
}

// ApplyLinear maps the direction p through the linear part only
func (a Affine) ApplyLinear(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a.M[0][0]*p.X + a.M[0][1]*p.Y + a.M[0][2]*p.Z,
		Y: a.M[1][0]*p.X + a.M[1][1]*p.Y + a.M[1][2]*p.Z,
		Z: a.M[2][0]*p.X + a.M[2][1]*p.Y + a.M[2][2]*p.Z,
	}
}

// ApplyLinearTranspose maps p through the transpose of the linear part
func (a Affine) ApplyLinearTranspose(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a.M[0][0]*p.X + a.M[1][0]*p.Y + a.M[2][0]*p.Z,
		Y: a.M[0][1]*p.X + a.M[1][1]*p.Y + a.M[2][1]*p.Z,
		Z: a.M[0][2]*p.X + a.M[1][2]*p.Y + a.M[2][2]*p.Z,
	}
}

// Compose returns a∘b, the map x -> a(b(x))
func (a Affine) Compose(b Affine) Affine {
	var c Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c.M[i][j] = a.M[i][0]*b.M[0][j] + a.M[i][1]*b.M[1][j] + a.M[i][2]*b.M[2][j]
		}
		c.T[i] = a.M[i][0]*b.T[0] + a.M[i][1]*b.T[1] + a.M[i][2]*b.T[2] + a.T[i]
	}
	return c
}

// Inverse returns the inverse map. A singular linear part is an error.
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.Dense()); err != nil {
		return Affine{}, errors.Wrap(err, "affine transform is not invertible")
	}
	return FromDense(&inv), nil
}

// Dense returns the 4x4 projective matrix of the affine
func (a Affine) Dense() *mat.Dense {
	d := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(i, j, a.M[i][j])
		}
		d.Set(i, 3, a.T[i])
	}
	d.Set(3, 3, 1)
	return d
}

// Linear returns the 3x3 linear part as a dense matrix
func (a Affine) Linear() *mat.Dense {
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(i, j, a.M[i][j])
		}
	}
	return d
}

// FromDense builds an affine from a 4x4 (or 3x4) matrix. The bottom row of a
// 4x4 input is ignored.
func FromDense(m mat.Matrix) Affine {
	var a Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.M[i][j] = m.At(i, j)
		}
		a.T[i] = m.At(i, 3)
	}
	return a
}

// Offset returns the translation part as a vector
func (a Affine) Offset() r3.Vec {
	return r3.Vec{X: a.T[0], Y: a.T[1], Z: a.T[2]}
}

// Column returns column j of the linear part
func (a Affine) Column(j int) r3.Vec {
	return r3.Vec{X: a.M[0][j], Y: a.M[1][j], Z: a.M[2][j]}
}

// Det returns the determinant of the linear part
func (a Affine) Det() float64 {
	return mat.Det(a.Linear())
}

// MaxAbsDiff returns the largest absolute element difference between the
// 4x4 matrices of a and b
func (a Affine) MaxAbsDiff(b Affine) float64 {
	d := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d = math.Max(d, math.Abs(a.M[i][j]-b.M[i][j]))
		}
		d = math.Max(d, math.Abs(a.T[i]-b.T[i]))
	}
	return d
}

// IsIdentity reports whether a equals the identity within tol
func (a Affine) IsIdentity(tol float64) bool {
	return a.MaxAbsDiff(Identity()) <= tol
}
