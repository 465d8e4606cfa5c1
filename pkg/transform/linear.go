// Package transform implements the rigid and affine transforms optimised by
// the registration, together with their initialisation from image moments.
//
// A Linear transform is stored as its half transform H about a fixed centre c,
//
//	H(x) = M(x - c) + t + c
//
// and the full transform from image A's scanner space to image B's is H∘H.
// The parameter vector holds M row-major followed by t. Parameterising the
// half transform lets the symmetric registration move both images towards a
// midway space by the same amount.
package transform

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/optim"
	"mrregister/pkg/volume"
)

// NumParameters is the length of the parameter vector of every Linear transform
const NumParameters = 12

// Kind distinguishes rigid from affine transforms
type Kind int

const (
	// KindRigid restricts the linear part to a rotation
	KindRigid Kind = iota
	// KindAffine allows any invertible linear part
	KindAffine
)

func (k Kind) String() string {
	switch k {
	case KindRigid:
		return "rigid"
	case KindAffine:
		return "affine"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts "rigid" or "affine" into a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "rigid":
		return KindRigid, nil
	case "affine":
		return KindAffine, nil
	}
	return 0, errors.Errorf("unknown transform type %q (want rigid or affine)", s)
}

// Linear is a rigid or affine transform with a symmetric half
// parameterisation
type Linear struct {
	kind   Kind
	half   volume.Affine // H, about the origin
	centre r3.Vec
}

// NewRigid returns an identity rigid transform
func NewRigid() *Linear {
	return &Linear{kind: KindRigid, half: volume.Identity()}
}

// NewAffine returns an identity affine transform
func NewAffine() *Linear {
	return &Linear{kind: KindAffine, half: volume.Identity()}
}

// New returns an identity transform of the given kind
func New(kind Kind) (*Linear, error) {
	switch kind {
	case KindRigid:
		return NewRigid(), nil
	case KindAffine:
		return NewAffine(), nil
	}
	return nil, errors.Errorf("unknown transform kind %d", int(kind))
}

// Kind reports whether l is rigid or affine
func (l *Linear) Kind() Kind { return l.kind }

// Centre returns the fixed point about which the linear part acts
func (l *Linear) Centre() r3.Vec { return l.centre }

// SetCentre moves the centre without changing the mapping
func (l *Linear) SetCentre(c r3.Vec) {
	l.centre = c
}

// Parameters returns the parameter vector: the linear part M of the half
// transform (row-major) followed by its translation t relative to the centre
func (l *Linear) Parameters() []float64 {
	x := make([]float64, NumParameters)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			x[3*i+j] = l.half.M[i][j]
		}
	}
	t := l.translation()
	x[9], x[10], x[11] = t.X, t.Y, t.Z
	return x
}

// SetParameters replaces the half transform with the one described by x
func (l *Linear) SetParameters(x []float64) error {
	h, err := l.HalfFromParameters(x)
	if err != nil {
		return err
	}
	l.half = h
	return nil
}

// HalfFromParameters returns the half transform described by x, keeping the
// current centre. It does not modify l.
func (l *Linear) HalfFromParameters(x []float64) (volume.Affine, error) {
	if len(x) != NumParameters {
		return volume.Affine{}, errors.Errorf("%s transform needs %d parameters, got %d", l.kind, NumParameters, len(x))
	}
	var h volume.Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h.M[i][j] = x[3*i+j]
		}
	}
	t := r3.Vec{X: x[9], Y: x[10], Z: x[11]}
	// H(x) = M x + (t + c - M c)
	off := r3.Sub(r3.Add(t, l.centre), h.ApplyLinear(l.centre))
	h.T = [3]float64{off.X, off.Y, off.Z}
	return h, nil
}

// translation returns t such that H(x) = M(x - c) + t + c
func (l *Linear) translation() r3.Vec {
	return r3.Sub(l.half.Apply(l.centre), l.centre)
}

// Half returns H, mapping image A's scanner space into the midway space
func (l *Linear) Half() volume.Affine { return l.half }

// HalfInverse returns H⁻¹, mapping image B's scanner space into the midway
// space
func (l *Linear) HalfInverse() (volume.Affine, error) {
	inv, err := l.half.Inverse()
	if err != nil {
		return volume.Affine{}, errors.Wrap(err, "half transform")
	}
	return inv, nil
}

// Matrix returns the full transform H∘H from A's scanner space to B's
func (l *Linear) Matrix() volume.Affine {
	return l.half.Compose(l.half)
}

// SetMatrix sets the full transform to m by taking its principal square root.
// A rigid transform additionally requires m to be a proper rotation plus
// translation.
func (l *Linear) SetMatrix(m volume.Affine) error {
	if l.kind == KindRigid {
		if !isRotation(m) {
			return errors.New("rigid transform matrix must be a rotation")
		}
	}
	root, err := sqrtm(m.Dense())
	if err != nil {
		return errors.Wrap(err, "square root of transform matrix")
	}
	h := volume.FromDense(root)
	if l.kind == KindRigid {
		h.M = nearestRotation(h.M)
	}
	l.half = h
	return nil
}

// OptimiserWeights returns the preconditioning weights of the parameters.
// Entries of the linear part are unitless while translations are in mm, so
// the linear part is scaled down.
func (l *Linear) OptimiserWeights() []float64 {
	w := make([]float64, NumParameters)
	for i := 0; i < 9; i++ {
		w[i] = 0.003
	}
	for i := 9; i < NumParameters; i++ {
		w[i] = 1
	}
	return w
}

// Updater returns the rule applying an optimiser step to the parameters
func (l *Linear) Updater() optim.Updater {
	if l.kind == KindRigid {
		return rigidUpdate{}
	}
	return optim.LinearUpdate
}

func (l *Linear) String() string {
	return fmt.Sprintf("%s transform, centre (%.4g, %.4g, %.4g)", l.kind, l.centre.X, l.centre.Y, l.centre.Z)
}

// rigidUpdate steps linearly and then projects the linear part back onto the
// nearest rotation
type rigidUpdate struct{}

func (rigidUpdate) Update(newx, x, delta []float64) bool {
	if !optim.LinearUpdate.Update(newx, x, delta) {
		return false
	}
	var m [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = newx[3*i+j]
		}
	}
	m = nearestRotation(m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			newx[3*i+j] = m[i][j]
		}
	}
	return true
}

// nearestRotation returns the rotation closest to m in the Frobenius norm
func nearestRotation(m [3][3]float64) [3][3]float64 {
	d := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d.Set(i, j, m[i][j])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(d, mat.SVDFull) {
		return m
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the axis of the smallest singular value
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out
}

func isRotation(a volume.Affine) bool {
	const tol = 1e-6
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dot := 0.0
			for k := 0; k < 3; k++ {
				dot += a.M[k][i] * a.M[k][j]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if dot-want > tol || want-dot > tol {
				return false
			}
		}
	}
	return a.Det() > 0
}
