package transform

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"mrregister/pkg/volume"
)

// ErrDegenerate is returned when an image carries no usable information to
// initialise from
var ErrDegenerate = errors.New("degenerate image")

// Initialisable is the part of a transform the initialisers set
type Initialisable interface {
	SetCentre(c r3.Vec)
	SetMatrix(m volume.Affine) error
}

// CentreOfMass returns the intensity-weighted centroid of v in scanner space.
// Negative intensities count as zero. If mask is non-nil only voxels inside it
// contribute.
func CentreOfMass(v, mask *volume.Volume) (r3.Vec, error) {
	if err := v.Validate(); err != nil {
		return r3.Vec{}, errors.Wrap(ErrDegenerate, err.Error())
	}
	var inside func(p r3.Vec) bool
	if mask != nil {
		nn, err := volume.NewNearest(mask)
		if err != nil {
			return r3.Vec{}, err
		}
		inside = nn.Inside
	}

	n := v.Header.NumVoxels()
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	zs := make([]float64, 0, n)
	weights := make([]float64, 0, n)
	total := 0.0
	for idx, val := range v.Data {
		if val <= 0 {
			continue
		}
		x, y, z := v.Header.Coords(idx)
		p := v.Header.VoxelPosition(x, y, z)
		if inside != nil && !inside(p) {
			continue
		}
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		zs = append(zs, p.Z)
		weights = append(weights, val)
		total += val
	}
	if total <= 0 {
		return r3.Vec{}, errors.Wrap(ErrDegenerate, "image has zero total intensity")
	}
	return r3.Vec{
		X: stat.Mean(xs, weights),
		Y: stat.Mean(ys, weights),
		Z: stat.Mean(zs, weights),
	}, nil
}

// GeometricCentre returns the scanner position of the centre of v's grid
func GeometricCentre(v *volume.Volume) (r3.Vec, error) {
	if err := v.Header.Validate(); err != nil {
		return r3.Vec{}, errors.Wrap(ErrDegenerate, err.Error())
	}
	return v.Header.Centre(), nil
}

// InitialiseUsingImageMass sets t to the translation aligning the centres of
// mass of a and b. Either mask may be nil.
func InitialiseUsingImageMass(t Initialisable, a, b, maskA, maskB *volume.Volume) error {
	ca, err := CentreOfMass(a, maskA)
	if err != nil {
		return errors.Wrap(err, "centre of mass of first image")
	}
	cb, err := CentreOfMass(b, maskB)
	if err != nil {
		return errors.Wrap(err, "centre of mass of second image")
	}
	return initialiseTranslation(t, ca, cb)
}

// InitialiseUsingImageCentres sets t to the translation aligning the
// geometric centres of a and b
func InitialiseUsingImageCentres(t Initialisable, a, b *volume.Volume) error {
	ca, err := GeometricCentre(a)
	if err != nil {
		return errors.Wrap(err, "centre of first image")
	}
	cb, err := GeometricCentre(b)
	if err != nil {
		return errors.Wrap(err, "centre of second image")
	}
	return initialiseTranslation(t, ca, cb)
}

func initialiseTranslation(t Initialisable, ca, cb r3.Vec) error {
	if err := t.SetMatrix(volume.Translation(r3.Sub(cb, ca))); err != nil {
		return err
	}
	t.SetCentre(r3.Scale(0.5, r3.Add(ca, cb)))
	return nil
}
