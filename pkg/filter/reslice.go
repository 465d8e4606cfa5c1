package filter

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/internal/workerpool"
	"mrregister/pkg/volume"
)

// Interp selects the interpolation used when resampling
type Interp int

const (
	// InterpNearest picks the nearest voxel
	InterpNearest Interp = iota
	// InterpLinear interpolates trilinearly
	InterpLinear
)

// Reslice resamples in onto the grid described by target. For every target
// voxel, the scanner position p is mapped through transform to the position
// in in's scanner space that is sampled. Positions outside in are set to 0.
func Reslice(in *volume.Volume, target volume.Header, transform volume.Affine, interp Interp, pool *workerpool.Pool) (*volume.Volume, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	var sample func(p r3.Vec) (float64, bool)
	switch interp {
	case InterpNearest:
		n, err := volume.NewNearest(in)
		if err != nil {
			return nil, err
		}
		sample = n.Value
	case InterpLinear:
		l, err := volume.NewLinear(in)
		if err != nil {
			return nil, err
		}
		sample = l.Value
	default:
		return nil, errors.Errorf("unknown interpolation type %d", interp)
	}

	out := volume.New(target)
	toSource := transform.Compose(target.VoxelToScanner)
	nx, ny, nz := target.Dims[0], target.Dims[1], target.Dims[2]

	pool.ParallelFor(nz, func(start, end int) {
		for z := start; z < end; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					p := toSource.Apply(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)})
					if val, ok := sample(p); ok {
						out.Data[x+nx*(y+ny*z)] = val
					}
				}
			}
		}
	})
	return out, nil
}
