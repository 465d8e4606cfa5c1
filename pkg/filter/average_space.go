package filter

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/volume"
)

// ComputeMinimumAverageHeader returns the smallest grid, in the average
// orientation of the inputs, that covers every input grid once each has been
// moved by its transform. The voxel size is isotropic: resolution times the
// mean voxel size of the transformed inputs. padding (mm) is added on every
// side of the bounding box.
//
// transforms may be nil, in which case the inputs are used as they are.
func ComputeMinimumAverageHeader(headers []volume.Header, resolution, padding float64, transforms []volume.Affine) (volume.Header, error) {
	if len(headers) == 0 {
		return volume.Header{}, errors.New("no headers to average")
	}
	if transforms != nil && len(transforms) != len(headers) {
		return volume.Header{}, errors.Errorf("got %d transforms for %d headers", len(transforms), len(headers))
	}
	if resolution <= 0 || math.IsNaN(resolution) {
		return volume.Header{}, errors.Errorf("average space resolution must be positive, got %g", resolution)
	}
	if padding < 0 {
		return volume.Header{}, errors.Errorf("average space padding must be non-negative, got %g", padding)
	}

	moved := make([]volume.Header, len(headers))
	for i, h := range headers {
		if err := h.Validate(); err != nil {
			return volume.Header{}, errors.Wrapf(err, "header %d", i)
		}
		moved[i] = h
		if transforms != nil {
			moved[i].VoxelToScanner = transforms[i].Compose(h.VoxelToScanner)
		}
	}

	// Average the direction cosines, then take the nearest orthogonal matrix
	sum := mat.NewDense(3, 3, nil)
	spacing := 0.0
	for _, h := range moved {
		sum.Add(sum, h.Directions().Linear())
		for _, s := range h.Spacing() {
			spacing += s
		}
	}
	spacing = resolution * spacing / float64(3*len(moved))

	var svd mat.SVD
	if !svd.Factorize(sum, mat.SVDFull) {
		return volume.Header{}, errors.New("average space orientation: SVD failed")
	}
	var u, v, rot mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	rot.Mul(&u, v.T())
	if svd.Values(nil)[2] < 1e-6 {
		return volume.Header{}, errors.New("average space orientation is degenerate")
	}
	dirs := volume.FromDense(embed(&rot))

	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, h := range moved {
		for _, c := range h.Corners() {
			q := dirs.ApplyLinearTranspose(c)
			lo = r3.Vec{X: math.Min(lo.X, q.X), Y: math.Min(lo.Y, q.Y), Z: math.Min(lo.Z, q.Z)}
			hi = r3.Vec{X: math.Max(hi.X, q.X), Y: math.Max(hi.Y, q.Y), Z: math.Max(hi.Z, q.Z)}
		}
	}
	pad := r3.Vec{X: padding, Y: padding, Z: padding}
	lo = r3.Sub(lo, pad)
	hi = r3.Add(hi, pad)

	out := volume.Header{}
	extent := [3]float64{hi.X - lo.X, hi.Y - lo.Y, hi.Z - lo.Z}
	low := [3]float64{lo.X, lo.Y, lo.Z}
	var first [3]float64
	for i := 0; i < 3; i++ {
		out.Dims[i] = max(1, int(math.Ceil(extent[i]/spacing-1e-6)))
		// centre the grid on the bounding box
		first[i] = low[i] + (extent[i]-float64(out.Dims[i])*spacing)/2 + spacing/2
		for r := 0; r < 3; r++ {
			out.VoxelToScanner.M[r][i] = dirs.M[r][i] * spacing
		}
	}
	origin := dirs.ApplyLinear(r3.Vec{X: first[0], Y: first[1], Z: first[2]})
	out.VoxelToScanner.T = [3]float64{origin.X, origin.Y, origin.Z}
	return out, nil
}

// embed returns the 4x4 homogeneous matrix holding the 3x3 linear part m
func embed(m mat.Matrix) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	out.Set(3, 3, 1)
	return out
}
