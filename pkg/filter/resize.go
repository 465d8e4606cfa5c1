package filter

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/internal/workerpool"
	"mrregister/pkg/volume"
)

// ResizeHeader returns the header of h resampled by scale. The field of view
// is preserved: the outer voxel edges of the new grid coincide with the old
// ones, and the voxel size grows by dim/newdim along each axis.
func ResizeHeader(h volume.Header, scale float64) (volume.Header, error) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return volume.Header{}, errors.Errorf("resize scale factor must be positive, got %g", scale)
	}

	sp := h.Spacing()
	dirs := h.Directions()
	out := volume.Header{}
	shift := r3.Vec{}
	for i := 0; i < 3; i++ {
		out.Dims[i] = max(1, int(math.Round(float64(h.Dims[i])*scale)))
		newSp := sp[i] * float64(h.Dims[i]) / float64(out.Dims[i])
		for r := 0; r < 3; r++ {
			out.VoxelToScanner.M[r][i] = dirs.M[r][i] * newSp
		}
		shift = r3.Add(shift, r3.Scale((newSp-sp[i])/2, dirs.Column(i)))
	}
	origin := r3.Add(h.VoxelToScanner.Offset(), shift)
	out.VoxelToScanner.T = [3]float64{origin.X, origin.Y, origin.Z}
	return out, nil
}

// Resize resamples in by scale. When the grid gets coarser the image is first
// low-pass filtered with a Gaussian of half the new voxel size to limit
// aliasing.
func Resize(in *volume.Volume, scale float64, interp Interp, pool *workerpool.Pool) (*volume.Volume, error) {
	h, err := ResizeHeader(in.Header, scale)
	if err != nil {
		return nil, err
	}
	if h.Dims == in.Header.Dims {
		return in.Clone(), nil
	}

	src := in
	oldSp, newSp := in.Header.Spacing(), h.Spacing()
	var sigma [3]float64
	smooth := false
	for i := 0; i < 3; i++ {
		if newSp[i] > oldSp[i]*(1+1e-9) {
			sigma[i] = 0.5 * newSp[i] / oldSp[i]
			smooth = true
		}
	}
	if smooth && interp != InterpNearest {
		src = smoothVoxels(in, sigma, pool)
	}
	return Reslice(src, h, volume.Identity(), interp, pool)
}
