// Package filter implements the image filters used to prepare each
// resolution level: Gaussian smoothing, resizing, reslicing onto another
// grid, and computation of the minimal average space of several images.
package filter

import (
	"math"

	"github.com/pkg/errors"

	"mrregister/internal/workerpool"
	"mrregister/pkg/volume"
)

// Smooth returns a copy of in convolved with an isotropic Gaussian of the
// given standard deviation in millimetres. A zero stdev returns a plain copy.
func Smooth(in *volume.Volume, stdev float64, pool *workerpool.Pool) (*volume.Volume, error) {
	if stdev < 0 || math.IsNaN(stdev) {
		return nil, errors.Errorf("smoothing standard deviation must be non-negative, got %g", stdev)
	}
	sp := in.Header.Spacing()
	var sigma [3]float64
	for i := range sigma {
		sigma[i] = stdev / sp[i]
	}
	return smoothVoxels(in, sigma, pool), nil
}

// smoothVoxels applies a separable Gaussian with per-axis standard deviations
// given in voxels
func smoothVoxels(in *volume.Volume, sigma [3]float64, pool *workerpool.Pool) *volume.Volume {
	out := in.Clone()
	scratch := make([]float64, len(out.Data))
	for axis := 0; axis < 3; axis++ {
		if sigma[axis] < 1e-6 || in.Header.Dims[axis] < 2 {
			continue
		}
		kernel := gaussianKernel(sigma[axis])
		convolveAxis(out.Data, scratch, in.Header.Dims, axis, kernel, pool)
		out.Data, scratch = scratch, out.Data
	}
	return out
}

// gaussianKernel returns the normalised weights for offsets -r..r, r = ceil(3σ)
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for k := -radius; k <= radius; k++ {
		w := math.Exp(-float64(k*k) / (2 * sigma * sigma))
		kernel[k+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveAxis convolves every line of src along axis with kernel and writes
// the result to dst. Taps falling outside the image are dropped and the
// remaining weights renormalised.
func convolveAxis(src, dst []float64, dims [3]int, axis int, kernel []float64, pool *workerpool.Pool) {
	strides := [3]int{1, dims[0], dims[0] * dims[1]}
	o1, o2 := (axis+1)%3, (axis+2)%3
	n := dims[axis]
	stride := strides[axis]
	radius := len(kernel) / 2
	lines := dims[o1] * dims[o2]

	pool.ParallelFor(lines, func(start, end int) {
		for l := start; l < end; l++ {
			base := (l%dims[o1])*strides[o1] + (l/dims[o1])*strides[o2]
			for i := 0; i < n; i++ {
				lo := max(i-radius, 0)
				hi := min(i+radius, n-1)
				sum, wsum := 0.0, 0.0
				for j := lo; j <= hi; j++ {
					w := kernel[j-i+radius]
					sum += w * src[base+j*stride]
					wsum += w
				}
				dst[base+i*stride] = sum / wsum
			}
		}
	})
}
