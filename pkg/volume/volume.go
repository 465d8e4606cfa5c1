// Package volume holds the 3-D image model shared by the registration
// packages: a Header describing the grid geometry, a Volume holding voxel
// intensities, and interpolators sampling a Volume at scanner positions.
package volume

import (
	"math"

	"github.com/pkg/errors"
)

// Volume is a 3-D scalar image. Data is stored as a flat array with x varying
// fastest, then y, then z.
type Volume struct {
	Header Header

	// Data is the 3D volume data as a 1D array
	Data []float64
}

// New allocates a zero-filled scratch volume on the given grid
func New(h Header) *Volume {
	return &Volume{Header: h, Data: make([]float64, h.NumVoxels())}
}

// NewFromData wraps existing voxel data. The data length must match the grid.
func NewFromData(h Header, data []float64) (*Volume, error) {
	if len(data) != h.NumVoxels() {
		return nil, errors.Errorf("volume data has %d values, grid %v needs %d", len(data), h.Dims, h.NumVoxels())
	}
	return &Volume{Header: h, Data: data}, nil
}

// Width returns the number of voxels along x
func (v *Volume) Width() int { return v.Header.Dims[0] }

// Height returns the number of voxels along y
func (v *Volume) Height() int { return v.Header.Dims[1] }

// Depth returns the number of voxels along z
func (v *Volume) Depth() int { return v.Header.Dims[2] }

// At returns the value of voxel (x,y,z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Header.Index(x, y, z)]
}

// Set assigns the value of voxel (x,y,z)
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[v.Header.Index(x, y, z)] = val
}

// Clone returns a deep copy of the volume
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	return &Volume{Header: v.Header, Data: data}
}

// Scratch returns a zero-filled volume with the same geometry
func (v *Volume) Scratch() *Volume {
	return New(v.Header)
}

// MinMax returns the smallest and largest finite voxel values
func (v *Volume) MinMax() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, val := range v.Data {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	if min > max {
		return 0, 0
	}
	return min, max
}

// Validate checks the header and that the data matches it
func (v *Volume) Validate() error {
	if v == nil {
		return errors.New("image is missing")
	}
	if err := v.Header.Validate(); err != nil {
		return err
	}
	if len(v.Data) != v.Header.NumVoxels() {
		return errors.Errorf("image data has %d values, expected %d", len(v.Data), v.Header.NumVoxels())
	}
	return nil
}
