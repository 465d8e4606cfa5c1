package volume

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// Header describes the geometry of a voxel grid: its dimensions and the
// voxel-to-scanner mapping. Voxel (0,0,0) is the centre of the first voxel;
// the scanner-space spacing along each axis is the norm of the matching
// column of VoxelToScanner.
type Header struct {
	Dims           [3]int
	VoxelToScanner Affine
}

// NewHeader creates an axis-aligned header with the given voxel size and the
// scanner position of voxel (0,0,0)
func NewHeader(dims [3]int, spacing [3]float64, origin r3.Vec) Header {
	a := Affine{}
	for i := 0; i < 3; i++ {
		a.M[i][i] = spacing[i]
	}
	a.T = [3]float64{origin.X, origin.Y, origin.Z}
	return Header{Dims: dims, VoxelToScanner: a}
}

// Spacing returns the voxel size along each axis
func (h Header) Spacing() [3]float64 {
	var s [3]float64
	for j := 0; j < 3; j++ {
		s[j] = r3.Norm(h.VoxelToScanner.Column(j))
	}
	return s
}

// Directions returns the direction cosines (unit columns) of the grid axes
func (h Header) Directions() Affine {
	d := Affine{}
	sp := h.Spacing()
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			d.M[i][j] = h.VoxelToScanner.M[i][j] / sp[j]
		}
	}
	return d
}

// NumVoxels returns the number of voxels in the grid
func (h Header) NumVoxels() int {
	return h.Dims[0] * h.Dims[1] * h.Dims[2]
}

// Index returns the position of voxel (x,y,z) in the flat data array
// (x varies fastest)
func (h Header) Index(x, y, z int) int {
	return x + h.Dims[0]*(y+h.Dims[1]*z)
}

// Coords is the inverse of Index
func (h Header) Coords(idx int) (x, y, z int) {
	x = idx % h.Dims[0]
	idx /= h.Dims[0]
	y = idx % h.Dims[1]
	z = idx / h.Dims[1]
	return
}

// Validate checks that the grid is non-empty and the voxel-to-scanner
// mapping is invertible
func (h Header) Validate() error {
	for i, d := range h.Dims {
		if d < 1 {
			return errors.Errorf("image dimension %d has size %d", i, d)
		}
	}
	sp := h.Spacing()
	for i, s := range sp {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return errors.Errorf("image axis %d has invalid voxel size %g", i, s)
		}
	}
	if _, err := h.VoxelToScanner.Inverse(); err != nil {
		return errors.Wrap(err, "invalid image header")
	}
	return nil
}

// ScannerToVoxel returns the inverse of VoxelToScanner
func (h Header) ScannerToVoxel() (Affine, error) {
	return h.VoxelToScanner.Inverse()
}

// VoxelPosition returns the scanner position of the centre of voxel (x,y,z)
func (h Header) VoxelPosition(x, y, z int) r3.Vec {
	return h.VoxelToScanner.Apply(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)})
}

// Centre returns the scanner position of the geometric centre of the grid
func (h Header) Centre() r3.Vec {
	return h.VoxelToScanner.Apply(r3.Vec{
		X: float64(h.Dims[0]-1) / 2,
		Y: float64(h.Dims[1]-1) / 2,
		Z: float64(h.Dims[2]-1) / 2,
	})
}

// Corners returns the scanner positions of the eight outer corners of the
// grid, i.e. the voxel-edge corners at -0.5 and dim-0.5
func (h Header) Corners() [8]r3.Vec {
	var c [8]r3.Vec
	for i := 0; i < 8; i++ {
		v := r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}
		if i&1 != 0 {
			v.X = float64(h.Dims[0]) - 0.5
		}
		if i&2 != 0 {
			v.Y = float64(h.Dims[1]) - 0.5
		}
		if i&4 != 0 {
			v.Z = float64(h.Dims[2]) - 0.5
		}
		c[i] = h.VoxelToScanner.Apply(v)
	}
	return c
}

// String formats the header geometry for log messages
func (h Header) String() string {
	sp := h.Spacing()
	return fmt.Sprintf("%dx%dx%d voxels, %.3gx%.3gx%.3g mm", h.Dims[0], h.Dims[1], h.Dims[2], sp[0], sp[1], sp[2])
}
