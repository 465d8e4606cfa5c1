package volume

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Linear samples a volume with trilinear interpolation at scanner positions.
// Positions up to half a voxel outside the grid are clamped to the edge
// voxels; anything further out reports ok=false.
type Linear struct {
	v       *Volume
	s2v     Affine
	dims    [3]int
	strides [3]int
}

// NewLinear creates a trilinear interpolator over v
func NewLinear(v *Volume) (*Linear, error) {
	s2v, err := v.Header.ScannerToVoxel()
	if err != nil {
		return nil, err
	}
	d := v.Header.Dims
	return &Linear{
		v:       v,
		s2v:     s2v,
		dims:    d,
		strides: [3]int{1, d[0], d[0] * d[1]},
	}, nil
}

// Volume returns the interpolated image
func (l *Linear) Volume() *Volume { return l.v }

// ScannerToVoxel returns the mapping used to locate scanner positions
func (l *Linear) ScannerToVoxel() Affine { return l.s2v }

// Value returns the interpolated intensity at scanner position p
func (l *Linear) Value(p r3.Vec) (float64, bool) {
	val, _, ok := l.sample(l.s2v.Apply(p), false)
	return val, ok
}

// ValueAndGradient returns the interpolated intensity at scanner position p
// and its gradient with respect to the scanner position
func (l *Linear) ValueAndGradient(p r3.Vec) (float64, r3.Vec, bool) {
	val, g, ok := l.sample(l.s2v.Apply(p), true)
	if !ok {
		return 0, r3.Vec{}, false
	}
	return val, l.s2v.ApplyLinearTranspose(g), true
}

// VoxelValue returns the interpolated intensity at voxel position p
func (l *Linear) VoxelValue(p r3.Vec) (float64, bool) {
	val, _, ok := l.sample(p, false)
	return val, ok
}

type axisWeights struct {
	i0, i1 int
	f      float64
	flat   bool
}

func (l *Linear) axis(p float64, d int) (axisWeights, bool) {
	if p < -0.5 || p > float64(d)-0.5 || math.IsNaN(p) {
		return axisWeights{}, false
	}
	if d == 1 {
		return axisWeights{flat: true}, true
	}
	if p <= 0 {
		return axisWeights{i0: 0, i1: 1, f: 0, flat: true}, true
	}
	if p >= float64(d-1) {
		return axisWeights{i0: d - 2, i1: d - 1, f: 1, flat: true}, true
	}
	i0 := int(math.Floor(p))
	if i0 >= d-1 {
		i0 = d - 2
	}
	return axisWeights{i0: i0, i1: i0 + 1, f: p - float64(i0)}, true
}

func (l *Linear) sample(p r3.Vec, wantGrad bool) (float64, r3.Vec, bool) {
	ax, ok := l.axis(p.X, l.dims[0])
	if !ok {
		return 0, r3.Vec{}, false
	}
	ay, ok := l.axis(p.Y, l.dims[1])
	if !ok {
		return 0, r3.Vec{}, false
	}
	az, ok := l.axis(p.Z, l.dims[2])
	if !ok {
		return 0, r3.Vec{}, false
	}

	data := l.v.Data
	sx, sy, sz := l.strides[0], l.strides[1], l.strides[2]
	at := func(x, y, z int) float64 { return data[x*sx+y*sy+z*sz] }

	c000 := at(ax.i0, ay.i0, az.i0)
	c100 := at(ax.i1, ay.i0, az.i0)
	c010 := at(ax.i0, ay.i1, az.i0)
	c110 := at(ax.i1, ay.i1, az.i0)
	c001 := at(ax.i0, ay.i0, az.i1)
	c101 := at(ax.i1, ay.i0, az.i1)
	c011 := at(ax.i0, ay.i1, az.i1)
	c111 := at(ax.i1, ay.i1, az.i1)

	fx, fy, fz := ax.f, ay.f, az.f
	c00 := c000 + fx*(c100-c000)
	c10 := c010 + fx*(c110-c010)
	c01 := c001 + fx*(c101-c001)
	c11 := c011 + fx*(c111-c011)
	c0 := c00 + fy*(c10-c00)
	c1 := c01 + fy*(c11-c01)
	val := c0 + fz*(c1-c0)

	if !wantGrad {
		return val, r3.Vec{}, true
	}

	var g r3.Vec
	if !ax.flat {
		d00 := c100 - c000
		d10 := c110 - c010
		d01 := c101 - c001
		d11 := c111 - c011
		d0 := d00 + fy*(d10-d00)
		d1 := d01 + fy*(d11-d01)
		g.X = d0 + fz*(d1-d0)
	}
	if !ay.flat {
		e0 := c10 - c00
		e1 := c11 - c01
		g.Y = e0 + fz*(e1-e0)
	}
	if !az.flat {
		g.Z = c1 - c0
	}
	return val, g, true
}

// Nearest samples a volume with nearest-neighbour interpolation. It is used
// for binary masks, where a voxel counts as inside when its value exceeds 0.5.
type Nearest struct {
	v   *Volume
	s2v Affine
}

// NewNearest creates a nearest-neighbour interpolator over v
func NewNearest(v *Volume) (*Nearest, error) {
	s2v, err := v.Header.ScannerToVoxel()
	if err != nil {
		return nil, err
	}
	return &Nearest{v: v, s2v: s2v}, nil
}

// Volume returns the interpolated image
func (n *Nearest) Volume() *Volume { return n.v }

// Value returns the value of the voxel nearest to scanner position p
func (n *Nearest) Value(p r3.Vec) (float64, bool) {
	q := n.s2v.Apply(p)
	d := n.v.Header.Dims
	x, okx := nearestIndex(q.X, d[0])
	y, oky := nearestIndex(q.Y, d[1])
	z, okz := nearestIndex(q.Z, d[2])
	if !okx || !oky || !okz {
		return 0, false
	}
	return n.v.Data[n.v.Header.Index(x, y, z)], true
}

// nearestIndex rounds a voxel coordinate, accepting the same closed range
// [-0.5, d-0.5] as the linear interpolator
func nearestIndex(p float64, d int) (int, bool) {
	if !(p >= -0.5 && p <= float64(d)-0.5) {
		return 0, false
	}
	return min(int(math.Floor(p+0.5)), d-1), true
}

// Inside reports whether scanner position p falls in a mask voxel
func (n *Nearest) Inside(p r3.Vec) bool {
	val, ok := n.Value(p)
	return ok && val > 0.5
}
