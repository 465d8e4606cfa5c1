// Package metric evaluates image similarity between two volumes as a function
// of a transform's parameter vector. Params binds the level-scoped images,
// masks and sampling settings; Evaluate turns a Metric into an optim.Function
// with an analytic gradient.
package metric

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat/sampleuv"

	"mrregister/internal/workerpool"
	"mrregister/pkg/volume"
)

// Transform is what the metric needs from the transform being optimised
type Transform interface {
	Parameters() []float64
	Centre() r3.Vec
	HalfFromParameters(x []float64) (volume.Affine, error)
}

// Params binds everything a metric evaluation needs for one level.
//
// In symmetric mode Midway is the sampling grid and a midway position m is
// compared through A at H⁻¹(m) and B at H(m). Otherwise Midway is A's own
// grid and a position x is compared through A at x and B at H(H(x)).
type Params struct {
	Transform Transform
	A, B      *volume.Volume
	Midway    *volume.Volume
	Symmetric bool

	// Sparsity is the fraction of grid voxels sampled; 0 samples all of them
	Sparsity float64
	// Extent is the neighbourhood half-width in voxels for local metrics
	Extent [3]int
	// Seed fixes the sparse voxel subset
	Seed int64
	Pool *workerpool.Pool

	maskA, maskB *volume.Nearest
	interpA      *volume.Linear
	interpB      *volume.Linear
	voxels       []int
}

// NewParams validates the images and builds their interpolators
func NewParams(t Transform, a, b, midway *volume.Volume, symmetric bool) (*Params, error) {
	if t == nil {
		return nil, errors.New("metric needs a transform")
	}
	if err := a.Validate(); err != nil {
		return nil, errors.Wrap(err, "first image")
	}
	if err := b.Validate(); err != nil {
		return nil, errors.Wrap(err, "second image")
	}
	if err := midway.Validate(); err != nil {
		return nil, errors.Wrap(err, "midway image")
	}
	ia, err := volume.NewLinear(a)
	if err != nil {
		return nil, err
	}
	ib, err := volume.NewLinear(b)
	if err != nil {
		return nil, err
	}
	return &Params{
		Transform: t,
		A:         a,
		B:         b,
		Midway:    midway,
		Symmetric: symmetric,
		Extent:    [3]int{1, 1, 1},
		interpA:   ia,
		interpB:   ib,
	}, nil
}

// SetExtent sets the neighbourhood half-width. A single value applies to all
// three axes.
func (p *Params) SetExtent(extent []int) error {
	switch len(extent) {
	case 1:
		extent = []int{extent[0], extent[0], extent[0]}
	case 3:
	default:
		return errors.Errorf("kernel extent needs 1 or 3 values, got %d", len(extent))
	}
	for i, e := range extent {
		if e < 1 {
			return errors.New("the neighborhood kernel extent must be at least 1 voxel")
		}
		p.Extent[i] = e
	}
	return nil
}

// SetMaskA restricts sampling to positions inside mask in A's space
func (p *Params) SetMaskA(mask *volume.Volume) error {
	nn, err := newMaskInterp(mask)
	if err != nil {
		return errors.Wrap(err, "first image mask")
	}
	p.maskA = nn
	return nil
}

// SetMaskB restricts sampling to positions inside mask in B's space
func (p *Params) SetMaskB(mask *volume.Volume) error {
	nn, err := newMaskInterp(mask)
	if err != nil {
		return errors.Wrap(err, "second image mask")
	}
	p.maskB = nn
	return nil
}

func newMaskInterp(mask *volume.Volume) (*volume.Nearest, error) {
	if mask == nil {
		return nil, nil
	}
	if err := mask.Validate(); err != nil {
		return nil, err
	}
	return volume.NewNearest(mask)
}

// Grid returns the header of the sampling grid
func (p *Params) Grid() volume.Header {
	return p.Midway.Header
}

// Voxels returns the indices of the sampling-grid voxels visited by every
// evaluation, in increasing order. The sparse subset is drawn once from the
// whole grid and then reused so that all evaluations of a level see the same
// cost function. Field-of-view and mask checks run afterwards, per evaluation.
func (p *Params) Voxels() []int {
	if p.voxels != nil {
		return p.voxels
	}
	n := p.Grid().NumVoxels()
	if p.Sparsity <= 0 || p.Sparsity >= 1 {
		p.voxels = make([]int, n)
		for i := range p.voxels {
			p.voxels[i] = i
		}
		return p.voxels
	}
	k := max(1, int(math.Round(p.Sparsity*float64(n))))
	idx := make([]int, k)
	sampleuv.WithoutReplacement(idx, n, rand.NewSource(uint64(p.Seed)))
	sort.Ints(idx)
	p.voxels = idx
	return p.voxels
}

// positions returns the positions in A's and B's scanner space compared for
// grid position g under the half transform h (and its inverse hInv)
func (p *Params) positions(g r3.Vec, h, hInv volume.Affine) (pA, pB r3.Vec) {
	if p.Symmetric {
		return hInv.Apply(g), h.Apply(g)
	}
	return g, h.Apply(h.Apply(g))
}

func (p *Params) insideMasks(pA, pB r3.Vec) bool {
	if p.maskA != nil && !p.maskA.Inside(pA) {
		return false
	}
	if p.maskB != nil && !p.maskB.Inside(pB) {
		return false
	}
	return true
}
