package metric

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/volume"
)

// blockSize is the number of grid voxels per work item. Partial sums are
// reduced block by block in order, so results do not depend on the number of
// workers.
const blockSize = 4096

// Evaluate adapts a Metric and its Params into an optim.Function of the
// transform parameters
type Evaluate struct {
	metric     Metric
	params     *Params
	directions *mat.Dense

	evaluations int
}

// NewEvaluate binds m to p
func NewEvaluate(m Metric, p *Params) *Evaluate {
	return &Evaluate{metric: m, params: p}
}

// SetDirections forwards orientation directions to a DirectionAware metric.
// Metrics that do not use directions ignore them.
func (e *Evaluate) SetDirections(directions *mat.Dense) {
	e.directions = directions
	if da, ok := e.metric.(DirectionAware); ok {
		da.SetDirections(directions)
	}
}

// Directions returns the directions set with SetDirections
func (e *Evaluate) Directions() *mat.Dense { return e.directions }

// Evaluations returns how many times Evaluate has been called
func (e *Evaluate) Evaluations() int { return e.evaluations }

// Size implements optim.Function
func (e *Evaluate) Size() int { return len(e.params.Transform.Parameters()) }

// Evaluate implements optim.Function. The transform itself is not modified.
// When no voxel overlaps both images the cost is +Inf with a zero gradient.
func (e *Evaluate) Evaluate(x, grad []float64) (float64, error) {
	e.evaluations++
	if len(grad) != len(x) {
		return 0, errors.Errorf("gradient has %d entries, parameters %d", len(grad), len(x))
	}
	for i := range grad {
		grad[i] = 0
	}

	h, err := e.params.Transform.HalfFromParameters(x)
	if err != nil {
		return 0, err
	}
	hInv, err := h.Inverse()
	if err != nil {
		return 0, errors.Wrap(err, "half transform")
	}

	samples := e.params.collect(h, hInv)
	if len(samples) == 0 {
		return math.Inf(1), nil
	}

	dA := make([]float64, len(samples))
	dB := make([]float64, len(samples))
	cost := e.metric.Cost(e.params, samples, dA, dB)

	e.params.accumulate(grad, samples, dA, dB, h, hInv)
	return cost, nil
}

// Samples returns the samples seen under parameters x
func (e *Evaluate) Samples(x []float64) ([]Sample, error) {
	h, err := e.params.Transform.HalfFromParameters(x)
	if err != nil {
		return nil, err
	}
	hInv, err := h.Inverse()
	if err != nil {
		return nil, errors.Wrap(err, "half transform")
	}
	return e.params.collect(h, hInv), nil
}

func numBlocks(n int) int {
	return (n + blockSize - 1) / blockSize
}

// collect gathers the eligible samples in grid order
func (p *Params) collect(h, hInv volume.Affine) []Sample {
	voxels := p.Voxels()
	grid := p.Grid()
	blocks := make([][]Sample, numBlocks(len(voxels)))

	p.Pool.ParallelFor(len(blocks), func(start, end int) {
		for b := start; b < end; b++ {
			lo := b * blockSize
			hi := min(lo+blockSize, len(voxels))
			out := make([]Sample, 0, hi-lo)
			for _, idx := range voxels[lo:hi] {
				x, y, z := grid.Coords(idx)
				g := grid.VoxelPosition(x, y, z)
				pA, pB := p.positions(g, h, hInv)
				if !p.insideMasks(pA, pB) {
					continue
				}
				a, ga, ok := p.interpA.ValueAndGradient(pA)
				if !ok {
					continue
				}
				bv, gb, ok := p.interpB.ValueAndGradient(pB)
				if !ok {
					continue
				}
				out = append(out, Sample{Index: idx, Pos: g, PosA: pA, PosB: pB, A: a, B: bv, GradA: ga, GradB: gb})
			}
			blocks[b] = out
		}
	})

	n := 0
	for _, b := range blocks {
		n += len(b)
	}
	samples := make([]Sample, 0, n)
	for _, b := range blocks {
		samples = append(samples, b...)
	}
	return samples
}

// accumulate applies the chain rule from intensity derivatives to the
// parameters of the half transform: M row-major (9) then t (3).
func (p *Params) accumulate(grad []float64, samples []Sample, dA, dB []float64, h, hInv volume.Affine) {
	c := p.Transform.Centre()
	partial := make([][12]float64, numBlocks(len(samples)))

	p.Pool.ParallelFor(len(partial), func(start, end int) {
		for b := start; b < end; b++ {
			var g [12]float64
			lo := b * blockSize
			hi := min(lo+blockSize, len(samples))
			for i := lo; i < hi; i++ {
				s := &samples[i]
				if p.Symmetric {
					// pA = H⁻¹(m): moving H moves pA by -M⁻¹ dH(pA)
					gA := hInv.ApplyLinearTranspose(s.GradA)
					addOuter(&g, -dA[i], gA, r3.Sub(s.PosA, c))
					addOuter(&g, dB[i], s.GradB, r3.Sub(s.Pos, c))
				} else {
					// pB = H(H(x)): dH(y) + M dH(x), y = H(x)
					y := h.Apply(s.Pos)
					mtg := h.ApplyLinearTranspose(s.GradB)
					addOuter(&g, dB[i], s.GradB, r3.Sub(y, c))
					addOuter(&g, dB[i], mtg, r3.Sub(s.Pos, c))
				}
			}
			partial[b] = g
		}
	})

	for _, g := range partial {
		for i := range g {
			grad[i] += g[i]
		}
	}
}

// addOuter adds w·u(v)ᵀ to the linear-part entries and w·u to the
// translation entries
func addOuter(g *[12]float64, w float64, u, v r3.Vec) {
	if w == 0 {
		return
	}
	uu := [3]float64{u.X, u.Y, u.Z}
	vv := [3]float64{v.X, v.Y, v.Z}
	for j := 0; j < 3; j++ {
		for k := 0; k < 3; k++ {
			g[3*j+k] += w * uu[j] * vv[k]
		}
		g[9+j] += w * uu[j]
	}
}
