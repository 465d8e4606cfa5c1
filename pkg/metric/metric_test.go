package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/internal/workerpool"
	"mrregister/pkg/optim"
	"mrregister/pkg/transform"
	"mrregister/pkg/volume"
)

func blobVolume(dims [3]int, spacing [3]float64, origin, centre r3.Vec, sigma float64) *volume.Volume {
	v := volume.New(volume.NewHeader(dims, spacing, origin))
	for idx := range v.Data {
		x, y, z := v.Header.Coords(idx)
		p := v.Header.VoxelPosition(x, y, z)
		d := r3.Sub(p, centre)
		// an anisotropic blob so rotations are observable
		v.Data[idx] = 100 * math.Exp(-(d.X*d.X/(sigma*sigma)+d.Y*d.Y/(2*sigma*sigma)+d.Z*d.Z/(1.5*sigma*sigma))/2)
	}
	return v
}

type fixture struct {
	a, b, midway *volume.Volume
	tr           *transform.Linear
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	a := blobVolume([3]int{20, 20, 20}, [3]float64{1, 1, 1}, r3.Vec{}, r3.Vec{X: 9, Y: 9.5, Z: 10}, 3)
	b := blobVolume([3]int{16, 18, 20}, [3]float64{1.2, 1.1, 1}, r3.Vec{X: 0.5, Y: -0.5}, r3.Vec{X: 10, Y: 9, Z: 10.5}, 3)
	tr := transform.NewAffine()
	tr.SetCentre(r3.Vec{X: 9.5, Y: 9.5, Z: 10})
	x := []float64{
		1.01, 0.02, -0.01,
		-0.015, 0.99, 0.01,
		0.005, 0.01, 1.02,
		0.4, -0.3, 0.2,
	}
	require.NoError(t, tr.SetParameters(x))
	return fixture{a: a, b: b, midway: a, tr: tr}
}

func (f fixture) params(t *testing.T, symmetric bool) *Params {
	t.Helper()
	p, err := NewParams(f.tr, f.a, f.b, f.midway, symmetric)
	require.NoError(t, err)
	p.Pool = workerpool.New(3)
	return p
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	metrics := map[string]Metric{
		"mse":  MeanSquared{},
		"ncc":  CrossCorrelation{},
		"lncc": LocalCrossCorrelation{},
	}
	f := newFixture(t)
	for name, m := range metrics {
		for _, symmetric := range []bool{true, false} {
			ev := NewEvaluate(m, f.params(t, symmetric))
			scales := f.tr.OptimiserWeights()
			rel, err := optim.CheckGradient(ev, f.tr.Parameters(), 1e-5, scales)
			require.NoError(t, err)
			assert.Less(t, rel, 2e-2, "%s symmetric=%v", name, symmetric)
		}
	}
}

func TestEvaluateDoesNotModifyTransform(t *testing.T) {
	f := newFixture(t)
	before := f.tr.Parameters()
	ev := NewEvaluate(MeanSquared{}, f.params(t, true))
	x := append([]float64(nil), before...)
	x[9] += 2
	grad := make([]float64, len(x))
	_, err := ev.Evaluate(x, grad)
	require.NoError(t, err)
	assert.Equal(t, before, f.tr.Parameters())
	assert.Equal(t, 1, ev.Evaluations())
	assert.Equal(t, transform.NumParameters, ev.Size())
}

func TestIdenticalImagesHaveZeroGradient(t *testing.T) {
	a := blobVolume([3]int{12, 12, 12}, [3]float64{1, 1, 1}, r3.Vec{}, r3.Vec{X: 5, Y: 6, Z: 5.5}, 2)
	tr := transform.NewRigid()
	tr.SetCentre(a.Header.Centre())
	for _, symmetric := range []bool{true, false} {
		p, err := NewParams(tr, a, a, a, symmetric)
		require.NoError(t, err)
		ev := NewEvaluate(MeanSquared{}, p)
		grad := make([]float64, transform.NumParameters)
		cost, err := ev.Evaluate(tr.Parameters(), grad)
		require.NoError(t, err)
		assert.Equal(t, 0.0, cost)
		for i, g := range grad {
			assert.Equal(t, 0.0, g, "component %d", i)
		}
	}
}

func TestCrossCorrelationOfIdenticalImages(t *testing.T) {
	a := blobVolume([3]int{12, 12, 12}, [3]float64{1, 1, 1}, r3.Vec{}, r3.Vec{X: 5, Y: 6, Z: 5.5}, 2)
	tr := transform.NewAffine()
	p, err := NewParams(tr, a, a, a, true)
	require.NoError(t, err)

	grad := make([]float64, transform.NumParameters)
	cost, err := NewEvaluate(CrossCorrelation{}, p).Evaluate(tr.Parameters(), grad)
	require.NoError(t, err)
	assert.InDelta(t, -1, cost, 1e-12)
	for _, g := range grad {
		assert.InDelta(t, 0, g, 1e-9)
	}

	cost, err = NewEvaluate(LocalCrossCorrelation{}, p).Evaluate(tr.Parameters(), grad)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, -1.0)
	assert.Less(t, cost, -0.5)
}

func TestCrossCorrelationConstantImage(t *testing.T) {
	samples := []Sample{{A: 1, B: 2}, {A: 1, B: 3}}
	dA, dB := make([]float64, 2), make([]float64, 2)
	assert.Equal(t, 0.0, CrossCorrelation{}.Cost(nil, samples, dA, dB))
	assert.Equal(t, []float64{0, 0}, dA)
}

func TestMeanSquaredCost(t *testing.T) {
	samples := []Sample{{A: 1, B: 3}, {A: 2, B: 2}}
	dA, dB := make([]float64, 2), make([]float64, 2)
	assert.Equal(t, 1.0, MeanSquared{}.Cost(nil, samples, dA, dB))
	assert.Equal(t, []float64{-1, 0}, dA)
	assert.Equal(t, []float64{1, 0}, dB)
}

func TestNoOverlapIsInfinite(t *testing.T) {
	f := newFixture(t)
	far := blobVolume([3]int{8, 8, 8}, [3]float64{1, 1, 1}, r3.Vec{X: 1000}, r3.Vec{X: 1004}, 2)
	p, err := NewParams(f.tr, f.a, far, f.a, true)
	require.NoError(t, err)
	grad := make([]float64, transform.NumParameters)
	cost, err := NewEvaluate(MeanSquared{}, p).Evaluate(f.tr.Parameters(), grad)
	require.NoError(t, err)
	assert.True(t, math.IsInf(cost, 1))
	assert.Equal(t, make([]float64, transform.NumParameters), grad)
}

func TestAllTrueMaskMatchesNoMask(t *testing.T) {
	f := newFixture(t)
	x := f.tr.Parameters()

	plain := NewEvaluate(MeanSquared{}, f.params(t, true))
	g0 := make([]float64, len(x))
	c0, err := plain.Evaluate(x, g0)
	require.NoError(t, err)

	p := f.params(t, true)
	ones := func(v *volume.Volume) *volume.Volume {
		m := v.Scratch()
		for i := range m.Data {
			m.Data[i] = 1
		}
		return m
	}
	require.NoError(t, p.SetMaskA(ones(f.a)))
	require.NoError(t, p.SetMaskB(ones(f.b)))
	g1 := make([]float64, len(x))
	c1, err := NewEvaluate(MeanSquared{}, p).Evaluate(x, g1)
	require.NoError(t, err)

	assert.Equal(t, c0, c1)
	assert.Equal(t, g0, g1)
}

func TestMaskRestrictsSamples(t *testing.T) {
	f := newFixture(t)
	p := f.params(t, true)
	mask := f.a.Scratch()
	for z := 0; z < 20; z++ {
		for y := 0; y < 20; y++ {
			for x := 0; x < 10; x++ {
				mask.Set(x, y, z, 1)
			}
		}
	}
	require.NoError(t, p.SetMaskA(mask))
	ev := NewEvaluate(MeanSquared{}, p)
	masked, err := ev.Samples(f.tr.Parameters())
	require.NoError(t, err)

	all, err := NewEvaluate(MeanSquared{}, f.params(t, true)).Samples(f.tr.Parameters())
	require.NoError(t, err)
	assert.NotEmpty(t, masked)
	assert.Less(t, len(masked), len(all))
	for _, s := range masked {
		assert.Less(t, s.PosA.X, 9.5)
	}
}

func TestSparsity(t *testing.T) {
	f := newFixture(t)
	n := f.a.Header.NumVoxels()

	p := f.params(t, true)
	assert.Len(t, p.Voxels(), n)

	p = f.params(t, true)
	p.Sparsity = 1
	assert.Len(t, p.Voxels(), n)

	p = f.params(t, true)
	p.Sparsity = 0.25
	p.Seed = 7
	v1 := p.Voxels()
	assert.Len(t, v1, n/4)
	assert.IsIncreasing(t, v1)

	q := f.params(t, true)
	q.Sparsity = 0.25
	q.Seed = 7
	assert.Equal(t, v1, q.Voxels())

	q = f.params(t, true)
	q.Sparsity = 1e-9
	assert.Len(t, q.Voxels(), 1)

	// the subset is a fraction of the grid; masks are applied per evaluation
	mask := volume.New(f.a.Header)
	for i := range mask.Data[:n/2] {
		mask.Data[i] = 1
	}
	q = f.params(t, true)
	require.NoError(t, q.SetMaskA(mask))
	q.Sparsity = 0.25
	q.Seed = 7
	assert.Equal(t, v1, q.Voxels())
}

func TestEvaluateDeterministicAcrossWorkers(t *testing.T) {
	f := newFixture(t)
	x := f.tr.Parameters()
	var costs []float64
	var grads [][]float64
	for _, workers := range []int{1, 2, 5} {
		p := f.params(t, true)
		p.Pool = workerpool.New(workers)
		g := make([]float64, len(x))
		c, err := NewEvaluate(CrossCorrelation{}, p).Evaluate(x, g)
		require.NoError(t, err)
		costs = append(costs, c)
		grads = append(grads, g)
	}
	assert.Equal(t, costs[0], costs[1])
	assert.Equal(t, costs[0], costs[2])
	assert.Equal(t, grads[0], grads[2])
}

type directionMetric struct {
	MeanSquared
	dirs *mat.Dense
}

func (d *directionMetric) SetDirections(dirs *mat.Dense) { d.dirs = dirs }

func TestDirectionsAreForwarded(t *testing.T) {
	f := newFixture(t)
	dirs := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 0, 0})

	dm := &directionMetric{}
	ev := NewEvaluate(dm, f.params(t, true))
	ev.SetDirections(dirs)
	assert.Same(t, dirs, dm.dirs)
	assert.Same(t, dirs, ev.Directions())

	// plain metrics ignore them
	ev = NewEvaluate(MeanSquared{}, f.params(t, true))
	ev.SetDirections(dirs)
	assert.Same(t, dirs, ev.Directions())
}

func TestSetExtent(t *testing.T) {
	f := newFixture(t)
	p := f.params(t, true)
	require.NoError(t, p.SetExtent([]int{2}))
	assert.Equal(t, [3]int{2, 2, 2}, p.Extent)
	require.NoError(t, p.SetExtent([]int{1, 2, 3}))
	assert.Equal(t, [3]int{1, 2, 3}, p.Extent)
	assert.EqualError(t, p.SetExtent([]int{1, 0, 1}), "the neighborhood kernel extent must be at least 1 voxel")
	assert.Error(t, p.SetExtent([]int{1, 1}))
}

func TestNewMetricByName(t *testing.T) {
	for _, name := range []string{"mse", "diff", "ncc", "lncc"} {
		m, err := New(name)
		require.NoError(t, err)
		assert.NotNil(t, m)
	}
	_, err := New("mi")
	assert.Error(t, err)
}

func TestNewParamsValidates(t *testing.T) {
	f := newFixture(t)
	_, err := NewParams(nil, f.a, f.b, f.midway, true)
	assert.Error(t, err)
	_, err = NewParams(f.tr, nil, f.b, f.midway, true)
	assert.ErrorContains(t, err, "first image")
}
