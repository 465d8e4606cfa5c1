package metric

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CrossCorrelation is the negative normalised cross-correlation of the
// sampled intensities, so perfectly correlated images have cost -1
type CrossCorrelation struct{}

// Cost implements Metric
func (CrossCorrelation) Cost(_ *Params, samples []Sample, dA, dB []float64) float64 {
	a := make([]float64, len(samples))
	b := make([]float64, len(samples))
	for i, s := range samples {
		a[i] = s.A
		b[i] = s.B
	}
	meanA := stat.Mean(a, nil)
	meanB := stat.Mean(b, nil)

	var sAB, sAA, sBB float64
	for i := range a {
		a[i] -= meanA
		b[i] -= meanB
		sAB += a[i] * b[i]
		sAA += a[i] * a[i]
		sBB += b[i] * b[i]
	}
	if sAA <= 0 || sBB <= 0 {
		for i := range dA {
			dA[i], dB[i] = 0, 0
		}
		return 0
	}

	norm := math.Sqrt(sAA * sBB)
	ncc := sAB / norm
	for i := range a {
		dA[i] = -(b[i] - sAB/sAA*a[i]) / norm
		dB[i] = -(a[i] - sAB/sBB*b[i]) / norm
	}
	return -ncc
}
