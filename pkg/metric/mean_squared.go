package metric

// MeanSquared is half the mean squared intensity difference
type MeanSquared struct{}

// Cost implements Metric
func (MeanSquared) Cost(_ *Params, samples []Sample, dA, dB []float64) float64 {
	n := float64(len(samples))
	cost := 0.0
	for i, s := range samples {
		diff := s.A - s.B
		cost += diff * diff
		dA[i] = diff / n
		dB[i] = -diff / n
	}
	return cost / (2 * n)
}
