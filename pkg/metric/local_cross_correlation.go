package metric

// LocalCrossCorrelation is the negative mean of the squared normalised
// cross-correlation computed in a box neighbourhood of half-width
// Params.Extent around every sample. Only sampled voxels contribute to a
// neighbourhood.
type LocalCrossCorrelation struct{}

type localStats struct {
	cc       float64
	meanA    float64
	meanB    float64
	f        float64 // 2 sAB / (sAA sBB)
	rA, rB   float64 // sAB / sAA, sAB / sBB
	hasStats bool
}

// Cost implements Metric
func (LocalCrossCorrelation) Cost(p *Params, samples []Sample, dA, dB []float64) float64 {
	grid := p.Grid()
	slot := make([]int, grid.NumVoxels())
	for i := range slot {
		slot[i] = -1
	}
	for i, s := range samples {
		slot[s.Index] = i
	}

	// every window is a box clipped to the grid, so i lies in the window of
	// k exactly when k lies in the window of i
	neighbours := func(i int, fn func(j int)) {
		dims, ext := grid.Dims, p.Extent
		x, y, z := grid.Coords(samples[i].Index)
		for zz := max(0, z-ext[2]); zz <= min(dims[2]-1, z+ext[2]); zz++ {
			for yy := max(0, y-ext[1]); yy <= min(dims[1]-1, y+ext[1]); yy++ {
				for xx := max(0, x-ext[0]); xx <= min(dims[0]-1, x+ext[0]); xx++ {
					if j := slot[grid.Index(xx, yy, zz)]; j >= 0 {
						fn(j)
					}
				}
			}
		}
	}

	stats := make([]localStats, len(samples))
	p.Pool.ParallelFor(len(samples), func(start, end int) {
		for i := start; i < end; i++ {
			var n, sumA, sumB, sumAA, sumBB, sumAB float64
			neighbours(i, func(j int) {
				va, vb := samples[j].A, samples[j].B
				n++
				sumA += va
				sumB += vb
				sumAA += va * va
				sumBB += vb * vb
				sumAB += va * vb
			})
			sAB := sumAB - sumA*sumB/n
			sAA := sumAA - sumA*sumA/n
			sBB := sumBB - sumB*sumB/n
			if sAA*sBB <= 1e-12 {
				continue
			}
			stats[i] = localStats{
				cc:       sAB * sAB / (sAA * sBB),
				meanA:    sumA / n,
				meanB:    sumB / n,
				f:        2 * sAB / (sAA * sBB),
				rA:       sAB / sAA,
				rB:       sAB / sBB,
				hasStats: true,
			}
		}
	})

	n := float64(len(samples))
	p.Pool.ParallelFor(len(samples), func(start, end int) {
		for i := start; i < end; i++ {
			va, vb := samples[i].A, samples[i].B
			var ga, gb float64
			neighbours(i, func(k int) {
				st := &stats[k]
				if !st.hasStats {
					return
				}
				a, b := va-st.meanA, vb-st.meanB
				ga += st.f * (b - st.rA*a)
				gb += st.f * (a - st.rB*b)
			})
			dA[i] = -ga / n
			dB[i] = -gb / n
		}
	})

	cost := 0.0
	for _, st := range stats {
		cost -= st.cc
	}
	return cost / n
}
