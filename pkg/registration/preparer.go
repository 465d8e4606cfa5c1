package registration

import (
	"github.com/pkg/errors"

	"mrregister/internal/logger"
	"mrregister/internal/workerpool"
	"mrregister/pkg/filter"
	"mrregister/pkg/volume"
)

// LevelImages is the working set of one resolution level
type LevelImages struct {
	// A and B are the smoothed (and, without a midway space, resized) inputs
	A, B *volume.Volume

	// Midway is the sampling grid of the level
	Midway *volume.Volume
}

// LevelPreparer builds the working images of a level
type LevelPreparer interface {
	Prepare(level int, scale float64) (LevelImages, error)
}

// levelStdev is the smoothing width in mm applied at a level
func levelStdev(smoothFactor, scale float64) float64 {
	return smoothFactor / (2 * scale)
}

// symmetricPreparer resizes the midway grid and smooths A and B on their
// native grids
type symmetricPreparer struct {
	a, b         *volume.Volume
	midway       volume.Header
	smoothFactor float64
	pool         *workerpool.Pool
	log          logger.ILogger
}

func (p *symmetricPreparer) Prepare(level int, scale float64) (LevelImages, error) {
	h, err := filter.ResizeHeader(p.midway, scale)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "resizing midway space")
	}
	// only the grid of the midway image is sampled
	midway := volume.New(h)

	stdev := levelStdev(p.smoothFactor, scale)
	p.log.Infof("level %d: smoothing with stdev %g mm", level+1, stdev)
	a, err := filter.Smooth(p.a, stdev, p.pool)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "smoothing first image")
	}
	b, err := filter.Smooth(p.b, stdev, p.pool)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "smoothing second image")
	}
	return LevelImages{A: a, B: b, Midway: midway}, nil
}

// nonSymmetricPreparer resizes A and B then smooths them. The resized A is
// also the sampling grid.
type nonSymmetricPreparer struct {
	a, b         *volume.Volume
	smoothFactor float64
	pool         *workerpool.Pool
	log          logger.ILogger
}

func (p *nonSymmetricPreparer) Prepare(level int, scale float64) (LevelImages, error) {
	ra, err := filter.Resize(p.a, scale, filter.InterpLinear, p.pool)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "resizing first image")
	}
	rb, err := filter.Resize(p.b, scale, filter.InterpLinear, p.pool)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "resizing second image")
	}

	stdev := levelStdev(p.smoothFactor, scale)
	p.log.Infof("level %d: smoothing with stdev %g mm", level+1, stdev)
	a, err := filter.Smooth(ra, stdev, p.pool)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "smoothing first image")
	}
	b, err := filter.Smooth(rb, stdev, p.pool)
	if err != nil {
		return LevelImages{}, errors.Wrap(err, "smoothing second image")
	}
	return LevelImages{A: a, B: b, Midway: ra}, nil
}
