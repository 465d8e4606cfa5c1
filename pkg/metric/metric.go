package metric

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sample is one sampling-grid voxel that falls inside both images (and both
// masks, if any). Gradients are with respect to scanner coordinates.
type Sample struct {
	Index int
	Pos   r3.Vec

	PosA, PosB   r3.Vec
	A, B         float64
	GradA, GradB r3.Vec
}

// Metric computes a similarity cost over a set of samples. It must write the
// derivative of the cost with respect to each sample's A and B intensities
// into dA and dB (both len(samples)).
type Metric interface {
	Cost(p *Params, samples []Sample, dA, dB []float64) float64
}

// DirectionAware is implemented by metrics whose cost depends on a set of
// orientation directions (3xN, unit columns)
type DirectionAware interface {
	SetDirections(directions *mat.Dense)
}

// New returns the metric with the given name: "mse" (MeanSquared), "ncc"
// (CrossCorrelation) or "lncc" (LocalCrossCorrelation)
func New(name string) (Metric, error) {
	switch name {
	case "mse", "diff":
		return MeanSquared{}, nil
	case "ncc":
		return CrossCorrelation{}, nil
	case "lncc":
		return LocalCrossCorrelation{}, nil
	}
	return nil, errors.Errorf("unknown metric %q (want mse, ncc or lncc)", name)
}
