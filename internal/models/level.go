package models

import "fmt"

// LevelSummary records what happened at one resolution level of a
// registration run
type LevelSummary struct {
	// Level is the zero-based index of the level in the schedule
	Level int

	// ScaleFactor is the resampling factor applied at this level
	ScaleFactor float64

	// Sparsity is the fraction of eligible voxels sampled (0 means all)
	Sparsity float64

	// MaxIterations is the iteration budget given to the optimiser
	MaxIterations int

	// Iterations is the number of iterations the optimiser actually ran
	Iterations int

	// Evaluations is the number of cost function evaluations
	Evaluations int

	// CostBefore and CostAfter are the metric values at the start and end of
	// the level
	CostBefore float64
	CostAfter  float64

	// Reverted is set when the level's result was discarded because the cost
	// got worse
	Reverted bool

	// Parameters is the committed parameter vector
	Parameters []float64
}

// String formats the summary as a single line
func (s LevelSummary) String() string {
	txt := fmt.Sprintf("level %d: scale %.3g, %d/%d iterations, cost %.6g",
		s.Level+1, s.ScaleFactor, s.Iterations, s.MaxIterations, s.CostAfter)
	if s.Sparsity > 0 {
		txt += fmt.Sprintf(", sparsity %.3g", s.Sparsity)
	}
	if s.Reverted {
		txt += " (reverted)"
	}
	return txt
}
