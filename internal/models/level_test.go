package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelSummaryString(t *testing.T) {
	s := LevelSummary{Level: 1, ScaleFactor: 1, MaxIterations: 300, Iterations: 42, CostAfter: 0.125}
	assert.Equal(t, "level 2: scale 1, 42/300 iterations, cost 0.125", s.String())

	s.Sparsity = 0.25
	s.Reverted = true
	assert.Equal(t, "level 2: scale 1, 42/300 iterations, cost 0.125, sparsity 0.25 (reverted)", s.String())
}
