package registration

import "fmt"

// Stage is a step of a registration run. A run moves through
//
//	Unvalidated → Validated → Initialized →
//	{PreparingLevel → Optimizing → ParametersCommitted} per level → Done
type Stage int

const (
	StageUnvalidated Stage = iota
	StageValidated
	StageInitialized
	StagePreparingLevel
	StageOptimizing
	StageParametersCommitted
	StageDone
)

var stageNames = map[Stage]string{
	StageUnvalidated:         "unvalidated",
	StageValidated:           "validated",
	StageInitialized:         "initialized",
	StagePreparingLevel:      "preparing level",
	StageOptimizing:          "optimizing",
	StageParametersCommitted: "parameters committed",
	StageDone:                "done",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// LevelObserver is told about every stage a run enters. level is the
// zero-based level index, or -1 for stages outside the level loop.
type LevelObserver func(stage Stage, level int)

// InitType selects how the transform is initialised before the first level
type InitType int

const (
	// InitMass aligns the intensity centres of mass
	InitMass InitType = iota
	// InitGeometric aligns the centres of the image grids
	InitGeometric
	// InitNone keeps the transform as supplied
	InitNone
)

func (t InitType) String() string {
	switch t {
	case InitMass:
		return "mass"
	case InitGeometric:
		return "geometric"
	case InitNone:
		return "none"
	}
	return fmt.Sprintf("InitType(%d)", int(t))
}

// ParseInitType converts mass, geometric or none into an InitType
func ParseInitType(s string) (InitType, error) {
	switch s {
	case "mass":
		return InitMass, nil
	case "geometric":
		return InitGeometric, nil
	case "none":
		return InitNone, nil
	}
	return 0, configErrorf("unknown initialisation type %q (want mass, geometric or none)", s)
}

// Strategy selects the space in which the images are compared
type Strategy int

const (
	// StrategySymmetric compares both images in a midway space, each moved by
	// half of the transform
	StrategySymmetric Strategy = iota
	// StrategyNonSymmetric compares B moved by the full transform with A on
	// A's own grid
	StrategyNonSymmetric
)

func (s Strategy) String() string {
	switch s {
	case StrategySymmetric:
		return "symmetric"
	case StrategyNonSymmetric:
		return "nonsymmetric"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts symmetric or nonsymmetric into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "symmetric":
		return StrategySymmetric, nil
	case "nonsymmetric":
		return StrategyNonSymmetric, nil
	}
	return 0, configErrorf("unknown registration strategy %q (want symmetric or nonsymmetric)", s)
}

// RegressionPolicy decides what happens when a level ends with a higher cost
// than it started with
type RegressionPolicy int

const (
	// RegressionAccept always commits the optimizer's result
	RegressionAccept RegressionPolicy = iota
	// RegressionRevert keeps the parameters the level started with
	RegressionRevert
)

func (p RegressionPolicy) String() string {
	switch p {
	case RegressionAccept:
		return "accept"
	case RegressionRevert:
		return "revert"
	}
	return fmt.Sprintf("RegressionPolicy(%d)", int(p))
}

// ParseRegressionPolicy converts accept or revert into a RegressionPolicy
func ParseRegressionPolicy(s string) (RegressionPolicy, error) {
	switch s {
	case "accept":
		return RegressionAccept, nil
	case "revert":
		return RegressionRevert, nil
	}
	return 0, configErrorf("unknown regression policy %q (want accept or revert)", s)
}
