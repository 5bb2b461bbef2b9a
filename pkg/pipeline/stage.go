/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: stage.go
Description: Build pipeline stages and the stage-tagged error every fatal failure is
reported as.
*/

package pipeline

// Stage is one step of the distance build.
type Stage string

const (
	StageResolveTargets   Stage = "RESOLVE_TARGETS"
	StageBuildGraph       Stage = "BUILD_GRAPH"
	StageFunctionDistance Stage = "FUNCTION_DISTANCE"
	StageBlockDistance    Stage = "BLOCK_DISTANCE"
	StageEmitMap          Stage = "EMIT_MAP"
	StageInstrument       Stage = "INSTRUMENT"
	StageReady            Stage = "READY"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageResolveTargets,
	StageBuildGraph,
	StageFunctionDistance,
	StageBlockDistance,
	StageEmitMap,
	StageInstrument,
	StageReady,
}

// StageError is a fatal failure tagged with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
