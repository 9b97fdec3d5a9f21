package orchestrator

import (
	"fmt"
	"slices"
	"time"

	"github.com/systemstart/showrunner/pkg/api"
)

// Stage is a state of the run state machine.
type Stage string

const (
	StageBuilding   Stage = "building"
	StageGenerating Stage = "generating"
	StagePlanning   Stage = "planning"
	StageExecuting  Stage = "executing"
	StageAssembling Stage = "assembling"
	StageDone       Stage = "done"
	StageAborted    Stage = "aborted"
)

// transitions lists the legal successors of each stage. Aborted is legal
// from every non-terminal stage.
var transitions = map[Stage][]Stage{
	StageBuilding:   {StageGenerating, StageAborted},
	StageGenerating: {StagePlanning, StageAborted},
	StagePlanning:   {StageExecuting, StageAborted},
	StageExecuting:  {StageAssembling, StageAborted},
	StageAssembling: {StageDone, StageAborted},
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageAborted
}

// RunState is the mutable state of one run. It is owned by a single Run
// call and never shared.
type RunState struct {
	ID    string
	Stage Stage
	// Reached is the last non-terminal stage entered.
	Reached Stage
	// Trigger is the id of the trigger being planned or executed.
	Trigger string

	GenerationAttempts int
	// StepAttempts counts driver calls per trigger, retries included.
	StepAttempts map[string]int

	Summary api.AnalysisSummary
	Bundle  api.ContextBundle
	Script  *api.Script
	Plan    *api.Plan
	DemoLog []api.TriggerLog
	Err     error

	StartedAt    time.Time
	stageStarted time.Time
}

func newRunState(id string, now time.Time) *RunState {
	return &RunState{
		ID:           id,
		Stage:        StageBuilding,
		Reached:      StageBuilding,
		StepAttempts: make(map[string]int),
		StartedAt:    now,
		stageStarted: now,
	}
}

// advance moves the state machine to next and returns the time spent in
// the stage it leaves.
func (s *RunState) advance(next Stage, now time.Time) (time.Duration, error) {
	if !slices.Contains(transitions[s.Stage], next) {
		return 0, fmt.Errorf("illegal transition %s -> %s", s.Stage, next)
	}
	spent := now.Sub(s.stageStarted)
	s.Stage = next
	s.stageStarted = now
	if !next.Terminal() {
		s.Reached = next
	}
	return spent, nil
}
