// Package plan implements the Pure Planner (C1, spec.md §4.1): deciding
// execution mode, phases, parallelism, and resume plans from inputs. Every
// function here is pure — no I/O, no time/entropy dependence — so that it
// can be property-tested without mocks (spec.md §8, §9).
package plan

import (
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// DetectMode chooses the execution mode for a workflow. Priority: explicit
// dry-run flag > presence of map/reduce phases > default Sequential.
func DetectMode(w *workflow.Workflow, dryRun bool) workflow.Mode {
	if dryRun {
		return workflow.ModeDryRun
	}
	if w.HasMapReduce() {
		return workflow.ModeMapReduce
	}
	return workflow.ModeSequential
}

// ResourceEstimate is the planner's forecast of what a run will consume.
type ResourceEstimate struct {
	Worktrees          int
	MaxConcurrentCmds  int
	MemoryEstimateMB   int
	DiskEstimateMB     int
}

// baseMemoryPerWorktreeMB and baseDiskPerWorktreeMB are conservative,
// deterministic per-worktree estimates (a git checkout plus agent overhead).
const (
	baseMemoryPerWorktreeMB = 128
	baseDiskPerWorktreeMB   = 256
)

// EstimateResources forecasts resource usage for a workflow run under mode.
// For MapReduce: worktrees = max_parallel + 1 (agents plus the parent);
// concurrency = max_parallel. Sequential in worktree mode: worktrees = 1.
func EstimateResources(w *workflow.Workflow, mode workflow.Mode) ResourceEstimate {
	switch mode {
	case workflow.ModeMapReduce:
		maxParallel := 1
		if w.Map != nil && w.Map.MaxParallel > 0 {
			maxParallel = w.Map.MaxParallel
		}
		worktrees := maxParallel + 1
		return ResourceEstimate{
			Worktrees:         worktrees,
			MaxConcurrentCmds: maxParallel,
			MemoryEstimateMB:  worktrees * baseMemoryPerWorktreeMB,
			DiskEstimateMB:    worktrees * baseDiskPerWorktreeMB,
		}
	default:
		return ResourceEstimate{
			Worktrees:         1,
			MaxConcurrentCmds: 1,
			MemoryEstimateMB:  baseMemoryPerWorktreeMB,
			DiskEstimateMB:    baseDiskPerWorktreeMB,
		}
	}
}

// PlanPhases returns the ordered phase sequence for a workflow under mode.
// MapReduce emits [Setup?, Map, Reduce?] in that order; Sequential emits a
// single phase named "main" containing the top-level commands.
func PlanPhases(w *workflow.Workflow, mode workflow.Mode) []workflow.Phase {
	if mode != workflow.ModeMapReduce {
		return []workflow.Phase{{Name: "main", Steps: w.Steps()}}
	}

	var phases []workflow.Phase
	if w.Setup != nil {
		phases = append(phases, workflow.Phase{Name: "setup", Steps: indexed(w.Setup.Commands)})
	}
	if w.Map != nil {
		phases = append(phases, workflow.Phase{Name: "map", Steps: indexed(w.Map.AgentTemplate)})
	}
	if w.Reduce != nil {
		phases = append(phases, workflow.Phase{Name: "reduce", Steps: indexed(w.Reduce.Commands)})
	}
	return phases
}

func indexed(steps []workflow.Step) []workflow.Step {
	out := make([]workflow.Step, len(steps))
	for i, s := range steps {
		s.Index = i
		out[i] = s
	}
	return out
}

// ResumePlan is the pure output of planning a resume from a checkpoint.
type ResumePlan struct {
	StartIndex   int
	RetryCurrent bool
	SkipSteps    map[int]struct{}
	Variables    map[string]any
	// SurfaceError is set when the checkpoint represents a terminal,
	// non-retryable failure that must be surfaced to the caller rather than
	// resumed automatically.
	SurfaceError bool
}

// PlanResume computes the next run's plan from a sequential workflow
// checkpoint (spec.md §4.1). Deterministic: same checkpoint always yields
// the same plan (invariant 2/3, spec.md §8).
func PlanResume(cp workflow.WorkflowCheckpoint) ResumePlan {
	skip := make(map[int]struct{}, len(cp.CompletedSteps))
	for _, rec := range cp.CompletedSteps {
		skip[rec.StepIndex] = struct{}{}
	}

	base := ResumePlan{SkipSteps: skip, Variables: cp.Variables}

	switch cp.State.Kind {
	case workflow.CheckpointBeforeStep:
		base.StartIndex = cp.State.StepIndex
		base.RetryCurrent = true
	case workflow.CheckpointCompleted:
		base.StartIndex = cp.State.StepIndex + 1
		base.RetryCurrent = false
	case workflow.CheckpointFailed:
		base.StartIndex = cp.State.StepIndex
		base.RetryCurrent = cp.State.Retryable
		base.SurfaceError = !cp.State.Retryable
	case workflow.CheckpointInterrupted:
		base.StartIndex = cp.State.StepIndex
		if !cp.State.InProgress {
			base.StartIndex = cp.State.StepIndex + 1
		}
		base.RetryCurrent = cp.State.InProgress
	}
	return base
}
