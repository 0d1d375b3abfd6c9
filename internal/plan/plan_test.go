package plan

import (
	"testing"
	"time"

	"github.com/prodigy-dev/prodigy/internal/workflow"
)

func TestDetectMode_Priority(t *testing.T) {
	w := &workflow.Workflow{ID: "w", Map: &workflow.MapSpec{MaxParallel: 2}}
	if got := DetectMode(w, true); got != workflow.ModeDryRun {
		t.Fatalf("expected dry-run to take priority, got %s", got)
	}
	if got := DetectMode(w, false); got != workflow.ModeMapReduce {
		t.Fatalf("expected mapreduce mode, got %s", got)
	}
	plain := &workflow.Workflow{ID: "w2"}
	if got := DetectMode(plain, false); got != workflow.ModeSequential {
		t.Fatalf("expected sequential default, got %s", got)
	}
}

func TestEstimateResources_MapReduce(t *testing.T) {
	w := &workflow.Workflow{ID: "w", Map: &workflow.MapSpec{MaxParallel: 5}}
	est := EstimateResources(w, workflow.ModeMapReduce)
	if est.Worktrees != 6 {
		t.Fatalf("expected worktrees = max_parallel+1 = 6, got %d", est.Worktrees)
	}
	if est.MaxConcurrentCmds != 5 {
		t.Fatalf("expected concurrency = max_parallel = 5, got %d", est.MaxConcurrentCmds)
	}
}

func TestEstimateResources_SequentialWorktreeMode(t *testing.T) {
	w := &workflow.Workflow{ID: "w"}
	est := EstimateResources(w, workflow.ModeSequential)
	if est.Worktrees != 1 {
		t.Fatalf("expected exactly 1 worktree for sequential mode, got %d", est.Worktrees)
	}
}

func TestPlanPhases_MapReduceOrdering(t *testing.T) {
	w := &workflow.Workflow{
		ID:     "w",
		Setup:  &workflow.SetupSpec{Commands: []workflow.Step{{Shell: "echo setup"}}},
		Map:    &workflow.MapSpec{MaxParallel: 1, AgentTemplate: []workflow.Step{{Shell: "echo map"}}},
		Reduce: &workflow.ReduceSpec{Commands: []workflow.Step{{Shell: "echo reduce"}}},
	}
	phases := PlanPhases(w, workflow.ModeMapReduce)
	if len(phases) != 3 {
		t.Fatalf("expected 3 phases, got %d", len(phases))
	}
	want := []string{"setup", "map", "reduce"}
	for i, name := range want {
		if phases[i].Name != name {
			t.Fatalf("phase %d: expected %s, got %s", i, name, phases[i].Name)
		}
	}
}

func TestPlanPhases_OptionalSetupReduce(t *testing.T) {
	w := &workflow.Workflow{
		ID:  "w",
		Map: &workflow.MapSpec{MaxParallel: 1, AgentTemplate: []workflow.Step{{Shell: "echo map"}}},
	}
	phases := PlanPhases(w, workflow.ModeMapReduce)
	if len(phases) != 1 || phases[0].Name != "map" {
		t.Fatalf("expected single map phase, got %+v", phases)
	}
}

func TestPlanResume_AllFourStates(t *testing.T) {
	cases := []struct {
		name  string
		state workflow.CheckpointState
		want  ResumePlan
	}{
		{
			name:  "before_step",
			state: workflow.CheckpointState{Kind: workflow.CheckpointBeforeStep, StepIndex: 2},
			want:  ResumePlan{StartIndex: 2, RetryCurrent: true},
		},
		{
			name:  "completed",
			state: workflow.CheckpointState{Kind: workflow.CheckpointCompleted, StepIndex: 2},
			want:  ResumePlan{StartIndex: 3, RetryCurrent: false},
		},
		{
			name:  "failed_retryable",
			state: workflow.CheckpointState{Kind: workflow.CheckpointFailed, StepIndex: 1, Retryable: true},
			want:  ResumePlan{StartIndex: 1, RetryCurrent: true},
		},
		{
			name:  "failed_terminal",
			state: workflow.CheckpointState{Kind: workflow.CheckpointFailed, StepIndex: 1, Retryable: false},
			want:  ResumePlan{StartIndex: 1, RetryCurrent: false, SurfaceError: true},
		},
		{
			name:  "interrupted_in_progress",
			state: workflow.CheckpointState{Kind: workflow.CheckpointInterrupted, StepIndex: 4, InProgress: true},
			want:  ResumePlan{StartIndex: 4, RetryCurrent: true},
		},
		{
			name:  "interrupted_not_in_progress",
			state: workflow.CheckpointState{Kind: workflow.CheckpointInterrupted, StepIndex: 4, InProgress: false},
			want:  ResumePlan{StartIndex: 5, RetryCurrent: false},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cp := workflow.WorkflowCheckpoint{State: tc.state}
			got := PlanResume(cp)
			if got.StartIndex != tc.want.StartIndex || got.RetryCurrent != tc.want.RetryCurrent || got.SurfaceError != tc.want.SurfaceError {
				t.Fatalf("case %s: got %+v, want %+v", tc.name, got, tc.want)
			}
		})
	}
}

func TestPlanResume_Deterministic(t *testing.T) {
	cp := workflow.WorkflowCheckpoint{
		State:          workflow.CheckpointState{Kind: workflow.CheckpointCompleted, StepIndex: 1},
		CompletedSteps: []workflow.CompletedStepRecord{{StepIndex: 0}, {StepIndex: 1}},
		CreatedAt:      time.Now(),
	}
	first := PlanResume(cp)
	second := PlanResume(cp)
	if first.StartIndex != second.StartIndex || first.RetryCurrent != second.RetryCurrent {
		t.Fatalf("expected deterministic output across repeated calls")
	}
	if len(first.SkipSteps) != 2 {
		t.Fatalf("expected 2 skip steps, got %d", len(first.SkipSteps))
	}
}
