// Package engine implements the Workflow Engine (C7, spec.md §4.7): the
// sequential per-step loop that drives the Command Executor through a
// resolved step list, writing a checkpoint at every step boundary so a crash
// between any two checkpoints can be resumed without re-running or skipping
// work (grounded in the teacher's runPhasedEngine loop in
// cmd/ao/rpi_phased.go, generalized from a fixed phase sequence to an
// arbitrary step list and checkpoint kind instead of an ad-hoc retry/stall
// tracker).
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prodigy-dev/prodigy/internal/checkpoint"
	"github.com/prodigy-dev/prodigy/internal/environment"
	"github.com/prodigy-dev/prodigy/internal/eventlog"
	"github.com/prodigy-dev/prodigy/internal/executor"
	"github.com/prodigy-dev/prodigy/internal/plan"
	"github.com/prodigy-dev/prodigy/internal/proderr"
	"github.com/prodigy-dev/prodigy/internal/telemetry"
	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

var tracer = telemetry.Tracer("prodigy/engine")

// Options configures one sequential run.
type Options struct {
	SessionID   string
	WorkflowPath string
	Steps       []workflow.Step
	Resume      plan.ResumePlan
	// PriorCompleted seeds the completed-step history on a resumed run (the
	// CompletedSteps of the checkpoint the resume plan was computed from).
	PriorCompleted []workflow.CompletedStepRecord
	InitialVars    map[string]any
	Env            environment.Context
	Checkpoints    *checkpoint.Store
	Events         *eventlog.Log
	ExecOptions    executor.Options
	Classifier     executor.Classifier
	Metrics        *telemetry.Metrics
}

// Result is the outcome of a full sequential run.
type Result struct {
	Completed   bool
	FailedIndex int
	Err         error
}

// Run drives every step whose index is not in Resume.SkipSteps through the
// Command Executor (Resume.StartIndex is not consulted), checkpointing
// before and after each step, per the pseudocode in
// spec.md §4.7:
//
//	for i in 0..steps.len():
//	    if i in skip_steps: continue
//	    write BeforeStep{i}
//	    result = execute(step[i], vars, env)
//	    if result.success:
//	        append CompletedStepRecord; update vars; write Completed{i}
//	    else:
//	        write Failed{i, retryable}; return
func Run(ctx context.Context, opts Options) Result {
	ctx, runSpan := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String("prodigy.session_id", opts.SessionID),
	))
	defer runSpan.End()

	vars := variables.New(cloneVars(opts.InitialVars))
	if opts.Resume.Variables != nil {
		vars = variables.New(cloneVars(opts.Resume.Variables))
	}

	completed := append([]workflow.CompletedStepRecord{}, opts.PriorCompleted...)

	emit(opts.Events, eventlog.WorkflowStarted, opts.SessionID, nil, nil)

	for i := 0; i < len(opts.Steps); i++ {
		if _, skip := opts.Resume.SkipSteps[i]; skip {
			continue
		}

		step := opts.Steps[i]
		idx := i

		if err := ctx.Err(); err != nil {
			writeInterrupted(ctx, opts, idx, vars.AsMap(), completed, true)
			emit(opts.Events, eventlog.WorkflowInterrupted, opts.SessionID, &idx, nil)
			return Result{Completed: false, FailedIndex: idx, Err: proderr.New(proderr.KindInterrupted, proderr.ErrInterrupted, false)}
		}

		writeBeforeStep(ctx, opts, idx, vars.AsMap(), completed)
		emit(opts.Events, eventlog.StepStarted, opts.SessionID, &idx, map[string]any{"summary": step.Summary()})

		stepCtx, stepSpan := tracer.Start(ctx, "engine.step", trace.WithAttributes(
			attribute.Int("prodigy.step_index", idx),
		))

		stepOpts := opts.ExecOptions
		stepOpts.WorkingDir = environment.ResolveWorkingDirectory(step, opts.Env)
		stepOpts.Env = environment.BuildCommandEnv(step, opts.Env, vars)
		stepOpts.Classifier = opts.Classifier
		stepOpts.SessionID = opts.SessionID
		stepOpts.EventLog = opts.Events

		result, execErr := executor.Execute(stepCtx, step, vars, stepOpts)

		if execErr == nil && result.Success {
			for k, v := range result.Captured {
				vars = vars.With(k, v)
			}
			rec := workflow.CompletedStepRecord{
				StepIndex:       idx,
				Summary:         step.Summary(),
				CapturedOutputs: result.Captured,
			}
			completed = append(completed, rec)
			writeCompleted(ctx, opts, idx, vars.AsMap(), completed)
			emit(opts.Events, eventlog.StepCompleted, opts.SessionID, &idx, map[string]any{"duration_ms": result.Duration.Milliseconds()})
			opts.Metrics.RecordStep(step.Kind().String(), "success", result.Duration)
			stepSpan.End()
			continue
		}

		if execErr == nil {
			execErr = fmt.Errorf("step %d failed", idx)
		}
		retryable := proderr.IsRetryable(execErr)
		writeFailed(ctx, opts, idx, vars.AsMap(), completed, execErr, retryable)
		emit(opts.Events, eventlog.StepFailed, opts.SessionID, &idx, map[string]any{"error": execErr.Error(), "retryable": retryable})
		opts.Metrics.RecordStep(step.Kind().String(), "failure", result.Duration)
		stepSpan.RecordError(execErr)
		stepSpan.SetStatus(codes.Error, execErr.Error())
		stepSpan.End()
		runSpan.SetStatus(codes.Error, execErr.Error())
		return Result{Completed: false, FailedIndex: idx, Err: execErr}
	}

	emit(opts.Events, eventlog.WorkflowCompleted, opts.SessionID, nil, nil)
	return Result{Completed: true}
}

func cloneVars(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func writeBeforeStep(ctx context.Context, opts Options, idx int, vars map[string]any, completed []workflow.CompletedStepRecord) {
	save(ctx, opts, workflow.CheckpointState{Kind: workflow.CheckpointBeforeStep, StepIndex: idx}, vars, completed)
}

func writeCompleted(ctx context.Context, opts Options, idx int, vars map[string]any, completed []workflow.CompletedStepRecord) {
	save(ctx, opts, workflow.CheckpointState{Kind: workflow.CheckpointCompleted, StepIndex: idx}, vars, completed)
}

func writeFailed(ctx context.Context, opts Options, idx int, vars map[string]any, completed []workflow.CompletedStepRecord, stepErr error, retryable bool) {
	save(ctx, opts, workflow.CheckpointState{
		Kind:      workflow.CheckpointFailed,
		StepIndex: idx,
		Error:     stepErr.Error(),
		Retryable: retryable,
	}, vars, completed)
}

func writeInterrupted(ctx context.Context, opts Options, idx int, vars map[string]any, completed []workflow.CompletedStepRecord, inProgress bool) {
	save(ctx, opts, workflow.CheckpointState{
		Kind:       workflow.CheckpointInterrupted,
		StepIndex:  idx,
		InProgress: inProgress,
	}, vars, completed)
}

func save(ctx context.Context, opts Options, state workflow.CheckpointState, vars map[string]any, completed []workflow.CompletedStepRecord) {
	if opts.Checkpoints == nil {
		return
	}
	cp := workflow.WorkflowCheckpoint{
		SessionID:      opts.SessionID,
		WorkflowPath:   opts.WorkflowPath,
		CreatedAt:      time.Now().UTC(),
		State:          state,
		CompletedSteps: append([]workflow.CompletedStepRecord{}, completed...),
		Variables:      vars,
	}
	err := opts.Checkpoints.Save(ctx, opts.SessionID, cp)
	opts.Metrics.RecordCheckpointWrite("sequential", err == nil)
	if err == nil {
		emit(opts.Events, eventlog.CheckpointSaved, opts.SessionID, &state.StepIndex, map[string]any{"kind": string(state.Kind)})
	}
}

func emit(log *eventlog.Log, kind eventlog.Kind, sessionID string, stepIndex *int, data map[string]any) {
	if log == nil {
		return
	}
	_ = log.Append(eventlog.Event{Kind: kind, SessionID: sessionID, StepIndex: stepIndex, Data: data})
}
