// Package mapreduce implements the MapReduce Coordinator (C8, spec.md §4.8):
// the Setup -> Map -> Reduce phase sequencer. The teacher has no literal
// MapReduce implementation (its phased runner in cmd/ao/rpi_phased.go drives
// ordered phases but never fans out per-item agents), so the Map phase is
// built directly on internal/agentpool, in the teacher's idiom of a thin
// coordinator over a lower-level pool.
package mapreduce

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/prodigy-dev/prodigy/internal/agentpool"
	"github.com/prodigy-dev/prodigy/internal/checkpoint"
	"github.com/prodigy-dev/prodigy/internal/dlq"
	"github.com/prodigy-dev/prodigy/internal/engine"
	"github.com/prodigy-dev/prodigy/internal/environment"
	"github.com/prodigy-dev/prodigy/internal/eventlog"
	"github.com/prodigy-dev/prodigy/internal/executor"
	"github.com/prodigy-dev/prodigy/internal/telemetry"
	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
	"github.com/prodigy-dev/prodigy/internal/worktree"
)

var tracer = telemetry.Tracer("prodigy/mapreduce")

// Options configures one MapReduce run.
type Options struct {
	JobID        string
	RepoRoot     string
	Workflow     *workflow.Workflow
	Env          environment.Context
	ExecOptions  executor.Options
	Checkpoints  *checkpoint.MapReduceStore
	DLQ          *dlq.Store
	Worktrees    *worktree.Manager
	Events       *eventlog.Log
	Metrics      *telemetry.Metrics
	// Resume seeds the job state from a prior run's checkpoint instead of
	// starting fresh at Setup.
	Resume *workflow.MapReduceJobState
}

// Result is the terminal outcome of a MapReduce run.
type Result struct {
	State   workflow.MapReduceJobState
	Err     error
}

// Run drives Setup -> Map -> Reduce to completion or failure, checkpointing
// at every phase transition and after every completed agent (spec.md §4.8).
func Run(ctx context.Context, opts Options) Result {
	ctx, runSpan := tracer.Start(ctx, "mapreduce.Run", trace.WithAttributes(
		attribute.String("prodigy.job_id", opts.JobID),
	))
	defer runSpan.End()

	state := opts.Resume
	if state == nil {
		state = workflow.NewMapReduceJobState(opts.JobID, nil)
	}

	if state.Phase == workflow.JobPhaseSetup || state.Phase == "" {
		state.Phase = workflow.JobPhaseSetup
		if err := runPhase(ctx, "setup", func(pctx context.Context) error { return runSetup(pctx, opts, state) }); err != nil {
			return Result{State: *state, Err: err}
		}
		state.Phase = workflow.JobPhaseMap
		emitPhase(opts.Events, opts.JobID, workflow.JobPhaseSetup, workflow.JobPhaseMap)
		if err := save(ctx, opts, state); err != nil {
			return Result{State: *state, Err: err}
		}
	}

	if state.Phase == workflow.JobPhaseMap {
		if err := runPhase(ctx, "map", func(pctx context.Context) error { return runMap(pctx, opts, state) }); err != nil {
			return Result{State: *state, Err: err}
		}
		if state.ReadyForReduce() {
			state.Phase = workflow.JobPhaseReduce
			emitPhase(opts.Events, opts.JobID, workflow.JobPhaseMap, workflow.JobPhaseReduce)
			if err := save(ctx, opts, state); err != nil {
				return Result{State: *state, Err: err}
			}
		}
	}

	if state.Phase == workflow.JobPhaseReduce {
		if err := runPhase(ctx, "reduce", func(pctx context.Context) error { return runReduce(pctx, opts, state) }); err != nil {
			return Result{State: *state, Err: err}
		}
		state.ReducePhaseCompleted = true
		state.Phase = workflow.JobPhaseComplete
		emitPhase(opts.Events, opts.JobID, workflow.JobPhaseReduce, workflow.JobPhaseComplete)
		if err := save(ctx, opts, state); err != nil {
			return Result{State: *state, Err: err}
		}
	}

	return Result{State: *state}
}

// runPhase brackets one Setup/Map/Reduce phase in its own span, named after
// the phase it wraps (spec.md §4.8 phase transitions).
func runPhase(ctx context.Context, name string, fn func(context.Context) error) error {
	pctx, span := tracer.Start(ctx, "mapreduce.phase."+name)
	defer span.End()
	if err := fn(pctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// runSetup executes the setup command sequence inside the parent worktree,
// seeds pending_items from the configured map.input source, and
// deduplicates by id (spec.md §4.8 "Load work items").
func runSetup(ctx context.Context, opts Options, state *workflow.MapReduceJobState) error {
	vars := variables.Empty()

	if opts.Workflow.Setup != nil {
		for i, step := range opts.Workflow.Setup.Commands {
			step.Index = i
			stepOpts := opts.ExecOptions
			stepOpts.WorkingDir = environment.ResolveWorkingDirectory(step, opts.Env)
			stepOpts.Env = environment.BuildCommandEnv(step, opts.Env, vars)
			stepOpts.SessionID = opts.JobID
			stepOpts.EventLog = opts.Events

			result, err := executor.Execute(ctx, step, vars, stepOpts)
			if err != nil || !result.Success {
				if err == nil {
					err = fmt.Errorf("setup step %d failed", i)
				}
				return fmt.Errorf("mapreduce setup: %w", err)
			}
			for k, v := range result.Captured {
				vars = vars.With(k, v)
			}
		}
	}

	items, err := loadWorkItems(opts, vars)
	if err != nil {
		return err
	}
	deduped, duplicates := workflow.DeduplicateByID(items)
	if duplicates > 0 {
		warn(opts.Events, opts.JobID, "duplicate_work_items", fmt.Sprintf("dropped %d duplicate item ids", duplicates))
	}
	state.PendingItems = deduped
	return nil
}

// loadWorkItems reads the configured map.input path only; no default items
// file written by setup is looked for, and an empty map.input is an error.
// The input path is interpolated against setup-captured variables so a setup
// step can name the file it produced via capture_output.
func loadWorkItems(opts Options, vars variables.Context) ([]workflow.WorkItem, error) {
	if opts.Workflow.Map == nil || opts.Workflow.Map.Input == "" {
		return nil, fmt.Errorf("mapreduce: map.input is required")
	}
	path, _ := vars.Interpolate(opts.Workflow.Map.Input)
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.Env.BaseWorkingDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: read work items from %s: %w", path, err)
	}
	items, skipped, err := workflow.ParseWorkItems(data)
	if err != nil {
		return nil, fmt.Errorf("mapreduce: parse work items: %w", err)
	}
	if skipped > 0 {
		warn(opts.Events, opts.JobID, "work_items_missing_id", fmt.Sprintf("skipped %d items missing a stable id", skipped))
	}
	return items, nil
}

// runMap hands pending_items to the Agent Scheduler and folds results back
// into state, checkpointing after every completed agent.
func runMap(ctx context.Context, opts Options, state *workflow.MapReduceJobState) error {
	if len(state.PendingItems) == 0 {
		return nil
	}
	if opts.Workflow.Map == nil {
		return fmt.Errorf("mapreduce: map phase requires a map spec")
	}

	maxParallel := opts.Workflow.Map.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	items := state.PendingItems
	state.PendingItems = nil
	for _, item := range items {
		state.ActiveAgents["agent-"+item.ID] = workflow.ActiveAgent{ItemID: item.ID, StartedAt: timeNow()}
	}

	poolOpts := agentpool.Options{
		RepoRoot:      opts.RepoRoot,
		MaxParallel:   maxParallel,
		AgentTemplate: opts.Workflow.Map.AgentTemplate,
		BaseVars:      variables.Empty(),
		Env:           opts.Env,
		Worktrees:     opts.Worktrees,
		ExecOptions:   opts.ExecOptions,
		Events:        opts.Events,
		Metrics:       opts.Metrics,
		OnDeadLetter: func(item workflow.WorkItem, result workflow.AgentResult) {
			if opts.DLQ == nil {
				return
			}
			errMsg := ""
			if result.Error != nil {
				errMsg = *result.Error
			}
			_ = opts.DLQ.Add(opts.JobID, workflow.DeadLetteredItem{
				ItemID:       item.ID,
				ItemBody:     item.Body,
				ErrorMessage: errMsg,
				ErrorType:    "agent_failure",
				Timestamp:    timeNow(),
				RetryCount:   1,
			})
			if depth, err := opts.DLQ.List(opts.JobID); err == nil {
				opts.Metrics.SetDLQDepth(opts.JobID, len(depth))
			}
		},
	}

	results := agentpool.Run(ctx, poolOpts, items)

	// Collection order is irrelevant to the coordinator (spec.md §4.9); fold
	// every result into state and checkpoint once per completed agent.
	for _, item := range items {
		result, ok := results[item.ID]
		if !ok {
			continue // canceled before the agent ran; stays in active_agents for resume
		}
		agentID := "agent-" + item.ID
		if result.Success {
			state.MarkCompleted(agentID, result)
		} else {
			errMsg := ""
			if result.Error != nil {
				errMsg = *result.Error
			}
			state.MarkFailed(agentID, item.ID, 1, errMsg)
		}
		if err := save(ctx, opts, state); err != nil {
			return err
		}
	}
	return nil
}

// runReduce constructs the aggregate reduce context (spec.md §4.8) and runs
// the reduce commands as a short sequential workflow in the parent worktree.
func runReduce(ctx context.Context, opts Options, state *workflow.MapReduceJobState) error {
	if opts.Workflow.Reduce == nil {
		return nil
	}

	vars := variables.Empty().
		With("map.total", len(state.CompletedItemsList)+len(state.FailedItems)).
		With("map.successful", len(state.CompletedItemsList)).
		With("map.failed", len(state.FailedItems))

	outputs := state.SuccessfulOutputs()
	outputsAny := make([]any, len(outputs))
	for i, o := range outputs {
		outputsAny[i] = o
	}
	vars = vars.With("map.outputs", outputsAny)

	result := engine.Run(ctx, engine.Options{
		SessionID:    opts.JobID + "-reduce",
		WorkflowPath: opts.Workflow.Path,
		Steps:        indexedSteps(opts.Workflow.Reduce.Commands),
		InitialVars:  vars.AsMap(),
		Env:          opts.Env,
		Checkpoints:  nil,
		Events:       opts.Events,
		ExecOptions:  opts.ExecOptions,
		Classifier:   opts.ExecOptions.Classifier,
	})
	if !result.Completed {
		return fmt.Errorf("mapreduce reduce phase: %w", result.Err)
	}
	return nil
}

func indexedSteps(steps []workflow.Step) []workflow.Step {
	out := make([]workflow.Step, len(steps))
	for i, s := range steps {
		s.Index = i
		out[i] = s
	}
	return out
}

func save(ctx context.Context, opts Options, state *workflow.MapReduceJobState) error {
	if opts.Checkpoints == nil {
		return nil
	}
	err := opts.Checkpoints.Save(ctx, opts.JobID, *state)
	opts.Metrics.RecordCheckpointWrite("mapreduce", err == nil)
	if err != nil {
		return fmt.Errorf("mapreduce checkpoint: %w", err)
	}
	emitSaved(opts.Events, opts.JobID)
	return nil
}

func emitPhase(log *eventlog.Log, jobID string, from, to workflow.JobPhase) {
	if log == nil {
		return
	}
	_ = log.Append(eventlog.Event{
		Kind:      eventlog.PhaseTransition,
		SessionID: jobID,
		Data:      map[string]any{"from": string(from), "to": string(to)},
	})
}

func emitSaved(log *eventlog.Log, jobID string) {
	if log == nil {
		return
	}
	_ = log.Append(eventlog.Event{Kind: eventlog.CheckpointSaved, SessionID: jobID})
}

func warn(log *eventlog.Log, jobID, code, message string) {
	if log == nil {
		return
	}
	_ = log.Append(eventlog.Event{
		Kind:      eventlog.Warn,
		SessionID: jobID,
		Data:      map[string]any{"code": code, "message": message},
	})
}

// timeNow is a var so tests can stub determinism into ActiveAgent.StartedAt.
var timeNow = func() time.Time { return time.Now() }
