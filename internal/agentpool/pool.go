// Package agentpool implements the Agent Scheduler (C9, spec.md §4.9): a
// bounded-concurrency pool that runs one map agent per work item, each in
// its own git worktree, merging successes back to the parent worktree and
// dead-lettering failures. Grounded on the teacher's internal/worker.Pool
// generic fan-out/fan-in pool, generalized from an ordering-preserving
// channel-of-jobs design to the spec's unordered-completion, cancellable
// pool backed by golang.org/x/sync/semaphore and golang.org/x/sync/errgroup.
package agentpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prodigy-dev/prodigy/internal/environment"
	"github.com/prodigy-dev/prodigy/internal/eventlog"
	"github.com/prodigy-dev/prodigy/internal/executor"
	"github.com/prodigy-dev/prodigy/internal/telemetry"
	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
	"github.com/prodigy-dev/prodigy/internal/worktree"
)

var tracer = telemetry.Tracer("prodigy/agentpool")

// Options configures one Map phase run.
type Options struct {
	RepoRoot       string
	MaxParallel    int
	AgentTemplate  []workflow.Step
	BaseVars       variables.Context
	Env            environment.Context
	Worktrees      *worktree.Manager
	ExecOptions    executor.Options
	Events         *eventlog.Log
	Metrics        *telemetry.Metrics
	// OnDeadLetter is invoked for every item whose agent failed and could not
	// be merged; the caller (the MapReduce Coordinator) owns DLQ persistence.
	OnDeadLetter func(item workflow.WorkItem, result workflow.AgentResult)
}

// Run executes one agent per item in items, bounded by opts.MaxParallel,
// and returns results keyed by item id. Results are collected as agents
// complete; no ordering guarantee is made (spec.md §4.9).
func Run(ctx context.Context, opts Options, items []workflow.WorkItem) map[string]workflow.AgentResult {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}

	sem := semaphore.NewWeighted(int64(maxParallel))
	results := make(map[string]workflow.AgentResult, len(items))
	resultsCh := make(chan workflow.AgentResult, len(items))

	var active int64

	group, gctx := errgroup.WithContext(ctx)
	for _, item := range items {
		item := item
		group.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil // context canceled; the item stays pending for resume
			}
			defer sem.Release(1)

			opts.Metrics.SetActiveAgents(int(atomic.AddInt64(&active, 1)))
			defer opts.Metrics.SetActiveAgents(int(atomic.AddInt64(&active, -1)))

			result := runAgent(gctx, opts, item)
			resultsCh <- result
			return nil
		})
	}

	go func() {
		_ = group.Wait()
		close(resultsCh)
	}()

	for result := range resultsCh {
		results[result.ItemID] = result
	}
	return results
}

func runAgent(ctx context.Context, opts Options, item workflow.WorkItem) workflow.AgentResult {
	agentID := "agent-" + item.ID
	start := time.Now()

	ctx, span := tracer.Start(ctx, "agentpool.agent", trace.WithAttributes(
		attribute.String("prodigy.agent_id", agentID),
		attribute.String("prodigy.item_id", item.ID),
	))
	defer span.End()

	emit(opts.Events, eventlog.AgentStarted, agentID, item.ID)

	record, err := opts.Worktrees.CreateSession(ctx, opts.RepoRoot, workflow.SessionID(agentID))
	if err != nil {
		return failed(opts, span, agentID, item, fmt.Errorf("create agent worktree: %w", err), start)
	}

	itemVars := opts.BaseVars.WithItem(item.Body, isPathItem(item))
	agentEnv := environment.NewBuilder(record.Path).
		WithEnvMap(opts.Env.EnvVars).
		WithProfile(opts.Env.Profile).
		Build()

	var commits []string
	var lastResult executor.StepResult
	for i, step := range opts.AgentTemplate {
		step.Index = i
		stepOpts := opts.ExecOptions
		stepOpts.WorkingDir = environment.ResolveWorkingDirectory(step, agentEnv)
		stepOpts.Env = environment.BuildCommandEnv(step, agentEnv, itemVars)
		stepOpts.SessionID = agentID
		stepOpts.EventLog = opts.Events

		result, execErr := executor.Execute(ctx, step, itemVars, stepOpts)
		lastResult = result
		commits = append(commits, result.CommitsCreated...)
		for k, v := range result.Captured {
			itemVars = itemVars.With(k, v)
		}
		if execErr != nil || !result.Success {
			if execErr == nil {
				execErr = fmt.Errorf("agent step %d failed", i)
			}
			return failed(opts, span, agentID, item, execErr, start)
		}
	}

	if err := opts.Worktrees.MergeSession(ctx, opts.RepoRoot, record); err != nil {
		return failed(opts, span, agentID, item, fmt.Errorf("merge agent worktree: %w", err), start)
	}
	_ = opts.Worktrees.RemoveSession(ctx, opts.RepoRoot, record)

	output := lastResult.Stdout
	duration := time.Since(start)
	emit(opts.Events, eventlog.AgentCompleted, agentID, item.ID)
	opts.Metrics.RecordAgentResult(true)
	return workflow.AgentResult{
		AgentID:  agentID,
		ItemID:   item.ID,
		Success:  true,
		Commits:  commits,
		Output:   &output,
		Duration: duration,
	}
}

func failed(opts Options, span trace.Span, agentID string, item workflow.WorkItem, err error, start time.Time) workflow.AgentResult {
	emit(opts.Events, eventlog.AgentFailed, agentID, item.ID)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	msg := err.Error()
	result := workflow.AgentResult{
		AgentID:  agentID,
		ItemID:   item.ID,
		Success:  false,
		Error:    &msg,
		Duration: time.Since(start),
	}
	opts.Metrics.RecordAgentResult(false)
	if opts.OnDeadLetter != nil {
		opts.OnDeadLetter(item, result)
	}
	return result
}

func isPathItem(item workflow.WorkItem) bool {
	_, ok := item.Body["path"]
	return ok
}

func emit(log *eventlog.Log, kind eventlog.Kind, agentID, itemID string) {
	if log == nil {
		return
	}
	_ = log.Append(eventlog.Event{Kind: kind, AgentID: agentID, Data: map[string]any{"item_id": itemID}})
}
