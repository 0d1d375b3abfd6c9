package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prodigy-dev/prodigy/internal/engine"
	"github.com/prodigy-dev/prodigy/internal/environment"
	"github.com/prodigy-dev/prodigy/internal/executor"
	"github.com/prodigy-dev/prodigy/internal/mapreduce"
	"github.com/prodigy-dev/prodigy/internal/plan"
	resumepkg "github.com/prodigy-dev/prodigy/internal/resume"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

var (
	resumeResetFailed         bool
	resumeIncludeDLQ          bool
	resumeWorkflowPath        string
	resumeMaxAdditionalRetries uint32
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume an interrupted session or MapReduce job",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeResetFailed, "reset-failed", false, "Re-enqueue previously failed work items")
	resumeCmd.Flags().BoolVar(&resumeIncludeDLQ, "include-dlq", false, "Re-enqueue dead-lettered work items")
	resumeCmd.Flags().StringVar(&resumeWorkflowPath, "workflow", "", "Workflow file (required to resume a MapReduce job)")
	resumeCmd.Flags().Uint32Var(&resumeMaxAdditionalRetries, "max-additional-retries", 2, "Retry budget for --reset-failed: re-enqueue items with fewer than this many prior attempts")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]

	repoRoot, err := repoRootOrCwd()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	env := a.envContext(repoRoot)
	execOpts := a.execOptions(repoRoot)

	if state, err := a.mrCheckpoints.Load(ctx, id); err == nil {
		return resumeMapReduce(ctx, a, id, &state, repoRoot, env, execOpts)
	}

	if _, err := workflow.ParseSessionID(id); err != nil {
		return newUsageError("resume: %q is neither a known mapreduce job nor a valid session id", id)
	}

	cp, err := a.checkpoints.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", id, err)
	}

	w, err := workflow.Load(cp.WorkflowPath)
	if err != nil {
		return err
	}

	resumePlan := plan.PlanResume(cp)
	if resumePlan.SurfaceError {
		return fmt.Errorf("session %s: checkpoint recorded a terminal, non-retryable failure", id)
	}

	result := engine.Run(ctx, engine.Options{
		SessionID:      id,
		WorkflowPath:   cp.WorkflowPath,
		Steps:          w.Steps(),
		Resume:         resumePlan,
		PriorCompleted: cp.CompletedSteps,
		Env:            env,
		Checkpoints:    a.checkpoints,
		Events:         a.events,
		ExecOptions:    execOpts,
		Metrics:        a.metrics,
	})
	if !result.Completed {
		return fmt.Errorf("session %s failed at step %d: %w", id, result.FailedIndex, result.Err)
	}
	fmt.Printf("session %s resumed and completed\n", id)
	return nil
}

// resumeMapReduce folds any failed/dead-lettered items back into the job's
// pending queue (spec.md §4.10) and re-invokes the Coordinator from wherever
// its checkpoint left off.
func resumeMapReduce(ctx context.Context, a *app, jobID string, state *workflow.MapReduceJobState, repoRoot string, env environment.Context, execOpts executor.Options) error {
	if resumeWorkflowPath == "" {
		return newUsageError("resume: job %s requires --workflow <path> to re-invoke the map/reduce commands", jobID)
	}
	w, err := workflow.Load(resumeWorkflowPath)
	if err != nil {
		return err
	}

	var failedAgents []resumepkg.FailedAgent
	if resumeResetFailed {
		for _, fi := range state.FailedItems {
			failedAgents = append(failedAgents, resumepkg.FailedAgent{
				Item:     workflow.WorkItem{ID: fi.ItemID},
				Attempts: uint32(fi.Attempts),
			})
		}
	}

	var dlqItems []workflow.WorkItem
	if resumeIncludeDLQ && a.dlq != nil {
		items, err := a.dlq.List(jobID)
		if err != nil {
			return fmt.Errorf("list dlq items for %s: %w", jobID, err)
		}
		for _, it := range items {
			dlqItems = append(dlqItems, workflow.WorkItem{ID: it.ItemID, Body: it.ItemBody})
		}
	}

	result := resumepkg.Plan(state.PendingItems, failedAgents, dlqItems, resumepkg.Options{
		ResetFailedAgents:    resumeResetFailed,
		IncludeDLQItems:      resumeIncludeDLQ,
		MaxAdditionalRetries: resumeMaxAdditionalRetries,
	})
	state.PendingItems = result.Items
	if resumeResetFailed {
		state.FailedItems = nil
	}

	mrResult := mapreduce.Run(ctx, mapreduce.Options{
		JobID:       jobID,
		RepoRoot:    repoRoot,
		Workflow:    w,
		Env:         env,
		ExecOptions: execOpts,
		Checkpoints: a.mrCheckpoints,
		DLQ:         a.dlq,
		Worktrees:   a.worktrees,
		Events:      a.events,
		Metrics:     a.metrics,
		Resume:      state,
	})
	if mrResult.Err != nil {
		return fmt.Errorf("resume mapreduce job %s: %w", jobID, mrResult.Err)
	}
	fmt.Printf("job %s resumed: %d completed, %d failed (deduplicated %d, sources %v)\n",
		jobID, len(mrResult.State.CompletedItemsList), len(mrResult.State.FailedItems),
		result.DuplicateCount, result.SourceBreakdown)
	return nil
}
