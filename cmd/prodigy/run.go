package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prodigy-dev/prodigy/internal/config"
	"github.com/prodigy-dev/prodigy/internal/engine"
	"github.com/prodigy-dev/prodigy/internal/mapreduce"
	"github.com/prodigy-dev/prodigy/internal/plan"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

var runWatch bool

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Run a workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Re-run the workflow whenever its file changes")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	w, err := workflow.Load(args[0])
	if err != nil {
		return newUsageError("%w", err)
	}

	if GetDryRun() {
		return printPlan(w, workflow.ModeDryRun)
	}

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

	if err := runWorkflow(ctx, a, w, repoRoot); err != nil {
		if !runWatch {
			return err
		}
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
	}
	if !runWatch {
		return nil
	}

	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", args[0])
	changes, err := config.WatchFile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("watch %s: %w", args[0], err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			reloaded, err := workflow.Load(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload %s: %v\n", args[0], err)
				continue
			}
			if err := runWorkflow(ctx, a, reloaded, repoRoot); err != nil {
				fmt.Fprintf(os.Stderr, "run: %v\n", err)
			}
		}
	}
}

// runWorkflow drives a single run of w, dispatching to the MapReduce
// Coordinator or the sequential Workflow Engine per its detected mode.
func runWorkflow(ctx context.Context, a *app, w *workflow.Workflow, repoRoot string) error {
	env := a.envContext(repoRoot)
	execOpts := a.execOptions(repoRoot)
	mode := plan.DetectMode(w, false)

	switch mode {
	case workflow.ModeMapReduce:
		jobID := string(workflow.NewSessionID())
		result := mapreduce.Run(ctx, mapreduce.Options{
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
		})
		a.metrics.RecordAgentResult(result.Err == nil)
		if result.Err != nil {
			return fmt.Errorf("mapreduce job %s: %w", jobID, result.Err)
		}
		fmt.Printf("job %s completed: %d items done, %d failed\n", jobID,
			len(result.State.CompletedItemsList), len(result.State.FailedItems))
		return nil

	default:
		sessionID := workflow.NewSessionID()

		var record workflow.WorktreeRecord
		inWorktree := a.cfg.Worktree.Mode == "always"
		if inWorktree {
			var err error
			record, err = a.worktrees.CreateSession(ctx, repoRoot, sessionID)
			if err != nil {
				return fmt.Errorf("create session worktree: %w", err)
			}
			env = a.envContext(record.Path)
			execOpts.WorkingDir = record.Path
		}

		result := engine.Run(ctx, engine.Options{
			SessionID:    string(sessionID),
			WorkflowPath: w.Path,
			Steps:        w.Steps(),
			Env:          env,
			Checkpoints:  a.checkpoints,
			Events:       a.events,
			ExecOptions:  execOpts,
			Metrics:      a.metrics,
		})
		if !result.Completed {
			return fmt.Errorf("session %s failed at step %d: %w", sessionID, result.FailedIndex, result.Err)
		}

		if inWorktree {
			if err := a.worktrees.MergeSession(ctx, repoRoot, record); err != nil {
				return fmt.Errorf("merge session worktree: %w", err)
			}
			_ = a.worktrees.RemoveSession(ctx, repoRoot, record)
		}

		fmt.Printf("session %s completed\n", sessionID)
		return nil
	}
}

func printPlan(w *workflow.Workflow, mode workflow.Mode) error {
	realMode := mode
	if realMode == workflow.ModeDryRun {
		realMode = plan.DetectMode(w, false)
	}
	estimate := plan.EstimateResources(w, realMode)
	phases := plan.PlanPhases(w, realMode)

	fmt.Printf("workflow: %s\n", w.ID)
	fmt.Printf("mode: %s\n", realMode)
	fmt.Printf("phases: %d\n", len(phases))
	for _, p := range phases {
		fmt.Printf("  - %s (%d steps)\n", p.Name, len(p.Steps))
	}
	fmt.Printf("estimated worktrees: %d, max concurrent commands: %d\n", estimate.Worktrees, estimate.MaxConcurrentCmds)
	fmt.Printf("estimated memory: %dMB, disk: %dMB\n", estimate.MemoryEstimateMB, estimate.DiskEstimateMB)
	return nil
}
