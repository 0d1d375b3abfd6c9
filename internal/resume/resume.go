// Package resume implements the MapReduce Resume Planner (C10, spec.md
// §4.10): a pure function combining pending/failed/DLQ work items into a
// deduplicated next-run queue. No I/O — callers load the DLQ contents and
// pass them in.
package resume

import "github.com/prodigy-dev/prodigy/internal/workflow"

// Options configures which sources feed the combined queue.
type Options struct {
	ResetFailedAgents  bool
	IncludeDLQItems    bool
	MaxAdditionalRetries uint32
}

// Result is the pure output of planning a MapReduce resume.
type Result struct {
	Items           []workflow.WorkItem
	DuplicateCount  int
	SourceBreakdown map[string]int
}

// FailedAgent pairs a work item with its prior attempt count, the shape the
// Coordinator's FailedItems list carries.
type FailedAgent struct {
	Item     workflow.WorkItem
	Attempts uint32
}

// Plan combines pending items, optionally-retried failed items, and
// optionally-included DLQ items into a single deduplicated queue
// (spec.md §4.10 algorithm, steps 1-6).
//
// Priority order is pending, then failed, then DLQ; the earliest-priority
// occurrence of each item id wins (invariant: each id appears at most once
// in the output — this is what guarantees at-most-once execution per
// resume, spec.md §8 invariant 5).
func Plan(pending []workflow.WorkItem, failed []FailedAgent, dlqItems []workflow.WorkItem, opts Options) Result {
	var combined []workflow.WorkItem
	breakdown := map[string]int{"pending": 0, "failed": 0, "dlq": 0}

	for _, item := range pending {
		combined = append(combined, item)
		breakdown["pending"]++
	}

	if opts.ResetFailedAgents {
		for _, fa := range failed {
			if fa.Attempts < opts.MaxAdditionalRetries {
				combined = append(combined, fa.Item)
				breakdown["failed"]++
			}
		}
	}

	if opts.IncludeDLQItems {
		for _, item := range dlqItems {
			combined = append(combined, item)
			breakdown["dlq"]++
		}
	}

	deduped, dupCount := workflow.DeduplicateByID(combined)

	return Result{
		Items:           deduped,
		DuplicateCount:  dupCount,
		SourceBreakdown: breakdown,
	}
}
