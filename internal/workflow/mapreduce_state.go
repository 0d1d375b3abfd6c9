package workflow

import (
	"fmt"
	"time"
)

// JobPhase is the current phase of a MapReduce run.
type JobPhase string

const (
	JobPhaseSetup    JobPhase = "setup"
	JobPhaseMap      JobPhase = "map"
	JobPhaseReduce   JobPhase = "reduce"
	JobPhaseComplete JobPhase = "complete"
)

// ActiveAgent tracks one in-flight map agent.
type ActiveAgent struct {
	ItemID    string    `json:"item_id"`
	StartedAt time.Time `json:"started_at"`
}

// FailedItem records a work item that failed after exhausting retries.
type FailedItem struct {
	ItemID   string `json:"item_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// AgentResult is the outcome of one map agent's run over one work item.
type AgentResult struct {
	AgentID             string        `json:"agent_id"`
	ItemID              string        `json:"item_id"`
	Success             bool          `json:"success"`
	Commits             []string      `json:"commits,omitempty"`
	Output              *string       `json:"output,omitempty"`
	Error               *string       `json:"error,omitempty"`
	Duration            time.Duration `json:"duration"`
	AssistantLogLocation *string      `json:"assistant_log_location,omitempty"`
}

// DeadLetteredItem is a work item that exhausted retries and was moved to
// the dead letter queue for later inspection.
type DeadLetteredItem struct {
	ItemID              string         `json:"item_id"`
	ItemBody            map[string]any `json:"item_body"`
	ErrorMessage        string         `json:"error_message"`
	ErrorContextTrail   []string       `json:"error_context_trail,omitempty"`
	ErrorType           string         `json:"error_type"`
	Timestamp           time.Time      `json:"timestamp"`
	RetryCount          int            `json:"retry_count"`
	ManualReviewRequired bool          `json:"manual_review_required"`
}

// MapReduceJobState owns the full mutable state of one MapReduce run.
// Invariants (enforced by the Coordinator, checked by Validate):
//   - pending/active/completed/failed partition the item set (no overlap).
//   - phase transitions Map -> Reduce only when pending and active are empty.
//   - job is Complete iff ReducePhaseCompleted and the above.
type MapReduceJobState struct {
	JobID               string                      `json:"job_id"`
	Phase               JobPhase                    `json:"phase"`
	PendingItems        []WorkItem                  `json:"pending_items"`
	ActiveAgents        map[string]ActiveAgent       `json:"active_agents"`
	CompletedItems      map[string]struct{}          `json:"-"`
	CompletedItemsList  []string                     `json:"completed_items"`
	FailedItems         []FailedItem                 `json:"failed_items"`
	AgentResults        map[string]AgentResult        `json:"agent_results"`
	NextBatchID         uint64                       `json:"next_batch_id"`
	ReducePhaseCompleted bool                        `json:"reduce_phase_completed"`
}

// NewMapReduceJobState constructs an empty job state for jobID seeded with
// pending items (already deduplicated by the caller).
func NewMapReduceJobState(jobID string, pending []WorkItem) *MapReduceJobState {
	return &MapReduceJobState{
		JobID:          jobID,
		Phase:          JobPhaseSetup,
		PendingItems:   pending,
		ActiveAgents:   make(map[string]ActiveAgent),
		CompletedItems: make(map[string]struct{}),
		AgentResults:   make(map[string]AgentResult),
	}
}

// Validate checks the partition invariant: no item id appears in more than
// one of pending/active/completed/failed.
func (s *MapReduceJobState) Validate() error {
	seen := make(map[string]string, len(s.PendingItems))
	for _, item := range s.PendingItems {
		if prior, ok := seen[item.ID]; ok {
			return fmt.Errorf("item %q present in both pending and %s", item.ID, prior)
		}
		seen[item.ID] = "pending"
	}
	for id := range s.ActiveAgents {
		agent := s.ActiveAgents[id]
		if prior, ok := seen[agent.ItemID]; ok {
			return fmt.Errorf("item %q present in both active and %s", agent.ItemID, prior)
		}
		seen[agent.ItemID] = "active"
	}
	for id := range s.CompletedItems {
		if prior, ok := seen[id]; ok {
			return fmt.Errorf("item %q present in both completed and %s", id, prior)
		}
		seen[id] = "completed"
	}
	for _, f := range s.FailedItems {
		if prior, ok := seen[f.ItemID]; ok {
			return fmt.Errorf("item %q present in both failed and %s", f.ItemID, prior)
		}
		seen[f.ItemID] = "failed"
	}
	return nil
}

// ReadyForReduce reports whether the Map phase has drained pending and
// active work and the job may transition to Reduce.
func (s *MapReduceJobState) ReadyForReduce() bool {
	return s.Phase == JobPhaseMap && len(s.PendingItems) == 0 && len(s.ActiveAgents) == 0
}

// IsComplete reports whether the whole job is done.
func (s *MapReduceJobState) IsComplete() bool {
	return s.ReducePhaseCompleted && (s.Phase == JobPhaseReduce || s.Phase == JobPhaseComplete) && len(s.PendingItems) == 0 && len(s.ActiveAgents) == 0
}

// MarkCompleted moves itemID from active to completed and records its result.
func (s *MapReduceJobState) MarkCompleted(agentID string, result AgentResult) {
	delete(s.ActiveAgents, agentID)
	s.CompletedItems[result.ItemID] = struct{}{}
	s.CompletedItemsList = append(s.CompletedItemsList, result.ItemID)
	s.AgentResults[agentID] = result
}

// MarkFailed moves itemID from active to failed with an attempt count.
func (s *MapReduceJobState) MarkFailed(agentID, itemID string, attempts int, errMsg string) {
	delete(s.ActiveAgents, agentID)
	s.FailedItems = append(s.FailedItems, FailedItem{ItemID: itemID, Attempts: attempts, Error: errMsg})
}

// SuccessfulOutputs returns the ordered list of non-nil outputs from
// successful agent results, in CompletedItemsList order, for use by the
// Reduce phase's `map.outputs` variable.
func (s *MapReduceJobState) SuccessfulOutputs() []string {
	byItem := make(map[string]AgentResult, len(s.AgentResults))
	for _, r := range s.AgentResults {
		if r.Success {
			byItem[r.ItemID] = r
		}
	}
	outputs := make([]string, 0, len(s.CompletedItemsList))
	for _, id := range s.CompletedItemsList {
		if r, ok := byItem[id]; ok && r.Output != nil {
			outputs = append(outputs, *r.Output)
		}
	}
	return outputs
}
