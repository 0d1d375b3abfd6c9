// Package eventlog implements the Event Log (C11, spec.md §4.11): an
// append-only structured event stream for observability and correlation. It
// is not the source of truth for state — the Checkpoint Store is — so writes
// here are best-effort-durable but not protected by the checkpoint's
// lock-and-verify protocol.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind tags the event union members named in spec.md §4.11.
type Kind string

const (
	WorkflowStarted     Kind = "WorkflowStarted"
	StepStarted         Kind = "StepStarted"
	StepCompleted       Kind = "StepCompleted"
	StepFailed          Kind = "StepFailed"
	WorkflowCompleted   Kind = "WorkflowCompleted"
	WorkflowInterrupted Kind = "WorkflowInterrupted"
	CheckpointSaved     Kind = "CheckpointSaved"
	CheckpointLoaded    Kind = "CheckpointLoaded"
	ResumePlanned       Kind = "ResumePlanned"
	AgentStarted        Kind = "AgentStarted"
	AgentCompleted      Kind = "AgentCompleted"
	AgentFailed         Kind = "AgentFailed"
	PhaseTransition     Kind = "PhaseTransition"
	AssistantTool       Kind = "AssistantTool"
	AssistantTokens     Kind = "AssistantTokens"
	AssistantSession    Kind = "AssistantSession"
	AssistantMessage    Kind = "AssistantMessage"
	Warn                Kind = "Warn"
)

// Event is one entry in the log. Fields beyond the correlation ids are
// carried in Data, keyed per-Kind (e.g. PhaseTransition carries "from"/"to").
type Event struct {
	Kind      Kind           `json:"kind"`
	TS        time.Time      `json:"ts"`
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	StepIndex *int           `json:"step_index,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Log is an append-only JSONL event stream mirrored to structured logs.
type Log struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

// Open returns a Log appending to path, creating parent directories as
// needed. logger may be nil to skip structured-log mirroring.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{path: path, logger: logger}, nil
}

// Append writes ev to the log and mirrors it as a structured log line.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}

	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync event log: %w", err)
	}

	l.mirror(ev)
	return nil
}

func (l *Log) mirror(ev Event) {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("session_id", ev.SessionID),
	}
	if ev.AgentID != "" {
		fields = append(fields, zap.String("agent_id", ev.AgentID))
	}
	if ev.StepIndex != nil {
		fields = append(fields, zap.Int("step_index", *ev.StepIndex))
	}
	for k, v := range ev.Data {
		fields = append(fields, zap.Any(k, v))
	}

	switch ev.Kind {
	case StepFailed, AgentFailed, WorkflowInterrupted, Warn:
		l.logger.Warn("event", fields...)
	default:
		l.logger.Info("event", fields...)
	}
}

// Stream reads every event in path in append order. Malformed lines are
// skipped (the log is a diagnostic aid, never authoritative state).
func Stream(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan event log: %w", err)
	}
	return events, nil
}

// Filter returns the subset of events matching kind, preserving order.
func Filter(events []Event, kind Kind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
