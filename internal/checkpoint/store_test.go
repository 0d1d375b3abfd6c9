package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prodigy-dev/prodigy/internal/proderr"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	cp := workflow.WorkflowCheckpoint{
		SessionID:    "session-abc",
		WorkflowPath: "workflows/demo.yml",
		CreatedAt:    time.Now().UTC(),
		State:        workflow.CheckpointState{Kind: workflow.CheckpointCompleted, StepIndex: 1},
		Variables:    map[string]any{"item": "x.txt"},
	}

	if err := store.Save(context.Background(), "session-abc", cp); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(context.Background(), "session-abc")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID != "session-abc" || loaded.State.StepIndex != 1 {
		t.Fatalf("unexpected loaded checkpoint: %+v", loaded)
	}
	if loaded.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("expected current schema version, got %d", loaded.SchemaVersion)
	}
}

func TestSave_RotatesHistory(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	store.HistoryLimit = 2

	for i := 0; i < 4; i++ {
		cp := workflow.WorkflowCheckpoint{
			SessionID: "session-x",
			State:     workflow.CheckpointState{Kind: workflow.CheckpointCompleted, StepIndex: i},
		}
		if err := store.Save(context.Background(), "session-x", cp); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	loaded, err := store.Load(context.Background(), "session-x")
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if loaded.State.StepIndex != 3 {
		t.Fatalf("expected latest checkpoint step 3, got %d", loaded.State.StepIndex)
	}

	if _, err := os.Stat(filepath.Join(dir, "session-x", "checkpoint.1.json")); err != nil {
		t.Fatalf("expected rotated history file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session-x", "checkpoint.3.json")); err == nil {
		t.Fatalf("expected history beyond limit to be pruned")
	}
}

func TestLoad_FallsBackOnCorruptPrimary(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	cp := workflow.WorkflowCheckpoint{SessionID: "session-y", State: workflow.CheckpointState{Kind: workflow.CheckpointCompleted}}
	if err := store.Save(context.Background(), "session-y", cp); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp.State.StepIndex = 1
	if err := store.Save(context.Background(), "session-y", cp); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	primary := filepath.Join(dir, "session-y", "checkpoint.json")
	if err := os.WriteFile(primary, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("corrupt primary: %v", err)
	}

	loaded, err := store.Load(context.Background(), "session-y")
	if err != nil {
		t.Fatalf("expected fallback to history, got error: %v", err)
	}
	if loaded.State.StepIndex != 0 {
		t.Fatalf("expected to recover prior checkpoint with step 0, got %d", loaded.State.StepIndex)
	}
}

func TestLoad_NoCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	_, err := store.Load(context.Background(), "missing-session")
	if proderr.KindOf(err) == "" {
		t.Fatalf("expected classified error, got %v", err)
	}
}

func TestCleanStaleTemp_RemovesOldTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	store.TempTTL = time.Millisecond

	sessionDir := filepath.Join(dir, "session-z")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	tmpPath := filepath.Join(sessionDir, "checkpoint.tmp.abc.json")
	if err := os.WriteFile(tmpPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	oldTime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(tmpPath, oldTime, oldTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if err := store.CleanStaleTemp(); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Fatalf("expected stale temp file to be removed")
	}
}
