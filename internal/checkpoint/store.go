// Package checkpoint implements the Checkpoint Store (C6, spec.md §4.6):
// atomic, versioned, integrity-checked persistence of WorkflowCheckpoint
// state, grounded on the hash-chained ledger's lock-then-fsync-then-rename
// protocol.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prodigy-dev/prodigy/internal/proderr"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// CurrentSchemaVersion is the schema_version written into every new
// checkpoint envelope. Readers must also accept PriorSchemaVersion.
const (
	CurrentSchemaVersion = uint32(2)
	PriorSchemaVersion   = uint32(1)
)

const (
	lockTimeout     = 30 * time.Second
	defaultHistory  = 5
	defaultTempTTL  = 24 * time.Hour
	checkpointFile  = "checkpoint.json"
	lockFile        = "checkpoint.lock"
)

// retrySchedule is the backoff schedule for transient write failures
// (spec.md §4.6).
var retrySchedule = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2000 * time.Millisecond}

// Envelope is the on-disk wire format. PayloadBytes deserializes to a
// workflow.WorkflowCheckpoint.
type Envelope struct {
	Version       uint32 `json:"version"`
	PayloadBytes  []byte `json:"payload_bytes"`
	IntegrityHash string `json:"integrity_hash"`
	Size          int    `json:"size"`
}

// Store persists WorkflowCheckpoints under a root directory, one
// subdirectory per session.
type Store struct {
	Root         string
	HistoryLimit int
	TempTTL      time.Duration
}

// New constructs a Store rooted at root with default history and TTL.
func New(root string) *Store {
	return &Store{Root: root, HistoryLimit: defaultHistory, TempTTL: defaultTempTTL}
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.Root, sessionID)
}

// Save writes cp for sessionID using the atomic write protocol: lock, build
// envelope, write temp, verify, rename, unlock. Retries transient failures
// with the documented backoff schedule.
func (s *Store) Save(ctx context.Context, sessionID string, cp workflow.WorkflowCheckpoint) error {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return proderr.Errorf(proderr.KindPermanentIO, false, "create session dir: %w", err)
	}

	lock, err := acquireLock(filepath.Join(dir, lockFile), lockTimeout)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	cp.SchemaVersion = CurrentSchemaVersion
	env, err := buildEnvelope(cp)
	if err != nil {
		return proderr.Errorf(proderr.KindValidation, false, "build checkpoint envelope: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(retrySchedule); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return proderr.New(proderr.KindInterrupted, ctx.Err(), false)
			case <-time.After(retrySchedule[attempt-1]):
			}
		}
		lastErr = s.writeEnvelope(dir, env)
		if lastErr == nil {
			return nil
		}
		if !proderr.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// writeEnvelope executes steps 3-6 of the atomic write protocol: write temp,
// read back, verify, rename, remove temp. Rotates history before overwrite.
func (s *Store) writeEnvelope(dir string, env Envelope) error {
	final := filepath.Join(dir, checkpointFile)
	tmp := filepath.Join(dir, fmt.Sprintf("checkpoint.tmp.%s.json", uuid.NewString()))

	data, err := json.Marshal(env)
	if err != nil {
		return proderr.New(proderr.KindValidation, err, false)
	}

	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmp)
		}
	}()

	if err := writeFileFsync(tmp, data); err != nil {
		return proderr.Errorf(proderr.KindTransientIO, true, "write temp checkpoint: %w", err)
	}

	readBack, err := os.ReadFile(tmp)
	if err != nil || len(readBack) != len(data) {
		return proderr.Errorf(proderr.KindTransientIO, true, "verify temp checkpoint: %w", err)
	}
	var roundTrip Envelope
	if err := json.Unmarshal(readBack, &roundTrip); err != nil {
		return proderr.New(proderr.KindTransientIO, err, true)
	}
	if err := verifyEnvelope(roundTrip); err != nil {
		return proderr.New(proderr.KindPermanentIO, err, false)
	}

	s.rotateHistory(dir)

	if err := os.Rename(tmp, final); err != nil {
		return proderr.Errorf(proderr.KindTransientIO, true, "rename checkpoint: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return proderr.New(proderr.KindTransientIO, err, true)
	}
	cleanup = false
	return nil
}

// rotateHistory shifts checkpoint.json -> checkpoint.1.json -> ... up to
// HistoryLimit previous snapshots before an overwrite.
func (s *Store) rotateHistory(dir string) {
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = defaultHistory
	}
	final := filepath.Join(dir, checkpointFile)
	if _, err := os.Stat(final); err != nil {
		return
	}

	// Drop the oldest kept snapshot, then shift the rest up by one slot.
	_ = os.Remove(historyPath(dir, limit))
	for i := limit - 1; i >= 1; i-- {
		src := historyPath(dir, i)
		dst := historyPath(dir, i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	_ = os.Rename(final, historyPath(dir, 1))
}

func historyPath(dir string, n int) string {
	if n == 0 {
		return filepath.Join(dir, checkpointFile)
	}
	return filepath.Join(dir, fmt.Sprintf("checkpoint.%d.json", n))
}

// Load reads the most recent valid checkpoint for sessionID, walking bounded
// history on integrity failure (spec.md §4.6 recovery).
func (s *Store) Load(ctx context.Context, sessionID string) (workflow.WorkflowCheckpoint, error) {
	dir := s.sessionDir(sessionID)
	limit := s.HistoryLimit
	if limit <= 0 {
		limit = defaultHistory
	}
	var lastErr error
	for i := 0; i <= limit; i++ {
		path := historyPath(dir, i)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			lastErr = err
			continue
		}
		cp, err := decodeEnvelope(data)
		if err != nil {
			lastErr = err
			continue
		}
		return cp, nil
	}
	if lastErr != nil {
		return workflow.WorkflowCheckpoint{}, proderr.WithContext(
			proderr.New(proderr.KindPermanentIO, proderr.ErrNoValidCheckpoint, false), lastErr.Error())
	}
	return workflow.WorkflowCheckpoint{}, proderr.New(proderr.KindPermanentIO, proderr.ErrNoValidCheckpoint, false)
}

// CleanStaleTemp removes checkpoint.tmp.*.json files older than s.TempTTL
// across every session directory. Run once on store startup.
func (s *Store) CleanStaleTemp() error {
	ttl := s.TempTTL
	if ttl <= 0 {
		ttl = defaultTempTTL
	}
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return proderr.New(proderr.KindPermanentIO, err, false)
	}
	cutoff := time.Now().Add(-ttl)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.Root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasPrefix(f.Name(), "checkpoint.tmp.") {
				continue
			}
			info, err := f.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			_ = os.Remove(filepath.Join(dir, f.Name()))
		}
	}
	return nil
}

// Sessions lists session ids with at least one persisted checkpoint,
// sorted lexically for deterministic iteration.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, proderr.New(proderr.KindPermanentIO, err, false)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Root, e.Name(), checkpointFile)); err == nil {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func buildEnvelope(cp workflow.WorkflowCheckpoint) (Envelope, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Version:       cp.SchemaVersion,
		PayloadBytes:  payload,
		IntegrityHash: hashHex(payload),
		Size:          len(payload),
	}, nil
}

func verifyEnvelope(env Envelope) error {
	if env.Size != len(env.PayloadBytes) {
		return proderr.ErrCheckpointCorrupt
	}
	if hashHex(env.PayloadBytes) != env.IntegrityHash {
		return proderr.ErrCheckpointCorrupt
	}
	var probe workflow.WorkflowCheckpoint
	if err := json.Unmarshal(env.PayloadBytes, &probe); err != nil {
		return proderr.ErrCheckpointCorrupt
	}
	return nil
}

func decodeEnvelope(data []byte) (workflow.WorkflowCheckpoint, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return workflow.WorkflowCheckpoint{}, err
	}
	if err := verifyEnvelope(env); err != nil {
		return workflow.WorkflowCheckpoint{}, err
	}

	switch env.Version {
	case CurrentSchemaVersion:
		var cp workflow.WorkflowCheckpoint
		if err := json.Unmarshal(env.PayloadBytes, &cp); err != nil {
			return workflow.WorkflowCheckpoint{}, err
		}
		return cp, nil
	case PriorSchemaVersion:
		return migrateFromPrior(env.PayloadBytes)
	default:
		return workflow.WorkflowCheckpoint{}, fmt.Errorf("unsupported checkpoint schema_version %d", env.Version)
	}
}

// legacyCheckpointV1 is the prior schema: it lacks CapturedOutputs on
// CompletedStepRecord, introduced in v2 so a resumed run can rehydrate
// earlier capture_output bindings without re-running completed steps.
type legacyCheckpointV1 struct {
	SchemaVersion uint32                        `json:"schema_version"`
	SessionID     string                        `json:"session_id"`
	WorkflowPath  string                        `json:"workflow_path"`
	CreatedAt     time.Time                     `json:"created_at"`
	State         workflow.CheckpointState      `json:"state"`
	CompletedSteps []struct {
		StepIndex int    `json:"step_index"`
		Summary   string `json:"summary"`
	} `json:"completed_steps"`
	Variables map[string]any `json:"variables"`
}

func migrateFromPrior(payload []byte) (workflow.WorkflowCheckpoint, error) {
	var legacy legacyCheckpointV1
	if err := json.Unmarshal(payload, &legacy); err != nil {
		return workflow.WorkflowCheckpoint{}, err
	}
	cp := workflow.WorkflowCheckpoint{
		SchemaVersion: CurrentSchemaVersion,
		SessionID:     legacy.SessionID,
		WorkflowPath:  legacy.WorkflowPath,
		CreatedAt:     legacy.CreatedAt,
		State:         legacy.State,
		Variables:     legacy.Variables,
	}
	for _, step := range legacy.CompletedSteps {
		cp.CompletedSteps = append(cp.CompletedSteps, workflow.CompletedStepRecord{
			StepIndex: step.StepIndex,
			Summary:   step.Summary,
		})
	}
	return cp, nil
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
