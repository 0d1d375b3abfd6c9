package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/prodigy-dev/prodigy/internal/proderr"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// MapReduceSchemaVersion is distinct from the sequential checkpoint's
// schema_version (spec.md §4.8: "The checkpoint's schema_version is
// distinct from sequential checkpoints").
const MapReduceSchemaVersion = uint32(1)

const (
	mapReduceFile     = "mapreduce_checkpoint.json"
	mapReduceLockFile = "mapreduce_checkpoint.lock"
)

// mapReduceEnvelope mirrors Envelope but is tagged with its own constant so
// the two schemas are never confused on disk.
type mapReduceEnvelope struct {
	SchemaVersion uint32 `json:"mapreduce_schema_version"`
	PayloadBytes  []byte `json:"payload_bytes"`
	IntegrityHash string `json:"integrity_hash"`
	Size          int    `json:"size"`
}

// MapReduceStore persists MapReduceJobState under the same per-session
// directory layout as Store, reusing its lock/atomic-write/fsync protocol
// (spec.md §4.6's durability guarantees apply equally to MapReduce
// checkpoints; only the payload schema differs).
type MapReduceStore struct {
	Root string
}

// NewMapReduceStore constructs a MapReduceStore rooted at root.
func NewMapReduceStore(root string) *MapReduceStore {
	return &MapReduceStore{Root: root}
}

func (s *MapReduceStore) sessionDir(jobID string) string {
	return filepath.Join(s.Root, jobID)
}

// Save writes state for jobID at a phase transition or after every completed
// agent (spec.md §4.8).
func (s *MapReduceStore) Save(ctx context.Context, jobID string, state workflow.MapReduceJobState) error {
	dir := s.sessionDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return proderr.Errorf(proderr.KindPermanentIO, false, "create job dir: %w", err)
	}

	lock, err := acquireLock(filepath.Join(dir, mapReduceLockFile), lockTimeout)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	payload, err := json.Marshal(state)
	if err != nil {
		return proderr.Errorf(proderr.KindValidation, false, "marshal mapreduce state: %w", err)
	}
	env := mapReduceEnvelope{
		SchemaVersion: MapReduceSchemaVersion,
		PayloadBytes:  payload,
		IntegrityHash: hashHex(payload),
		Size:          len(payload),
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

func (s *MapReduceStore) writeEnvelope(dir string, env mapReduceEnvelope) error {
	final := filepath.Join(dir, mapReduceFile)
	tmp := filepath.Join(dir, fmt.Sprintf("mapreduce_checkpoint.tmp.%s.json", uuid.NewString()))

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
		return proderr.Errorf(proderr.KindTransientIO, true, "write temp mapreduce checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return proderr.Errorf(proderr.KindTransientIO, true, "rename mapreduce checkpoint: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return proderr.New(proderr.KindTransientIO, err, true)
	}
	cleanup = false
	return nil
}

// Load reads the current MapReduceJobState for jobID.
func (s *MapReduceStore) Load(ctx context.Context, jobID string) (workflow.MapReduceJobState, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(jobID), mapReduceFile))
	if err != nil {
		if os.IsNotExist(err) {
			return workflow.MapReduceJobState{}, proderr.New(proderr.KindPermanentIO, proderr.ErrNoValidCheckpoint, false)
		}
		return workflow.MapReduceJobState{}, proderr.New(proderr.KindTransientIO, err, true)
	}

	var env mapReduceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return workflow.MapReduceJobState{}, proderr.New(proderr.KindPermanentIO, proderr.ErrCheckpointCorrupt, false)
	}
	if env.Size != len(env.PayloadBytes) || hashHex(env.PayloadBytes) != env.IntegrityHash {
		return workflow.MapReduceJobState{}, proderr.New(proderr.KindPermanentIO, proderr.ErrCheckpointCorrupt, false)
	}
	if env.SchemaVersion != MapReduceSchemaVersion {
		return workflow.MapReduceJobState{}, fmt.Errorf("unsupported mapreduce_schema_version %d", env.SchemaVersion)
	}

	var state workflow.MapReduceJobState
	if err := json.Unmarshal(env.PayloadBytes, &state); err != nil {
		return workflow.MapReduceJobState{}, proderr.New(proderr.KindPermanentIO, proderr.ErrCheckpointCorrupt, false)
	}
	if state.CompletedItems == nil {
		state.CompletedItems = make(map[string]struct{})
		for _, id := range state.CompletedItemsList {
			state.CompletedItems[id] = struct{}{}
		}
	}
	return state, nil
}
