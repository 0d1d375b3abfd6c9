package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// recordStore persists WorktreeRecords as one JSON file per session, written
// with the same temp-file-then-rename durability pattern used throughout
// Prodigy's storage layers.
type recordStore struct {
	dir string
}

func newRecordStore(dir string) *recordStore {
	return &recordStore{dir: dir}
}

func (s *recordStore) path(sessionID workflow.SessionID) string {
	return filepath.Join(s.dir, string(sessionID)+".json")
}

func (s *recordStore) Save(record workflow.WorktreeRecord) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create worktree record dir: %w", err)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal worktree record: %w", err)
	}
	data = append(data, '\n')

	final := s.path(record.SessionID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write worktree record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename worktree record: %w", err)
	}
	return nil
}

func (s *recordStore) Load(sessionID workflow.SessionID) (workflow.WorktreeRecord, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return workflow.WorktreeRecord{}, fmt.Errorf("read worktree record: %w", err)
	}
	var record workflow.WorktreeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return workflow.WorktreeRecord{}, fmt.Errorf("decode worktree record: %w", err)
	}
	return record, nil
}

func (s *recordStore) List() ([]workflow.WorktreeRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list worktree records: %w", err)
	}
	var out []workflow.WorktreeRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var record workflow.WorktreeRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}
