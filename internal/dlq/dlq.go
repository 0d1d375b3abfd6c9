// Package dlq persists work items that exhausted their retry budget during a
// MapReduce run, one JSON file per item under dlq/<job_id>/<item_id>.json
// (spec.md §4.8/§4.9/§6), grounded on the teacher's internal/pool package's
// directory-scoped, filesystem-as-index candidate storage (pending/staged/
// rejected), generalized from a single flat pool to one directory per job.
package dlq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// validIDPattern matches safe job/item ids for use in file paths, mirroring
// the teacher's validateCandidateID guard against path traversal.
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Store manages dead-letter items on disk, rooted at dir.
type Store struct {
	Root string
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Root: dir}
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("dlq: id must not be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("dlq: id too long")
	}
	if !validIDPattern.MatchString(id) {
		return fmt.Errorf("dlq: id %q contains invalid characters", id)
	}
	return nil
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.Root, jobID)
}

func (s *Store) itemPath(jobID, itemID string) string {
	return filepath.Join(s.jobDir(jobID), itemID+".json")
}

// Add persists item for jobID, overwriting any prior entry for the same
// item id (a later dead-letter write supersedes an earlier one).
func (s *Store) Add(jobID string, item workflow.DeadLetteredItem) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := validateID(item.ItemID); err != nil {
		return err
	}
	if err := os.MkdirAll(s.jobDir(jobID), 0755); err != nil {
		return fmt.Errorf("create dlq job dir: %w", err)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dlq item: %w", err)
	}

	tmp := s.itemPath(jobID, item.ItemID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write dlq item: %w", err)
	}
	if err := os.Rename(tmp, s.itemPath(jobID, item.ItemID)); err != nil {
		return fmt.Errorf("rename dlq item: %w", err)
	}
	return nil
}

// Get loads a single dead-lettered item by job and item id.
func (s *Store) Get(jobID, itemID string) (workflow.DeadLetteredItem, error) {
	var item workflow.DeadLetteredItem
	if err := validateID(jobID); err != nil {
		return item, err
	}
	if err := validateID(itemID); err != nil {
		return item, err
	}
	data, err := os.ReadFile(s.itemPath(jobID, itemID))
	if err != nil {
		return item, fmt.Errorf("read dlq item: %w", err)
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, fmt.Errorf("decode dlq item: %w", err)
	}
	return item, nil
}

// List returns every dead-lettered item for jobID, sorted by item id for
// deterministic output.
func (s *Store) List(jobID string) ([]workflow.DeadLetteredItem, error) {
	if err := validateID(jobID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.jobDir(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dlq dir: %w", err)
	}

	var items []workflow.DeadLetteredItem
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.jobDir(jobID), e.Name()))
		if err != nil {
			continue
		}
		var item workflow.DeadLetteredItem
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemID < items[j].ItemID })
	return items, nil
}

// Jobs lists the job ids with at least one dead-lettered item.
func (s *Store) Jobs() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dlq root: %w", err)
	}
	var jobs []string
	for _, e := range entries {
		if e.IsDir() {
			jobs = append(jobs, e.Name())
		}
	}
	sort.Strings(jobs)
	return jobs, nil
}

// Remove deletes a single dead-lettered item, e.g. after a manual requeue.
func (s *Store) Remove(jobID, itemID string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := validateID(itemID); err != nil {
		return err
	}
	if err := os.Remove(s.itemPath(jobID, itemID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove dlq item: %w", err)
	}
	return nil
}
