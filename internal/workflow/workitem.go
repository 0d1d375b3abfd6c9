package workflow

import "encoding/json"

// idKeys is the ordered list of keys tried to derive a WorkItem's stable id.
var idKeys = []string{"id", "item_id", "_id"}

// WorkItem is a JSON object with a stable string id, as produced by the
// Setup phase or loaded from the Map phase's input source.
type WorkItem struct {
	ID   string
	Body map[string]any
}

// NewWorkItem wraps a decoded JSON object, deriving ID from the first of
// id|item_id|_id that is present and non-empty.
func NewWorkItem(body map[string]any) (WorkItem, bool) {
	for _, key := range idKeys {
		if v, ok := body[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return WorkItem{ID: s, Body: body}, true
			}
		}
	}
	return WorkItem{}, false
}

// MarshalJSON serializes the underlying body unchanged.
func (w WorkItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Body)
}

// UnmarshalJSON decodes a JSON object and derives the id.
func (w *WorkItem) UnmarshalJSON(data []byte) error {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	item, ok := NewWorkItem(body)
	if !ok {
		return errNoID
	}
	*w = item
	return nil
}

var errNoID = jsonError("work item missing id|item_id|_id")

type jsonError string

func (e jsonError) Error() string { return string(e) }

// ParseWorkItems decodes an ordered JSON array of objects into WorkItems,
// skipping (and reporting) any entries missing a stable id.
func ParseWorkItems(data []byte) (items []WorkItem, skipped int, err error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, err
	}
	for _, body := range raw {
		item, ok := NewWorkItem(body)
		if !ok {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return items, skipped, nil
}

// DeduplicateByID performs a stable, first-occurrence-wins deduplication by
// WorkItem.ID. Order of first occurrences is preserved. This is invariant 1
// (§8) and is shared by the Coordinator's load step and the Resume Planner.
func DeduplicateByID(items []WorkItem) (deduped []WorkItem, duplicateCount int) {
	seen := make(map[string]struct{}, len(items))
	deduped = make([]WorkItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			duplicateCount++
			continue
		}
		seen[item.ID] = struct{}{}
		deduped = append(deduped, item)
	}
	return deduped, duplicateCount
}
