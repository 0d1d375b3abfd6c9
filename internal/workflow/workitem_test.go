package workflow

import "testing"

func TestDeduplicateByID_StableFirstOccurrence(t *testing.T) {
	items := []WorkItem{
		{ID: "x", Body: map[string]any{"id": "x", "v": 1.0}},
		{ID: "y", Body: map[string]any{"id": "y", "v": 2.0}},
		{ID: "x", Body: map[string]any{"id": "x", "v": 3.0}},
	}
	deduped, dups := DeduplicateByID(items)
	if dups != 1 {
		t.Fatalf("expected 1 duplicate, got %d", dups)
	}
	if len(deduped) != 2 {
		t.Fatalf("expected 2 deduped items, got %d", len(deduped))
	}
	if deduped[0].ID != "x" || deduped[0].Body["v"] != 1.0 {
		t.Fatalf("expected first occurrence of x to win, got %+v", deduped[0])
	}
	if deduped[1].ID != "y" {
		t.Fatalf("expected y second, got %+v", deduped[1])
	}
}

func TestDeduplicateByID_AlreadyUnique(t *testing.T) {
	items := []WorkItem{
		{ID: "a", Body: map[string]any{"id": "a"}},
		{ID: "b", Body: map[string]any{"id": "b"}},
		{ID: "c", Body: map[string]any{"id": "c"}},
	}
	deduped, dups := DeduplicateByID(items)
	if dups != 0 {
		t.Fatalf("expected 0 duplicates, got %d", dups)
	}
	if len(deduped) != len(items) {
		t.Fatalf("expected equal length, got %d vs %d", len(deduped), len(items))
	}
	for i := range items {
		if deduped[i].ID != items[i].ID {
			t.Fatalf("order changed at index %d", i)
		}
	}
}

func TestParseWorkItems(t *testing.T) {
	data := []byte(`[{"id":"x","v":1},{"item_id":"y","v":2},{"no_id":true}]`)
	items, skipped, err := ParseWorkItems(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", skipped)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != "x" || items[1].ID != "y" {
		t.Fatalf("unexpected ids: %+v", items)
	}
}

func TestNewWorkItem_UnderscoreID(t *testing.T) {
	item, ok := NewWorkItem(map[string]any{"_id": "z"})
	if !ok || item.ID != "z" {
		t.Fatalf("expected _id to be picked up, got %+v ok=%v", item, ok)
	}
}
