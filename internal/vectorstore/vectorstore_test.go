package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryIndexSearchFiltersAndRanks(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	idx.Upsert(ctx,
		Point{ID: "a", Vector: []float32{1, 0}, Payload: map[string]string{"learner_id": "l1"}},
		Point{ID: "b", Vector: []float32{0.7, 0.7}, Payload: map[string]string{"learner_id": "l1"}},
		Point{ID: "c", Vector: []float32{1, 0}, Payload: map[string]string{"learner_id": "l2"}},
	)

	hits, err := idx.Search(ctx, []float32{1, 0}, map[string]string{"learner_id": "l1"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "b" {
		t.Fatalf("hits = %+v", hits)
	}

	top, _ := idx.Search(ctx, []float32{1, 0}, nil, 1)
	if len(top) != 1 || top[0].ID != "a" {
		t.Fatalf("top = %+v", top)
	}

	idx.Delete(ctx, "a", "missing")
	if idx.Len() != 2 {
		t.Fatalf("len after delete = %d", idx.Len())
	}
}

func TestMemoryIndexUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	payload := map[string]string{"status": "upcoming"}
	idx.Upsert(ctx, Point{ID: "a", Vector: []float32{1}, Payload: payload})
	payload["status"] = "mutated"
	idx.Upsert(ctx, Point{ID: "a", Vector: []float32{1}, Payload: map[string]string{"status": "completed"}})

	hits, _ := idx.Search(ctx, []float32{1}, map[string]string{"status": "completed"}, 0)
	if idx.Len() != 1 || len(hits) != 1 {
		t.Fatalf("len=%d hits=%+v", idx.Len(), hits)
	}
}

func TestPointIDStable(t *testing.T) {
	id := uuid.New().String()
	if got := pointID(id).GetUuid(); got != id {
		t.Fatalf("uuid id rewritten: %s", got)
	}
	a := pointID("app-42").GetUuid()
	b := pointID("app-42").GetUuid()
	if a != b || a == "" {
		t.Fatalf("name-based ids differ: %s %s", a, b)
	}
}
