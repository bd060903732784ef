// Package vectorstore keeps embedded documents for nearest-neighbour search.
// Qdrant backs production deployments; MemoryIndex backs tests and
// single-node runs.
package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/nidhogg/nuka-tutor/internal/embedding"
)

// Point is one stored vector. Payload values are exact-match filterable.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Hit is a single search result, best first.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// Index is a single collection of points.
type Index interface {
	Upsert(ctx context.Context, points ...Point) error
	// Search returns up to limit hits whose payload matches every entry of
	// match.
	Search(ctx context.Context, vector []float32, match map[string]string, limit int) ([]Hit, error)
	Delete(ctx context.Context, ids ...string) error
}

// MemoryIndex is a brute-force cosine Index.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]Point
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Point)}
}

func (m *MemoryIndex) Upsert(_ context.Context, points ...Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		cp := Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: make(map[string]string, len(p.Payload))}
		for k, v := range p.Payload {
			cp.Payload[k] = v
		}
		m.points[p.ID] = cp
	}
	return nil
}

func (m *MemoryIndex) Search(_ context.Context, vector []float32, match map[string]string, limit int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []Hit
	for _, p := range m.points {
		if !matches(p.Payload, match) {
			continue
		}
		hits = append(hits, Hit{ID: p.ID, Score: float32(embedding.Cosine(vector, p.Vector)), Payload: p.Payload})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryIndex) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// Len returns the number of stored points.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func matches(payload, match map[string]string) bool {
	for k, v := range match {
		if payload[k] != v {
			return false
		}
	}
	return true
}
