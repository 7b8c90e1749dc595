package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// MemoryStore is an in-process vector store using brute-force cosine similarity.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	points    map[string]domain.VectorPoint
}

var _ ports.VectorStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: map[string]domain.VectorPoint{}}
}

// EnsureCollection fixes the dimension on first use.
func (s *MemoryStore) EnsureCollection(_ context.Context, spec domain.CollectionSpec) error {
	if spec.Dimension <= 0 {
		return fmt.Errorf("%w: collection dimension must be positive", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = spec.Dimension
	}
	return nil
}

// Upsert replaces points by id.
func (s *MemoryStore) Upsert(_ context.Context, points []domain.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		if s.dimension > 0 && len(p.Vector) != s.dimension {
			return fmt.Errorf("point %s: vector dimension %d, want %d", p.ID, len(p.Vector), s.dimension)
		}
	}
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

// Search scores every point and keeps those at or above threshold.
func (s *MemoryStore) Search(_ context.Context, vector []float32, limit int, threshold float64) ([]domain.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]domain.VectorHit, 0, len(s.points))
	for id, p := range s.points {
		score := cosine(p.Vector, vector)
		if score < threshold {
			continue
		}
		hits = append(hits, domain.VectorHit{ID: id, Score: score, Payload: p.Payload})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score == hits[j].Score {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Score > hits[j].Score
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len reports how many points are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
