package vector

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// MemoryIndex is an exact in-process index. It keeps unit-length copies of
// the vectors, so cosine similarity is a dot product.
type MemoryIndex struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]memoryEntry
	byDoc   map[string]map[string]struct{}
}

type memoryEntry struct {
	documentID string
	raw        []float32
	unit       []float32
}

// NewMemoryIndex returns an empty index. A dim of zero adopts the dimension
// of the first vector added.
func NewMemoryIndex(dim int) *MemoryIndex {
	return &MemoryIndex{
		dim:     dim,
		entries: make(map[string]memoryEntry),
		byDoc:   make(map[string]map[string]struct{}),
	}
}

func (m *MemoryIndex) Add(_ context.Context, entries ...Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d", ErrDimensionMismatch, e.ChunkID, len(e.Vector), dim)
		}
	}
	m.dim = dim

	for _, e := range entries {
		if old, ok := m.entries[e.ChunkID]; ok {
			m.unlinkLocked(e.ChunkID, old.documentID)
		}
		raw := make([]float32, len(e.Vector))
		copy(raw, e.Vector)
		m.entries[e.ChunkID] = memoryEntry{documentID: e.DocumentID, raw: raw, unit: normalize(raw)}

		docs, ok := m.byDoc[e.DocumentID]
		if !ok {
			docs = make(map[string]struct{})
			m.byDoc[e.DocumentID] = docs
		}
		docs[e.ChunkID] = struct{}{}
	}
	return nil
}

func (m *MemoryIndex) unlinkLocked(chunkID, documentID string) {
	if docs, ok := m.byDoc[documentID]; ok {
		delete(docs, chunkID)
		if len(docs) == 0 {
			delete(m.byDoc, documentID)
		}
	}
}

func (m *MemoryIndex) RemoveByDocument(_ context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := m.byDoc[documentID]
	for id := range docs {
		delete(m.entries, id)
	}
	delete(m.byDoc, documentID)
	return len(docs), nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 || len(m.entries) == 0 {
		return []Match{}, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vector), m.dim)
	}

	q := normalize(vector)
	matches := make([]Match, 0, len(m.entries))
	for id, e := range m.entries {
		matches = append(matches, Match{ChunkID: id, DocumentID: e.documentID, Score: dot(q, e.unit)})
	}
	SortMatches(matches)

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryIndex) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Entries returns the stored vectors as they were added.
func (m *MemoryIndex) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, Entry{ChunkID: id, DocumentID: e.documentID, Vector: e.raw})
	}
	return out
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(math.Max(-1, math.Min(1, s)))
}
