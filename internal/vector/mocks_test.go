package vector_test

import (
	"context"
	"sync"

	"github.com/DAJ8112/Yanck/internal/vector"
)

// fakeSource serves embeddings per tenant and counts loads.
type fakeSource struct {
	mu      sync.Mutex
	data    map[string][]vector.Entry
	loads   int
	failErr error
}

func newFakeSource() *fakeSource {
	return &fakeSource{data: make(map[string][]vector.Entry)}
}

func (s *fakeSource) set(tenant string, entries ...vector.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[tenant] = entries
}

func (s *fakeSource) CountEmbeddings(_ context.Context, tenant string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[tenant]), s.failErr
}

func (s *fakeSource) LoadEmbeddings(_ context.Context, tenant string) ([]vector.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.failErr != nil {
		return nil, s.failErr
	}
	return append([]vector.Entry(nil), s.data[tenant]...), nil
}

func (s *fakeSource) Fingerprint(_ context.Context, tenant string) (vector.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.data[tenant]))
	for i, e := range s.data[tenant] {
		ids[i] = e.ChunkID
	}
	return vector.Fingerprint{Count: len(ids), Digest: vector.Digest(ids)}, s.failErr
}

func (s *fakeSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

type memorySnapshots struct {
	mu    sync.Mutex
	snaps map[string]vector.Snapshot
	saves int
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snaps: make(map[string]vector.Snapshot)}
}

func (m *memorySnapshots) Save(_ context.Context, tenant string, snap vector.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.snaps[tenant] = snap
	return nil
}

func (m *memorySnapshots) Load(_ context.Context, tenant string) (*vector.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[tenant]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func memoryFactory(dim int) vector.Factory {
	return func(string) (vector.Index, error) {
		return vector.NewMemoryIndex(dim), nil
	}
}
