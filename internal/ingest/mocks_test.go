package ingest_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/features/job"
	"github.com/DAJ8112/Yanck/internal/blob"
	"github.com/DAJ8112/Yanck/internal/vector"
)

// memoryStore mirrors the fencing rules of the Postgres repository.
type memoryStore struct {
	mu     sync.Mutex
	docs   map[string]*document.Document
	chunks map[string][]document.Chunk

	commitErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[string]*document.Document{}, chunks: map[string][]document.Chunk{}}
}

func (s *memoryStore) add(d document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Status == "" {
		d.Status = document.StatusPending
	}
	s.docs[d.ID] = &d
}

func (s *memoryStore) get(id string) (document.Document, []document.Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return document.Document{}, nil, false
	}
	return *d, append([]document.Chunk(nil), s.chunks[id]...), true
}

func (s *memoryStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	delete(s.chunks, id)
}

// steal simulates another worker reclaiming the document after the lease expired.
func (s *memoryStore) steal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].Attempts++
}

func (s *memoryStore) Claim(_ context.Context, id string, _ time.Duration) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, document.ErrDocumentDeleted
	}
	if d.Status != document.StatusPending {
		return nil, fmt.Errorf("%w: status is %s", document.ErrNotClaimable, d.Status)
	}
	d.Status = document.StatusProcessing
	d.Attempts++
	cp := *d
	return &cp, nil
}

func (s *memoryStore) checkLocked(lease document.Lease) error {
	d, ok := s.docs[lease.DocumentID]
	if !ok {
		return document.ErrDocumentDeleted
	}
	if d.Status != document.StatusProcessing || d.Attempts != lease.Attempts {
		return document.ErrLeaseLost
	}
	return nil
}

func (s *memoryStore) CheckLease(_ context.Context, lease document.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(lease)
}

func (s *memoryStore) CommitReady(_ context.Context, lease document.Lease, chunks []document.Chunk, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	if err := s.checkLocked(lease); err != nil {
		return err
	}
	s.chunks[lease.DocumentID] = append([]document.Chunk(nil), chunks...)
	d := s.docs[lease.DocumentID]
	d.Status = document.StatusReady
	d.Error = ""
	d.ChunkCount = len(chunks)
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, lease document.Lease, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(lease); err != nil {
		return err
	}
	delete(s.chunks, lease.DocumentID)
	d := s.docs[lease.DocumentID]
	d.Status = document.StatusFailed
	d.Error = reason
	d.ChunkCount = 0
	return nil
}

func (s *memoryStore) Release(_ context.Context, lease document.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(lease); err != nil {
		return err
	}
	s.docs[lease.DocumentID].Status = document.StatusPending
	return nil
}

func (s *memoryStore) Resubmit(_ context.Context, id string) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	if !d.Status.Terminal() {
		return nil, document.ErrInvalidTransition
	}
	delete(s.chunks, id)
	d.Status = document.StatusPending
	d.Attempts = 0
	d.Error = ""
	d.ChunkCount = 0
	cp := *d
	return &cp, nil
}

func (s *memoryStore) readyEntries(tenantID string) []vector.Entry {
	var out []vector.Entry
	for id, d := range s.docs {
		if d.TenantID != tenantID || d.Status != document.StatusReady {
			continue
		}
		for _, c := range s.chunks[id] {
			out = append(out, vector.Entry{ChunkID: c.ID, DocumentID: id, Vector: c.Vector})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}

func (s *memoryStore) CountEmbeddings(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readyEntries(tenantID)), nil
}

func (s *memoryStore) LoadEmbeddings(_ context.Context, tenantID string) ([]vector.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyEntries(tenantID), nil
}

func (s *memoryStore) Fingerprint(_ context.Context, tenantID string) (vector.Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.readyEntries(tenantID)
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ChunkID
	}
	return vector.Fingerprint{Count: len(ids), Digest: vector.Digest(ids)}, nil
}

type memoryBlobs struct {
	data map[string][]byte
}

func (b *memoryBlobs) Fetch(_ context.Context, key string) ([]byte, error) {
	v, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrBlobNotFound, key)
	}
	return v, nil
}

type recordedFailures struct {
	mu   sync.Mutex
	jobs []job.Job
}

func (r *recordedFailures) Record(_ context.Context, j *job.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, *j)
}

func (r *recordedFailures) all() []job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]job.Job(nil), r.jobs...)
}

// hookEmbedder delegates to next after running before.
type hookEmbedder struct {
	next   interface {
		Embed(ctx context.Context, texts []string) ([][]float32, error)
		Model() string
	}
	before func()
	err    error
}

func (h *hookEmbedder) Model() string { return h.next.Model() }

func (h *hookEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if h.before != nil {
		h.before()
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.next.Embed(ctx, texts)
}

// blockingExtractor waits for the job deadline.
type blockingExtractor struct{}

func (blockingExtractor) Extract(ctx context.Context, _ []byte, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type MockStaleDocuments struct {
	mock.Mock
}

func (m *MockStaleDocuments) ListStale(ctx context.Context, pendingAfter time.Duration, limit int) ([]document.Document, error) {
	args := m.Called(ctx, pendingAfter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}

func (m *MockStaleDocuments) TouchPending(ctx context.Context, ids []string) error {
	return m.Called(ctx, ids).Error(0)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, d *document.Document) error {
	return m.Called(ctx, d.ID).Error(0)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Resident() []string {
	return m.Called().Get(0).([]string)
}

func (m *MockVerifier) Verify(ctx context.Context, tenantID string) (bool, error) {
	args := m.Called(ctx, tenantID)
	return args.Bool(0), args.Error(1)
}
