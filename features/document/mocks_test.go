package document_test

import (
	"context"
	"errors"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/blob"
	"github.com/DAJ8112/Yanck/internal/vector"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, d *document.Document) error {
	args := m.Called(ctx, d)
	if args.Error(0) == nil {
		d.ID = "00000000-0000-4000-8000-0000000000d1"
		d.Status = document.StatusPending
	}
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepository) ListByTenant(ctx context.Context, tenantID string) ([]document.Document, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}

func (m *MockRepository) Resubmit(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, name string, r io.Reader) (blob.Object, error) {
	io.Copy(io.Discard, r)
	args := m.Called(ctx, name)
	return args.Get(0).(blob.Object), args.Error(1)
}

func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

// fakeIndexes runs updates against a single in-memory index and records
// when a rebuild would have been triggered.
type fakeIndexes struct {
	idx      vector.Index
	tenants  []string
	rebuilds int
}

func (f *fakeIndexes) Update(ctx context.Context, tenantID string, fn func(vector.Index) error) error {
	f.tenants = append(f.tenants, tenantID)
	err := fn(f.idx)
	if errors.Is(err, vector.ErrIndexCorruption) {
		f.rebuilds++
		return nil
	}
	return err
}

type brokenIndex struct {
	vector.Index
}

func (brokenIndex) RemoveByDocument(context.Context, string) (int, error) {
	return 0, errors.New("backend unavailable")
}
