package retrieval_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/embedding"
	"github.com/DAJ8112/Yanck/internal/retrieval"
	"github.com/DAJ8112/Yanck/internal/vector"
)

// mapEmbedder returns fixed vectors per query, or a hash vector for
// unknown ones.
type mapEmbedder struct {
	vectors map[string][]float32
	dims    int
	err     error
}

func (e *mapEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return embedding.HashVector(text, e.dims), nil
}

type fixedIndex struct {
	idx vector.Index
}

func (f fixedIndex) View(_ context.Context, _ string, fn func(vector.Index) error) error {
	return fn(f.idx)
}

type MockResolver struct{ mock.Mock }

func (m *MockResolver) ResolvePassages(ctx context.Context, tenantID string, chunkIDs []string) ([]document.ContextPassage, error) {
	args := m.Called(ctx, tenantID, chunkIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.ContextPassage), args.Error(1)
}

type MockSettings struct{ mock.Mock }

func (m *MockSettings) TopK(ctx context.Context, tenantID string) (int, error) {
	args := m.Called(ctx, tenantID)
	return args.Int(0), args.Error(1)
}

type MockRetriever struct{ mock.Mock }

func (m *MockRetriever) Retrieve(ctx context.Context, tenantID, query string, k int) ([]retrieval.ContextChunk, error) {
	args := m.Called(ctx, tenantID, query, k)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retrieval.ContextChunk), args.Error(1)
}

type MockRebuilder struct{ mock.Mock }

func (m *MockRebuilder) Rebuild(ctx context.Context, tenantID string) error {
	return m.Called(ctx, tenantID).Error(0)
}

// emptySource has no persisted embeddings for any tenant.
type emptySource struct{}

func (emptySource) CountEmbeddings(context.Context, string) (int, error) { return 0, nil }
func (emptySource) LoadEmbeddings(context.Context, string) ([]vector.Entry, error) {
	return nil, nil
}
func (emptySource) Fingerprint(context.Context, string) (vector.Fingerprint, error) {
	return vector.Fingerprint{}, nil
}
