package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/middleware"
	"github.com/DAJ8112/Yanck/internal/vector"
)

var ErrEmptyQuery = errors.New("query is empty")

// ContextChunk is one retrieved passage, ready to be placed in a prompt.
type ContextChunk struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	Score        float32 `json:"score"`
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type IndexViewer interface {
	View(ctx context.Context, tenantID string, fn func(vector.Index) error) error
}

type PassageResolver interface {
	ResolvePassages(ctx context.Context, tenantID string, chunkIDs []string) ([]document.ContextPassage, error)
}

// SettingsProvider reports the default result count for a tenant; zero means
// none is configured.
type SettingsProvider interface {
	TopK(ctx context.Context, tenantID string) (int, error)
}

type Options struct {
	DefaultK int
	MaxK     int
}

type Service struct {
	embedder Embedder
	indexes  IndexViewer
	passages PassageResolver
	settings SettingsProvider
	logger   *QueryLogger
	opts     Options
}

func NewService(e Embedder, i IndexViewer, p PassageResolver, set SettingsProvider, l *QueryLogger, opts Options) *Service {
	if opts.MaxK <= 0 {
		opts.MaxK = 20
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = 4
	}
	return &Service{embedder: e, indexes: i, passages: p, settings: set, logger: l, opts: opts}
}

// Retrieve returns the k passages of the tenant most similar to the query,
// best first. Passages of documents that are no longer ready are skipped, so
// fewer than k may come back.
func (s *Service) Retrieve(ctx context.Context, tenantID, query string, k int) ([]ContextChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	start := time.Now()
	k = s.resolveK(ctx, tenantID, k)

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var matches []vector.Match
	err = s.indexes.View(ctx, tenantID, func(idx vector.Index) error {
		var qerr error
		matches, qerr = idx.Query(ctx, vec, k)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	chunks := []ContextChunk{}
	if len(matches) > 0 {
		if chunks, err = s.resolve(ctx, tenantID, matches); err != nil {
			return nil, err
		}
	}

	if s.logger != nil {
		s.logger.Log(QueryLogEntry{
			TenantID:      tenantID,
			Query:         query,
			K:             k,
			NumResults:    len(chunks),
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return chunks, nil
}

func (s *Service) resolveK(ctx context.Context, tenantID string, k int) int {
	if k <= 0 {
		k = s.opts.DefaultK
		topK, err := s.settings.TopK(ctx, tenantID)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "failed to read settings, using default top k", "error", err)
		case topK > 0:
			k = topK
		}
	}
	return min(k, s.opts.MaxK)
}

// resolve attaches text and document names to matches, keeping index order.
func (s *Service) resolve(ctx context.Context, tenantID string, matches []vector.Match) ([]ContextChunk, error) {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ChunkID
	}

	passages, err := s.passages.ResolvePassages(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve passages: %w", err)
	}
	byID := make(map[string]document.ContextPassage, len(passages))
	for _, p := range passages {
		byID[p.ChunkID] = p
	}

	out := make([]ContextChunk, 0, len(matches))
	for _, m := range matches {
		p, ok := byID[m.ChunkID]
		if !ok {
			slog.DebugContext(ctx, "dropping match unknown to the store", "chunk_id", m.ChunkID)
			continue
		}
		out = append(out, ContextChunk{
			ChunkID:      p.ChunkID,
			DocumentID:   p.DocumentID,
			DocumentName: p.DocumentName,
			ChunkIndex:   p.ChunkIndex,
			Content:      p.Content,
			Score:        m.Score,
		})
	}
	return out, nil
}

// FormatContext renders chunks as numbered source blocks for a prompt.
func FormatContext(chunks []ContextChunk) string {
	blocks := make([]string, 0, len(chunks))
	for i, c := range chunks {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		blocks = append(blocks, fmt.Sprintf("[%d] Source: %s (score: %.3f)\n%s", i+1, name, c.Score, strings.TrimSpace(c.Content)))
	}
	return strings.Join(blocks, "\n\n")
}
