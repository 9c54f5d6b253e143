// Package openai embeds text through any OpenAI-compatible embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/DAJ8112/Yanck/internal/embedding"
)

var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

// NewEmbedder builds an embedder for baseURL. An empty token is sent as "none"
// so local servers without authentication work.
func NewEmbedder(baseURL, token, model string) (*Embedder, error) {
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Embedder{
		embedder: embedder,
		model:    model,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

func (e *Embedder) Model() string { return e.model }

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.DebugContext(ctx, "generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to generate embeddings", "count", len(texts), "error", err)
		return nil, classify(err)
	}
	return vectors, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return embedding.HTTPStatusError(code, err)
	}
	return embedding.Transient(err)
}
