package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/DAJ8112/Yanck/internal/embedding"
	"github.com/DAJ8112/Yanck/internal/settings"
)

var ErrAPIKeyMissing = errors.New("gemini api key not configured")

type SettingsReader interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

// DynamicEmbedder reads the API key from settings on every call and keeps one
// client per key, so a key changed over HTTP takes effect without a restart.
type DynamicEmbedder struct {
	settingsSvc SettingsReader
	model       string
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewDynamicEmbedder(svc SettingsReader, model string, opts ...option.ClientOption) *DynamicEmbedder {
	return &DynamicEmbedder{
		settingsSvc: svc,
		model:       model,
		clientOpts:  opts,
	}
}

func (e *DynamicEmbedder) Model() string { return e.model }

func (e *DynamicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, embedding.Transient(fmt.Errorf("failed to get settings: %w", err))
	}
	if s.GeminiAPIKey == "" {
		return nil, embedding.Permanent(ErrAPIKeyMissing)
	}

	client, err := e.getClient(ctx, s.GeminiAPIKey)
	if err != nil {
		return nil, embedding.Permanent(fmt.Errorf("create genai client: %w", err))
	}

	slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", len(texts))
	em := client.EmbeddingModel(e.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify(err)
	}

	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, embedding.Permanent(fmt.Errorf("empty embedding received at position %d", i))
		}
		out[i] = emb.Values
	}
	return out, nil
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return embedding.HTTPStatusError(gerr.Code, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return embedding.Transient(err)
}

func (e *DynamicEmbedder) getClient(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	if e.client != nil {
		if err := e.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append([]option.ClientOption{}, e.clientOpts...)
	opts = append(opts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	e.client = client
	e.currentKey = key
	return client, nil
}

func (e *DynamicEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	e.currentKey = ""
	return err
}
