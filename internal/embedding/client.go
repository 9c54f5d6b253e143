package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Provider is one external embedding service.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type Options struct {
	BatchSize      int
	Dimensions     int
	MaxAttempts    int
	BaseDelay      time.Duration
	RequestTimeout time.Duration
	// RateLimit is provider calls per second, zero disables limiting.
	RateLimit   float64
	Concurrency int
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client batches texts, spreads batches over a bounded pool shared by all
// callers and retries transient provider failures.
type Client struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter
	pool     *ants.Pool
	logger   *slog.Logger
}

type poolLogger struct {
	logger *slog.Logger
}

func (l poolLogger) Printf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func NewClient(p Provider, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "embedding-client", "model", p.Model())

	pool, err := ants.NewPool(opts.Concurrency, ants.WithLogger(poolLogger{logger: logger}))
	if err != nil {
		return nil, fmt.Errorf("embedding pool: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{provider: p, opts: opts, limiter: limiter, pool: pool, logger: logger}, nil
}

func (c *Client) Close() {
	c.pool.Release()
}

func (c *Client) Model() string { return c.provider.Model() }

func (c *Client) Dimensions() int { return c.opts.Dimensions }

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for offset := 0; offset < len(texts); offset += c.opts.BatchSize {
		end := offset + c.opts.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, dst := texts[offset:end], out[offset:end]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					fail(Permanent(fmt.Errorf("embedding provider panicked: %v", r)))
				}
			}()
			vectors, err := c.embedBatch(ctx, batch)
			if err != nil {
				fail(err)
				return
			}
			copy(dst, vectors)
		}
		if err := c.pool.Submit(task); err != nil {
			wg.Done()
			fail(Transient(fmt.Errorf("submit embedding batch: %w", err)))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// EmbedQuery embeds a single text as a one-item batch.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := RetryWithBackoff(ctx, c.opts.MaxAttempts, c.opts.BaseDelay, func(attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return Transient(err)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()

		start := time.Now()
		v, err := c.provider.EmbedBatch(callCtx, texts)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return Transient(fmt.Errorf("embedding request timed out after %s: %w", c.opts.RequestTimeout, err))
			}
			return classify(err)
		}
		if err := c.check(v, len(texts)); err != nil {
			return err
		}

		c.logger.DebugContext(ctx, "embedded batch", "size", len(texts), "attempt", attempt, "duration", time.Since(start))
		vectors = v
		return nil
	})
	return vectors, err
}

func (c *Client) check(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return Permanent(fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), want))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return Permanent(fmt.Errorf("provider returned empty vector at position %d", i))
		}
		if c.opts.Dimensions > 0 && len(v) != c.opts.Dimensions {
			return Permanent(fmt.Errorf("vector %d has %d dimensions, want %d", i, len(v), c.opts.Dimensions))
		}
	}
	return nil
}
