package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DAJ8112/Yanck/features/document"
)

type StaleDocuments interface {
	ListStale(ctx context.Context, pendingAfter time.Duration, limit int) ([]document.Document, error)
	TouchPending(ctx context.Context, ids []string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, d *document.Document) error
}

// IndexVerifier checks resident tenant indexes against persisted embeddings.
type IndexVerifier interface {
	Resident() []string
	Verify(ctx context.Context, tenantID string) (bool, error)
}

type SweeperOptions struct {
	Interval     time.Duration
	PendingAfter time.Duration
	BatchSize    int
	Logger       *slog.Logger
}

// Sweeper requeues documents whose message was lost or whose worker died,
// and repairs tenant indexes that drifted from the store.
type Sweeper struct {
	docs    StaleDocuments
	queue   Enqueuer
	indexes IndexVerifier
	opts    SweeperOptions
	logger  *slog.Logger
}

func NewSweeper(docs StaleDocuments, queue Enqueuer, indexes IndexVerifier, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.PendingAfter <= 0 {
		opts.PendingAfter = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{docs: docs, queue: queue, indexes: indexes, opts: opts, logger: logger.With("component", "sweeper")}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep makes one pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var errs []error

	stale, err := s.docs.ListStale(ctx, s.opts.PendingAfter, s.opts.BatchSize)
	if err != nil {
		errs = append(errs, err)
	}

	var touched []string
	for i := range stale {
		d := &stale[i]
		if err := s.queue.Enqueue(ctx, d); err != nil {
			errs = append(errs, err)
			break
		}
		if d.Status == document.StatusPending {
			touched = append(touched, d.ID)
		}
	}
	if len(stale) > 0 {
		s.logger.InfoContext(ctx, "requeued stale documents", "count", len(stale))
	}
	if err := s.docs.TouchPending(ctx, touched); err != nil {
		errs = append(errs, err)
	}

	for _, tenantID := range s.indexes.Resident() {
		repaired, err := s.indexes.Verify(ctx, tenantID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if repaired {
			s.logger.WarnContext(ctx, "tenant index repaired", "tenant_id", tenantID)
		}
	}

	return errors.Join(errs...)
}
