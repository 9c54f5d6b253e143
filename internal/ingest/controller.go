// Package ingest turns uploaded documents into indexed chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/features/job"
	"github.com/DAJ8112/Yanck/internal/blob"
	"github.com/DAJ8112/Yanck/internal/embedding"
	"github.com/DAJ8112/Yanck/internal/extract"
	"github.com/DAJ8112/Yanck/internal/middleware"
	"github.com/DAJ8112/Yanck/internal/text"
	"github.com/DAJ8112/Yanck/internal/vector"
)

const maxReasonLen = 1000

type Documents interface {
	Claim(ctx context.Context, id string, lease time.Duration) (*document.Document, error)
	CheckLease(ctx context.Context, lease document.Lease) error
	CommitReady(ctx context.Context, lease document.Lease, chunks []document.Chunk, model string) error
	MarkFailed(ctx context.Context, lease document.Lease, reason string) error
	Release(ctx context.Context, lease document.Lease) error
}

type Blobs interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type Extractor interface {
	Extract(ctx context.Context, blob []byte, mimeType string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type IndexUpdater interface {
	Update(ctx context.Context, tenantID string, fn func(vector.Index) error) error
}

type FailureRecorder interface {
	Record(ctx context.Context, j *job.Job)
}

type Options struct {
	Chunker    text.Chunker
	JobTimeout time.Duration
	Lease      time.Duration
	// MaxAttempts bounds how often a job that timed out or hit an
	// infrastructure error is handed back to the queue.
	MaxAttempts   int
	FetchAttempts int
	FetchBackoff  time.Duration
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.JobTimeout <= 0 {
		o.JobTimeout = 5 * time.Minute
	}
	if o.Lease < o.JobTimeout {
		o.Lease = 2 * o.JobTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.FetchAttempts <= 0 {
		o.FetchAttempts = 3
	}
	if o.FetchBackoff <= 0 {
		o.FetchBackoff = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Controller runs ingestion jobs. One call to Process handles one document.
type Controller struct {
	docs      Documents
	blobs     Blobs
	extractor Extractor
	embedder  Embedder
	indexes   IndexUpdater
	failures  FailureRecorder
	opts      Options
	logger    *slog.Logger
}

func NewController(docs Documents, blobs Blobs, extractor Extractor, embedder Embedder, indexes IndexUpdater, failures FailureRecorder, opts Options) (*Controller, error) {
	if err := opts.Chunker.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Controller{
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		embedder:  embedder,
		indexes:   indexes,
		failures:  failures,
		opts:      opts,
		logger:    opts.Logger,
	}, nil
}

// Process claims the document and runs it through fetch, extract, chunk,
// embed and commit.
//
// It returns document.ErrNotClaimable or document.ErrDocumentDeleted when
// there is nothing to do, and any other error when the job should be
// delivered again. Terminal failures are recorded on the document and
// reported as nil.
func (c *Controller) Process(ctx context.Context, documentID string) error {
	ctx = middleware.WithDocumentID(ctx, documentID)

	d, err := c.docs.Claim(ctx, documentID, c.opts.Lease)
	if err != nil {
		return err
	}
	ctx = middleware.WithTenantID(ctx, d.TenantID)
	lease := document.Lease{DocumentID: d.ID, TenantID: d.TenantID, Attempts: d.Attempts}

	start := time.Now()
	c.logger.InfoContext(ctx, "ingestion started", "attempt", d.Attempts, "file_name", d.FileName)

	jobCtx, cancel := context.WithTimeout(ctx, c.opts.JobTimeout)
	chunks, stage, err := c.prepare(jobCtx, d, lease)
	timedOut := errors.Is(jobCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err == nil {
		stage = job.StageCommit
		err = c.commit(ctx, lease, chunks)
	}
	if err == nil {
		c.logger.InfoContext(ctx, "ingestion finished", "chunks", len(chunks), "duration", time.Since(start))
		return nil
	}

	switch {
	case errors.Is(err, document.ErrDocumentDeleted):
		c.logger.InfoContext(ctx, "document deleted during ingestion, aborting", "stage", stage)
		return nil
	case errors.Is(err, document.ErrLeaseLost):
		c.logger.WarnContext(ctx, "ingestion lease lost, aborting", "stage", stage, "error", err)
		return nil
	case ctx.Err() != nil:
		c.release(ctx, lease)
		return ctx.Err()
	case timedOut:
		err = fmt.Errorf("ingestion timed out after %s: %w", c.opts.JobTimeout, err)
		return c.retryOrFail(ctx, d, lease, stage, err)
	case isTerminal(err):
		return c.fail(ctx, lease, stage, err)
	default:
		return c.retryOrFail(ctx, d, lease, stage, err)
	}
}

// prepare produces the chunks and vectors of d. It reports the stage that
// failed.
func (c *Controller) prepare(ctx context.Context, d *document.Document, lease document.Lease) ([]document.Chunk, string, error) {
	data, err := c.fetch(ctx, d.StorageKey)
	if err != nil {
		return nil, job.StageFetch, err
	}

	content, err := c.extractor.Extract(ctx, data, d.MimeType)
	if err != nil {
		return nil, job.StageExtract, err
	}

	pieces := c.opts.Chunker.Split(content)
	c.logger.DebugContext(ctx, "document chunked", "chunks", len(pieces), "chars", len(content))

	// Skip the embedding cost for documents that are already gone.
	if err := c.docs.CheckLease(ctx, lease); err != nil {
		return nil, job.StageChunk, err
	}

	vectors, err := c.embedder.Embed(ctx, pieces)
	if err != nil {
		return nil, job.StageEmbed, err
	}
	if len(vectors) != len(pieces) {
		return nil, job.StageEmbed, embedding.Permanent(fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(pieces)))
	}

	chunks := make([]document.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = document.Chunk{
			ID:         uuid.NewString(),
			Index:      i,
			Content:    p,
			TokenCount: text.WordCount(p),
			Vector:     vectors[i],
		}
	}
	return chunks, "", nil
}

func (c *Controller) fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := embedding.RetryWithBackoff(ctx, c.opts.FetchAttempts, c.opts.FetchBackoff, func(int) error {
		var err error
		data, err = c.blobs.Fetch(ctx, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, blob.ErrBlobNotFound), errors.Is(err, blob.ErrInvalidKey):
			return embedding.Permanent(err)
		case ctx.Err() != nil:
			return err
		default:
			return embedding.Transient(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fetch upload: %w", err)
	}
	return data, nil
}

// commit persists chunks and marks the document ready, then applies the
// vectors to the tenant index, all under the tenant write lock.
func (c *Controller) commit(ctx context.Context, lease document.Lease, chunks []document.Chunk) error {
	entries := make([]vector.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = vector.Entry{ChunkID: ch.ID, DocumentID: lease.DocumentID, Vector: ch.Vector}
	}

	return c.indexes.Update(ctx, lease.TenantID, func(idx vector.Index) error {
		if err := c.docs.CommitReady(ctx, lease, chunks, c.embedder.Model()); err != nil {
			return err
		}
		if _, err := idx.RemoveByDocument(ctx, lease.DocumentID); err != nil {
			return fmt.Errorf("%w: %v", vector.ErrIndexCorruption, err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := idx.Add(ctx, entries...); err != nil {
			return fmt.Errorf("%w: %v", vector.ErrIndexCorruption, err)
		}
		return nil
	})
}

// fail marks the document failed and records the attempt.
func (c *Controller) fail(ctx context.Context, lease document.Lease, stage string, cause error) error {
	reason := cause.Error()
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}

	err := c.indexes.Update(ctx, lease.TenantID, func(idx vector.Index) error {
		if err := c.docs.MarkFailed(ctx, lease, reason); err != nil {
			return err
		}
		if _, err := idx.RemoveByDocument(ctx, lease.DocumentID); err != nil {
			return fmt.Errorf("%w: %v", vector.ErrIndexCorruption, err)
		}
		return nil
	})
	switch {
	case errors.Is(err, document.ErrDocumentDeleted), errors.Is(err, document.ErrLeaseLost):
		c.logger.WarnContext(ctx, "could not mark document failed", "error", err, "cause", cause)
		return nil
	case err != nil:
		return fmt.Errorf("mark failed: %w", err)
	}

	c.logger.ErrorContext(ctx, "ingestion failed", "stage", stage, "attempt", lease.Attempts, "error", cause)
	c.failures.Record(ctx, &job.Job{
		DocumentID: lease.DocumentID,
		TenantID:   lease.TenantID,
		Stage:      stage,
		Error:      reason,
		Attempts:   lease.Attempts,
	})
	return nil
}

// retryOrFail hands the document back to the queue, or fails it once it has
// used up its attempts.
func (c *Controller) retryOrFail(ctx context.Context, d *document.Document, lease document.Lease, stage string, cause error) error {
	if d.Attempts >= c.opts.MaxAttempts {
		return c.fail(ctx, lease, stage, fmt.Errorf("giving up after %d attempts: %w", d.Attempts, cause))
	}
	c.logger.WarnContext(ctx, "ingestion attempt failed, will retry", "stage", stage, "attempt", d.Attempts, "error", cause)
	c.release(ctx, lease)
	return cause
}

func (c *Controller) release(ctx context.Context, lease document.Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.docs.Release(ctx, lease); err != nil {
		c.logger.WarnContext(ctx, "failed to release ingestion lease", "error", err)
	}
}

// isTerminal reports failures that another attempt cannot fix.
func isTerminal(err error) bool {
	var ee *extract.ExtractionError
	switch {
	case errors.Is(err, extract.ErrUnsupportedFormat), errors.As(err, &ee):
		return true
	case embedding.IsPermanent(err), embedding.IsTransient(err):
		// The embedding client has already retried transient errors.
		return true
	case errors.Is(err, vector.ErrDimensionMismatch):
		return true
	default:
		return false
	}
}
