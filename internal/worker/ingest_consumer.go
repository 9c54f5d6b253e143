package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/middleware"
)

// IngestConsumer feeds ingest.document messages to the ingestion controller.
//
// Returning an error requeues the message. Jobs that reached a terminal
// state, and messages for documents that are gone or already claimed, are
// acknowledged.
type IngestConsumer struct {
	processor     Processor
	touchInterval time.Duration
	logger        *slog.Logger
}

func NewIngestConsumer(p Processor, touchInterval time.Duration, logger *slog.Logger) *IngestConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestConsumer{
		processor:     p,
		touchInterval: touchInterval,
		logger:        logger.With("component", "ingest-consumer"),
	}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		h.logger.Error("poison pill: invalid json", "error", err)
		return nil
	}
	if payload.DocumentID == "" {
		h.logger.Error("poison pill: missing document_id")
		return nil
	}

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)
	ctx = middleware.WithDocumentID(ctx, payload.DocumentID)
	if payload.TenantID != "" {
		ctx = middleware.WithTenantID(ctx, payload.TenantID)
	}

	stop := h.keepAlive(m)
	err := h.processor.Process(ctx, payload.DocumentID)
	stop()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, document.ErrNotClaimable):
		h.logger.DebugContext(ctx, "document not claimable, dropping message", "reason", err)
		return nil
	case errors.Is(err, document.ErrDocumentDeleted):
		h.logger.InfoContext(ctx, "document deleted before ingestion, dropping message")
		return nil
	default:
		h.logger.WarnContext(ctx, "ingestion will be retried", "error", err, "attempts", m.Attempts)
		return err
	}
}

// keepAlive touches the message while a job runs so nsqd does not time it
// out and hand it to another worker.
func (h *IngestConsumer) keepAlive(m *nsq.Message) func() {
	if m.Delegate == nil || h.touchInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.touchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.Touch()
			}
		}
	}()
	return func() { close(done) }
}
