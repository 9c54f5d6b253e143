package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/middleware"
	"github.com/DAJ8112/Yanck/internal/worker"
)

const docID = "00000000-0000-4000-8000-0000000000d1"

func message(t *testing.T, payload worker.IngestPayload) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	assert.NoError(t, err)
	return &nsq.Message{Body: body}
}

func TestIngestConsumer_HandleMessage(t *testing.T) {
	infra := errors.New("connection refused")

	tests := []struct {
		name       string
		processErr error
		wantErr    error
	}{
		{"processed", nil, nil},
		{"not claimable is acked", fmt.Errorf("%w: status is ready", document.ErrNotClaimable), nil},
		{"deleted is acked", document.ErrDocumentDeleted, nil},
		{"infrastructure error requeues", infra, infra},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProcessor)
			p.On("Process", correlatedCtx("corr-1"), docID).Return(tt.processErr)

			c := worker.NewIngestConsumer(p, 0, nil)
			err := c.HandleMessage(message(t, worker.IngestPayload{
				DocumentID:    docID,
				TenantID:      "tenant-1",
				CorrelationID: "corr-1",
			}))

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			p.AssertExpectations(t)
		})
	}
}

func TestIngestConsumer_PoisonPill(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty body", nil},
		{"invalid json", []byte("invalid json")},
		{"missing document id", []byte(`{"tenant_id":"tenant-1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProcessor)
			c := worker.NewIngestConsumer(p, 0, nil)

			err := c.HandleMessage(&nsq.Message{Body: tt.body})
			assert.NoError(t, err)
			p.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestConsumer_GeneratesCorrelationID(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) != ""
	}), docID).Return(nil)

	c := worker.NewIngestConsumer(p, 0, nil)
	assert.NoError(t, c.HandleMessage(message(t, worker.IngestPayload{DocumentID: docID})))
	p.AssertExpectations(t)
}

func TestIngestConsumer_TouchesLongJobs(t *testing.T) {
	p := &MockProcessor{delay: 60 * time.Millisecond}
	p.On("Process", mock.Anything, docID).Return(nil)

	delegate := &touchCounter{}
	msg := message(t, worker.IngestPayload{DocumentID: docID})
	msg.Delegate = delegate

	c := worker.NewIngestConsumer(p, 10*time.Millisecond, nil)
	assert.NoError(t, c.HandleMessage(msg))

	assert.GreaterOrEqual(t, delegate.touches.Load(), int32(2))
}
