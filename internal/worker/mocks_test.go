package worker_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/internal/middleware"
)

type MockProcessor struct {
	mock.Mock
	delay time.Duration
}

func (m *MockProcessor) Process(ctx context.Context, documentID string) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

// correlatedCtx matches contexts carrying the given correlation id.
func correlatedCtx(id string) interface{} {
	return mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) == id
	})
}

type touchCounter struct {
	touches atomic.Int32
}

func (d *touchCounter) OnFinish(*nsq.Message)                      {}
func (d *touchCounter) OnRequeue(*nsq.Message, time.Duration, bool) {}
func (d *touchCounter) OnTouch(*nsq.Message)                       { d.touches.Add(1) }
