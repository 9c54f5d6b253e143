package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/ingest"
)

func TestSweeper_Sweep(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(d *MockStaleDocuments, q *MockEnqueuer, v *MockVerifier)
		wantErr bool
	}{
		{
			name: "RequeuesAndTouchesPendingOnly",
			setup: func(d *MockStaleDocuments, q *MockEnqueuer, v *MockVerifier) {
				d.On("ListStale", mock.Anything, 5*time.Minute, 100).Return([]document.Document{
					{ID: "p1", Status: document.StatusPending},
					{ID: "x1", Status: document.StatusProcessing},
				}, nil)
				q.On("Enqueue", mock.Anything, "p1").Return(nil)
				q.On("Enqueue", mock.Anything, "x1").Return(nil)
				d.On("TouchPending", mock.Anything, []string{"p1"}).Return(nil)
				v.On("Resident").Return([]string{})
			},
		},
		{
			name: "StopsPublishingWhenQueueIsDown",
			setup: func(d *MockStaleDocuments, q *MockEnqueuer, v *MockVerifier) {
				d.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return([]document.Document{
					{ID: "p1", Status: document.StatusPending},
					{ID: "p2", Status: document.StatusPending},
				}, nil)
				q.On("Enqueue", mock.Anything, "p1").Return(errors.New("nsqd down"))
				d.On("TouchPending", mock.Anything, []string(nil)).Return(nil)
				v.On("Resident").Return([]string{})
			},
			wantErr: true,
		},
		{
			name: "VerifiesResidentTenants",
			setup: func(d *MockStaleDocuments, q *MockEnqueuer, v *MockVerifier) {
				d.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
				d.On("TouchPending", mock.Anything, []string(nil)).Return(nil)
				v.On("Resident").Return([]string{"t1", "t2"})
				v.On("Verify", mock.Anything, "t1").Return(false, nil)
				v.On("Verify", mock.Anything, "t2").Return(true, nil)
			},
		},
		{
			name: "VerifyErrorsAreReported",
			setup: func(d *MockStaleDocuments, q *MockEnqueuer, v *MockVerifier) {
				d.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("db down"))
				d.On("TouchPending", mock.Anything, []string(nil)).Return(nil)
				v.On("Resident").Return([]string{"t1"})
				v.On("Verify", mock.Anything, "t1").Return(false, errors.New("rebuild failed"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, queue, verifier := new(MockStaleDocuments), new(MockEnqueuer), new(MockVerifier)
			tt.setup(docs, queue, verifier)

			s := ingest.NewSweeper(docs, queue, verifier, ingest.SweeperOptions{})
			err := s.Sweep(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			docs.AssertExpectations(t)
			queue.AssertExpectations(t)
			verifier.AssertExpectations(t)
		})
	}
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	docs, queue, verifier := new(MockStaleDocuments), new(MockEnqueuer), new(MockVerifier)
	docs.On("ListStale", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	docs.On("TouchPending", mock.Anything, mock.Anything).Return(nil)
	verifier.On("Resident").Return([]string{})

	s := ingest.NewSweeper(docs, queue, verifier, ingest.SweeperOptions{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	docs.AssertCalled(t, "ListStale", mock.Anything, mock.Anything, mock.Anything)
}
