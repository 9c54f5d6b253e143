package worker_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/internal/blob"
	"github.com/DAJ8112/Yanck/internal/config"
	"github.com/DAJ8112/Yanck/internal/testutils"
	"github.com/DAJ8112/Yanck/internal/worker"
)

func TestTopicRouting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()

	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := document.NewService(document.NewPostgresRepo(s.DB), blobs, s.NSQ, nil)

	processed := make(chan string, 1)
	p := new(MockProcessor)
	p.On("Process", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		processed <- args.String(1)
	}).Return(nil)

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, "test-ch", nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(worker.NewIngestConsumer(p, time.Second, nil))
	require.NoError(t, consumer.ConnectToNSQD(s.NSQAddr))
	defer consumer.Stop()

	d, err := svc.Upload(ctx, s.NewTenant(), "notes.txt", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)

	select {
	case id := <-processed:
		require.Equal(t, d.ID, id)
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for ingest task")
	}
}
