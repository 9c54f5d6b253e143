package job_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAJ8112/Yanck/features/document"
	"github.com/DAJ8112/Yanck/features/job"
	"github.com/DAJ8112/Yanck/internal/testutils"
)

func TestJobRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	jobRepo := job.NewPostgresRepo(s.DB)
	docRepo := document.NewPostgresRepo(s.DB)
	ctx := context.Background()

	d := &document.Document{TenantID: s.NewTenant(), FileName: "broken.pdf", StorageKey: "k"}
	require.NoError(t, docRepo.Create(ctx, d))

	j1 := &job.Job{DocumentID: d.ID, TenantID: d.TenantID, Stage: job.StageExtract, Error: "error 1", Attempts: 1}
	require.NoError(t, jobRepo.Save(ctx, j1))

	time.Sleep(50 * time.Millisecond)

	j2 := &job.Job{DocumentID: d.ID, TenantID: d.TenantID, Stage: job.StageEmbed, Error: "error 2", Attempts: 2}
	require.NoError(t, jobRepo.Save(ctx, j2))

	jobs, err := jobRepo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, j2.ID, jobs[0].ID, "newest job first")

	_, err = docRepo.Delete(ctx, d.ID)
	require.NoError(t, err)

	count, err := jobRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "jobs are removed with their document")
}
