package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/DAJ8112/Yanck/features/document"
)

const defaultListLimit = 100

// Resubmitter sends a document through ingestion again.
type Resubmitter interface {
	Resubmit(ctx context.Context, id string) (*document.Document, error)
}

type Service struct {
	repo      Repository
	documents Resubmitter
}

func NewService(repo Repository, documents Resubmitter) *Service {
	return &Service{repo: repo, documents: documents}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx, defaultListLimit)
}

// Record stores a failed attempt. Errors are logged and swallowed; the
// document row already carries the failure.
func (s *Service) Record(ctx context.Context, job *Job) {
	if err := s.repo.Save(ctx, job); err != nil {
		slog.ErrorContext(ctx, "failed to record failed job", "error", err, "document_id", job.DocumentID, "stage", job.Stage)
	}
}

// Retry resubmits the job's document and clears its failure history.
func (s *Service) Retry(ctx context.Context, id string) (*document.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d, err := s.documents.Resubmit(ctx, j.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("resubmit document %s: %w", j.DocumentID, err)
	}

	if err := s.repo.DeleteByDocument(ctx, j.DocumentID); err != nil {
		slog.WarnContext(ctx, "failed to clear job history", "error", err, "document_id", j.DocumentID)
	}
	return d, nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
