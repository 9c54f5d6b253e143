package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/DAJ8112/Yanck/internal/blob"
	"github.com/DAJ8112/Yanck/internal/config"
	"github.com/DAJ8112/Yanck/internal/middleware"
	"github.com/DAJ8112/Yanck/internal/vector"
)

type Repository interface {
	Create(ctx context.Context, d *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Document, error)
	Resubmit(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) (*Document, error)
}

type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) (blob.Object, error)
	Delete(ctx context.Context, key string) error
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// IndexUpdater runs fn under the tenant's exclusive index lock.
type IndexUpdater interface {
	Update(ctx context.Context, tenantID string, fn func(vector.Index) error) error
}

type Service struct {
	repo    Repository
	blobs   BlobStore
	pub     EventPublisher
	indexes IndexUpdater
}

func NewService(repo Repository, blobs BlobStore, pub EventPublisher, indexes IndexUpdater) *Service {
	return &Service{repo: repo, blobs: blobs, pub: pub, indexes: indexes}
}

// Upload stores the file, records a pending document and queues it for
// ingestion. A failed publish is logged; the sweeper republishes it later.
func (s *Service) Upload(ctx context.Context, tenantID, fileName, mimeType string, r io.Reader) (*Document, error) {
	if err := ValidateID(tenantID); err != nil {
		return nil, err
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidInput)
	}

	obj, err := s.blobs.Put(ctx, fileName, r)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	d := &Document{
		TenantID:   tenantID,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  obj.Size,
		Checksum:   obj.Checksum,
		StorageKey: obj.Key,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if derr := s.blobs.Delete(ctx, obj.Key); derr != nil {
			slog.WarnContext(ctx, "failed to clean up upload", "error", derr, "key", obj.Key)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.Enqueue(ctx, d); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingestion event", "error", err, "document_id", d.ID)
	}
	return d, nil
}

// Enqueue publishes an ingestion message for d.
func (s *Service) Enqueue(ctx context.Context, d *Document) error {
	payload, err := json.Marshal(map[string]interface{}{
		"document_id":    d.ID,
		"tenant_id":      d.TenantID,
		"correlation_id": middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := s.pub.Publish(config.TopicIngestDocument, payload); err != nil {
		return err
	}
	slog.InfoContext(ctx, "published ingestion event", "document_id", d.ID, "tenant_id", d.TenantID)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	if err := ValidateID(id); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]Document, error) {
	if err := ValidateID(tenantID); err != nil {
		return nil, err
	}
	return s.repo.ListByTenant(ctx, tenantID)
}

// Resubmit sends a ready or failed document through ingestion again. Its
// chunks and vectors are removed before it is queued.
func (s *Service) Resubmit(ctx context.Context, id string) (*Document, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot resubmit a %s document", ErrInvalidTransition, current.Status)
	}

	var d *Document
	err = s.indexes.Update(ctx, current.TenantID, func(idx vector.Index) error {
		var err error
		if d, err = s.repo.Resubmit(ctx, id); err != nil {
			return err
		}
		return removeVectors(ctx, idx, id)
	})
	if err != nil {
		return nil, err
	}

	if err := s.Enqueue(ctx, d); err != nil {
		slog.ErrorContext(ctx, "failed to publish ingestion event", "error", err, "document_id", d.ID)
	}
	return d, nil
}

// Delete removes the document, its chunks, its vectors and its blob.
func (s *Service) Delete(ctx context.Context, id string) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	var d *Document
	err = s.indexes.Update(ctx, current.TenantID, func(idx vector.Index) error {
		var err error
		if d, err = s.repo.Delete(ctx, id); err != nil {
			return err
		}
		return removeVectors(ctx, idx, id)
	})
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, d.StorageKey); err != nil {
		slog.WarnContext(ctx, "failed to delete document blob", "error", err, "document_id", id)
	}
	return nil
}

// removeVectors runs after the SQL change is committed, so a failure here
// leaves the index behind the store and forces a rebuild.
func removeVectors(ctx context.Context, idx vector.Index, documentID string) error {
	if _, err := idx.RemoveByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("%w: remove vectors of %s: %v", vector.ErrIndexCorruption, documentID, err)
	}
	return nil
}

// ValidateID checks that id is a UUID.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q is not a valid id", ErrInvalidInput, id)
	}
	return nil
}
