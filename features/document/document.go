package document

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotClaimable      = errors.New("document is not claimable")
	ErrDocumentDeleted   = errors.New("document was deleted")
	ErrLeaseLost         = errors.New("ingestion lease lost")
	ErrInvalidInput      = errors.New("invalid input")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

var AllStatuses = []Status{StatusPending, StatusProcessing, StatusReady, StatusFailed}

// Processing may go back to pending when a timed out job is released, and to
// processing again when an expired lease is reclaimed.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReady, StatusFailed, StatusPending, StatusProcessing},
	StatusReady:      {StatusPending},
	StatusFailed:     {StatusPending},
}

func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// Terminal reports whether ingestion has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, v)
	}
	return s, nil
}

type Document struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	StorageKey string    `json:"-"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Lease identifies one claim of a document. Attempts is the fencing token:
// a later claim increments it and invalidates this lease.
type Lease struct {
	DocumentID string
	TenantID   string
	Attempts   int
}

// Chunk is a chunk together with its embedding, ready to be committed.
type Chunk struct {
	ID         string
	Index      int
	Content    string
	TokenCount int
	Vector     []float32
}

// ContextPassage is a chunk resolved for retrieval.
type ContextPassage struct {
	ChunkID      string
	DocumentID   string
	DocumentName string
	ChunkIndex   int
	Content      string
}
