package job

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("job not found")

// Stages at which an ingestion attempt can fail.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StageCommit  = "commit"
)

// Job records one failed ingestion attempt of a document.
type Job struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"created_at"`
}
