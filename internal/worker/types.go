package worker

import (
	"context"
)

// Processor runs one ingestion job for a document.
type Processor interface {
	Process(ctx context.Context, documentID string) error
}
