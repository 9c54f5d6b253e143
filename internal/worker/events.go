package worker

// IngestPayload is the body of a message on the ingest.document topic.
// It carries identifiers only; the document row is authoritative.
type IngestPayload struct {
	DocumentID    string `json:"document_id"`
	TenantID      string `json:"tenant_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
