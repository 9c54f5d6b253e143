package config

const (
	// TopicIngestDocument carries document ids that need (re)processing.
	TopicIngestDocument = "ingest.document"

	// ChannelIngestWorker is the consumer channel shared by all ingestion workers.
	ChannelIngestWorker = "ingest-worker"
)
