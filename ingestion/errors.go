package ingestion

import "errors"

var (
	// ErrSourceRequired is returned when a chat-log source is not provided.
	ErrSourceRequired = errors.New("chat log source required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrVectorStoreRequired is returned when a vector store is not provided.
	ErrVectorStoreRequired = errors.New("vector store required")

	// ErrCheckpointRepositoryRequired is returned when a checkpoint repository is not provided.
	ErrCheckpointRepositoryRequired = errors.New("checkpoint repository required")

	// ErrSyncInProgress is returned when a run is requested for a talker
	// that already has one in flight.
	ErrSyncInProgress = errors.New("sync already in progress for talker")

	// ErrCheckpointUnavailable is returned when the checkpoint store fails
	// during a run. The run is aborted.
	ErrCheckpointUnavailable = errors.New("checkpoint store unavailable")

	// ErrInitialSyncRequired is returned by incremental sync for a talker
	// that has never completed a full sync.
	ErrInitialSyncRequired = errors.New("initial sync required")

	// ErrInvalidMaxAttempts is returned when retry is configured with
	// fewer than one attempt.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
