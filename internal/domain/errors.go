package domain

import "errors"

var (
	// ErrInvalidParameters indicates a bad chunking configuration. Never retried.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrEmbeddingUnavailable indicates the embedding model could not be reached
	// or loaded. Retried with backoff at query time, fatal during ingestion.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexCorrupted indicates a missing or unreadable vector store.
	// The corpus must be rebuilt.
	ErrIndexCorrupted = errors.New("index corrupted")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrModelMismatch indicates an embedder whose model differs from the one
	// the index was built with.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrToolExecutionFailed marks a tool failure. It is reported to the model
	// as a tool result, it does not abort the turn.
	ErrToolExecutionFailed = errors.New("tool execution failed")

	// ErrTurnCancelled indicates a turn aborted by its caller.
	ErrTurnCancelled = errors.New("turn cancelled")

	// ErrIterationLimit indicates a turn that kept requesting tools past the
	// configured iteration budget.
	ErrIterationLimit = errors.New("iteration limit reached")
)
