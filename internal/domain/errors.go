package domain

import "errors"

var (
	// ErrRecordNotFound signals a missing record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDimensionMismatch signals an embedding dimensionality disagreement
	// with the index configuration; the offending write is rejected.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidFilterKey signals a filter referencing an unknown metadata key.
	ErrInvalidFilterKey = errors.New("invalid filter key")
	// ErrInvalidRecord signals a record that fails structural validation.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmbeddingTimeout signals that the embedding provider exceeded its deadline.
	ErrEmbeddingTimeout = errors.New("embedding timeout")
	// ErrEmbeddingUnavailable signals an embedding provider failure.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrDiscoveryNotReady signals that no discovery artifacts have been published yet.
	ErrDiscoveryNotReady = errors.New("discovery artifacts not ready")

	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)
