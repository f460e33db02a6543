package engine

import "errors"

// Sentinel errors for the engine. HTTP handlers map these onto status codes;
// callers use errors.Is to classify.
var (
	// ErrInvalidInput indicates a malformed or unusable request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound indicates the referenced memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrProvider indicates the embedding or language model provider failed.
	// Retryable from the caller's point of view.
	ErrProvider = errors.New("provider unavailable")

	// ErrRateLimited indicates the caller exhausted its request window.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrStorage indicates the persistence layer failed.
	ErrStorage = errors.New("storage failure")

	// ErrDimensionMismatch indicates two vectors of different lengths were
	// compared. Only possible when the embedding model changes mid-corpus.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
