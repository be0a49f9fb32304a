package model

import "errors"

// Error kinds produced by the engine. Handlers map these onto HTTP statuses;
// everything else surfaces as an opaque internal error.
var (
	// ErrInvalidContext marks a context field outside its declared range or a
	// malformed timestamp. Surfaced to the caller as 400.
	ErrInvalidContext = errors.New("invalid context")

	// ErrInvalidFeedback marks a feedback message failing validation. 400.
	ErrInvalidFeedback = errors.New("invalid feedback")

	// ErrUnknownIntent marks a user correction that names no corpus intent.
	// Not surfaced as an HTTP error: the feedback is still counted and the
	// action downgrades to logged_without_memory.
	ErrUnknownIntent = errors.New("unknown intent")

	// ErrCorpus marks a malformed corpus at startup. Fatal.
	ErrCorpus = errors.New("corpus error")

	// ErrMemoryModelMismatch marks persisted embeddings produced by a
	// different embedding model than the one configured. Fatal or cleared,
	// per config — never silently used.
	ErrMemoryModelMismatch = errors.New("memory model mismatch")
)
