package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoExtractableText = errors.New("no extractable text")
	ErrEncryptedDocument = errors.New("document is encrypted")
	ErrTooManyPages      = errors.New("document has too many pages")
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrModelMismatch means an index and an embedder disagree on model
	// identity or dimension. It is a configuration error, never degraded.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrBuildInProgress is returned when an index build is requested while
	// another one is still running.
	ErrBuildInProgress = errors.New("index build already in progress")
)

// IngestionError reports a document that could not be turned into segments.
type IngestionError struct {
	Path string
	Err  error
}

func (e *IngestionError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ingest %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("ingest: %v", e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// EmbeddingError reports a failure of the embedding model.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexBuildError reports a failed index build. Nothing was committed.
type IndexBuildError struct {
	Op  string
	Err error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("index build: %s: %v", e.Op, e.Err)
}

func (e *IndexBuildError) Unwrap() error { return e.Err }

// BuildTimeoutError reports a build that exceeded its deadline. Partial state
// has been removed by the time it is returned.
type BuildTimeoutError struct {
	Timeout  time.Duration
	Segments int
}

func (e *BuildTimeoutError) Error() string {
	return fmt.Sprintf("index build of %d segments exceeded %s", e.Segments, e.Timeout)
}

func (e *BuildTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// IndexCorruptError reports a persisted index that exists but cannot be read.
type IndexCorruptError struct {
	Path string
	Err  error
}

func (e *IndexCorruptError) Error() string {
	return fmt.Sprintf("index %s is corrupt: %v", e.Path, e.Err)
}

func (e *IndexCorruptError) Unwrap() error { return e.Err }

// RetrievalError reports a failed search. Callers degrade to no context.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string { return fmt.Sprintf("retrieval: %v", e.Err) }

func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError reports a failed call to the answer generator on the
// given path.
type GenerationError struct {
	Provenance Provenance
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s answer: %v", e.Provenance, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// UserMessage maps an error to a short sentence suitable for end users.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		timeout *BuildTimeoutError
		corrupt *IndexCorruptError
		gen     *GenerationError
		emb     *EmbeddingError
	)
	switch {
	case errors.Is(err, ErrEncryptedDocument):
		return "The document is encrypted or password protected. Remove the protection and try again."
	case errors.Is(err, ErrTooManyPages):
		return "The document has too many pages. Try a shorter document or fewer pages."
	case errors.Is(err, ErrNoExtractableText):
		return "No text found in the document. It might be image-based; try a text version."
	case errors.Is(err, ErrUnsupportedFormat):
		return "This document format is not supported. Convert it to plain text first."
	case errors.Is(err, ErrBuildInProgress):
		return "A document is still being processed. Wait for it to finish and try again."
	case errors.As(err, &timeout):
		return fmt.Sprintf("Processing took longer than %s. Try a document with fewer pages.", timeout.Timeout)
	case errors.Is(err, ErrModelMismatch):
		return "The saved index was built with a different embedding model. Ingest the document again."
	case errors.As(err, &corrupt):
		return "The saved index is unreadable. Clear it and ingest the document again."
	case errors.As(err, &emb):
		return "The embedding model is unavailable. Check the embedder configuration and try again."
	case errors.As(err, &gen):
		return "Error generating response. Check the generator configuration and try again."
	}
	return "Something went wrong. See the log for details."
}
