// Package provider implements the classifier backends signal sources call:
// an HTTP inference client, an OpenAI-compatible chat backend, an AWS
// Bedrock backend, and a deterministic mock for tests.
package provider

import (
	"errors"
	"fmt"

	"github.com/vigil-ai/sentinel/signal"
)

// Backend is re-exported so callers can depend on provider alone.
type Backend = signal.Backend

// LabelScore mirrors signal.LabelScore.
type LabelScore = signal.LabelScore

// BackendError carries the backend identity and a coarse error code
// (transport, decode, config, unavailable, or status_<http code>).
type BackendError struct {
	Backend  string
	Code     string
	Message  string
	Original error
}

func (e *BackendError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s backend error [%s]: %s: %v", e.Backend, e.Code, e.Message, e.Original)
	}
	return fmt.Sprintf("%s backend error [%s]: %s", e.Backend, e.Code, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Original }

// NewBackendError creates a BackendError.
func NewBackendError(backend, code, message string, original error) *BackendError {
	return &BackendError{Backend: backend, Code: code, Message: message, Original: original}
}

// ErrEmptyResponse is returned when a backend produces no candidate labels.
var ErrEmptyResponse = errors.New("backend returned no labels")
