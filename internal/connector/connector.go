// Package connector defines the capability interface the orchestrator
// uses to reach the upstream service, and an HTTP GitHub client
// implementing it. The orchestrator depends only on the interface.
package connector

import (
	"context"
	"errors"
)

// Result is the structured payload an operation returns on success.
type Result map[string]any

// Connector is the capability contract for the upstream issue tracker.
// Every operation either returns a structured result or fails; hard
// failures carry the upstream rejection, transient ones are retried
// inside the implementation.
type Connector interface {
	ListIssues(ctx context.Context, resource, state string) (Result, error)
	SetLabels(ctx context.Context, resource string, issueNumber int, labels []string) (Result, error)
	CreateComment(ctx context.Context, resource string, issueNumber int, body string) (Result, error)
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func makeRetryable(err error) error {
	if err == nil {
		return nil
	}
	return retryableError{err: err}
}

// IsRetryable reports whether an operation failure was classified as
// transient (and therefore already retried before surfacing).
func IsRetryable(err error) bool {
	var target retryableError
	return errors.As(err, &target)
}
