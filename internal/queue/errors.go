package queue

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a job failure for retry decisions.
type ErrorKind string

const (
	KindTransient         ErrorKind = "transient"
	KindPermanent         ErrorKind = "permanent"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindCancelled         ErrorKind = "cancelled"
)

var (
	// ErrCapacity is returned by Admit when the queue depth bound is reached.
	ErrCapacity = errors.New("job queue at capacity")
	// ErrDeadlineExceeded is wrapped in the transient error produced by the timeout guard.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	// ErrCancelled is wrapped in the error recorded on cancelled jobs.
	ErrCancelled = errors.New("job cancelled")
	// ErrUnknownJob is returned when a job id was never admitted to this queue.
	ErrUnknownJob = errors.New("unknown job")
	// ErrClosed is returned by Admit after Close.
	ErrClosed = errors.New("job queue closed")
)

// JobError attaches an ErrorKind to an underlying error.
type JobError struct {
	Kind ErrorKind
	Err  error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Transient marks err as retryable (network, timeout, rate limit).
func Transient(err error) error { return &JobError{Kind: KindTransient, Err: err} }

// Permanent marks err as never retryable (validation, malformed input).
func Permanent(err error) error { return &JobError{Kind: KindPermanent, Err: err} }

// Exhausted marks err as a quota or capacity failure: retried with a longer backoff.
func Exhausted(err error) error { return &JobError{Kind: KindResourceExhausted, Err: err} }

// Cancellation marks err as produced by explicit cancellation.
func Cancellation(err error) error { return &JobError{Kind: KindCancelled, Err: err} }

// KindOf classifies err. Unclassified errors are treated as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrDeadlineExceeded):
		return KindTransient
	}
	return KindTransient
}
