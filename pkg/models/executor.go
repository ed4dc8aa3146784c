// Package models contains shared data models used across the CopyForge codebase.
package models

import "context"

// Executor produces content for one job spec. Implementations classify
// failures with the queue error taxonomy; the scheduler treats anything
// unclassified as transient.
type Executor interface {
	Execute(ctx context.Context, spec JobSpec) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, spec JobSpec) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, spec JobSpec) (Result, error) {
	return f(ctx, spec)
}

// ProgressReporter receives job and batch lifecycle events. Calls are
// best-effort: the core never waits on them to decide a job outcome.
type ProgressReporter interface {
	OnStarted(job Job)
	OnCompleted(job Job, result Result)
	OnFailed(job Job, err error)
	OnCheckpoint(stats CheckpointStats)
}

// NopReporter discards every event.
type NopReporter struct{}

func (NopReporter) OnStarted(Job)                {}
func (NopReporter) OnCompleted(Job, Result)      {}
func (NopReporter) OnFailed(Job, error)          {}
func (NopReporter) OnCheckpoint(CheckpointStats) {}
