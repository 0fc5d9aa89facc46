// Package jobqueue provides a single worker deferred job scheduler. Jobs run in
// strict FIFO order; a job may block on an earlier job through Wait, and a failed
// job stays in the table so every later waiter observes its failure.
package jobqueue

import (
	"fmt"

	"github.com/tphakala/camhal/internal/errors"
)

// JobID identifies a deferred job. NoJob is never assigned to a real job.
type JobID uint32

// NoJob is the id meaning "nothing to wait on".
const NoJob JobID = 0

// DefaultCapacity is the size of the ongoing job table.
const DefaultCapacity = 25

// Common errors that can be returned by scheduler operations
var (
	ErrQueueFull = errors.Newf("job table is full").
		Component("jobqueue").
		Category(errors.CategoryLimit).
		Code(errors.CodeBusy).
		Build()
	ErrQueueStopped = errors.Newf("job scheduler has been stopped").
		Component("jobqueue").
		Category(errors.CategoryRejected).
		Code(errors.CodeRejected).
		Build()
)

// JobStatus represents the current status of a job in the table
type JobStatus int

const (
	// JobStatusPending indicates the job is waiting in the FIFO
	JobStatusPending JobStatus = iota
	// JobStatusRunning indicates the worker is executing the job
	JobStatusRunning
	// JobStatusCompleted indicates the job finished successfully
	JobStatusCompleted
	// JobStatusFailed indicates the job failed; the failure is retained until cleared
	JobStatusFailed
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Named is implemented by commands that report a stable name for logs and metrics
type Named interface {
	CommandName() string
}

func commandName(cmd any) string {
	if n, ok := cmd.(Named); ok {
		return n.CommandName()
	}
	return fmt.Sprintf("%T", cmd)
}

// DependencyError is returned by Wait when the awaited job failed. It unwraps to
// the failed job's own error so the root status code stays visible.
type DependencyError struct {
	JobID JobID
	Err   error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency job %d failed: %v", e.JobID, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Code returns the status code of the root failure
func (e *DependencyError) Code() errors.Code {
	return errors.CodeOf(e.Err)
}

// IsDependencyError reports whether err is a propagated dependency failure
func IsDependencyError(err error) bool {
	var dep *DependencyError
	return errors.As(err, &dep)
}

// Stats is a point-in-time snapshot of scheduler counters
type Stats struct {
	Enqueued  uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64

	Tracked  int // jobs currently in the table, including retained failures
	Queued   int // jobs waiting in the FIFO
	Capacity int
}
