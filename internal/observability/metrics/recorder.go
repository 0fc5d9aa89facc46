// Package metrics provides custom Prometheus metrics for the camhal control layer.
package metrics

import "time"

// GateRecorder records API calls passing through the gate.
type GateRecorder interface {
	// RecordCall records one processed API call. The status is the result code
	// name (e.g. "ok", "rejected", "no-memory").
	RecordCall(event, status string, duration time.Duration)
	// RecordState records the session state after a transition.
	RecordState(state string)
}

// JobRecorder records deferred job activity.
type JobRecorder interface {
	// RecordJob records a job outcome. The status is one of StatusSuccess,
	// StatusError or StatusRejected.
	RecordJob(command, status string)
	// SetQueueDepth reports the number of jobs tracked by the scheduler.
	SetQueueDepth(depth int)
}

// FrameRecorder records muxer frame outcomes.
type FrameRecorder interface {
	// RecordFrame records the outcome for one frame or pair.
	RecordFrame(outcome string)
	// SetPending reports the number of unmatched artifacts held for a role.
	SetPending(role string, count int)
}

// NoOpRecorder satisfies every recorder interface and discards everything.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordCall(string, string, time.Duration) {}
func (NoOpRecorder) RecordState(string)                        {}
func (NoOpRecorder) RecordJob(string, string)                  {}
func (NoOpRecorder) SetQueueDepth(int)                         {}
func (NoOpRecorder) RecordFrame(string)                        {}
func (NoOpRecorder) SetPending(string, int)                    {}
func (NoOpRecorder) RecordNotification(string, string)         {}

var (
	_ GateRecorder  = NoOpRecorder{}
	_ JobRecorder   = NoOpRecorder{}
	_ FrameRecorder = NoOpRecorder{}
)
