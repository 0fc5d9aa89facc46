package hwi

import (
	"github.com/tphakala/camhal/internal/errors"
)

// Event tags an API call or an internal notification processed by the engine
type Event int

// API events. Each may have at most one outstanding call.
const (
	EventSetParams Event = iota + 1
	EventGetParams
	EventStartPreview
	EventStopPreview
	EventTakePicture
	EventCancelPicture
	EventStartRecording
	EventStopRecording
	EventRelease

	// Internal events posted by pipelines. They produce no correlated result.
	EventSnapshotDone
	EventHardwareError
)

// String returns the event name used in logs and metrics
func (e Event) String() string {
	switch e {
	case EventSetParams:
		return "set-params"
	case EventGetParams:
		return "get-params"
	case EventStartPreview:
		return "start-preview"
	case EventStopPreview:
		return "stop-preview"
	case EventTakePicture:
		return "take-picture"
	case EventCancelPicture:
		return "cancel-picture"
	case EventStartRecording:
		return "start-recording"
	case EventStopRecording:
		return "stop-recording"
	case EventRelease:
		return "release"
	case EventSnapshotDone:
		return "snapshot-done"
	case EventHardwareError:
		return "hardware-error"
	default:
		return "unknown"
	}
}

// IsAPI reports whether e is a caller-facing event with a correlated result
func (e Event) IsAPI() bool {
	return e >= EventSetParams && e <= EventRelease
}

// Result is the outcome of one API call
type Result struct {
	Tag    Event
	Status errors.Code
	Value  any
	Err    error

	ticket uint64
}

// OK reports whether the call succeeded
func (r Result) OK() bool {
	return r.Status == errors.CodeOK
}

// okResult builds a successful result
func okResult(tag Event, value any) Result {
	return Result{Tag: tag, Status: errors.CodeOK, Value: value}
}

// errResult builds a failed result whose status is the code carried by err
func errResult(tag Event, err error) Result {
	return Result{Tag: tag, Status: errors.CodeOf(err), Err: err}
}
