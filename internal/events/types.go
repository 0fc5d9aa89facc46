// Package events provides the notification side channel of the control layer.
// Failures detected by the job scheduler, the frame synchronizer and the session
// engine are reported here instead of travelling with success-path results. Publishing
// never blocks the reporter; consumers run on the bus workers.
package events

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tphakala/camhal/internal/errors"
)

// Kind identifies what a notification reports
type Kind string

const (
	// KindJobFailed is raised once by the deferred job that first detects a failure
	KindJobFailed Kind = "job-failed"
	// KindCompositionFailed is raised when a paired frame could not be merged
	KindCompositionFailed Kind = "composition-failed"
	// KindFrameDropped is raised when an unmatched frame is released without composing
	KindFrameDropped Kind = "frame-dropped"
	// KindHardwareError is raised for asynchronous device errors reported by pipelines
	KindHardwareError Kind = "hardware-error"
	// KindSessionState is informational: a session changed state
	KindSessionState Kind = "session-state"
)

// Notification is one fire-and-forget report
type Notification struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Code      errors.Code    `json:"code"`
	Component string         `json:"component"`
	Message   string         `json:"message,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewNotification creates a notification with a fresh id and timestamp.
// The message is taken from err when it is non-nil.
func NewNotification(kind Kind, code errors.Code, component string, err error) Notification {
	n := Notification{
		ID:        NewID(),
		Kind:      kind,
		Code:      code,
		Component: component,
		Timestamp: time.Now(),
	}
	if err != nil {
		n.Message = err.Error()
	}
	return n
}

// WithContext returns a copy of the notification with an extra context value
func (n Notification) WithContext(key string, value any) Notification {
	ctx := make(map[string]any, len(n.Context)+1)
	for k, v := range n.Context {
		ctx[k] = v
	}
	ctx[key] = value
	n.Context = ctx
	return n
}

// Notifier is the sink used by components to report events. Implementations must
// not block the caller.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(n Notification)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Discard is a Notifier that drops everything
var Discard Notifier = NotifierFunc(func(Notification) {})

// Consumer processes notifications delivered by the EventBus
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessNotification handles a single notification
	ProcessNotification(n Notification) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-sortable ULID string
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
