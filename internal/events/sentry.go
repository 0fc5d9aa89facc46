package events

import (
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConsumer reports failure notifications to Sentry. Informational kinds are
// ignored.
type SentryConsumer struct {
	hub *sentry.Hub
}

// NewSentryConsumer creates a consumer using its own hub around client
func NewSentryConsumer(client *sentry.Client) *SentryConsumer {
	return &SentryConsumer{hub: sentry.NewHub(client, sentry.NewScope())}
}

// NewSentryClient creates a client for dsn with stack traces disabled
func NewSentryClient(dsn, environment, release string) (*sentry.Client, error) {
	return sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		SampleRate:       1.0,
		AttachStacktrace: false,
	})
}

func (c *SentryConsumer) Name() string { return "sentry" }

func (c *SentryConsumer) ProcessNotification(n Notification) error {
	level, ok := sentryLevel(n.Kind)
	if !ok {
		return nil
	}

	c.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("kind", string(n.Kind))
		scope.SetTag("code", n.Code.String())
		scope.SetTag("component", n.Component)
		scope.SetTag("code_value", strconv.Itoa(int(n.Code)))
		if len(n.Context) > 0 {
			scope.SetContext("notification", n.Context)
		}
		message := n.Message
		if message == "" {
			message = string(n.Kind)
		}
		c.hub.CaptureMessage(message)
	})
	return nil
}

// Flush waits for buffered events to be sent
func (c *SentryConsumer) Flush(timeout time.Duration) bool {
	return c.hub.Flush(timeout)
}

func sentryLevel(kind Kind) (sentry.Level, bool) {
	switch kind {
	case KindJobFailed, KindCompositionFailed, KindHardwareError:
		return sentry.LevelError, true
	case KindFrameDropped:
		return sentry.LevelWarning, true
	default:
		return "", false
	}
}
