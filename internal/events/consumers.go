package events

import (
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/tphakala/camhal/internal/logger"
)

// LogConsumer writes notifications to the structured log. Warnings are rate limited
// so a misbehaving device cannot flood the log; excess notifications go to debug.
type LogConsumer struct {
	log        logger.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewLogConsumer creates a log consumer allowing perSecond warnings with the given burst.
// perSecond <= 0 disables limiting.
func NewLogConsumer(log logger.Logger, perSecond float64, burst int) *LogConsumer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &LogConsumer{
		log:     log.Module("notifications"),
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *LogConsumer) Name() string { return "log" }

func (c *LogConsumer) ProcessNotification(n Notification) error {
	fields := []logger.Field{
		logger.String("id", n.ID),
		logger.String("kind", string(n.Kind)),
		logger.String("code", n.Code.String()),
		logger.String("component", n.Component),
	}
	if n.Message != "" {
		fields = append(fields, logger.String("message", n.Message))
	}
	for k, v := range n.Context {
		fields = append(fields, logger.Any(k, v))
	}

	if n.Kind == KindSessionState {
		c.log.Info("session notification", fields...)
		return nil
	}

	if !c.limiter.Allow() {
		c.suppressed.Add(1)
		c.log.Debug("notification (rate limited)", fields...)
		return nil
	}
	c.log.Warn("notification", fields...)
	return nil
}

// Suppressed returns how many warnings were demoted by the rate limiter
func (c *LogConsumer) Suppressed() uint64 {
	return c.suppressed.Load()
}

// NotificationRecorder is implemented by metrics collectors counting notifications
type NotificationRecorder interface {
	RecordNotification(kind, code string)
}

// MetricsConsumer counts notifications by kind and code
type MetricsConsumer struct {
	recorder NotificationRecorder
}

// NewMetricsConsumer creates a consumer feeding recorder
func NewMetricsConsumer(recorder NotificationRecorder) *MetricsConsumer {
	return &MetricsConsumer{recorder: recorder}
}

func (c *MetricsConsumer) Name() string { return "metrics" }

func (c *MetricsConsumer) ProcessNotification(n Notification) error {
	c.recorder.RecordNotification(string(n.Kind), n.Code.String())
	return nil
}
