package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tphakala/camhal/internal/buildinfo"
	"github.com/tphakala/camhal/internal/conf"
	"github.com/tphakala/camhal/internal/events"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/observability"
)

// busShutdownTimeout bounds how long queued notifications are drained on close
const busShutdownTimeout = 5 * time.Second

// notifications owns the event bus and its consumers for one run
type notifications struct {
	bus    *events.EventBus
	pubSub *gochannel.GoChannel
	sentry *events.SentryConsumer
	log    logger.Logger

	received atomic.Int64
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newNotifications(ctx context.Context, settings *conf.Settings, m *observability.Metrics, info *buildinfo.Context) (*notifications, error) {
	n := &notifications{
		bus: events.NewEventBus(&events.Config{
			BufferSize: settings.Events.BufferSize,
			Workers:    settings.Events.Workers,
			DedupTTL:   settings.Events.DedupTTL,
		}),
		log: logger.Global().Module(componentRunner).Module("notifications"),
	}

	consumers := []events.Consumer{
		events.NewLogConsumer(logger.Global().Module("events"), settings.Events.LogRate, settings.Events.LogBurst),
		events.NewMetricsConsumer(m.Notifications),
	}

	if settings.Watermill.Enabled {
		n.pubSub = events.NewGoChannelPubSub(logger.ForService("watermill"), settings.Watermill.OutputBuffer)

		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		n.cancel = cancel
		messages, err := n.pubSub.Subscribe(subCtx, settings.Watermill.Topic)
		if err != nil {
			n.close(nil)
			return nil, err
		}
		n.wg.Go(func() { n.receive(messages) })
		consumers = append(consumers, events.NewWatermillConsumer(n.pubSub, settings.Watermill.Topic))
	}

	if dsn := settings.Telemetry.SentryDSN; dsn != "" {
		client, err := events.NewSentryClient(dsn, settings.Telemetry.Environment, info.Release())
		if err != nil {
			n.close(nil)
			return nil, err
		}
		n.sentry = events.NewSentryConsumer(client)
		consumers = append(consumers, n.sentry)
	}

	for _, c := range consumers {
		if err := n.bus.RegisterConsumer(c); err != nil {
			n.close(nil)
			return nil, err
		}
	}
	return n, nil
}

// receive plays the part of an out-of-process subscriber
func (n *notifications) receive(messages <-chan *message.Message) {
	for msg := range messages {
		note, err := events.DecodeNotification(msg)
		if err != nil {
			n.log.Warn("undecodable notification", logger.Error(err))
			msg.Nack()
			continue
		}
		n.received.Add(1)
		n.log.Debug("notification received",
			logger.String("kind", string(note.Kind)),
			logger.String("code", note.Code.String()),
			logger.String("component", note.Component))
		msg.Ack()
	}
}

// close drains the bus, then stops the subscriber. report may be nil.
func (n *notifications) close(report *Report) {
	if err := n.bus.Shutdown(busShutdownTimeout); err != nil {
		n.log.Warn("event bus did not drain", logger.Error(err))
	}
	if n.sentry != nil {
		n.sentry.Flush(busShutdownTimeout)
	}
	if n.pubSub != nil {
		if err := n.pubSub.Close(); err != nil {
			n.log.Warn("closing pub/sub failed", logger.Error(err))
		}
	}
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()

	if report != nil {
		report.Published = n.received.Load()
	}
}
