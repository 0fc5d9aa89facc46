package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
)

// EventBus provides asynchronous notification processing with non-blocking publishing
type EventBus struct {
	eventChan chan Notification

	bufferSize int
	workers    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex

	consumers []Consumer
	dedup     *Deduplicator

	stats EventBusStats

	logger *slog.Logger
}

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
	// DedupTTL suppresses identical notifications seen within the window; zero disables
	DedupTTL time.Duration
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1024,
		Workers:    2,
		DedupTTL:   5 * time.Second,
	}
}

// ErrConsumerExists is returned when a consumer with the same name is registered twice
var ErrConsumerExists = errors.Newf("consumer already registered").
	Component("events").
	Category(errors.CategoryConflict).
	Code(errors.CodeBusy).
	Build()

// ErrShutdownTimeout is returned when workers do not finish within the shutdown timeout
var ErrShutdownTimeout = errors.Newf("event bus shutdown timeout exceeded").
	Component("events").
	Category(errors.CategoryTimeout).
	Code(errors.CodeTimeout).
	Build()

// NewEventBus creates an event bus. Workers start when the first consumer is registered.
func NewEventBus(config *Config) *EventBus {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	eb := &EventBus{
		eventChan:  make(chan Notification, config.BufferSize),
		bufferSize: config.BufferSize,
		workers:    config.Workers,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.ForService("events"),
	}
	if config.DedupTTL > 0 {
		eb.dedup = NewDeduplicator(config.DedupTTL, 0)
	}

	eb.logger.Debug("event bus created",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
		"dedup_ttl", config.DedupTTL,
	)

	return eb
}

// RegisterConsumer adds a new consumer
func (eb *EventBus) RegisterConsumer(consumer Consumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.New(ErrConsumerExists).Context("consumer", consumer.Name()).Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Debug("registered event consumer", "consumer", consumer.Name())

	if len(eb.consumers) == 1 && !eb.closed.Load() {
		eb.start()
	}

	return nil
}

// Notify implements Notifier by publishing without blocking
func (eb *EventBus) Notify(n Notification) {
	eb.TryPublish(n)
}

// TryPublish attempts to publish a notification without blocking.
// Returns true if the notification was accepted, false if it was dropped or suppressed.
func (eb *EventBus) TryPublish(n Notification) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}

	if eb.dedup != nil && !eb.dedup.ShouldProcess(n) {
		atomic.AddUint64(&eb.stats.EventsSuppressed, 1)
		return false
	}

	select {
	case eb.eventChan <- n:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.logger.Debug("notification dropped due to full buffer",
			"kind", string(n.Kind),
			"component", n.Component,
		)
		return false
	}
}

// start begins the worker goroutines (caller holds mu)
func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}

	for i := range eb.workers {
		eb.wg.Go(func() { eb.worker(i) })
	}
}

func (eb *EventBus) worker(id int) {
	log := eb.logger.With("worker_id", id)

	for {
		select {
		case <-eb.ctx.Done():
			eb.drain(log)
			return
		case n := <-eb.eventChan:
			eb.processNotification(n, log)
		}
	}
}

// drain delivers whatever is still buffered once shutdown begins
func (eb *EventBus) drain(log *slog.Logger) {
	for {
		select {
		case n := <-eb.eventChan:
			eb.processNotification(n, log)
		default:
			return
		}
	}
}

// processNotification sends the notification to all registered consumers
func (eb *EventBus) processNotification(n Notification, log *slog.Logger) {
	eb.mu.Lock()
	consumers := make([]Consumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					log.Error("consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"kind", string(n.Kind),
					)
				}
			}()

			if err := consumer.ProcessNotification(n); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				log.Error("consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"kind", string(n.Kind),
				)
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops accepting notifications, lets workers drain the buffer and waits
// for them up to timeout
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || eb.closed.Swap(true) {
		return nil
	}

	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded")
		return ErrShutdownTimeout
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}

	return EventBusStats{
		EventsReceived:   atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsSuppressed: atomic.LoadUint64(&eb.stats.EventsSuppressed),
		EventsProcessed:  atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:    atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:   atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}
