package hwi

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
)

// HandlerFunc processes one event on the engine goroutine. For internal events the
// returned Result is only logged.
type HandlerFunc func(ctx context.Context, evt Event, payload any) Result

// Engine is the single consumer of posted events. It runs the handler for each
// event in acceptance order and signals API results to the correlator. Stopping is
// terminal.
type Engine struct {
	queue   *eventQueue
	handle  HandlerFunc
	results *Correlator
	log     logger.Logger

	mu      sync.Mutex
	started bool
	active  bool
	wg      sync.WaitGroup
}

// NewEngine creates an engine that is active but not yet running. Events posted
// before Start are queued.
func NewEngine(handle HandlerFunc, results *Correlator) *Engine {
	return &Engine{
		queue:   newEventQueue(),
		handle:  handle,
		results: results,
		log:     logger.Global().Module("hwi").Module("engine"),
		active:  true,
	}
}

// Start launches the engine goroutine. Cancelling ctx stops the engine.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || !e.active {
		return
	}
	e.started = true
	e.wg.Go(func() {
		e.run(ctx)
	})
}

// Active reports whether the engine still accepts events
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Post queues an internal event. It returns false once the engine is inactive.
func (e *Engine) Post(evt Event, payload any) bool {
	return e.post(envelope{evt: evt, payload: payload})
}

// postAPI queues an API event carrying the correlator ticket of its caller
func (e *Engine) postAPI(evt Event, payload any, ticket uint64) bool {
	return e.post(envelope{evt: evt, payload: payload, ticket: ticket})
}

func (e *Engine) post(env envelope) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return false
	}
	env.acceptedAt = time.Now()
	return e.queue.Enqueue(env)
}

// Stop flips the engine to inactive, lets it finish the events already accepted
// and waits for the goroutine to exit
func (e *Engine) Stop() {
	e.mu.Lock()
	wasActive := e.active
	e.active = false
	e.queue.Close()
	started := e.started
	e.mu.Unlock()

	if !started {
		if wasActive {
			e.rejectQueued()
		}
		return
	}
	e.wg.Wait()
}

func (e *Engine) run(ctx context.Context) {
	e.log.Debug("engine starting")
	defer e.log.Debug("engine stopped")

	for {
		if env, ok := e.queue.TryDequeue(); ok {
			e.process(ctx, env)
			continue
		}

		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.active = false
			e.queue.Close()
			e.mu.Unlock()
			e.rejectQueued()
			return
		case <-e.queue.Wait():
			if e.queue.Len() == 0 && !e.Active() {
				return
			}
		}
	}
}

// process runs the handler for one event
func (e *Engine) process(ctx context.Context, env envelope) {
	start := time.Now()
	r := e.invoke(ctx, env)
	r.Tag = env.evt

	fields := []logger.Field{
		logger.String("event", env.evt.String()),
		logger.String("status", r.Status.String()),
		logger.Duration("queued", start.Sub(env.acceptedAt)),
		logger.Duration("took", time.Since(start)),
	}

	if env.ticket == 0 {
		if r.Err != nil {
			e.log.Warn("internal event failed", append(fields, logger.Error(r.Err))...)
			return
		}
		e.log.Trace("internal event processed", fields...)
		return
	}

	r.ticket = env.ticket
	e.results.Signal(r)
	e.log.Trace("api event processed", fields...)
}

// invoke runs the handler, converting a panic into an error result so the engine
// keeps serving and the caller is answered
func (e *Engine) invoke(ctx context.Context, env envelope) (r Result) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("event handler panicked",
				logger.String("event", env.evt.String()),
				logger.Any("panic", p))
			r = errResult(env.evt, errors.Newf("event handler panicked: %v", p).
				Component(ComponentHWI).
				Category(errors.CategoryHardware).
				Code(errors.CodeUnknown).
				Context("event", env.evt.String()).
				Build())
		}
	}()
	return e.handle(ctx, env.evt, env.payload)
}

// rejectQueued answers every queued API call with a rejection so no caller
// waits forever once the engine is gone
func (e *Engine) rejectQueued() {
	for {
		env, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		if env.ticket == 0 {
			continue
		}
		r := errResult(env.evt, errors.New(ErrRejected).Context("event", env.evt.String()).Build())
		r.ticket = env.ticket
		e.results.Signal(r)
	}
}
