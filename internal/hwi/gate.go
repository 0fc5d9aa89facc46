package hwi

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// Gate turns asynchronous engine processing into blocking calls. Callers hold the
// API lock from ProcessAPI until their result is claimed, so the engine sees one
// API call at a time per gate.
type Gate struct {
	mu       sync.Mutex
	engine   *Engine
	results  *Correlator
	recorder metrics.GateRecorder
	log      logger.Logger
}

// NewGate creates a gate posting to engine and claiming results from results
func NewGate(engine *Engine, results *Correlator, recorder metrics.GateRecorder) *Gate {
	if recorder == nil {
		recorder = metrics.NoOpRecorder{}
	}
	return &Gate{
		engine:   engine,
		results:  results,
		recorder: recorder,
		log:      logger.Global().Module("hwi").Module("gate"),
	}
}

// LockAPI enters the exclusive call section
func (g *Gate) LockAPI() {
	g.mu.Lock()
}

// UnlockAPI leaves the exclusive call section
func (g *Gate) UnlockAPI() {
	g.mu.Unlock()
}

// ProcessAPI registers tag and posts the call to the engine. It fails fast with
// ErrRejected once the engine is inactive; the registration is withdrawn then.
// The caller must hold the API lock.
func (g *Gate) ProcessAPI(tag Event, payload any) error {
	ticket, err := g.results.expect(tag)
	if err != nil {
		return err
	}
	if !g.engine.postAPI(tag, payload, ticket) {
		g.results.Cancel(tag)
		return errors.New(ErrRejected).
			Context("tag", tag.String()).
			Build()
	}
	return nil
}

// WaitAPIResult blocks until the result for tag arrives and claims it. Without a
// deadline on ctx the wait is unbounded.
func (g *Gate) WaitAPIResult(ctx context.Context, tag Event) (Result, error) {
	return g.results.Wait(ctx, tag)
}

// Call runs one API call under the lock and returns its result. The error is
// non-nil when the call was rejected, the wait ended early or the result carries
// a failure.
func (g *Gate) Call(ctx context.Context, tag Event, payload any) (Result, error) {
	g.LockAPI()
	defer g.UnlockAPI()

	start := time.Now()
	if err := g.ProcessAPI(tag, payload); err != nil {
		g.recorder.RecordCall(tag.String(), errors.CodeOf(err).String(), time.Since(start))
		return errResult(tag, err), err
	}

	r, err := g.WaitAPIResult(ctx, tag)
	if err != nil {
		g.recorder.RecordCall(tag.String(), errors.CodeOf(err).String(), time.Since(start))
		g.log.Warn("api call abandoned",
			logger.String("tag", tag.String()),
			logger.Error(err))
		return errResult(tag, err), err
	}

	g.recorder.RecordCall(tag.String(), r.Status.String(), time.Since(start))
	if r.Err != nil {
		return r, r.Err
	}
	if !r.OK() {
		return r, errors.Newf("call %s failed with status %s", tag, r.Status).
			Component(ComponentHWI).
			Code(r.Status).
			Build()
	}
	return r, nil
}

// PostEvent queues an internal event without taking the API lock
func (g *Gate) PostEvent(evt Event, payload any) bool {
	return g.engine.Post(evt, payload)
}

// Shutdown stops the engine under the API lock. Every later ProcessAPI fails
// with ErrRejected.
func (g *Gate) Shutdown() {
	g.LockAPI()
	defer g.UnlockAPI()
	g.engine.Stop()
}
