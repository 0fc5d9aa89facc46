package hwi

import (
	"context"
	"sync"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/logger"
)

// slot holds the one-shot result channel for one outstanding call
type slot struct {
	ch        chan Result
	ticket    uint64
	signalled bool
}

// Correlator matches results to waiting callers by tag. Each tag has at most one
// outstanding registration; its result is delivered through a buffered channel of
// capacity one, so signalling never blocks.
type Correlator struct {
	mu     sync.Mutex
	slots  map[Event]*slot
	ticket uint64
	log    logger.Logger
}

// NewCorrelator creates an empty correlator
func NewCorrelator() *Correlator {
	return &Correlator{
		slots: make(map[Event]*slot),
		log:   logger.Global().Module("hwi").Module("correlator"),
	}
}

// Expect registers an outstanding call for tag
func (c *Correlator) Expect(tag Event) error {
	_, err := c.expect(tag)
	return err
}

// expect registers tag and returns the ticket the engine stamps on the result
func (c *Correlator) expect(tag Event) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.slots[tag]; exists {
		return 0, errors.New(ErrDuplicateTag).
			Context("tag", tag.String()).
			Build()
	}
	c.ticket++
	c.slots[tag] = &slot{ch: make(chan Result, 1), ticket: c.ticket}
	return c.ticket, nil
}

// Signal delivers r to the caller waiting on r.Tag. It returns false when nobody is
// waiting; the result is then dropped.
func (c *Correlator) Signal(r Result) bool {
	c.mu.Lock()
	s, ok := c.slots[r.Tag]
	deliver := ok && !s.signalled && (r.ticket == 0 || r.ticket == s.ticket)
	if deliver {
		s.signalled = true
		s.ch <- r
	}
	c.mu.Unlock()

	if !deliver {
		c.log.Warn("dropping result with no waiting caller",
			logger.String("tag", r.Tag.String()),
			logger.String("status", r.Status.String()))
	}
	return deliver
}

// Wait blocks until the result for tag is signalled and claims it. When ctx ends
// first the registration is withdrawn, unless the result already arrived.
func (c *Correlator) Wait(ctx context.Context, tag Event) (Result, error) {
	c.mu.Lock()
	s, ok := c.slots[tag]
	c.mu.Unlock()
	if !ok {
		return Result{}, errors.New(ErrNoPendingCall).
			Context("tag", tag.String()).
			Build()
	}

	select {
	case r := <-s.ch:
		c.release(tag, s)
		return r, nil
	case <-ctx.Done():
	}

	c.release(tag, s)
	select {
	case r := <-s.ch:
		return r, nil
	default:
	}

	c.log.Debug("abandoned wait for result",
		logger.String("tag", tag.String()),
		logger.Error(ctx.Err()))
	return Result{}, contextError(ctx.Err(), tag)
}

// release removes s if it is still the registration for tag
func (c *Correlator) release(tag Event, s *slot) {
	c.mu.Lock()
	if c.slots[tag] == s {
		delete(c.slots, tag)
	}
	c.mu.Unlock()
}

// Cancel withdraws the registration for tag
func (c *Correlator) Cancel(tag Event) {
	c.mu.Lock()
	delete(c.slots, tag)
	c.mu.Unlock()
}

// Pending returns the number of outstanding registrations
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}
