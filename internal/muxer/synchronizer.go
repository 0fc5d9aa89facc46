// Package muxer pairs the outputs of two device pipelines by frame index and
// merges each pair exactly once on a single compose goroutine.
package muxer

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/events"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// Config configures a Synchronizer. Merger is required.
type Config struct {
	Merger             Merger
	Sink               Sink
	Notifier           events.Notifier
	Recorder           metrics.FrameRecorder
	ChannelDepth       int // Per role input buffer, DefaultChannelDepth when zero
	MaxPending         int // Unmatched artifacts held per role, DefaultMaxPending when zero
	CompositionEnabled bool
}

type controlKind int

const (
	controlFlush controlKind = iota
	controlComposition
)

type request struct {
	kind    controlKind
	enabled bool
	reply   chan int
}

// Synchronizer fans in artifacts from both roles and composes matching frame
// indices. Submit may be called from any number of producers.
type Synchronizer struct {
	merger     Merger
	sink       Sink
	notifier   events.Notifier
	recorder   metrics.FrameRecorder
	log        logger.Logger
	maxPending int

	// lifecycle guards started, stopped and cancel; mu guards active and is held
	// shared by producers while they send
	lifecycle sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	mu        sync.RWMutex
	active    bool

	inputs  [2]chan *FrameArtifact
	control chan request
	done    chan struct{}
	wg      sync.WaitGroup

	// pending is owned by the compose goroutine
	pending   [2]map[uint32]*FrameArtifact
	composing atomic.Bool

	submitted    atomic.Uint64
	composed     atomic.Uint64
	passthrough  atomic.Uint64
	failed       atomic.Uint64
	dropped      atomic.Uint64
	discarded    atomic.Uint64
	flushed      atomic.Uint64
	pendingCount [2]atomic.Int64
}

// NewSynchronizer creates a stopped synchronizer
func NewSynchronizer(cfg *Config) (*Synchronizer, error) {
	if cfg == nil || cfg.Merger == nil {
		return nil, errors.Newf("muxer requires a merger").
			Component(componentMuxer).
			Category(errors.CategoryConfiguration).
			Build()
	}

	depth := cfg.ChannelDepth
	if depth <= 0 {
		depth = DefaultChannelDepth
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	sink := cfg.Sink
	if sink == nil {
		sink = SinkFunc(func(Output) {})
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.Discard
	}
	var recorder metrics.FrameRecorder = metrics.NoOpRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	s := &Synchronizer{
		merger:     cfg.Merger,
		sink:       sink,
		notifier:   notifier,
		recorder:   recorder,
		log:        logger.Global().Module(componentMuxer),
		maxPending: maxPending,
		control:    make(chan request),
		done:       make(chan struct{}),
	}
	for _, role := range []Role{RolePrimary, RoleSecondary} {
		s.inputs[role] = make(chan *FrameArtifact, depth)
		s.pending[role] = make(map[uint32]*FrameArtifact)
	}
	s.composing.Store(cfg.CompositionEnabled)
	return s, nil
}

// Start launches the compose goroutine. Cancelling ctx stops the synchronizer
// like Stop does. Starting a stopped synchronizer has no effect.
func (s *Synchronizer) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.started || s.stopped {
		return
	}
	composeCtx, cancel := context.WithCancel(ctx)
	s.started = true
	s.cancel = cancel

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	s.wg.Go(func() {
		s.run(composeCtx)
	})
}

// Stop rejects further submissions, releases every pending and buffered artifact
// and waits for the compose goroutine to exit
func (s *Synchronizer) Stop() {
	s.lifecycle.Lock()
	s.stopped = true
	cancel := s.cancel
	s.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Submit hands a to the compose goroutine. It blocks while the role's input
// buffer is full. A rejected artifact is released before Submit returns.
func (s *Synchronizer) Submit(a *FrameArtifact) error {
	if a == nil {
		return ErrInvalidArtifact
	}
	if !a.Role.valid() {
		a.Release()
		return errors.New(ErrInvalidArtifact).
			Context("role", int(a.Role)).
			Build()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.active {
		a.Release()
		return s.rejected(a)
	}

	select {
	case s.inputs[a.Role] <- a:
		s.submitted.Add(1)
		return nil
	case <-s.done:
		a.Release()
		return s.rejected(a)
	}
}

func (s *Synchronizer) rejected(a *FrameArtifact) error {
	return errors.New(ErrRejected).
		Context("role", a.Role.String()).
		Context("frame_index", a.FrameIndex).
		Build()
}

// Flush releases every pending or buffered artifact without composing and
// returns how many were released
func (s *Synchronizer) Flush() int {
	return s.request(request{kind: controlFlush})
}

// SetCompositionEnabled switches between composing pairs and passing primary
// artifacts through. Switching mode flushes pending artifacts.
func (s *Synchronizer) SetCompositionEnabled(enabled bool) {
	s.lifecycle.Lock()
	started := s.started
	s.lifecycle.Unlock()
	if !started {
		s.composing.Store(enabled)
		return
	}
	s.request(request{kind: controlComposition, enabled: enabled})
}

// CompositionEnabled reports the current mode
func (s *Synchronizer) CompositionEnabled() bool {
	return s.composing.Load()
}

// Stats returns a snapshot of the counters
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Submitted:   s.submitted.Load(),
		Composed:    s.composed.Load(),
		Passthrough: s.passthrough.Load(),
		Failed:      s.failed.Load(),
		Dropped:     s.dropped.Load(),
		Discarded:   s.discarded.Load(),
		Flushed:     s.flushed.Load(),
		Pending: [2]int{
			int(s.pendingCount[RolePrimary].Load()),
			int(s.pendingCount[RoleSecondary].Load()),
		},
	}
}

// request runs a control request on the compose goroutine
func (s *Synchronizer) request(req request) int {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if !active {
		return 0
	}

	req.reply = make(chan int, 1)
	select {
	case s.control <- req:
	case <-s.done:
		return 0
	}

	select {
	case n := <-req.reply:
		return n
	case <-s.done:
		select {
		case n := <-req.reply:
			return n
		default:
			return 0
		}
	}
}

func (s *Synchronizer) run(ctx context.Context) {
	s.log.Debug("compose loop started", logger.Bool("composition", s.composing.Load()))
	for {
		select {
		case <-ctx.Done():
			n := s.shutdown()
			s.log.Info("synchronizer stopped", logger.Int("released", n))
			return
		case a := <-s.inputs[RolePrimary]:
			s.accept(ctx, a)
		case a := <-s.inputs[RoleSecondary]:
			s.accept(ctx, a)
		case req := <-s.control:
			req.reply <- s.handle(req)
		}
	}
}

// shutdown unblocks producers, waits for in-flight submissions and releases
// everything still held
func (s *Synchronizer) shutdown() int {
	s.lifecycle.Lock()
	s.stopped = true
	s.lifecycle.Unlock()

	close(s.done)

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	return s.flush()
}

func (s *Synchronizer) handle(req request) int {
	switch req.kind {
	case controlFlush:
		return s.flush()
	case controlComposition:
		if s.composing.Load() == req.enabled {
			return 0
		}
		n := s.flush()
		s.composing.Store(req.enabled)
		s.log.Info("composition mode changed",
			logger.Bool("enabled", req.enabled),
			logger.Int("flushed", n))
		return n
	default:
		return 0
	}
}

func (s *Synchronizer) accept(ctx context.Context, a *FrameArtifact) {
	if !s.composing.Load() {
		s.passThrough(a)
		return
	}

	other := a.Role.other()
	match, ok := s.pending[other][a.FrameIndex]
	if !ok {
		s.hold(a)
		return
	}
	delete(s.pending[other], a.FrameIndex)
	s.setPending(other)

	if a.Role == RolePrimary {
		s.compose(ctx, a, match)
	} else {
		s.compose(ctx, match, a)
	}
}

// passThrough handles an artifact while composition is disabled: primary output
// goes to the sink unmodified, secondary output is released unused
func (s *Synchronizer) passThrough(a *FrameArtifact) {
	defer a.Release()

	if a.Role == RoleSecondary {
		s.discarded.Add(1)
		s.recorder.RecordFrame(metrics.OutcomeDiscarded)
		return
	}
	s.sink.Deliver(Output{FrameIndex: a.FrameIndex, Buffer: a.Buffer})
	s.passthrough.Add(1)
	s.recorder.RecordFrame(metrics.OutcomePassthrough)
}

// hold keeps a until its counterpart arrives. A duplicate index replaces the
// older artifact; beyond maxPending the lowest index is dropped.
func (s *Synchronizer) hold(a *FrameArtifact) {
	held := s.pending[a.Role]
	if old, ok := held[a.FrameIndex]; ok {
		s.drop(old, "duplicate frame index")
	}
	held[a.FrameIndex] = a

	if len(held) > s.maxPending {
		lowest := slices.Min(slices.Collect(maps.Keys(held)))
		s.drop(held[lowest], "pending limit reached")
		delete(held, lowest)
	}
	s.setPending(a.Role)
}

func (s *Synchronizer) drop(a *FrameArtifact, reason string) {
	defer a.Release()
	s.dropped.Add(1)
	s.recorder.RecordFrame(metrics.OutcomeDropped)
	s.log.Warn("frame dropped",
		logger.String("role", a.Role.String()),
		logger.Uint32("frame_index", a.FrameIndex),
		logger.String("reason", reason))
	s.notifier.Notify(events.NewNotification(events.KindFrameDropped, errors.CodeOf(ErrFrameDropped), componentMuxer, ErrFrameDropped).
		WithContext("role", a.Role.String()).
		WithContext("frame_index", a.FrameIndex).
		WithContext("reason", reason))
}

// compose merges a matched pair and always releases both halves
func (s *Synchronizer) compose(ctx context.Context, primary, secondary *FrameArtifact) {
	defer secondary.Release()
	defer primary.Release()

	start := time.Now()
	merged, err := s.merge(ctx, primary, secondary)
	if err != nil {
		if ctx.Err() != nil {
			s.flushed.Add(2)
			s.recorder.RecordFrame(metrics.OutcomeFlushed)
			s.recorder.RecordFrame(metrics.OutcomeFlushed)
			return
		}
		s.failed.Add(1)
		s.recorder.RecordFrame(metrics.OutcomeFailed)
		s.log.Error("composition failed",
			logger.Uint32("frame_index", primary.FrameIndex),
			logger.Error(err))
		s.notifier.Notify(events.NewNotification(events.KindCompositionFailed, errors.CodeOf(err), componentMuxer, err).
			WithContext("frame_index", primary.FrameIndex))
		return
	}

	s.sink.Deliver(Output{FrameIndex: primary.FrameIndex, Buffer: merged, Composed: true})
	s.composed.Add(1)
	s.recorder.RecordFrame(metrics.OutcomeComposed)
	s.log.Trace("frame composed",
		logger.Uint32("frame_index", primary.FrameIndex),
		logger.Duration("duration", time.Since(start)))
}

func (s *Synchronizer) merge(ctx context.Context, primary, secondary *FrameArtifact) (out Buffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.Newf("merger panicked: %v", r).
				Component(componentMuxer).
				Category(errors.CategoryComposition).
				Code(errors.CodeCompositionFailed).
				Context("frame_index", primary.FrameIndex).
				Build()
		}
	}()

	out, err = s.merger.Merge(ctx, primary.Buffer, secondary.Buffer)
	if err != nil {
		return nil, errors.New(err).
			Component(componentMuxer).
			Category(errors.CategoryComposition).
			Code(errors.CodeCompositionFailed).
			Context("frame_index", primary.FrameIndex).
			Build()
	}
	return out, nil
}

// flush releases everything held or buffered. Runs on the compose goroutine.
func (s *Synchronizer) flush() int {
	n := 0
	for _, role := range []Role{RolePrimary, RoleSecondary} {
		for idx, a := range s.pending[role] {
			a.Release()
			delete(s.pending[role], idx)
			n++
		}
		s.setPending(role)

		for drained := false; !drained; {
			select {
			case a := <-s.inputs[role]:
				a.Release()
				n++
			default:
				drained = true
			}
		}
	}

	s.flushed.Add(uint64(n))
	for range n {
		s.recorder.RecordFrame(metrics.OutcomeFlushed)
	}
	if n > 0 {
		s.log.Debug("flushed pending frames", logger.Int("count", n))
	}
	return n
}

func (s *Synchronizer) setPending(role Role) {
	n := len(s.pending[role])
	s.pendingCount[role].Store(int64(n))
	s.recorder.SetPending(role.String(), n)
}
