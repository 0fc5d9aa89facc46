// Package hwi implements the camera hardware interface control layer: a gate that
// turns engine processing into blocking calls, the single goroutine state machine
// engine, result correlation and the session's deferred jobs.
package hwi

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/events"
	"github.com/tphakala/camhal/internal/jobqueue"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// Default metadata buffer layout allocated at session open
const (
	DefaultMetadataCount = 8
	DefaultMetadataSize  = 4096
)

// Config configures a session. The zero value opens a single device session with
// default job capacity and no observers.
type Config struct {
	Devices       int
	MetadataCount int
	MetadataSize  int
	DefaultParams Params
	JobCapacity   int
	StopTimeout   time.Duration

	Notifier     events.Notifier
	GateRecorder metrics.GateRecorder
	JobRecorder  metrics.JobRecorder
	Compositor   Compositor
}

// Session is an open camera. Its methods are safe for concurrent use; calls are
// serialized by the gate.
type Session struct {
	id      string
	gate    *Gate
	engine  *Engine
	machine *stateMachine
	jobs    *deferredJobs
	cancel  context.CancelFunc
	stopTO  time.Duration
	log     logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open starts the engine and job worker for hw and schedules the open time jobs.
// ctx supplies values such as the trace id; cancelling it later does not close
// the session.
func Open(ctx context.Context, hw Hardware, cfg *Config) (*Session, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	c := *cfg
	if c.Devices <= 0 {
		c.Devices = 1
	}
	if c.MetadataCount <= 0 {
		c.MetadataCount = DefaultMetadataCount
	}
	if c.MetadataSize <= 0 {
		c.MetadataSize = DefaultMetadataSize
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Notifier == nil {
		c.Notifier = events.Discard
	}
	if c.GateRecorder == nil {
		c.GateRecorder = metrics.NoOpRecorder{}
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(logger.WithTraceID(context.WithoutCancel(ctx), id))
	log := logger.Global().Module("hwi").WithContext(runCtx)

	jobs := newDeferredJobs(hw, &jobqueue.Config{
		Capacity: c.JobCapacity,
		Notifier: c.Notifier,
		Recorder: c.JobRecorder,
	})
	machine := &stateMachine{
		hw:         hw,
		jobs:       jobs,
		params:     c.DefaultParams.Clone(),
		devices:    c.Devices,
		compositor: c.Compositor,
		notifier:   c.Notifier,
		recorder:   c.GateRecorder,
		log:        log.Module("statemachine"),
	}
	machine.state.Store(int32(StatePreviewStopped))
	c.GateRecorder.RecordState(StatePreviewStopped.String())

	results := NewCorrelator()
	engine := NewEngine(machine.handle, results)
	jobs.post = engine.Post

	s := &Session{
		id:      id,
		gate:    NewGate(engine, results, c.GateRecorder),
		engine:  engine,
		machine: machine,
		jobs:    jobs,
		cancel:  cancel,
		stopTO:  c.StopTimeout,
		log:     log,
	}

	jobs.sched.Start(runCtx)
	if err := jobs.open(c.MetadataCount, c.MetadataSize); err != nil {
		engine.Stop()
		_ = jobs.sched.StopWithTimeout(c.StopTimeout)
		cancel()
		return nil, err
	}
	engine.Start(runCtx)

	log.Info("session opened",
		logger.Int("devices", c.Devices),
		logger.Int("job_capacity", jobs.sched.Stats().Capacity))
	return s, nil
}

// ID returns the session id, also used as trace id in logs
func (s *Session) ID() string { return s.id }

// State returns the current session state
func (s *Session) State() State { return s.machine.current() }

// Gate exposes the session's API gate
func (s *Session) Gate() *Gate { return s.gate }

// SetParameters applies p once parameter initialization has finished
func (s *Session) SetParameters(ctx context.Context, p Params) error {
	_, err := s.gate.Call(ctx, EventSetParams, p.Clone())
	return err
}

// Parameters returns a copy of the current parameters
func (s *Session) Parameters(ctx context.Context) (Params, error) {
	r, err := s.gate.Call(ctx, EventGetParams, nil)
	if err != nil {
		return nil, err
	}
	p, _ := r.Value.(Params)
	return p, nil
}

// StartPreview schedules preview buffer allocation and returns without waiting
// for it
func (s *Session) StartPreview(ctx context.Context) error {
	return s.call(ctx, EventStartPreview)
}

// StopPreview stops preview, and recording if active
func (s *Session) StopPreview(ctx context.Context) error {
	return s.call(ctx, EventStopPreview)
}

// TakePicture schedules a capture and returns without waiting for it. The session
// returns to Previewing when the capture completes or fails.
func (s *Session) TakePicture(ctx context.Context) error {
	return s.call(ctx, EventTakePicture)
}

// CancelPicture aborts a capture in progress
func (s *Session) CancelPicture(ctx context.Context) error {
	return s.call(ctx, EventCancelPicture)
}

// StartRecording schedules video buffer allocation and returns without waiting
func (s *Session) StartRecording(ctx context.Context) error {
	return s.call(ctx, EventStartRecording)
}

// StopRecording stops the video stream
func (s *Session) StopRecording(ctx context.Context) error {
	return s.call(ctx, EventStopRecording)
}

// Release waits for outstanding jobs, tears the session down and closes the
// hardware
func (s *Session) Release(ctx context.Context) error {
	return s.call(ctx, EventRelease)
}

func (s *Session) call(ctx context.Context, evt Event) error {
	_, err := s.gate.Call(ctx, evt, nil)
	return err
}

// ReportHardwareError posts an asynchronous device failure. It returns false once
// the engine has stopped.
func (s *Session) ReportHardwareError(err error) bool {
	return s.gate.PostEvent(EventHardwareError, err)
}

// Defer schedules task on the deferred job worker after the listed jobs. Release
// waits for deferred tasks like for the session's own jobs.
func (s *Session) Defer(name string, task func(ctx context.Context) error, after ...jobqueue.JobID) (jobqueue.JobID, error) {
	return s.jobs.sched.TryEnqueue(Generic{Name: name, Task: task, After: after})
}

// WaitJob blocks until job id has finished and returns its retained failure
func (s *Session) WaitJob(ctx context.Context, id jobqueue.JobID) error {
	return s.jobs.sched.WaitContext(ctx, id)
}

// JobStats returns the deferred job scheduler counters
func (s *Session) JobStats() jobqueue.Stats {
	return s.jobs.sched.Stats()
}

// Close releases the session if needed, stops the job worker and the engine.
// When the release does not finish within ctx, the job worker is stopped, the
// session context is cancelled and the hardware is torn down once the engine has
// exited. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.State() != StateReleased {
			if err := s.Release(ctx); err != nil && !errors.Is(err, ErrRejected) {
				errs = append(errs, err)
			}
		}

		// Stopping the worker cancels running jobs; cancelling the session
		// context unblocks an engine handler still waiting on them.
		stopErr := s.jobs.sched.StopWithTimeout(s.stopTO)
		errs = append(errs, stopErr)
		s.cancel()
		s.gate.Shutdown()

		if s.State() != StateReleased && stopErr == nil {
			teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.stopTO)
			errs = append(errs, s.machine.teardown(teardownCtx))
			cancel()
		}

		s.closeErr = errors.Join(errs...)
		s.log.Info("session closed", logger.Bool("clean", s.closeErr == nil))
	})
	return s.closeErr
}
