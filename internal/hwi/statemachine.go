package hwi

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/events"
	"github.com/tphakala/camhal/internal/jobqueue"
	"github.com/tphakala/camhal/internal/logger"
	"github.com/tphakala/camhal/internal/observability/metrics"
)

// State is the camera session state owned by the engine
type State int32

const (
	StatePreviewStopped State = iota + 1
	StatePreviewing
	StateTakingPicture
	StateRecording
	StateReleased
)

func (s State) String() string {
	switch s {
	case StatePreviewStopped:
		return "preview-stopped"
	case StatePreviewing:
		return "previewing"
	case StateTakingPicture:
		return "taking-picture"
	case StateRecording:
		return "recording"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// stateMachine handles events on the engine goroutine. Only state is read from
// other goroutines.
type stateMachine struct {
	state atomic.Int32

	hw          Hardware
	jobs        *deferredJobs
	params      Params
	snapshotJob jobqueue.JobID
	devices     int
	compositor  Compositor
	notifier    events.Notifier
	recorder    metrics.GateRecorder
	log         logger.Logger
}

func (m *stateMachine) current() State {
	return State(m.state.Load())
}

// handle is the engine HandlerFunc
func (m *stateMachine) handle(ctx context.Context, evt Event, payload any) Result {
	if evt == EventSnapshotDone && m.current() != StateTakingPicture {
		return m.staleSnapshot(payload)
	}
	if m.current() == StateReleased {
		return m.invalid(evt)
	}

	switch evt {
	case EventSetParams:
		return m.setParams(ctx, payload)
	case EventGetParams:
		return m.getParams(ctx)
	case EventRelease:
		return m.release(ctx)
	case EventHardwareError:
		return m.hardwareError(ctx, payload)
	}

	switch m.current() {
	case StatePreviewStopped:
		return m.procEvtPreviewStopped(ctx, evt, payload)
	case StatePreviewing:
		return m.procEvtPreviewing(ctx, evt, payload)
	case StateTakingPicture:
		return m.procEvtTakingPicture(ctx, evt, payload)
	case StateRecording:
		return m.procEvtRecording(ctx, evt)
	default:
		return m.invalid(evt)
	}
}

func (m *stateMachine) procEvtPreviewStopped(_ context.Context, evt Event, payload any) Result {
	switch evt {
	case EventStartPreview:
		if _, err := m.jobs.startStream(StreamPreview); err != nil {
			return errResult(evt, err)
		}
		if m.compositor != nil {
			m.compositor.SetCompositionEnabled(m.devices > 1)
		}
		m.transition(StatePreviewing)
		return okResult(evt, nil)
	case EventStopPreview, EventCancelPicture:
		return okResult(evt, nil)
	case EventSnapshotDone:
		return m.staleSnapshot(payload)
	default:
		return m.invalid(evt)
	}
}

func (m *stateMachine) procEvtPreviewing(ctx context.Context, evt Event, payload any) Result {
	switch evt {
	case EventStartPreview, EventCancelPicture:
		return okResult(evt, nil)
	case EventStopPreview:
		err := m.stopStream(ctx, StreamPreview)
		m.disableComposition()
		m.transition(StatePreviewStopped)
		if err != nil {
			return errResult(evt, err)
		}
		return okResult(evt, nil)
	case EventTakePicture:
		if err := m.jobs.ensureCapturePipeline(); err != nil {
			return errResult(evt, err)
		}
		id, err := m.jobs.startStream(StreamSnapshot)
		if err != nil {
			return errResult(evt, err)
		}
		m.snapshotJob = id
		m.transition(StateTakingPicture)
		return okResult(evt, nil)
	case EventStartRecording:
		if _, err := m.jobs.startStream(StreamVideo); err != nil {
			return errResult(evt, err)
		}
		m.transition(StateRecording)
		return okResult(evt, nil)
	case EventSnapshotDone:
		return m.staleSnapshot(payload)
	default:
		return m.invalid(evt)
	}
}

func (m *stateMachine) procEvtTakingPicture(ctx context.Context, evt Event, payload any) Result {
	switch evt {
	case EventSnapshotDone:
		outcome, ok := payload.(snapshotOutcome)
		if !ok || outcome.Job != m.snapshotJob {
			return m.staleSnapshot(payload)
		}
		stopErr := m.stopStream(ctx, StreamSnapshot)
		m.snapshotJob = jobqueue.NoJob
		m.transition(StatePreviewing)
		if outcome.Err != nil {
			return errResult(evt, outcome.Err)
		}
		if stopErr != nil {
			return errResult(evt, stopErr)
		}
		return okResult(evt, nil)
	case EventCancelPicture:
		err := m.stopStream(ctx, StreamSnapshot)
		m.snapshotJob = jobqueue.NoJob
		m.transition(StatePreviewing)
		if err != nil {
			return errResult(evt, err)
		}
		return okResult(evt, nil)
	default:
		return m.invalid(evt)
	}
}

func (m *stateMachine) procEvtRecording(ctx context.Context, evt Event) Result {
	switch evt {
	case EventStartRecording:
		return okResult(evt, nil)
	case EventStopRecording:
		err := m.stopStream(ctx, StreamVideo)
		m.transition(StatePreviewing)
		if err != nil {
			return errResult(evt, err)
		}
		return okResult(evt, nil)
	case EventStopPreview:
		err := errors.Join(m.stopStream(ctx, StreamVideo), m.stopStream(ctx, StreamPreview))
		m.disableComposition()
		m.transition(StatePreviewStopped)
		if err != nil {
			return errResult(evt, err)
		}
		return okResult(evt, nil)
	default:
		return m.invalid(evt)
	}
}

func (m *stateMachine) setParams(ctx context.Context, payload any) Result {
	p, ok := payload.(Params)
	if !ok {
		return errResult(EventSetParams, errors.New(ErrBadValue).
			Context("payload_type", typeName(payload)).
			Build())
	}
	if err := m.jobs.waitParams(ctx); err != nil {
		return errResult(EventSetParams, err)
	}
	if err := m.hw.ApplyParameters(ctx, p); err != nil {
		return errResult(EventSetParams, err)
	}
	for k, v := range p {
		m.params[k] = v
	}
	return okResult(EventSetParams, nil)
}

func (m *stateMachine) getParams(ctx context.Context) Result {
	if err := m.jobs.waitParams(ctx); err != nil {
		return errResult(EventGetParams, err)
	}
	return okResult(EventGetParams, m.params.Clone())
}

// release waits for outstanding jobs, tears down every stream and closes the
// hardware. Released is final.
func (m *stateMachine) release(ctx context.Context) Result {
	if err := m.jobs.waitAll(ctx); err != nil {
		return errResult(EventRelease, err)
	}
	if err := m.teardown(ctx); err != nil {
		return errResult(EventRelease, err)
	}
	return okResult(EventRelease, nil)
}

// teardown stops every stream, closes the hardware and enters Released. It runs
// on the engine goroutine, or after the engine and job worker have exited.
func (m *stateMachine) teardown(ctx context.Context) error {
	var errs []error
	for stream := range m.jobs.streams {
		errs = append(errs, m.stopStream(ctx, stream))
	}
	m.jobs.clearFailures()
	m.disableComposition()
	errs = append(errs, m.hw.Close())

	m.transition(StateReleased)
	return errors.Join(errs...)
}

// hardwareError stops every stream after an asynchronous device failure
func (m *stateMachine) hardwareError(ctx context.Context, payload any) Result {
	cause, _ := payload.(error)
	if cause == nil {
		cause = errors.Newf("hardware error reported").
			Component(ComponentHWI).
			Category(errors.CategoryHardware).
			Code(errors.CodeDeviceFailure).
			Build()
	}

	m.notifier.Notify(events.NewNotification(events.KindHardwareError, errors.CodeOf(cause), ComponentHWI, cause).
		WithContext("state", m.current().String()))

	for stream := range m.jobs.streams {
		if err := m.stopStream(ctx, stream); err != nil {
			m.log.Debug("stream teardown after hardware error failed",
				logger.String("stream", stream.String()),
				logger.Error(err))
		}
	}
	m.snapshotJob = jobqueue.NoJob
	m.disableComposition()
	m.transition(StatePreviewStopped)
	return errResult(EventHardwareError, cause)
}

// stopStream waits for the stream's start job and tears the stream down. A stream
// whose start job failed was never started and needs no teardown.
func (m *stateMachine) stopStream(ctx context.Context, stream StreamType) error {
	startErr := m.jobs.waitStream(ctx, stream)
	m.jobs.clearStream(stream)
	if startErr != nil {
		m.log.Debug("stream was not started",
			logger.String("stream", stream.String()),
			logger.Error(startErr))
		return nil
	}
	return errors.Join(
		m.hw.StopStream(ctx, stream),
		m.hw.ReleaseStreamBuffers(ctx, stream),
	)
}

func (m *stateMachine) disableComposition() {
	if m.compositor != nil {
		m.compositor.SetCompositionEnabled(false)
	}
}

func (m *stateMachine) staleSnapshot(payload any) Result {
	outcome, _ := payload.(snapshotOutcome)
	m.log.Debug("ignoring snapshot completion",
		logger.Uint32("job_id", uint32(outcome.Job)),
		logger.String("state", m.current().String()))
	return okResult(EventSnapshotDone, nil)
}

func (m *stateMachine) invalid(evt Event) Result {
	state := m.current()
	m.log.Debug("event rejected in current state",
		logger.String("event", evt.String()),
		logger.String("state", state.String()))
	return errResult(evt, errors.New(ErrInvalidState).
		Context("event", evt.String()).
		Context("state", state.String()).
		Build())
}

func (m *stateMachine) transition(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	m.recorder.RecordState(to.String())
	m.log.Info("session state changed",
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	m.notifier.Notify(events.NewNotification(events.KindSessionState, errors.CodeOK, ComponentHWI, nil).
		WithContext("from", from.String()).
		WithContext("to", to.String()))
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
