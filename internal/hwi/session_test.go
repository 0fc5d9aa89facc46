package hwi

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/events"
	"github.com/tphakala/camhal/internal/jobqueue"
)

func TestSessionParameters(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	s := openTestSession(t, hw, &Config{DefaultParams: Params{"jpeg-quality": "85"}})

	require.NoError(t, s.SetParameters(context.Background(), Params{"iso": "200"}))

	p, err := s.Parameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Params{"jpeg-quality": "85", "iso": "200"}, p)

	p["iso"] = "800"
	again, err := s.Parameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "200", again["iso"], "returned parameters are a copy")

	calls := hw.called()
	assert.Less(t, indexOf(calls, "allocate-params"), indexOf(calls, "init-params"))
	assert.Less(t, indexOf(calls, "init-params"), indexOf(calls, "apply-params"))
}

func TestSessionSetParametersBadPayload(t *testing.T) {
	t.Parallel()

	s := openTestSession(t, newFakeHardware(), nil)
	r, err := s.Gate().Call(context.Background(), EventSetParams, "iso=100")
	require.ErrorIs(t, err, ErrBadValue)
	assert.Equal(t, errors.CodeBadValue, r.Status)
}

// Parameter allocation fails: init never runs its own logic, every dependent job
// reports the same code and only one failure notification is raised.
func TestSessionParameterAllocationFailurePropagates(t *testing.T) {
	t.Parallel()

	notes := &notificationLog{}
	hw := newFakeHardware().failOn("allocate-params", errNoMemory)
	s := openTestSession(t, hw, &Config{Notifier: notes})

	err := s.SetParameters(context.Background(), Params{"iso": "100"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeNoMemory, errors.CodeOf(err))

	require.Eventually(t, func() bool {
		return s.JobStats().Failed == 3
	}, DefaultTestTimeout, 2*time.Millisecond, "param alloc, param init and pproc init fail")

	assert.False(t, hw.hasCalled("init-params"))
	assert.False(t, hw.hasCalled("init-pproc"))
	assert.True(t, hw.hasCalled("allocate-metadata"), "unrelated jobs still run")

	failures := notes.ofKind(events.KindJobFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, errors.CodeNoMemory, failures[0].Code)
	assert.Equal(t, "param-alloc", failures[0].Context["command"])

	_, err = s.Parameters(context.Background())
	assert.Equal(t, errors.CodeNoMemory, errors.CodeOf(err), "failure is sticky")
}

func TestSessionPreviewLifecycle(t *testing.T) {
	t.Parallel()

	notes := &notificationLog{}
	hw := newFakeHardware()
	s := openTestSession(t, hw, &Config{Notifier: notes})
	ctx := context.Background()

	assert.Equal(t, StatePreviewStopped, s.State())
	require.NoError(t, s.StopPreview(ctx), "stopping a stopped preview is a no-op")

	require.NoError(t, s.StartPreview(ctx))
	assert.Equal(t, StatePreviewing, s.State())
	require.NoError(t, s.StartPreview(ctx))

	require.NoError(t, s.StopPreview(ctx))
	assert.Equal(t, StatePreviewStopped, s.State())

	calls := hw.called()
	assert.Less(t, indexOf(calls, "allocate-metadata"), indexOf(calls, "alloc-buffers:preview"))
	assert.Less(t, indexOf(calls, "start:preview"), indexOf(calls, "stop:preview"))
	assert.True(t, hw.hasCalled("release-buffers:preview"))

	transitions := notes.ofKind(events.KindSessionState)
	require.Len(t, transitions, 2)
	assert.Equal(t, "previewing", transitions[0].Context["to"])
	assert.Equal(t, "preview-stopped", transitions[1].Context["to"])
}

func TestSessionInvalidEvents(t *testing.T) {
	t.Parallel()

	s := openTestSession(t, newFakeHardware(), nil)
	ctx := context.Background()

	for _, call := range []func(context.Context) error{s.TakePicture, s.StartRecording, s.StopRecording} {
		err := call(ctx)
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, errors.CodeInvalidState, errors.CodeOf(err))
	}
	assert.Equal(t, StatePreviewStopped, s.State(), "invalid events leave the state unchanged")
}

func TestSessionTakePicture(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	gate := make(chan struct{})
	hw.captureGate = gate
	s := openTestSession(t, hw, nil)
	ctx := context.Background()

	require.NoError(t, s.StartPreview(ctx))
	require.NoError(t, s.TakePicture(ctx), "take picture returns before the capture")
	assert.Equal(t, StateTakingPicture, s.State())
	assert.ErrorIs(t, s.TakePicture(ctx), ErrInvalidState)

	close(gate)
	waitForState(t, s, StatePreviewing)

	calls := hw.called()
	assert.Less(t, indexOf(calls, "init-pproc"), indexOf(calls, "encode-session"))
	assert.Less(t, indexOf(calls, "encode-session"), indexOf(calls, "start-pproc"))
	assert.Less(t, indexOf(calls, "start-pproc"), indexOf(calls, "alloc-buffers:snapshot"))
	assert.Less(t, indexOf(calls, "capture"), indexOf(calls, "stop:snapshot"))

	require.NoError(t, s.TakePicture(ctx))
	waitForState(t, s, StatePreviewing)
	assert.Equal(t, 1, countOf(hw.called(), "encode-session"), "encode session is created once")
}

func TestSessionFailedCaptureReturnsToPreview(t *testing.T) {
	t.Parallel()

	notes := &notificationLog{}
	hw := newFakeHardware().failOn("encode-session", errDevice)
	s := openTestSession(t, hw, &Config{Notifier: notes})
	ctx := context.Background()

	require.NoError(t, s.StartPreview(ctx))
	require.NoError(t, s.TakePicture(ctx))
	waitForState(t, s, StatePreviewing)

	assert.False(t, hw.hasCalled("capture"))
	require.Len(t, notes.ofKind(events.KindJobFailed), 1)

	// A failed capture pipeline is rebuilt on the next attempt
	hw.failOn("encode-session", nil)
	require.NoError(t, s.TakePicture(ctx))
	waitForState(t, s, StatePreviewing)
	assert.True(t, hw.hasCalled("capture"))
}

func TestSessionCancelPicture(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	hw.captureGate = make(chan struct{})
	s := openTestSession(t, hw, nil)

	var cancelled atomic.Bool
	ctx := context.Background()
	require.NoError(t, s.StartPreview(ctx))
	require.NoError(t, s.TakePicture(ctx))

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancelled.Store(true)
		close(hw.captureGate)
	}()
	require.NoError(t, s.CancelPicture(ctx))
	assert.True(t, cancelled.Load())
	assert.Equal(t, StatePreviewing, s.State())
}

func TestSessionRecording(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	s := openTestSession(t, hw, nil)
	ctx := context.Background()

	require.NoError(t, s.StartPreview(ctx))
	require.NoError(t, s.StartRecording(ctx))
	assert.Equal(t, StateRecording, s.State())
	require.NoError(t, s.StopRecording(ctx))
	assert.Equal(t, StatePreviewing, s.State())

	require.NoError(t, s.StartRecording(ctx))
	require.NoError(t, s.StopPreview(ctx), "stop preview also stops recording")
	assert.Equal(t, StatePreviewStopped, s.State())
	assert.Equal(t, 2, countOf(hw.called(), "stop:video"))
}

func TestSessionHardwareError(t *testing.T) {
	t.Parallel()

	notes := &notificationLog{}
	hw := newFakeHardware()
	s := openTestSession(t, hw, &Config{Notifier: notes})
	ctx := context.Background()

	require.NoError(t, s.StartPreview(ctx))
	require.True(t, s.ReportHardwareError(errDevice))
	waitForState(t, s, StatePreviewStopped)

	errs := notes.ofKind(events.KindHardwareError)
	require.Len(t, errs, 1)
	assert.Equal(t, errors.CodeDeviceFailure, errs[0].Code)
	assert.True(t, hw.hasCalled("stop:preview"))

	require.NoError(t, s.StartPreview(ctx), "session recovers after a hardware error")
}

func TestSessionCompositionFollowsDeviceCount(t *testing.T) {
	t.Parallel()

	single := &fakeCompositor{}
	s1 := openTestSession(t, newFakeHardware(), &Config{Devices: 1, Compositor: single})
	require.NoError(t, s1.StartPreview(context.Background()))
	enabled, ok := single.last()
	require.True(t, ok)
	assert.False(t, enabled)

	dual := &fakeCompositor{}
	s2 := openTestSession(t, newFakeHardware(), &Config{Devices: 2, Compositor: dual})
	require.NoError(t, s2.StartPreview(context.Background()))
	enabled, _ = dual.last()
	assert.True(t, enabled)

	require.NoError(t, s2.StopPreview(context.Background()))
	enabled, _ = dual.last()
	assert.False(t, enabled)
}

func TestSessionReleaseAndClose(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	s, err := Open(context.Background(), hw, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.StartPreview(ctx))
	require.NoError(t, s.Release(ctx))
	assert.Equal(t, StateReleased, s.State())
	assert.True(t, hw.hasCalled("stop:preview"))
	assert.True(t, hw.hasCalled("close"))

	assert.ErrorIs(t, s.StartPreview(ctx), ErrInvalidState)
	assert.ErrorIs(t, s.Release(ctx), ErrInvalidState)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.StartPreview(ctx), ErrRejected)
	assert.False(t, s.ReportHardwareError(errDevice))
}

func TestSessionCloseReleases(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	s, err := Open(context.Background(), hw, nil)
	require.NoError(t, err)

	require.NoError(t, s.StartPreview(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.True(t, hw.hasCalled("close"))
	assert.Equal(t, StateReleased, s.State())
}

func TestSessionDeferredTasks(t *testing.T) {
	t.Parallel()

	s := openTestSession(t, newFakeHardware(), nil)
	ctx := context.Background()

	var order []string
	first, err := s.Defer("first", func(context.Context) error {
		order = append(order, "first")
		return errNoMemory
	})
	require.NoError(t, err)

	var secondRan atomic.Bool
	second, err := s.Defer("second", func(context.Context) error {
		secondRan.Store(true)
		return nil
	}, first)
	require.NoError(t, err)

	err = s.WaitJob(ctx, second)
	require.Error(t, err)
	assert.Equal(t, errors.CodeNoMemory, errors.CodeOf(err))
	assert.False(t, secondRan.Load())
	assert.Equal(t, []string{"first"}, order)

	assert.NoError(t, s.WaitJob(ctx, jobqueue.NoJob))
}

// stuckInitHardware never finishes parameter init until its context ends
type stuckInitHardware struct {
	*fakeHardware
}

func (h stuckInitHardware) InitParameters(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSessionCloseReturnsWhenJobIsStuck(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	s, err := Open(context.Background(), stuckInitHardware{hw}, &Config{StopTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	closed := make(chan error, 1)
	go func() { closed <- s.Close(ctx) }()

	select {
	case err := <-closed:
		require.Error(t, err, "release did not finish within the close deadline")
	case <-time.After(DefaultTestTimeout):
		t.Fatal("Close blocked on a stuck job")
	}

	assert.Equal(t, StateReleased, s.State())
	assert.True(t, hw.hasCalled("close"), "hardware is closed once the worker has stopped")
	assert.ErrorIs(t, s.StartPreview(context.Background()), ErrRejected)
}

func TestSessionReleaseWaitsForDeferredTasks(t *testing.T) {
	t.Parallel()

	hw := newFakeHardware()
	s := openTestSession(t, hw, nil)

	started := make(chan struct{})
	hold := make(chan struct{})
	_, err := s.Defer("slow", func(ctx context.Context) error {
		close(started)
		select {
		case <-hold:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)
	<-started

	released := make(chan error, 1)
	go func() { released <- s.Release(context.Background()) }()

	select {
	case err := <-released:
		t.Fatalf("Release returned while a deferred task was running: %v", err)
	case <-time.After(ShortTestTimeout):
	}
	assert.False(t, hw.hasCalled("close"))

	close(hold)
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(DefaultTestTimeout):
		t.Fatal("Release did not finish after the deferred task")
	}
	assert.True(t, hw.hasCalled("close"))
	assert.Equal(t, StateReleased, s.State())
}

func TestSessionOpenFailsWhenJobTableTooSmall(t *testing.T) {
	t.Parallel()

	// Failed jobs are retained, so the table is still full on the third enqueue
	hw := newFakeHardware().failOn("allocate-params", errNoMemory)
	_, err := Open(context.Background(), hw, &Config{JobCapacity: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, jobqueue.ErrQueueFull)
}

func TestSessionIDsAreUnique(t *testing.T) {
	t.Parallel()

	a := openTestSession(t, newFakeHardware(), nil)
	b := openTestSession(t, newFakeHardware(), nil)
	assert.Len(t, a.ID(), 36)
	assert.NotEqual(t, a.ID(), b.ID())
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

func TestStreamTypeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stream StreamType
		want   string
	}{
		{StreamPreview, "preview"},
		{StreamSnapshot, "snapshot"},
		{StreamVideo, "video"},
		{StreamVideo + 1, "unknown"},
		{0, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.stream.String())
	}
}
