// test_helpers_test.go - Shared test helpers for hwi package
package hwi

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camhal/internal/errors"
	"github.com/tphakala/camhal/internal/events"
)

const (
	// DefaultTestTimeout is the standard timeout for async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout bounds waits that are expected to expire.
	ShortTestTimeout = 50 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	errNoMemory = errors.Newf("out of memory").
		Component("test").
		Category(errors.CategoryResource).
		Code(errors.CodeNoMemory).
		Build()
	errDevice = errors.Newf("sensor timeout").
		Component("test").
		Category(errors.CategoryHardware).
		Code(errors.CodeDeviceFailure).
		Build()
)

// fakeHardware records calls and returns injected failures by call name
type fakeHardware struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	applied Params
	closed  bool

	// captureGate, when set, holds CaptureSnapshot until closed
	captureGate chan struct{}
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{fail: make(map[string]error), applied: Params{}}
}

func (h *fakeHardware) failOn(call string, err error) *fakeHardware {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[call] = err
	return h
}

func (h *fakeHardware) record(call string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
	return h.fail[call]
}

func (h *fakeHardware) called() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

func (h *fakeHardware) hasCalled(call string) bool {
	return slices.Contains(h.called(), call)
}

func (h *fakeHardware) AllocateParameters(context.Context) error { return h.record("allocate-params") }
func (h *fakeHardware) InitParameters(context.Context) error     { return h.record("init-params") }

func (h *fakeHardware) ApplyParameters(_ context.Context, p Params) error {
	if err := h.record("apply-params"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range p {
		h.applied[k] = v
	}
	return nil
}

func (h *fakeHardware) AllocateMetadata(context.Context, int, int) error {
	return h.record("allocate-metadata")
}

func (h *fakeHardware) AllocateStreamBuffers(_ context.Context, s StreamType) error {
	return h.record(fmt.Sprintf("alloc-buffers:%s", s))
}

func (h *fakeHardware) ReleaseStreamBuffers(_ context.Context, s StreamType) error {
	return h.record(fmt.Sprintf("release-buffers:%s", s))
}

func (h *fakeHardware) StartStream(_ context.Context, s StreamType) error {
	return h.record(fmt.Sprintf("start:%s", s))
}

func (h *fakeHardware) StopStream(_ context.Context, s StreamType) error {
	return h.record(fmt.Sprintf("stop:%s", s))
}

func (h *fakeHardware) InitPostProcessor(context.Context) error  { return h.record("init-pproc") }
func (h *fakeHardware) StartPostProcessor(context.Context) error { return h.record("start-pproc") }
func (h *fakeHardware) CreateEncodeSession(context.Context) error {
	return h.record("encode-session")
}

func (h *fakeHardware) CaptureSnapshot(ctx context.Context) error {
	h.mu.Lock()
	gate := h.captureGate
	h.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.record("capture")
}

func (h *fakeHardware) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return h.record("close")
}

// notificationLog collects notifications for assertions
type notificationLog struct {
	mu    sync.Mutex
	items []events.Notification
}

func (l *notificationLog) Notify(n events.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
}

func (l *notificationLog) ofKind(kind events.Kind) []events.Notification {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Notification
	for _, n := range l.items {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// fakeCompositor records composition toggles
type fakeCompositor struct {
	mu      sync.Mutex
	toggles []bool
}

func (c *fakeCompositor) SetCompositionEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toggles = append(c.toggles, enabled)
}

func (c *fakeCompositor) last() (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toggles) == 0 {
		return false, false
	}
	return c.toggles[len(c.toggles)-1], true
}

// openTestSession opens a session that is closed on cleanup
func openTestSession(t *testing.T, hw Hardware, cfg *Config) *Session {
	t.Helper()
	s, err := Open(context.Background(), hw, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, DefaultTestTimeout, 2*time.Millisecond, "session state %s, want %s", s.State(), want)
}

// startTestGate builds an engine and gate around handle and stops them on cleanup
func startTestGate(t *testing.T, handle HandlerFunc) (*Gate, *Engine, *Correlator) {
	t.Helper()
	results := NewCorrelator()
	engine := NewEngine(handle, results)
	engine.Start(context.Background())
	gate := NewGate(engine, results, nil)
	t.Cleanup(gate.Shutdown)
	return gate, engine, results
}
