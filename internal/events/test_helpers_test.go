// test_helpers_test.go - Shared test helpers for events package
package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/camhal/internal/errors"
)

const (
	// DefaultTestTimeout is the standard timeout for async test operations.
	DefaultTestTimeout = 5 * time.Second
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockConsumer records notifications for assertions
type mockConsumer struct {
	name           string
	processedCount atomic.Int32
	errorOnProcess bool
	panicOnProcess bool
	mu             sync.Mutex
	received       []Notification
}

func (m *mockConsumer) Name() string { return m.name }

func (m *mockConsumer) ProcessNotification(n Notification) error {
	if m.panicOnProcess {
		panic("consumer exploded")
	}

	m.mu.Lock()
	m.received = append(m.received, n)
	m.mu.Unlock()

	m.processedCount.Add(1)

	if m.errorOnProcess {
		return errors.NewStd("mock error")
	}
	return nil
}

func (m *mockConsumer) notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.received))
	copy(out, m.received)
	return out
}

// waitForCount polls until the consumer has processed want notifications
func waitForCount(t *testing.T, c *mockConsumer, want int32) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.processedCount.Load() >= want
	}, DefaultTestTimeout, 5*time.Millisecond, "consumer %s processed %d, want %d", c.name, c.processedCount.Load(), want)
}

func testNotification(kind Kind, code errors.Code, msg string) Notification {
	return NewNotification(kind, code, "test", errors.NewStd(msg))
}
