package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockShutdownMetrics struct {
	attempts atomic.Int32
	lastStatus atomic.Value
	durations atomic.Int32
}

func (m *mockShutdownMetrics) RecordShutdownAttempt(status string) {
	m.attempts.Add(1)
	m.lastStatus.Store(status)
}

func (m *mockShutdownMetrics) RecordShutdownDuration(seconds float64) {
	m.durations.Add(1)
}

func newTestHandler(t *testing.T, shutdown func(ctx context.Context) error) (*ShutdownHandler, *mockShutdownMetrics) {
	t.Helper()
	h := NewShutdownHandler(shutdown, time.Second, slog.Default())
	metrics := &mockShutdownMetrics{}
	h.metrics = metrics
	return h, metrics
}

func TestShutdownHandlerRunsShutdownOnSignal(t *testing.T) {
	var called atomic.Bool
	h, metrics := newTestHandler(t, func(ctx context.Context) error {
		called.Store(true)
		return nil
	})
	h.Start()
	defer h.Stop()

	h.sigChan <- syscall.SIGTERM
	h.Wait(context.Background())

	assert.True(t, called.Load())
	assert.Equal(t, int32(1), metrics.attempts.Load())
	assert.Equal(t, "success", metrics.lastStatus.Load())
}

func TestShutdownHandlerRecordsFailure(t *testing.T) {
	h, metrics := newTestHandler(t, func(ctx context.Context) error {
		return errors.New("drain failed")
	})
	h.Start()
	defer h.Stop()

	h.sigChan <- syscall.SIGTERM
	h.Wait(context.Background())

	assert.Equal(t, "failure", metrics.lastStatus.Load())
}

func TestShutdownHandlerOnlyRunsOnce(t *testing.T) {
	var calls atomic.Int32
	h, _ := newTestHandler(t, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	h.Start()
	defer h.Stop()

	h.sigChan <- syscall.SIGTERM
	h.Wait(context.Background())
	// once.Do guarantees a second concurrent signal cannot re-enter runShutdown.
	require.Equal(t, int32(1), calls.Load())
}

func TestShutdownHandlerWaitRespectsCallerContext(t *testing.T) {
	h, _ := newTestHandler(t, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.Start()
	defer h.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	h.Wait(ctx)
	assert.Error(t, ctx.Err())
}
