package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSafeGo_Success(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	assert.Eventually(t, executed.Load, time.Second, 5*time.Millisecond)
}

func TestSafeGo_WithError(t *testing.T) {
	executed := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error {
		executed.Store(true)
		return errors.New("test error")
	})

	assert.Eventually(t, executed.Load, time.Second, 5*time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	timedOut := atomic.Bool{}

	SafeGo(context.Background(), 20*time.Millisecond, "test task", nil, func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})

	assert.Eventually(t, timedOut.Load, time.Second, 5*time.Millisecond)
}

func TestSafeGo_PanicRecovery(t *testing.T) {
	reached := atomic.Bool{}

	SafeGo(context.Background(), time.Second, "test task", nil, func(ctx context.Context) error {
		reached.Store(true)
		panic("test panic")
	})

	assert.Eventually(t, reached.Load, time.Second, 5*time.Millisecond)
}

func TestBatch(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	executed := atomic.Int32{}

	errs := Batch(context.Background(), items, 2, "test batch", time.Second, func(ctx context.Context, item int) error {
		executed.Add(1)
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int32(5), executed.Load())
}

func TestBatch_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32

	Batch(context.Background(), make([]int, 20), 3, "test batch", time.Second, func(ctx context.Context, _ int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatch_WithErrors(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	errs := Batch(context.Background(), items, 2, "test batch", time.Second, func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return errors.New("even number error")
		}
		return nil
	})

	assert.Len(t, errs, 2)
}

func TestBatch_PanicBecomesError(t *testing.T) {
	errs := Batch(context.Background(), []int{1}, 1, "test batch", time.Second, func(ctx context.Context, item int) error {
		panic("boom")
	})

	assert.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "panic: boom")
}

func TestBatch_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	executed := atomic.Int32{}

	errs := Batch(ctx, []int{1, 2, 3, 4, 5}, 2, "test batch", time.Second, func(ctx context.Context, item int) error {
		executed.Add(1)
		return nil
	})

	assert.Equal(t, int32(0), executed.Load())
	assert.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}
