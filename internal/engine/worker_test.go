package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsSubmittedWork(t *testing.T) {
	p := NewWorkerPool(4)

	var count int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			atomic.AddInt64(&count, 1)
		}))
	}
	p.Shutdown()

	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)

	var active, peak int64
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			cur := atomic.AddInt64(&active, 1)
			mu.Lock()
			if cur > peak {
				peak = cur
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		}))
	}
	p.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int64(2))
}

func TestWorkerPoolSurvivesPanics(t *testing.T) {
	p := NewWorkerPool(1)

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		panic("boom")
	}))

	// The slot is released and later work still runs.
	ran := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		close(ran)
	}))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("work after a panic never ran")
	}
	p.Shutdown()
}

func TestWorkerPoolRejectsAfterShutdown(t *testing.T) {
	p := NewWorkerPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPoolShutdownIsIdempotent(t *testing.T) {
	p := NewWorkerPool(2)
	p.Shutdown()
	p.Shutdown()
}

func TestWorkerPoolSubmitRespectsContext(t *testing.T) {
	p := NewWorkerPool(1)

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		<-release
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Shutdown()
}
