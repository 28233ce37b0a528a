package pool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gekko3d/physcore/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveThreadCount(t *testing.T) {
	_, err := New(0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))

	_, err = New(-3, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidConfig))
}

func TestEnqueueRunsTask(t *testing.T) {
	p, err := New(4, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	var ran atomic.Bool
	h, err := p.Enqueue(func() { ran.Store(true) })
	require.NoError(t, err)
	h.Wait()

	assert.True(t, ran.Load())
}

func TestParallelForCoversWholeRange(t *testing.T) {
	p, err := New(4, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	const n = 10_000
	seen := make([]int32, n)
	p.ParallelFor(n, 97, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
	})

	for i, v := range seen {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}

func TestParallelForEmptyRange(t *testing.T) {
	p, err := New(2, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	called := false
	p.ParallelFor(0, 16, func(start, end int) { called = true })
	assert.False(t, called)
}

func TestEnqueueAfterShutdownFails(t *testing.T) {
	p, err := New(2, nil)
	require.NoError(t, err)
	p.Shutdown()

	_, err = p.Enqueue(func() {})
	assert.True(t, errors.Is(err, errs.ErrPoolShutDown))
}

func TestShutdownIsIdempotent(t *testing.T) {
	p, err := New(2, nil)
	require.NoError(t, err)
	p.Shutdown()
	p.Shutdown() // must not panic or block
}

func TestPanicInTaskIsCaughtAndPoolStaysUsable(t *testing.T) {
	p, err := New(2, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	h, err := p.Enqueue(func() { panic("boom") })
	require.NoError(t, err)
	recovered := h.Wait()
	assert.Equal(t, "boom", recovered)

	// Pool must still accept and run new work.
	var ran atomic.Bool
	h2, err := p.Enqueue(func() { ran.Store(true) })
	require.NoError(t, err)
	h2.Wait()
	assert.True(t, ran.Load())
}

func TestThreadCountAndPendingCount(t *testing.T) {
	p, err := New(3, nil)
	require.NoError(t, err)
	defer p.Shutdown()

	assert.Equal(t, 3, p.ThreadCount())

	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		_, err := p.Enqueue(func() { <-block })
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.PendingCount())
	close(block)
}
