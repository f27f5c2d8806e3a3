package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSpacesConcurrentCallers(t *testing.T) {
	l := New(200 * time.Millisecond)
	start := time.Now()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		times []time.Duration
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Acquire(context.Background()))
			mu.Lock()
			times = append(times, time.Since(start))
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	require.Len(t, times, 10)
	assert.GreaterOrEqual(t, times[9], 1800*time.Millisecond)
	assert.Less(t, times[0], 200*time.Millisecond)
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestZeroIntervalNeverBlocks(t *testing.T) {
	l := New(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Acquire(context.Background()))
}

func TestAcquireAfterIdleIsImmediate(t *testing.T) {
	l := New(10 * time.Millisecond)
	require.NoError(t, l.Acquire(context.Background()))
	time.Sleep(30 * time.Millisecond)

	begin := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	assert.Less(t, time.Since(begin), 5*time.Millisecond)
}
