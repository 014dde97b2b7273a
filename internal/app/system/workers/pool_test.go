package workers_test

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	pool := workers.NewPool[int](size, zap.NewNop())
	ctx := context.Background()

	var running, peak atomic.Int32
	go func() {
		for i := 0; i < 20; i++ {
			err := pool.Submit(ctx, strconv.Itoa(i), func(ctx context.Context) (int, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return i, nil
			})
			assert.NoError(t, err)
		}
		pool.Close()
	}()

	sum := 0
	count := 0
	for r := range pool.Results() {
		require.NoError(t, r.Err)
		sum += r.Value
		count++
	}
	assert.Equal(t, 20, count)
	assert.Equal(t, 190, sum)
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, int64(20), pool.Completed())
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := workers.NewPool[string](2, zap.NewNop())
	ctx := context.Background()

	go func() {
		pool.Submit(ctx, "ok", func(ctx context.Context) (string, error) { return "fine", nil })
		pool.Submit(ctx, "boom", func(ctx context.Context) (string, error) { panic("kaboom") })
		pool.Submit(ctx, "err", func(ctx context.Context) (string, error) { return "", errors.New("failed") })
		pool.Close()
	}()

	got := map[string]workers.Result[string]{}
	for r := range pool.Results() {
		got[r.Name] = r
	}
	require.Len(t, got, 3)
	assert.NoError(t, got["ok"].Err)
	assert.Equal(t, "fine", got["ok"].Value)
	assert.True(t, got["boom"].Panicked)
	assert.ErrorContains(t, got["boom"].Err, "kaboom")
	assert.False(t, got["err"].Panicked)
	assert.Error(t, got["err"].Err)
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := workers.NewPool[int](1, zap.NewNop())
	pool.Close()
	pool.Close()

	err := pool.Submit(context.Background(), "late", func(ctx context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, workers.ErrClosed)

	_, open := <-pool.Results()
	assert.False(t, open, "results should close with no work")
}

func TestPool_SubmitHonorsContext(t *testing.T) {
	pool := workers.NewPool[int](1, zap.NewNop())
	release := make(chan struct{})

	require.NoError(t, pool.Submit(context.Background(), "hold", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, "blocked", func(ctx context.Context) (int, error) { return 2, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	pool.Close()
	n := 0
	for range pool.Results() {
		n++
	}
	assert.Equal(t, 1, n)
}
