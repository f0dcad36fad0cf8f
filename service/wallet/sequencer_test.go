package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencer_PreservesOrderPerKey(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	defer seq.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	gate := make(chan struct{})

	// Hold the queue so the rest pile up behind the first job.
	started := make(chan struct{})
	go func() {
		_ = seq.Do(context.Background(), "treasury", func(ctx context.Context) {
			close(started)
			<-gate
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = seq.Do(context.Background(), "treasury", func(ctx context.Context) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}(i)
		// Enqueue in a known order.
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
}

func TestSequencer_NoOverlapPerKey(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	defer seq.Close()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = seq.Do(context.Background(), "treasury", func(ctx context.Context) {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestSequencer_KeysRunInParallel(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	defer seq.Close()

	aRunning := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = seq.Do(context.Background(), "a", func(ctx context.Context) {
			close(aRunning)
			<-release
		})
	}()
	<-aRunning

	done := make(chan struct{})
	go func() {
		_ = seq.Do(context.Background(), "b", func(ctx context.Context) {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job for key b was blocked by key a")
	}
	close(release)
}

func TestSequencer_QueuedJobAbandonedOnCancel(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	defer seq.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = seq.Do(context.Background(), "treasury", func(ctx context.Context) {
			close(started)
			<-release
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- seq.Do(ctx, "treasury", func(ctx context.Context) { ran.Store(true) })
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-errCh
	assert.True(t, errors.Is(err, context.Canceled))

	close(release)
	// A later job still runs, after the abandoned one has been skipped.
	require.NoError(t, seq.Do(context.Background(), "treasury", func(ctx context.Context) {}))
	assert.False(t, ran.Load())
}

func TestSequencer_RunningJobSurvivesCancel(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	defer seq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var jobCtxErr error
	var finished atomic.Bool

	errCh := make(chan error, 1)
	go func() {
		errCh <- seq.Do(ctx, "treasury", func(jobCtx context.Context) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			jobCtxErr = jobCtx.Err()
			finished.Store(true)
		})
	}()
	<-started
	cancel()

	require.NoError(t, <-errCh)
	assert.True(t, finished.Load(), "Do returns only after a started job completes")
	assert.NoError(t, jobCtxErr)
}

func TestSequencer_Close(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	require.NoError(t, seq.Do(context.Background(), "treasury", func(ctx context.Context) {}))

	seq.Close()
	seq.Close()

	err := seq.Do(context.Background(), "treasury", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrSequencerClosed)
}

func TestSequencer_CancelledBeforeEnqueue(t *testing.T) {
	seq := NewSequencer(nil, discardLogger())
	defer seq.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := seq.Do(ctx, "treasury", func(ctx context.Context) { called = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
