package wallet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/brojonat/solwallet/service/metrics"
)

// ErrSequencerClosed is returned by Do after Close.
var ErrSequencerClosed = errors.New("sequencer closed")

const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

type sequencedJob struct {
	ctx   context.Context
	fn    func(context.Context)
	state atomic.Int32
	done  chan struct{}
}

// Sequencer runs jobs one at a time per key, in arrival order. Each key gets
// its own goroutine and queue, so work for different keys runs in parallel.
//
// A job that has started always runs to completion on a context detached from
// the caller's cancellation. A job still waiting in the queue is dropped if the
// caller's context ends first.
type Sequencer struct {
	lifecycle sync.RWMutex // held for reading while enqueueing, for writing by Close
	closed    bool

	mu      sync.Mutex
	queues  map[string]chan *sequencedJob
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewSequencer creates an empty sequencer. If m is nil, no metrics are recorded.
func NewSequencer(m *metrics.Metrics, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		queues:  make(map[string]chan *sequencedJob),
		metrics: m,
		logger:  logger,
	}
}

// Do runs fn after every earlier job for key has finished and waits for it.
// It returns ctx.Err() only if fn never started.
func (s *Sequencer) Do(ctx context.Context, key string, fn func(context.Context)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job := &sequencedJob{ctx: ctx, fn: fn, done: make(chan struct{})}
	if err := s.enqueue(ctx, key, job); err != nil {
		return err
	}

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		if job.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		// Already running; the outcome must still be observed.
		<-job.done
		return nil
	}
}

func (s *Sequencer) enqueue(ctx context.Context, key string, job *sequencedJob) error {
	s.lifecycle.RLock()
	defer s.lifecycle.RUnlock()
	if s.closed {
		return ErrSequencerClosed
	}

	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = make(chan *sequencedJob, 64)
		s.queues[key] = q
		s.wg.Add(1)
		go s.run(key, q)
	}
	s.mu.Unlock()

	s.depth(key, 1)
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		s.depth(key, -1)
		return ctx.Err()
	}
}

func (s *Sequencer) run(key string, q chan *sequencedJob) {
	defer s.wg.Done()
	for job := range q {
		if !job.state.CompareAndSwap(jobQueued, jobRunning) {
			s.logger.Debug("dropping abandoned job", "key", key)
			s.depth(key, -1)
			close(job.done)
			continue
		}
		job.fn(context.WithoutCancel(job.ctx))
		s.depth(key, -1)
		close(job.done)
	}
}

func (s *Sequencer) depth(key string, delta float64) {
	if s.metrics != nil {
		s.metrics.RecordSequencerDepth(key, delta)
	}
}

// Close stops accepting jobs and waits for queued ones to drain.
func (s *Sequencer) Close() {
	s.lifecycle.Lock()
	if s.closed {
		s.lifecycle.Unlock()
		return
	}
	s.closed = true
	s.mu.Lock()
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()
	s.lifecycle.Unlock()
	s.wg.Wait()
}
