package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("worker queue stopped")

const localBuffer = 1024

type localTask struct {
	kind string
	raw  []byte
}

// LocalQueue runs tasks on a fixed pool of goroutines. A failing task is
// retried with exponential backoff up to MaxAttempts times, then logged and
// dropped. Tasks do not survive a restart.
type LocalQueue struct {
	reg         *Registry
	log         *slog.Logger
	concurrency int
	maxAttempts int

	// InitialInterval and MaxInterval bound the retry backoff. Tests shrink them.
	InitialInterval time.Duration
	MaxInterval     time.Duration

	tasks   chan localTask
	pending sync.WaitGroup
	running sync.WaitGroup
	cancel  context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	started bool
}

// NewLocal creates a LocalQueue. Call Start before tasks are processed;
// Enqueue buffers until then.
func NewLocal(reg *Registry, opts Options, log *slog.Logger) *LocalQueue {
	return &LocalQueue{
		reg:             reg,
		log:             log,
		concurrency:     max(opts.Concurrency, 1),
		maxAttempts:     max(opts.MaxAttempts, 1),
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		tasks:           make(chan localTask, localBuffer),
	}
}

// Enqueue marshals args and hands them to the pool.
func (q *LocalQueue) Enqueue(ctx context.Context, args Args) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", args.Kind(), err)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrStopped
	}
	q.pending.Add(1)
	select {
	case q.tasks <- localTask{kind: args.Kind(), raw: raw}:
		return nil
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	}
}

// Start launches the worker goroutines. The context only scopes startup;
// Stop ends processing.
func (q *LocalQueue) Start(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	q.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for range q.concurrency {
		q.running.Add(1)
		go q.loop(runCtx)
	}
	q.log.Info("local worker queue started", "concurrency", q.concurrency, "max_attempts", q.maxAttempts)
	return nil
}

// Wait blocks until every enqueued task, including tasks enqueued by running
// tasks, has finished or been dropped.
func (q *LocalQueue) Wait() { q.pending.Wait() }

// Stop refuses new tasks, drains the buffer and waits for the workers. When
// ctx expires first, in-flight retries are cancelled.
func (q *LocalQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.tasks)
	started := q.started
	q.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return fmt.Errorf("stop local queue: %w", ctx.Err())
	}
}

func (q *LocalQueue) loop(ctx context.Context) {
	defer q.running.Done()
	for t := range q.tasks {
		q.run(ctx, t)
		q.pending.Done()
	}
}

func (q *LocalQueue) run(ctx context.Context, t localTask) {
	handler, ok := q.reg.local[t.kind]
	if !ok {
		q.log.Error("no handler registered for task", "kind", t.kind)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.InitialInterval
	b.MaxInterval = q.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, handler(ctx, t.raw)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(q.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.log.Warn("task failed, retrying", "kind", t.kind, "attempt", attempt, "retry_in", next, "err", err)
		}),
	)
	if err != nil {
		q.log.Warn("task abandoned", "kind", t.kind, "attempts", attempt, "err", err)
	}
}
