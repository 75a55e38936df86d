// Package worker runs fire-and-forget background tasks. On PostgreSQL tasks
// are River jobs; on SQLite they run on an in-process queue with exponential
// backoff retry.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

// Args is a task payload. It must marshal to JSON; Kind names its handler.
type Args = river.JobArgs

// Enqueuer is what task producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, args Args) error
}

// Queue is the interface exposed by both the River client and LocalQueue.
type Queue interface {
	Enqueuer
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Registry maps task kinds to handlers for both queue implementations.
type Registry struct {
	workers *river.Workers
	local   map[string]func(ctx context.Context, raw []byte) error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		workers: river.NewWorkers(),
		local:   make(map[string]func(context.Context, []byte) error),
	}
}

// Handle registers fn as the handler for tasks of type T. Registering the
// same kind twice panics, as River does.
func Handle[T Args](r *Registry, fn func(ctx context.Context, args T) error) {
	var zero T
	kind := zero.Kind()
	if _, dup := r.local[kind]; dup {
		panic(fmt.Sprintf("worker: handler for %q already registered", kind))
	}
	river.AddWorker(r.workers, &funcWorker[T]{fn: fn})
	r.local[kind] = func(ctx context.Context, raw []byte) error {
		var args T
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("decode %s args: %w", kind, err)
		}
		return fn(ctx, args)
	}
}

// Kinds reports the registered task kinds.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.local))
	for k := range r.local {
		out = append(out, k)
	}
	return out
}

type funcWorker[T Args] struct {
	river.WorkerDefaults[T]
	fn func(context.Context, T) error
}

func (w *funcWorker[T]) Work(ctx context.Context, job *river.Job[T]) error {
	return w.fn(ctx, job.Args)
}

// Options configures either queue implementation.
type Options struct {
	Concurrency int
	MaxAttempts int
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client      *river.Client[pgx.Tx]
	maxAttempts int
	log         *slog.Logger
}

// Enqueue inserts a River job.
func (c *Client) Enqueue(ctx context.Context, args Args) error {
	if _, err := c.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: c.maxAttempts}); err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	return nil
}

// Start begins processing queued jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// New creates a queue implementation appropriate for the given driver.
//   - "postgres": returns a River client backed by pool.
//   - anything else: returns an in-process LocalQueue.
//
// pool may be nil when driver != "postgres".
func New(pool *pgxpool.Pool, driver string, reg *Registry, opts Options, log *slog.Logger) (Queue, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if driver != "postgres" {
		return NewLocal(reg, opts, log), nil
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: opts.Concurrency},
		},
		Workers:     reg.workers,
		MaxAttempts: opts.MaxAttempts,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client, maxAttempts: opts.MaxAttempts, log: log}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
