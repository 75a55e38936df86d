package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgChannel = "clmc_events"
	// NOTIFY payloads are capped at 8000 bytes; larger snapshots travel
	// without Data and receivers refetch by key.
	maxNotifyPayload = 7900
)

// PGRelay fans events out through PostgreSQL LISTEN/NOTIFY so that every
// process sharing the database sees the same change feed.
type PGRelay struct {
	pool *pgxpool.Pool
	bus  *Bus
	log  *slog.Logger
}

// NewPGRelay creates a relay for bus. Call Listen in its own goroutine and
// attach the relay with bus.SetRelay.
func NewPGRelay(pool *pgxpool.Pool, bus *Bus, log *slog.Logger) *PGRelay {
	return &PGRelay{pool: pool, bus: bus, log: log}
}

// Forward implements Relay.
func (r *PGRelay) Forward(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if len(payload) > maxNotifyPayload {
		e.Data = nil
		if payload, err = json.Marshal(e); err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
	}
	if _, err := r.pool.Exec(ctx, "SELECT pg_notify($1, $2)", pgChannel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Listen delivers events published by other processes until ctx is done.
// Connection failures are retried after a short pause.
func (r *PGRelay) Listen(ctx context.Context) {
	for {
		err := r.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("event relay listener stopped; reconnecting", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *PGRelay) listenOnce(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	r.log.Info("event relay listening", "channel", pgChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		var e Event
		if err := json.Unmarshal([]byte(n.Payload), &e); err != nil {
			r.log.Warn("event relay dropped malformed payload", "err", err)
			continue
		}
		if e.Origin == r.bus.Origin() {
			continue
		}
		r.bus.Deliver(e)
	}
}
