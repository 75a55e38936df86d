// Package store is the document-store collaborator: point reads, filtered
// queries, atomic array add/remove updates and batched writes over GORM.
// Every committed mutation is published on the event bus so live
// subscriptions see it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clmc/procurement/internal/db"
	"github.com/clmc/procurement/internal/events"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a point read or targeted update matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("conflict")
)

// Store wraps a *gorm.DB. A Store handed to a Batch callback is bound to the
// batch transaction and defers its events until commit.
type Store struct {
	db      *gorm.DB
	bus     *events.Bus
	now     func() time.Time
	pending *[]events.Event
}

// New creates a Store. bus may be nil when nothing subscribes.
func New(gormDB *gorm.DB, bus *events.Bus) *Store {
	return &Store{
		db:  gormDB,
		bus: bus,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Batch runs fn inside one transaction. Either every write in fn commits or
// none does; events are published only after a successful commit.
func (s *Store) Batch(ctx context.Context, fn func(tx *Store) error) error {
	var queued []events.Event
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bound := &Store{db: tx, bus: s.bus, now: s.now, pending: &queued}
		return fn(bound)
	})
	if err != nil {
		return err
	}
	if s.pending != nil {
		*s.pending = append(*s.pending, queued...)
		return nil
	}
	for _, e := range queued {
		s.publishNow(ctx, e)
	}
	return nil
}

// transaction runs fn in a transaction (a savepoint when already inside one).
func (s *Store) transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) publish(ctx context.Context, topic, key string, data any) {
	if s.bus == nil {
		return
	}
	e := events.Event{Topic: topic, Key: key}
	if data != nil {
		// A snapshot is a convenience; subscribers refetch by key without one.
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	if s.pending != nil {
		*s.pending = append(*s.pending, e)
		return
	}
	s.publishNow(ctx, e)
}

func (s *Store) publishNow(ctx context.Context, e events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, e)
}

// forUpdate adds a row lock on PostgreSQL. SQLite serialises writers on its
// single pooled connection and does not understand FOR UPDATE.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if db.IsPostgres(tx) {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func wrap(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	case isDuplicate(err):
		return fmt.Errorf("%s: %w", what, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
