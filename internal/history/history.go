// Package history records the per-project edit timeline.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/worker"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Store persists and lists entries.
type Store interface {
	AppendHistory(ctx context.Context, e *model.EditHistoryEntry) error
	ListHistory(ctx context.Context, projectID string) ([]model.EditHistoryEntry, error)
}

// Actor identifies who made a change.
type Actor struct {
	UserID string
	Name   string
}

// Register installs the record_history task handler.
func Register(reg *worker.Registry, st Store) {
	worker.Handle(reg, func(ctx context.Context, args worker.RecordHistoryArgs) error {
		e := args.Entry
		return st.AppendHistory(ctx, &e)
	})
}

// Recorder appends entries through the worker queue.
type Recorder struct {
	store  Store
	queue  worker.Enqueuer
	log    *slog.Logger
	now    func() time.Time
	writes metric.Int64Counter
}

// New creates a Recorder.
func New(st Store, queue worker.Enqueuer, log *slog.Logger) *Recorder {
	return &Recorder{
		store:  st,
		queue:  queue,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		writes: observability.Counter("procurement.history.records", "Edit history entries scheduled."),
	}
}

// Record schedules one entry. It never fails the caller: enqueue errors are
// logged. An empty changes list is still a valid entry.
func (r *Recorder) Record(ctx context.Context, projectID string, action model.HistoryAction, actor Actor, changes []model.FieldChange) {
	if changes == nil {
		changes = []model.FieldChange{}
	}
	entry := model.EditHistoryEntry{
		ProjectID: projectID,
		UserID:    actor.UserID,
		UserName:  actor.Name,
		Action:    action,
		Changes:   changes,
		Timestamp: r.now(),
	}
	r.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(action))))
	if err := r.queue.Enqueue(context.WithoutCancel(ctx), worker.RecordHistoryArgs{Entry: entry}); err != nil {
		r.log.Warn("record history failed", "project_id", projectID, "action", action, "err", err)
	}
}

// List returns the project's timeline, newest first.
func (r *Recorder) List(ctx context.Context, projectID string) ([]model.EditHistoryEntry, error) {
	entries, err := r.store.ListHistory(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// Diff compares normalised old and new values of one field and reports
// whether they differ. Strings are trimmed, decimals compare by value and
// nil equals the zero value.
func Diff(field string, oldValue, newValue any) (model.FieldChange, bool) {
	o, n := normalize(oldValue), normalize(newValue)
	change := model.FieldChange{Field: field, OldValue: o, NewValue: n}
	if od, ok := o.(decimal.Decimal); ok {
		if nd, ok := n.(decimal.Decimal); ok {
			return change, !od.Equal(nd)
		}
	}
	return change, !reflect.DeepEqual(o, n)
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case *string:
		if x == nil {
			return ""
		}
		return strings.TrimSpace(*x)
	case decimal.Decimal:
		return x
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero
		}
		return *x
	case int:
		return decimal.NewFromInt(int64(x))
	case int64:
		return decimal.NewFromInt(x)
	case float64:
		return decimal.NewFromFloat(x)
	default:
		return v
	}
}
