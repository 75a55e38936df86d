package assignment

import (
	"context"
	"errors"
	"log/slog"

	"github.com/clmc/procurement/internal/worker"
)

// Register installs the task handlers for both sync directions. A handler
// fails with the joined per-item errors so the queue retries the whole task;
// both directions are idempotent.
func Register(reg *worker.Registry, s *Synchronizer) {
	worker.Handle(reg, func(ctx context.Context, args worker.SyncPersonnelArgs) error {
		return errors.Join(s.SyncPersonnelToAssignments(ctx, args.ProjectCode, args.PreviousUserIDs, args.NewUserIDs)...)
	})
	worker.Handle(reg, func(ctx context.Context, args worker.SyncAssignmentArgs) error {
		return errors.Join(s.SyncAssignmentToPersonnel(ctx, args.UserID, args.PreviousCodes, args.NewCodes)...)
	})
}

// Dispatcher is the fire-and-forget entry point used by mutations. Enqueue
// failures are logged, never returned.
type Dispatcher struct {
	queue worker.Enqueuer
	log   *slog.Logger
}

// NewDispatcher creates a Dispatcher on queue.
func NewDispatcher(queue worker.Enqueuer, log *slog.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, log: log}
}

// PersonnelChanged schedules the forward sync for one project.
func (d *Dispatcher) PersonnelChanged(ctx context.Context, projectCode string, previousUserIDs, newUserIDs []string) {
	added, removed := Diff(previousUserIDs, newUserIDs)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	args := worker.SyncPersonnelArgs{ProjectCode: projectCode, PreviousUserIDs: previousUserIDs, NewUserIDs: newUserIDs}
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), args); err != nil {
		d.log.Warn("enqueue personnel sync failed", "project_code", projectCode, "err", err)
	}
}

// AssignmentsChanged schedules the reverse sync for one user.
func (d *Dispatcher) AssignmentsChanged(ctx context.Context, userID string, previousCodes, newCodes []string) {
	added, removed := Diff(previousCodes, newCodes)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	args := worker.SyncAssignmentArgs{UserID: userID, PreviousCodes: previousCodes, NewCodes: newCodes}
	if err := d.queue.Enqueue(context.WithoutCancel(ctx), args); err != nil {
		d.log.Warn("enqueue assignment sync failed", "user_id", userID, "err", err)
	}
}
