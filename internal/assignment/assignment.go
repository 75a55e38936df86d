// Package assignment keeps project personnel lists and user project
// assignments consistent with each other.
//
// Each direction diffs only the initiating side's known before/after list and
// applies the counter-update through the store's atomic add/remove
// primitives, so it never overwrites the other document with a value computed
// from a stale read.
package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/personnel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Store is the subset of the document store the synchronizer needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	AddAssignedProject(ctx context.Context, userID, code string) (bool, error)
	RemoveAssignedProject(ctx context.Context, userID, code string) (bool, error)
	AddPersonnel(ctx context.Context, projectCode string, m personnel.Member) (*model.Project, bool, error)
	RemovePersonnel(ctx context.Context, projectCode string, m personnel.Member) (*model.Project, bool, error)
}

// Synchronizer applies membership diffs to the opposite side.
type Synchronizer struct {
	store Store
	bus   *events.Bus
	log   *slog.Logger

	ops      metric.Int64Counter
	failures metric.Int64Counter
}

// New creates a Synchronizer. bus may be nil.
func New(st Store, bus *events.Bus, log *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:    st,
		bus:      bus,
		log:      log,
		ops:      observability.Counter("procurement.assignment.operations", "Counter-updates issued by the assignment synchronizer."),
		failures: observability.Counter("procurement.assignment.failures", "Counter-updates that failed."),
	}
}

// Diff returns the set differences next-prev and prev-next, in first-seen
// order. Empty ids and duplicates are ignored.
func Diff(prev, next []string) (added, removed []string) {
	inPrev := set(prev)
	inNext := set(next)
	seen := make(map[string]bool)
	for _, id := range next {
		if id != "" && !inPrev[id] && !seen[id] {
			added = append(added, id)
			seen[id] = true
		}
	}
	for _, id := range prev {
		if id != "" && !inNext[id] && !seen[id] {
			removed = append(removed, id)
			seen[id] = true
		}
	}
	return added, removed
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// SyncPersonnelToAssignments updates assigned_project_codes of every user
// added to or removed from projectCode's personnel. Users with all_projects
// are not given the code. Operations run sequentially; a failure on one user
// is logged and collected without stopping the rest. The returned slice is
// empty on full success.
func (s *Synchronizer) SyncPersonnelToAssignments(ctx context.Context, projectCode string, previousUserIDs, newUserIDs []string) []error {
	added, removed := Diff(previousUserIDs, newUserIDs)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	if projectCode == "" {
		s.log.Warn("personnel sync skipped: project has no code",
			"added", added, "removed", removed)
		return nil
	}

	ctx, span := observability.Tracer().Start(ctx, "assignment.SyncPersonnelToAssignments")
	defer span.End()
	span.SetAttributes(attribute.String("project_code", projectCode),
		attribute.Int("added", len(added)), attribute.Int("removed", len(removed)))

	var errs []error
	for _, userID := range added {
		if err := s.assign(ctx, projectCode, userID); err != nil {
			errs = append(errs, s.fail(ctx, "forward", "add", err, "project_code", projectCode, "user_id", userID))
		}
	}
	for _, userID := range removed {
		s.count(ctx, "forward", "remove")
		if _, err := s.store.RemoveAssignedProject(ctx, userID, projectCode); err != nil {
			errs = append(errs, s.fail(ctx, "forward", "remove",
				fmt.Errorf("remove %s from user %s: %w", projectCode, userID, err),
				"project_code", projectCode, "user_id", userID))
		}
	}
	return errs
}

func (s *Synchronizer) assign(ctx context.Context, projectCode, userID string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	if u.AllProjects {
		s.log.Debug("personnel sync: user sees all projects, not assigning",
			"project_code", projectCode, "user_id", userID)
		return nil
	}
	s.count(ctx, "forward", "add")
	if _, err := s.store.AddAssignedProject(ctx, userID, projectCode); err != nil {
		return fmt.Errorf("add %s to user %s: %w", projectCode, userID, err)
	}
	return nil
}

// SyncAssignmentToPersonnel adds userID to the personnel of every newly
// assigned project and removes it from every unassigned one. Error handling
// matches SyncPersonnelToAssignments. When at least one project changed,
// assignmentsChanged is published.
func (s *Synchronizer) SyncAssignmentToPersonnel(ctx context.Context, userID string, previousCodes, newCodes []string) []error {
	added, removed := Diff(previousCodes, newCodes)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	ctx, span := observability.Tracer().Start(ctx, "assignment.SyncAssignmentToPersonnel")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID),
		attribute.Int("added", len(added)), attribute.Int("removed", len(removed)))

	var (
		errs    []error
		changed []string
	)

	if len(added) > 0 {
		u, err := s.store.GetUser(ctx, userID)
		if err != nil {
			for _, code := range added {
				errs = append(errs, s.fail(ctx, "reverse", "add",
					fmt.Errorf("add user %s to %s: load user: %w", userID, code, err),
					"project_code", code, "user_id", userID))
			}
		} else {
			member := personnel.Member{UserID: u.ID, Name: u.DisplayName()}
			for _, code := range added {
				s.count(ctx, "reverse", "add")
				_, ok, err := s.store.AddPersonnel(ctx, code, member)
				if err != nil {
					errs = append(errs, s.fail(ctx, "reverse", "add",
						fmt.Errorf("add user %s to %s: %w", userID, code, err),
						"project_code", code, "user_id", userID))
					continue
				}
				if ok {
					changed = append(changed, code)
				}
			}
		}
	}

	for _, code := range removed {
		s.count(ctx, "reverse", "remove")
		_, ok, err := s.store.RemovePersonnel(ctx, code, personnel.Member{UserID: userID})
		if err != nil {
			errs = append(errs, s.fail(ctx, "reverse", "remove",
				fmt.Errorf("remove user %s from %s: %w", userID, code, err),
				"project_code", code, "user_id", userID))
			continue
		}
		if ok {
			changed = append(changed, code)
		}
	}

	if len(changed) > 0 && s.bus != nil {
		s.bus.PublishJSON(ctx, events.TopicAssignmentsChanged, userID, map[string]any{
			"user_id":       userID,
			"project_codes": changed,
		})
	}
	return errs
}

func (s *Synchronizer) count(ctx context.Context, direction, op string) {
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction), attribute.String("op", op)))
}

func (s *Synchronizer) fail(ctx context.Context, direction, op string, err error, attrs ...any) error {
	s.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction), attribute.String("op", op)))
	s.log.Warn("assignment sync operation failed", append(attrs, "direction", direction, "err", err)...)
	return err
}
