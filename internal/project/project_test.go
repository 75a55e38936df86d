package project_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/expense"
	"github.com/clmc/procurement/internal/history"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/project"
	"github.com/clmc/procurement/internal/store"
	"github.com/clmc/procurement/internal/testutil"
	"github.com/clmc/procurement/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	svc   *project.Service
	store *store.Store
	queue *worker.LocalQueue
	admin *model.User
	alice *model.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := observability.Discard()
	st, bus := testutil.Store(t)

	reg := worker.NewRegistry()
	assignment.Register(reg, assignment.New(st, bus, log))
	history.Register(reg, st)
	q := worker.NewLocal(reg, worker.Options{Concurrency: 2, MaxAttempts: 3}, log)
	q.InitialInterval = time.Millisecond
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(ctx) })

	svc := project.New(st, history.New(st, q, log), assignment.NewDispatcher(q, log), expense.New(st), log)

	admin := &model.User{Email: "admin@clmc.local", FullName: "Admin", Role: model.RoleSuperAdmin, Status: model.StatusActive}
	alice := &model.User{Email: "alice@clmc.local", FullName: "Alice", Role: model.RoleOperationsUser, Status: model.StatusActive}
	require.NoError(t, st.CreateUser(ctx, admin))
	require.NoError(t, st.CreateUser(ctx, alice))
	require.NoError(t, st.CreateClient(ctx, &model.Client{ClientCode: "ACME", CompanyName: "Acme Corp"}))

	return &harness{svc: svc, store: st, queue: q, admin: admin, alice: alice}
}

func (h *harness) create(t *testing.T, name string, ids ...string) *model.Project {
	t.Helper()
	p, err := h.svc.Create(context.Background(), h.admin, project.CreateInput{
		ProjectName:      name,
		ClientCode:       "acme",
		Budget:           "100000",
		PersonnelUserIDs: ids,
	})
	require.NoError(t, err)
	return p
}

func TestEndToEnd_PersonnelDrivesAssignments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := h.create(t, "Tower", h.alice.ID)
	assert.Equal(t, model.StringSlice{h.alice.ID}, p.PersonnelUserIDs)
	assert.Equal(t, model.StringSlice{"Alice"}, p.PersonnelNames)
	h.queue.Wait()

	alice, err := h.store.GetUser(ctx, h.alice.ID)
	require.NoError(t, err)
	assert.True(t, slices.Contains(alice.AssignedProjectCodes, p.ProjectCode))

	_, err = h.svc.RemovePersonnel(ctx, h.admin, p.ProjectCode, h.alice.ID, "")
	require.NoError(t, err)
	h.queue.Wait()

	alice, err = h.store.GetUser(ctx, h.alice.ID)
	require.NoError(t, err)
	assert.False(t, slices.Contains(alice.AssignedProjectCodes, p.ProjectCode))

	entries, err := h.svc.History(ctx, h.admin, p.ProjectCode)
	require.NoError(t, err)
	var removes int
	for _, e := range entries {
		if e.Action == model.ActionPersonnelRemove {
			removes++
		}
	}
	assert.Equal(t, 1, removes)
	assert.Equal(t, model.ActionPersonnelRemove, entries[0].Action)
}

func TestCreate_GeneratesSequentialCodes(t *testing.T) {
	h := newHarness(t)
	year := time.Now().UTC().Year()

	first := h.create(t, "One", h.alice.ID)
	second := h.create(t, "Two", h.alice.ID)

	assert.Regexp(t, `^CLMC_ACME_\d{4}001$`, first.ProjectCode)
	assert.Equal(t, first.ProjectCode[:len(first.ProjectCode)-3]+"002", second.ProjectCode)
	assert.Contains(t, first.ProjectCode, fmt.Sprintf("_%d", year))
	assert.Equal(t, model.InternalForInspection, first.InternalStatus)
	assert.True(t, first.Active)
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Create(ctx, h.admin, project.CreateInput{ProjectName: "X", ClientCode: "ACME"})
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr), "personnel is required")

	_, err = h.svc.Create(ctx, h.admin, project.CreateInput{ProjectName: "X", ClientCode: "NOPE", PersonnelUserIDs: []string{h.alice.ID}})
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "client_code", verr.Fields[0].Field)

	_, err = h.svc.Create(ctx, h.alice, project.CreateInput{ProjectName: "X", ClientCode: "ACME", PersonnelUserIDs: []string{h.alice.ID}})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestUpdateField_SkipsUnchangedAndRecordsChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "Tower", h.alice.ID)

	_, changed, err := h.svc.UpdateField(ctx, h.admin, p.ProjectCode, "budget", "100000.00")
	require.NoError(t, err)
	assert.False(t, changed)

	_, changed, err = h.svc.UpdateField(ctx, h.admin, p.ProjectCode, "project_name", "  Tower  ")
	require.NoError(t, err)
	assert.False(t, changed)

	updated, changed, err := h.svc.UpdateField(ctx, h.admin, p.ProjectCode, "project_status", model.ProjectOngoing)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.ProjectOngoing, updated.ProjectStatus)

	_, _, err = h.svc.UpdateField(ctx, h.admin, p.ProjectCode, "project_code", "CLMC_X_2020001")
	var verr *apperr.ValidationError
	assert.True(t, errors.As(err, &verr), "project code is immutable")

	h.queue.Wait()
	entries, err := h.svc.History(ctx, h.admin, p.ProjectCode)
	require.NoError(t, err)
	var updates int
	for _, e := range entries {
		if e.Action == model.ActionUpdate {
			updates++
		}
	}
	assert.Equal(t, 1, updates)
}

func TestToggleActive(t *testing.T) {
	h := newHarness(t)
	p := h.create(t, "Tower", h.alice.ID)

	got, err := h.svc.ToggleActive(context.Background(), h.admin, p.ProjectCode)
	require.NoError(t, err)
	assert.False(t, got.Active)

	got, err = h.svc.ToggleActive(context.Background(), h.admin, p.ProjectCode)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestList_ScopesOperationsUsers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mine := h.create(t, "Mine", h.alice.ID)
	h.create(t, "Other", h.admin.ID)
	h.queue.Wait()

	alice, err := h.store.GetUser(ctx, h.alice.ID)
	require.NoError(t, err)

	got, err := h.svc.List(ctx, alice, store.ProjectFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ProjectCode, got[0].ProjectCode)

	alice.AllProjects = true
	got, err = h.svc.List(ctx, alice, store.ProjectFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	alice.AllProjects = false
	alice.AssignedProjectCodes = nil
	got, err = h.svc.List(ctx, alice, store.ProjectFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = h.svc.Get(ctx, alice, mine.ProjectCode)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDelete_RequiresConfirmAndReleasesAssignments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.create(t, "Tower", h.alice.ID)
	h.queue.Wait()

	err := h.svc.Delete(ctx, h.admin, p.ProjectCode, false)
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))

	require.NoError(t, h.svc.Delete(ctx, h.admin, p.ProjectCode, true))
	h.queue.Wait()

	_, err = h.store.GetProjectByCode(ctx, p.ProjectCode)
	assert.ErrorIs(t, err, store.ErrNotFound)
	alice, err := h.store.GetUser(ctx, h.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, alice.AssignedProjectCodes)
}
