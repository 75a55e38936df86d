package assignment_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/personnel"
	"github.com/clmc/procurement/internal/testutil"
	"github.com/clmc/procurement/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore records every counter-update it receives.
type fakeStore struct {
	users   map[string]*model.User
	failFor map[string]bool
	calls   []string
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

func (f *fakeStore) AddAssignedProject(_ context.Context, userID, code string) (bool, error) {
	f.calls = append(f.calls, "add:"+userID+":"+code)
	if f.failFor[userID] {
		return false, errors.New("write failed")
	}
	return true, nil
}

func (f *fakeStore) RemoveAssignedProject(_ context.Context, userID, code string) (bool, error) {
	f.calls = append(f.calls, "remove:"+userID+":"+code)
	if f.failFor[userID] {
		return false, errors.New("write failed")
	}
	return true, nil
}

func (f *fakeStore) AddPersonnel(_ context.Context, code string, m personnel.Member) (*model.Project, bool, error) {
	f.calls = append(f.calls, "personnel+:"+code+":"+m.UserID+":"+m.Name)
	if f.failFor[code] {
		return nil, false, errors.New("write failed")
	}
	return &model.Project{}, true, nil
}

func (f *fakeStore) RemovePersonnel(_ context.Context, code string, m personnel.Member) (*model.Project, bool, error) {
	f.calls = append(f.calls, "personnel-:"+code+":"+m.UserID)
	if f.failFor[code] {
		return nil, false, errors.New("write failed")
	}
	return &model.Project{}, true, nil
}

func newFake(users ...*model.User) *fakeStore {
	f := &fakeStore{users: map[string]*model.User{}, failFor: map[string]bool{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func TestDiff(t *testing.T) {
	added, removed := assignment.Diff([]string{"u1", "u2"}, []string{"u2", "u3"})
	assert.Equal(t, []string{"u3"}, added)
	assert.Equal(t, []string{"u1"}, removed)

	added, removed = assignment.Diff([]string{"u1", ""}, []string{"u1", "u1", ""})
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestForward_IssuesOnlyTheDifference(t *testing.T) {
	f := newFake(&model.User{ID: "u3"})
	s := assignment.New(f, nil, observability.Discard())

	errs := s.SyncPersonnelToAssignments(context.Background(), "P1", []string{"u1", "u2"}, []string{"u2", "u3"})
	assert.Empty(t, errs)
	assert.Equal(t, []string{"add:u3:P1", "remove:u1:P1"}, f.calls)
}

func TestForward_SkipsAllProjectsUsersPerUser(t *testing.T) {
	f := newFake(
		&model.User{ID: "a", AllProjects: true},
		&model.User{ID: "b"},
		&model.User{ID: "c", AllProjects: true},
		&model.User{ID: "d"},
	)
	s := assignment.New(f, nil, observability.Discard())

	errs := s.SyncPersonnelToAssignments(context.Background(), "P1", nil, []string{"a", "b", "c", "d"})
	assert.Empty(t, errs)
	assert.Equal(t, []string{"add:b:P1", "add:d:P1"}, f.calls)
}

func TestForward_NoOps(t *testing.T) {
	f := newFake(&model.User{ID: "u1"})
	s := assignment.New(f, nil, observability.Discard())

	assert.Empty(t, s.SyncPersonnelToAssignments(context.Background(), "P1", []string{"u1"}, []string{"u1"}))
	assert.Empty(t, s.SyncPersonnelToAssignments(context.Background(), "", nil, []string{"u1"}))
	assert.Empty(t, f.calls)
}

func TestForward_FailureIsIsolatedAndCollected(t *testing.T) {
	f := newFake(&model.User{ID: "u1"}, &model.User{ID: "u2"}, &model.User{ID: "u3"})
	f.failFor["u2"] = true
	s := assignment.New(f, nil, observability.Discard())

	errs := s.SyncPersonnelToAssignments(context.Background(), "P1", []string{"u9"}, []string{"u1", "u2", "u3", "missing"})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "u2")
	assert.Contains(t, errs[1].Error(), "missing")
	assert.Equal(t, []string{"add:u1:P1", "add:u2:P1", "add:u3:P1", "remove:u9:P1"}, f.calls)
}

func TestReverse_AddsDisplayNameAndPublishes(t *testing.T) {
	f := newFake(&model.User{ID: "u1", FullName: "Alice", Email: "alice@clmc.local"})
	f.failFor["P3"] = true
	bus := events.NewBus(observability.Discard())
	var published []events.Event
	bus.Subscribe(events.TopicAssignmentsChanged, func(e events.Event) { published = append(published, e) })
	s := assignment.New(f, bus, observability.Discard())

	errs := s.SyncAssignmentToPersonnel(context.Background(), "u1", []string{"P1", "P2"}, []string{"P2", "P3", "P4"})
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"personnel+:P3:u1:Alice", "personnel+:P4:u1:Alice", "personnel-:P1:u1"}, f.calls)
	require.Len(t, published, 1)
	assert.Equal(t, "u1", published[0].Key)
}

func TestReverse_UnknownUserFailsAddsButStillRemoves(t *testing.T) {
	f := newFake()
	s := assignment.New(f, nil, observability.Discard())

	errs := s.SyncAssignmentToPersonnel(context.Background(), "ghost", []string{"P1"}, []string{"P2"})
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"personnel-:P1:ghost"}, f.calls)
}

func TestDispatcher_RunsThroughQueueAgainstStore(t *testing.T) {
	st, bus := testutil.Store(t)
	ctx := context.Background()

	alice := &model.User{Email: "alice@clmc.local", FullName: "Alice", Role: model.RoleOperationsUser, Status: model.StatusActive}
	require.NoError(t, st.CreateUser(ctx, alice))
	p := &model.Project{ProjectCode: "CLMC_ACME_2025001", ProjectName: "Tower", Active: true}
	require.NoError(t, st.CreateProject(ctx, p))

	reg := worker.NewRegistry()
	assignment.Register(reg, assignment.New(st, bus, observability.Discard()))
	q := worker.NewLocal(reg, worker.Options{Concurrency: 1, MaxAttempts: 3}, observability.Discard())
	q.InitialInterval = time.Millisecond
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(ctx) })
	d := assignment.NewDispatcher(q, observability.Discard())

	d.PersonnelChanged(ctx, p.ProjectCode, nil, []string{alice.ID})
	q.Wait()
	u, err := st.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, slices.Contains(u.AssignedProjectCodes, p.ProjectCode))

	d.AssignmentsChanged(ctx, alice.ID, nil, []string{p.ProjectCode})
	q.Wait()
	got, err := st.GetProjectByCode(ctx, p.ProjectCode)
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{alice.ID}, got.PersonnelUserIDs)
	assert.Equal(t, model.StringSlice{"Alice"}, got.PersonnelNames)
}
