package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/personnel"
	"github.com/clmc/procurement/internal/store"
	"github.com/clmc/procurement/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newProject(code string) *model.Project {
	return &model.Project{
		ProjectCode: code,
		ProjectName: "Project " + code,
		ClientCode:  "ACME",
		Budget:      decimal.NewFromInt(1000),
		Active:      true,
	}
}

func TestCreateProject_DuplicateCodeConflicts(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	require.NoError(t, s.CreateProject(ctx, newProject("CLMC_ACME_2025001")))
	err := s.CreateProject(ctx, newProject("CLMC_ACME_2025001"))
	assert.ErrorIs(t, err, store.ErrConflict)

	// Legacy rows may have no code; several of them may coexist.
	require.NoError(t, s.CreateProject(ctx, newProject("")))
	require.NoError(t, s.CreateProject(ctx, newProject("")))
}

func TestGetProjectByCode_NotFound(t *testing.T) {
	s, _ := testutil.Store(t)
	_, err := s.GetProjectByCode(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetProjectByCode(context.Background(), "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListProjects_Filters(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	a := newProject("CLMC_ACME_2025001")
	b := newProject("CLMC_ACME_2025002")
	c := newProject("CLMC_BETA_2025001")
	c.ClientCode = "BETA"
	c.Active = false
	for _, p := range []*model.Project{a, b, c} {
		require.NoError(t, s.CreateProject(ctx, p))
	}
	got, err := s.ListProjects(ctx, store.ProjectFilter{Codes: []string{a.ProjectCode, c.ProjectCode}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListProjects(ctx, store.ProjectFilter{Codes: []string{}})
	require.NoError(t, err)
	assert.Empty(t, got)

	active := true
	got, err = s.ListProjects(ctx, store.ProjectFilter{Active: &active})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListProjects(ctx, store.ProjectFilter{CodePrefix: "CLMC_ACME_2025"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListProjects(ctx, store.ProjectFilter{ClientCode: "BETA"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Active)
}

func TestAddRemovePersonnel_RewritesLegacyShape(t *testing.T) {
	s, bus := testutil.Store(t)
	ctx := context.Background()

	p := newProject("CLMC_ACME_2025001")
	p.PersonnelUserID = strPtr("u9")
	p.PersonnelName = strPtr("Ivy")
	require.NoError(t, s.CreateProject(ctx, p))

	var published int
	bus.Subscribe(events.TopicProjects, func(_ events.Event) { published++ })

	got, changed, err := s.AddPersonnel(ctx, p.ProjectCode, personnel.Member{UserID: "u1", Name: "Alice"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StringSlice{"u9", "u1"}, got.PersonnelUserIDs)
	assert.Equal(t, model.StringSlice{"Ivy", "Alice"}, got.PersonnelNames)
	assert.Nil(t, got.PersonnelUserID)
	assert.Equal(t, 1, published)

	stored, err := s.GetProjectByCode(ctx, p.ProjectCode)
	require.NoError(t, err)
	assert.Equal(t, model.StringSlice{"u9", "u1"}, stored.PersonnelUserIDs)
	assert.Nil(t, stored.PersonnelUserID)
	assert.Nil(t, stored.PersonnelName)

	_, changed, err = s.AddPersonnel(ctx, p.ProjectCode, personnel.Member{UserID: "u1", Name: "Alice"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, published)

	got, changed, err = s.RemovePersonnel(ctx, p.ProjectCode, personnel.Member{UserID: "u9"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.StringSlice{"u1"}, got.PersonnelUserIDs)

	_, _, err = s.AddPersonnel(ctx, "CLMC_NOPE_2025001", personnel.Member{UserID: "u1"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssignedProjects_ConcurrentUnionKeepsEveryCode(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	u := &model.User{Email: "ops@clmc.local", FullName: "Ops", Role: model.RoleOperationsUser, Status: model.StatusActive}
	require.NoError(t, s.CreateUser(ctx, u))

	codes := []string{"A", "B", "C", "D", "E", "F"}
	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddAssignedProject(ctx, u.ID, code)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, codes, []string(got.AssignedProjectCodes))

	changed, err := s.AddAssignedProject(ctx, u.ID, "A")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.RemoveAssignedProject(ctx, u.ID, "A")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.RemoveAssignedProject(ctx, u.ID, "A")
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.AddAssignedProject(ctx, "missing", "A")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatch_PublishesOnlyAfterCommit(t *testing.T) {
	s, bus := testutil.Store(t)
	ctx := context.Background()

	var seen []string
	bus.Subscribe(events.TopicClients, func(e events.Event) { seen = append(seen, e.Key) })

	boom := errors.New("boom")
	err := s.Batch(ctx, func(tx *store.Store) error {
		require.NoError(t, tx.CreateClient(ctx, &model.Client{ClientCode: "ACME", CompanyName: "Acme"}))
		assert.Empty(t, seen)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, seen)

	clients, err := s.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)

	err = s.Batch(ctx, func(tx *store.Store) error {
		if err := tx.CreateClient(ctx, &model.Client{ClientCode: "ACME", CompanyName: "Acme"}); err != nil {
			return err
		}
		return tx.CreateClient(ctx, &model.Client{ClientCode: "BETA", CompanyName: "Beta"})
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}

func TestDecideTransportRequest(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	tr := &model.TransportRequest{TRNumber: "TR-1", ProjectName: "Tower", TotalAmount: decimal.NewFromInt(50)}
	require.NoError(t, s.CreateTransportRequest(ctx, tr))
	assert.Equal(t, model.FinancePending, tr.FinanceStatus)

	got, err := s.DecideTransportRequest(ctx, tr.ID, model.FinanceApproved, "fin-1")
	require.NoError(t, err)
	assert.Equal(t, model.FinanceApproved, got.FinanceStatus)

	_, err = s.DecideTransportRequest(ctx, tr.ID, model.FinanceRejected, "fin-1")
	assert.ErrorIs(t, err, store.ErrConflict)

	approved, err := s.ListTransportRequests(ctx, store.RecordFilter{ProjectName: "Tower", FinanceStatus: model.FinanceApproved})
	require.NoError(t, err)
	assert.Len(t, approved, 1)
}

func TestClaimInvitation_SingleUse(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInvitation(ctx, &model.InvitationCode{Code: "JOIN-1"}))
	require.NoError(t, s.ClaimInvitation(ctx, "JOIN-1", "u1"))
	assert.ErrorIs(t, s.ClaimInvitation(ctx, "JOIN-1", "u2"), store.ErrConflict)
	assert.ErrorIs(t, s.ClaimInvitation(ctx, "NOPE", "u2"), store.ErrNotFound)
}

func TestSaveRoleTemplate_Upserts(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	rt := &model.RoleTemplate{Role: model.RoleFinance, Permissions: model.RolePermissions{
		Tabs: map[model.Tab]model.TabGrant{model.TabFinance: {Access: true}},
	}}
	require.NoError(t, s.SaveRoleTemplate(ctx, rt))

	rt.Permissions.Tabs[model.TabFinance] = model.TabGrant{Access: true, Edit: true}
	require.NoError(t, s.SaveRoleTemplate(ctx, rt))

	got, err := s.GetRoleTemplate(ctx, model.RoleFinance)
	require.NoError(t, err)
	assert.True(t, got.Permissions.Tabs[model.TabFinance].Edit)

	all, err := s.ListRoleTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDeleteProject_RemovesHistory(t *testing.T) {
	s, _ := testutil.Store(t)
	ctx := context.Background()

	p := newProject("CLMC_ACME_2025001")
	require.NoError(t, s.CreateProject(ctx, p))
	require.NoError(t, s.AppendHistory(ctx, &model.EditHistoryEntry{ProjectID: p.ID, Action: model.ActionCreate}))

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	entries, err := s.ListHistory(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, s.DeleteProject(ctx, p.ID), store.ErrNotFound)
}
