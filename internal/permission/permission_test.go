package permission_test

import (
	"context"
	"testing"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/permission"
	"github.com/clmc/procurement/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_TriStateLookups(t *testing.T) {
	st, bus := testutil.Store(t)
	ctx := context.Background()
	require.NoError(t, st.SaveRoleTemplate(ctx, &model.RoleTemplate{
		Role: model.RoleFinance,
		Permissions: model.RolePermissions{Tabs: map[model.Tab]model.TabGrant{
			model.TabFinance:  {Access: true, Edit: true},
			model.TabProjects: {Access: false},
		}},
	}))

	ps := permission.New(st, bus, observability.Discard())
	assert.Equal(t, permission.Unknown, ps.TabAccess(model.TabFinance), "before Init")

	require.NoError(t, ps.Init(ctx, model.RoleFinance))
	assert.True(t, ps.Loaded())
	assert.Equal(t, permission.Granted, ps.TabAccess(model.TabFinance))
	assert.Equal(t, permission.Granted, ps.TabEdit(model.TabFinance))
	assert.Equal(t, permission.Denied, ps.TabAccess(model.TabProjects))
	assert.Equal(t, permission.Unknown, ps.TabAccess(model.TabAdmin), "tab absent from template")

	snap := ps.Snapshot()
	assert.Len(t, snap, len(model.Tabs))
	assert.Equal(t, permission.Denied, snap[model.TabProjects].Edit)
}

func TestStore_LiveUpdateFiresPermissionsChanged(t *testing.T) {
	st, bus := testutil.Store(t)
	ctx := context.Background()
	rt := &model.RoleTemplate{Role: model.RoleProcurement, Permissions: model.RolePermissions{
		Tabs: map[model.Tab]model.TabGrant{model.TabProcurement: {Access: false}},
	}}
	require.NoError(t, st.SaveRoleTemplate(ctx, rt))

	ps := permission.New(st, bus, observability.Discard())
	require.NoError(t, ps.Init(ctx, model.RoleProcurement))

	var changed int
	bus.Subscribe(events.TopicPermissionsChanged, func(events.Event) { changed++ })

	rt.Permissions.Tabs[model.TabProcurement] = model.TabGrant{Access: true}
	require.NoError(t, st.SaveRoleTemplate(ctx, rt))
	assert.Equal(t, permission.Granted, ps.TabAccess(model.TabProcurement))
	assert.Equal(t, 1, changed)

	// Another role's template does not concern this session.
	require.NoError(t, st.SaveRoleTemplate(ctx, &model.RoleTemplate{Role: model.RoleFinance}))
	assert.Equal(t, 1, changed)
}

func TestStore_DisposeTearsDownSubscription(t *testing.T) {
	st, bus := testutil.Store(t)
	ctx := context.Background()

	ps := permission.New(st, bus, observability.Discard())
	require.NoError(t, ps.Init(ctx, model.RoleOperationsUser), "missing template is not an error")
	assert.False(t, ps.Loaded())
	assert.Equal(t, 1, bus.Subscribers(events.TopicRoleTemplates))

	// Re-initialising replaces the subscription rather than stacking a second one.
	require.NoError(t, ps.Init(ctx, model.RoleFinance))
	assert.Equal(t, 1, bus.Subscribers(events.TopicRoleTemplates))

	ps.Dispose()
	assert.Equal(t, 0, bus.Subscribers(events.TopicRoleTemplates))
	assert.Equal(t, permission.Unknown, ps.TabAccess(model.TabFinance))
	assert.Equal(t, model.Role(""), ps.Role())
}
