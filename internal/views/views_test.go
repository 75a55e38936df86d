package views_test

import (
	"context"
	"testing"
	"time"

	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/expense"
	"github.com/clmc/procurement/internal/history"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/nav"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/project"
	"github.com/clmc/procurement/internal/roles"
	"github.com/clmc/procurement/internal/session"
	"github.com/clmc/procurement/internal/store"
	"github.com/clmc/procurement/internal/testutil"
	"github.com/clmc/procurement/internal/views"
	"github.com/clmc/procurement/internal/worker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *store.Store
	bus      *events.Bus
	projects *project.Service
	queue    *worker.LocalQueue
	sess     *session.Session
	admin    *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := observability.Discard()
	st, bus := testutil.Store(t)
	_, err := roles.EnsureTemplates(ctx, st)
	require.NoError(t, err)

	reg := worker.NewRegistry()
	assignment.Register(reg, assignment.New(st, bus, log))
	history.Register(reg, st)
	q := worker.NewLocal(reg, worker.Options{Concurrency: 1, MaxAttempts: 3}, log)
	q.InitialInterval = time.Millisecond
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(ctx) })
	svc := project.New(st, history.New(st, q, log), assignment.NewDispatcher(q, log), expense.New(st), log)

	sessions := session.NewRegistry(st, st, bus, views.Factory(views.Deps{Store: st, Projects: svc, Bus: bus, Log: log}), log)
	t.Cleanup(sessions.Close)

	admin := &model.User{Email: "admin@clmc.local", FullName: "Admin", Role: model.RoleSuperAdmin, Status: model.StatusActive}
	require.NoError(t, st.CreateUser(ctx, admin))
	require.NoError(t, st.CreateClient(ctx, &model.Client{ClientCode: "ACME", CompanyName: "Acme <Corp>"}))
	s, err := sessions.Login(ctx, "", admin)
	require.NoError(t, err)

	return &fixture{store: st, bus: bus, projects: svc, queue: q, sess: s, admin: admin}
}

func TestEveryRouteRenders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for path := range nav.Routes {
		if path == nav.PathProjectDetail {
			continue
		}
		out := f.sess.Router.Navigate(ctx, path, "", "")
		assert.Equal(t, nav.Rendered, out.Kind, path)
		assert.NotEmpty(t, out.HTML, path)
	}
}

func TestProcurementListenerSurvivesTabSwitch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Equal(t, nav.Rendered, f.sess.Router.Navigate(ctx, nav.PathProcurement, "pos", "").Kind)
	require.Equal(t, nav.Rendered, f.sess.Router.Navigate(ctx, nav.PathProcurement, "transport", "").Kind)
	assert.Equal(t, 1, f.bus.Subscribers(events.TopicPurchaseOrders))
	assert.Equal(t, 1, f.bus.Subscribers(events.TopicTransportRequests))

	before := f.sess.Version()
	require.NoError(t, f.store.CreatePurchaseOrder(ctx, &model.PurchaseOrder{
		PONumber: "PO-1", ProjectName: "Tower", TotalAmount: decimal.NewFromInt(500),
	}))
	assert.Greater(t, f.sess.Version(), before)

	out := f.sess.Router.Navigate(ctx, nav.PathProcurement, "pos", "")
	assert.Contains(t, out.HTML, "PO-1")

	f.sess.Router.Navigate(ctx, nav.PathClients, "", "")
	assert.Equal(t, 0, f.bus.Subscribers(events.TopicPurchaseOrders))
	assert.Equal(t, 0, f.bus.Subscribers(events.TopicTransportRequests))
}

func TestProjectDetail_FollowsOnlyItsProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(name string) *model.Project {
		p, err := f.projects.Create(ctx, f.admin, project.CreateInput{
			ProjectName: name, ClientCode: "ACME", Budget: "1000", PersonnelUserIDs: []string{f.admin.ID},
		})
		require.NoError(t, err)
		return p
	}
	shown := mk("Tower <A>")
	other := mk("Bridge")
	f.queue.Wait()

	out := f.sess.Router.NavigateHash(ctx, "#/projects/detail/"+shown.ProjectCode)
	require.Equal(t, nav.Rendered, out.Kind, out.HTML)
	assert.Contains(t, out.HTML, "Tower &lt;A&gt;")
	assert.Contains(t, out.HTML, `data-user="`+f.admin.ID+`"`)
	assert.Contains(t, out.HTML, "₱1000.00")

	before := f.sess.Version()
	_, err := f.projects.ToggleActive(ctx, f.admin, other.ProjectCode)
	require.NoError(t, err)
	assert.Equal(t, before, f.sess.Version())

	_, err = f.projects.ToggleActive(ctx, f.admin, shown.ProjectCode)
	require.NoError(t, err)
	assert.Greater(t, f.sess.Version(), before)
}

func TestClientsView_Escapes(t *testing.T) {
	f := newFixture(t)
	out := f.sess.Router.Navigate(context.Background(), nav.PathClients, "", "")
	assert.Contains(t, out.HTML, "Acme &lt;Corp&gt;")
}
