// Package views renders the route views of a session. Views that show live
// data subscribe to the change feed in Init and unsubscribe in Destroy; a
// change bumps the session version so the client knows to re-render.
package views

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/nav"
	"github.com/clmc/procurement/internal/personnel"
	"github.com/clmc/procurement/internal/project"
	"github.com/clmc/procurement/internal/session"
	"github.com/clmc/procurement/internal/store"
)

// Deps are shared by every session's views.
type Deps struct {
	Store    *store.Store
	Projects *project.Service
	Bus      *events.Bus
	Log      *slog.Logger
}

// Factory returns a session.ViewFactory over d.
func Factory(d Deps) session.ViewFactory {
	return func(s *session.Session) map[string]nav.Loader {
		return Loaders(d, s)
	}
}

// Loaders builds the loaders of every route for s.
func Loaders(d Deps, s *session.Session) map[string]nav.Loader {
	b := base{deps: d, sess: s}
	static := func(name string) nav.Loader {
		return func(context.Context) (nav.View, error) { return staticView(name), nil }
	}
	return map[string]nav.Loader{
		nav.PathHome:      static("home"),
		nav.PathLogin:     static("login"),
		nav.PathRegister:  static("register"),
		nav.PathPending:   static("pending"),
		nav.PathDashboard: func(context.Context) (nav.View, error) { return &dashboardView{base: b}, nil },
		nav.PathMRFForm:   func(context.Context) (nav.View, error) { return &mrfView{base: b}, nil },
		nav.PathProcurement: func(context.Context) (nav.View, error) {
			return &procurementView{base: b, live: newLive(d.Bus, s, events.TopicPurchaseOrders, events.TopicTransportRequests)}, nil
		},
		nav.PathFinance: func(context.Context) (nav.View, error) {
			return &financeView{base: b, live: newLive(d.Bus, s, events.TopicTransportRequests)}, nil
		},
		nav.PathProjects: func(context.Context) (nav.View, error) {
			return &projectsView{base: b, live: newLive(d.Bus, s, events.TopicProjects)}, nil
		},
		nav.PathProjectDetail: func(context.Context) (nav.View, error) {
			return &detailView{base: b, live: newLive(d.Bus, s, events.TopicProjects)}, nil
		},
		nav.PathClients: func(context.Context) (nav.View, error) { return &clientsView{base: b}, nil },
		nav.PathAdmin: func(context.Context) (nav.View, error) {
			return &adminView{base: b, live: newLive(d.Bus, s, events.TopicUsers, events.TopicRoleTemplates)}, nil
		},
	}
}

type base struct {
	deps Deps
	sess *session.Session
}

func (b base) caller(ctx context.Context) (*model.User, error) {
	id := b.sess.UserID()
	if id == "" {
		return nil, errors.New("not signed in")
	}
	return b.deps.Store.GetUser(ctx, id)
}

type staticView string

func (v staticView) Render(context.Context, string, string) (string, error) {
	return render(string(v), nil)
}

// live holds the change feed subscriptions of one view. attach is
// idempotent, so a view initialised again on a tab switch keeps a single
// listener per topic.
type live struct {
	bus    *events.Bus
	sess   *session.Session
	topics []string

	mu     sync.Mutex
	subs   []*events.Subscription
	filter func(events.Event) bool
}

func newLive(bus *events.Bus, s *session.Session, topics ...string) *live {
	return &live{bus: bus, sess: s, topics: topics}
}

func (l *live) attach(filter func(events.Event) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filter = filter
	if l.subs != nil {
		return
	}
	for _, topic := range l.topics {
		l.subs = append(l.subs, l.bus.Subscribe(topic, l.handle))
	}
}

func (l *live) handle(e events.Event) {
	l.mu.Lock()
	filter := l.filter
	l.mu.Unlock()
	if filter == nil || filter(e) {
		l.sess.Touch()
	}
}

func (l *live) detach() {
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

type dashboardView struct{ base }

func (v *dashboardView) Render(ctx context.Context, _, _ string) (string, error) {
	u, err := v.caller(ctx)
	if err != nil {
		return "", err
	}
	projects, err := v.deps.Projects.List(ctx, u, store.ProjectFilter{})
	if err != nil {
		return "", err
	}
	pos, err := v.deps.Store.ListPurchaseOrders(ctx, store.RecordFilter{})
	if err != nil {
		return "", err
	}
	pending, err := v.deps.Store.ListTransportRequests(ctx, store.RecordFilter{FinanceStatus: model.FinancePending})
	if err != nil {
		return "", err
	}
	active := 0
	for _, p := range projects {
		if p.Active {
			active++
		}
	}
	return render("dashboard", map[string]any{
		"Name":             u.DisplayName(),
		"Projects":         len(projects),
		"Active":           active,
		"PurchaseOrders":   len(pos),
		"PendingTransport": len(pending),
	})
}

type mrfView struct{ base }

func (v *mrfView) Render(ctx context.Context, _, _ string) (string, error) {
	u, err := v.caller(ctx)
	if err != nil {
		return "", err
	}
	on := true
	projects, err := v.deps.Projects.List(ctx, u, store.ProjectFilter{Active: &on})
	if err != nil {
		return "", err
	}
	return render("mrf", projects)
}

type procurementView struct {
	base
	*live
}

func (v *procurementView) Render(ctx context.Context, tab, _ string) (string, error) {
	data := map[string]any{"Tab": tab}
	if tab == "transport" {
		trs, err := v.deps.Store.ListTransportRequests(ctx, store.RecordFilter{})
		if err != nil {
			return "", err
		}
		data["Transport"] = trs
	} else {
		pos, err := v.deps.Store.ListPurchaseOrders(ctx, store.RecordFilter{})
		if err != nil {
			return "", err
		}
		data["Orders"] = pos
	}
	return render("procurement", data)
}

func (v *procurementView) Init(context.Context, string, string) error {
	v.attach(nil)
	return nil
}

func (v *procurementView) Destroy() { v.detach() }

type financeView struct {
	base
	*live
}

func (v *financeView) Render(ctx context.Context, tab, _ string) (string, error) {
	f := store.RecordFilter{FinanceStatus: model.FinancePending}
	if tab == "history" {
		f.FinanceStatus = ""
	}
	trs, err := v.deps.Store.ListTransportRequests(ctx, f)
	if err != nil {
		return "", err
	}
	return render("finance", trs)
}

func (v *financeView) Init(context.Context, string, string) error {
	v.attach(nil)
	return nil
}

func (v *financeView) Destroy() { v.detach() }

type projectRow struct {
	Project model.Project
	Names   []string
}

type projectsView struct {
	base
	*live
}

func (v *projectsView) Render(ctx context.Context, _, _ string) (string, error) {
	u, err := v.caller(ctx)
	if err != nil {
		return "", err
	}
	projects, err := v.deps.Projects.List(ctx, u, store.ProjectFilter{})
	if err != nil {
		return "", err
	}
	rows := make([]projectRow, len(projects))
	for i := range projects {
		rows[i] = projectRow{Project: projects[i], Names: personnel.Normalize(&projects[i]).Names}
	}
	return render("projects", rows)
}

func (v *projectsView) Init(context.Context, string, string) error {
	v.attach(nil)
	return nil
}

func (v *projectsView) Destroy() { v.detach() }

type detailView struct {
	base
	*live
}

func (v *detailView) Render(ctx context.Context, _, code string) (string, error) {
	u, err := v.caller(ctx)
	if err != nil {
		return "", err
	}
	p, err := v.deps.Projects.Get(ctx, u, code)
	if err != nil {
		return "", err
	}
	history, err := v.deps.Projects.History(ctx, u, code)
	if err != nil {
		return "", err
	}
	summary, err := v.deps.Projects.Expenses(ctx, u, code)
	if err != nil {
		v.deps.Log.Warn("expense summary unavailable", "project_code", code, "err", err)
	}
	return render("project-detail", map[string]any{
		"Project": p,
		"Members": personnel.Normalize(p).Members(),
		"Summary": summary,
		"History": history,
	})
}

// Init follows changes to the displayed project only.
func (v *detailView) Init(ctx context.Context, _, code string) error {
	p, err := v.deps.Store.GetProjectByCode(ctx, code)
	if err != nil {
		return err
	}
	id := p.ID
	v.attach(func(e events.Event) bool { return e.Key == id })
	return nil
}

func (v *detailView) Destroy() { v.detach() }

type clientsView struct{ base }

func (v *clientsView) Render(ctx context.Context, _, _ string) (string, error) {
	clients, err := v.deps.Store.ListClients(ctx)
	if err != nil {
		return "", err
	}
	return render("clients", clients)
}

type adminView struct {
	base
	*live
}

func (v *adminView) Render(ctx context.Context, tab, _ string) (string, error) {
	data := map[string]any{"Tab": tab}
	var err error
	switch tab {
	case "roles":
		data["Templates"], err = v.deps.Store.ListRoleTemplates(ctx)
	case "invitations":
		data["Invitations"], err = v.deps.Store.ListInvitations(ctx)
	default:
		data["Users"], err = v.deps.Store.ListUsers(ctx, store.UserFilter{})
	}
	if err != nil {
		return "", err
	}
	return render("admin", data)
}

func (v *adminView) Init(context.Context, string, string) error {
	v.attach(nil)
	return nil
}

func (v *adminView) Destroy() { v.detach() }
