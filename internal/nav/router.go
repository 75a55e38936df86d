// Package nav is the permission-gated router. It maps location hashes to
// lazily loaded views, enforces authentication, account status and tab
// permissions, keeps the intended route across a login redirect, and drives
// the view lifecycle.
package nav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"sync"

	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/permission"
	"github.com/clmc/procurement/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// View renders markup for one route.
type View interface {
	Render(ctx context.Context, tab, param string) (string, error)
}

// Initializer is implemented by views that attach behaviour after render.
type Initializer interface {
	Init(ctx context.Context, tab, param string) error
}

// Destroyer is implemented by views that hold listeners.
type Destroyer interface {
	Destroy()
}

// Loader produces the view of a route on first use.
type Loader func(ctx context.Context) (View, error)

// Users reads live account state.
type Users interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Permissions answers tab access lookups.
type Permissions interface {
	TabAccess(tab model.Tab) permission.Access
}

// Kind classifies a navigation outcome.
type Kind string

const (
	Rendered Kind = "rendered"
	Denied   Kind = "denied"
	Failed   Kind = "error"
)

// Outcome is the result of one navigation. When a redirect happened,
// RedirectedFrom holds the originally requested path and Path the target.
type Outcome struct {
	Kind           Kind   `json:"kind"`
	Path           string `json:"path"`
	Tab            string `json:"tab,omitempty"`
	Param          string `json:"param,omitempty"`
	Hash           string `json:"hash"`
	RedirectedFrom string `json:"redirected_from,omitempty"`
	HTML           string `json:"html"`
}

// Config wires a Router.
type Config struct {
	Loaders     map[string]Loader
	Users       Users
	Permissions Permissions
	Storage     *Storage
	Log         *slog.Logger
}

type active struct {
	path, tab, param string
	view             View
}

// Router is owned by one session. Navigations are serialised.
type Router struct {
	loaders map[string]Loader
	users   Users
	perms   Permissions
	storage *Storage
	log     *slog.Logger

	mu      sync.Mutex
	userID  string
	views   map[string]View
	current *active

	outcomes metric.Int64Counter
}

// New creates a Router with no authenticated user and no active view.
func New(cfg Config) *Router {
	if cfg.Storage == nil {
		cfg.Storage = NewStorage()
	}
	return &Router{
		loaders:  cfg.Loaders,
		users:    cfg.Users,
		perms:    cfg.Permissions,
		storage:  cfg.Storage,
		log:      cfg.Log,
		views:    make(map[string]View),
		outcomes: observability.Counter("procurement.nav.outcomes", "Navigation outcomes by kind."),
	}
}

// SetUser sets the authenticated user id. An empty id signs out.
func (r *Router) SetUser(userID string) {
	r.mu.Lock()
	r.userID = userID
	r.mu.Unlock()
}

// NavigateHash parses hash and navigates to it.
func (r *Router) NavigateHash(ctx context.Context, hash string) Outcome {
	path, tab, param := ParseHash(hash)
	return r.Navigate(ctx, path, tab, param)
}

// Navigate runs the guard chain and the view lifecycle for one target.
func (r *Router) Navigate(ctx context.Context, path, tab, param string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.navigate(ctx, path, tab, param)
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(out.Kind))))
	return out
}

func (r *Router) navigate(ctx context.Context, path, tab, param string) Outcome {
	route, ok := Routes[path]
	if !ok {
		r.log.Error("unknown route", "path", path)
		return r.redirect(ctx, path, PathHome)
	}

	if !route.Public {
		var user *model.User
		if r.userID != "" {
			u, err := r.users.GetUser(ctx, r.userID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				r.log.Warn("router: current user no longer exists", "user_id", r.userID)
			case err != nil:
				r.log.Error("router: load current user", "user_id", r.userID, "err", err)
				return Outcome{
					Kind: Failed, Path: path, Tab: tab, Param: param,
					Hash: FormatHash(path, tab, param),
					HTML: mustExecute(errorTmpl, "Could not load your account. Please try again."),
				}
			default:
				user = u
			}
		}
		if user == nil {
			r.storage.Set(IntendedRouteKey, FormatHash(path, tab, param))
			return r.redirect(ctx, path, PathLogin)
		}
		switch user.Status {
		case model.StatusPending, model.StatusRejected:
			return r.redirect(ctx, path, PathPending)
		case model.StatusDeactivated:
			return r.redirect(ctx, path, PathLogin)
		}

		if r.perms != nil && r.perms.TabAccess(route.Tab) == permission.Denied {
			return Outcome{
				Kind: Denied, Path: path, Tab: tab, Param: param,
				Hash: FormatHash(path, tab, param),
				HTML: mustExecute(deniedTmpl, route),
			}
		}
	}

	html, err := r.activate(ctx, path, tab, param)
	if err != nil {
		r.log.Error("view failed", "path", path, "tab", tab, "err", err)
		return Outcome{
			Kind: Failed, Path: path, Tab: tab, Param: param,
			Hash: FormatHash(path, tab, param),
			HTML: mustExecute(errorTmpl, err.Error()),
		}
	}
	return Outcome{
		Kind: Rendered, Path: path, Tab: tab, Param: param,
		Hash: FormatHash(path, tab, param),
		HTML: html,
	}
}

// redirect navigates to a public target and records where the request came from.
func (r *Router) redirect(ctx context.Context, from, to string) Outcome {
	out := r.navigate(ctx, to, "", "")
	out.RedirectedFrom = from
	return out
}

// activate tears down the current view when the route changes, then renders
// and initialises the target. A tab change on the same route keeps the view.
func (r *Router) activate(ctx context.Context, path, tab, param string) (html string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("view panicked: %v", p)
		}
	}()

	if r.current != nil && r.current.path != path {
		r.destroyCurrent()
	}

	var view View
	if r.current != nil {
		view = r.current.view
	} else {
		v, err := r.load(ctx, path)
		if err != nil {
			return "", err
		}
		view = v
	}

	html, err = view.Render(ctx, tab, param)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", path, err)
	}
	r.current = &active{path: path, tab: tab, param: param, view: view}

	if in, ok := view.(Initializer); ok {
		if err := in.Init(ctx, tab, param); err != nil {
			return "", fmt.Errorf("init %s: %w", path, err)
		}
	}
	return html, nil
}

func (r *Router) load(ctx context.Context, path string) (View, error) {
	if v, ok := r.views[path]; ok {
		return v, nil
	}
	loader, ok := r.loaders[path]
	if !ok {
		return nil, errors.New("no view registered for " + path)
	}
	v, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	r.views[path] = v
	return v, nil
}

func (r *Router) destroyCurrent() {
	if r.current == nil {
		return
	}
	if d, ok := r.current.view.(Destroyer); ok {
		d.Destroy()
	}
	r.current = nil
}

// Current returns the active route, or ok=false when no view is active.
func (r *Router) Current() (path, tab, param string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return "", "", "", false
	}
	return r.current.path, r.current.tab, r.current.param, true
}

// TakeIntendedRoute returns the hash stored by a login redirect and removes
// it, so it is restored at most once.
func (r *Router) TakeIntendedRoute() (string, bool) {
	return r.storage.Take(IntendedRouteKey)
}

// Dispose destroys the active view and forgets loaded views.
func (r *Router) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyCurrent()
	clear(r.views)
}

var (
	deniedTmpl = template.Must(template.New("denied").Parse(
		`<section class="empty-state access-denied"><h2>Access denied</h2>` +
			`<p>Your role does not have access to {{.Path}}.</p></section>`))
	errorTmpl = template.Must(template.New("error").Parse(
		`<section class="empty-state view-error"><h2>Something went wrong</h2>` +
			`<p>{{.}}</p></section>`))
)

func mustExecute(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "<p>error</p>"
	}
	return buf.String()
}
