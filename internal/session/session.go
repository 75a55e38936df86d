// Package session keeps the per-client state that used to live in browser
// globals: session storage, the permission store and the router. Every
// client session id owns exactly one of each.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/nav"
	"github.com/clmc/procurement/internal/permission"
	"github.com/clmc/procurement/internal/store"
	"github.com/google/uuid"
)

// Session is one client session.
type Session struct {
	ID      string
	Storage *nav.Storage
	Perms   *permission.Store
	Router  *nav.Router

	mu       sync.Mutex
	userID   string
	lastSeen time.Time
	version  atomic.Uint64
	subs     []*events.Subscription
}

// UserID returns the signed-in user, or "".
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Touch marks that data rendered by an active view has changed.
func (s *Session) Touch() { s.version.Add(1) }

// Version increases every time Touch is called. Clients poll it to know when
// to re-render.
func (s *Session) Version() uint64 { return s.version.Load() }

// follow bumps the version when this session's permissions or project
// assignments change, so the client's next navigation re-runs the guards.
func (s *Session) follow(bus *events.Bus) {
	s.subs = []*events.Subscription{
		bus.Subscribe(events.TopicPermissionsChanged, func(e events.Event) {
			if role := s.Perms.Role(); role != "" && e.Key == string(role) {
				s.Touch()
			}
		}),
		bus.Subscribe(events.TopicAssignmentsChanged, func(e events.Event) {
			if uid := s.UserID(); uid != "" && e.Key == uid {
				s.Touch()
			}
		}),
	}
}

func (s *Session) dispose() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.Router.Dispose()
	s.Perms.Dispose()
}

// Users reads live account state.
type Users interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// ViewFactory builds the route loaders of one session.
type ViewFactory func(s *Session) map[string]nav.Loader

// Registry owns every live session.
type Registry struct {
	users     Users
	templates permission.Templates
	bus       *events.Bus
	views     ViewFactory
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	sub      *events.Subscription
}

// NewRegistry creates a registry and starts following user changes.
func NewRegistry(users Users, templates permission.Templates, bus *events.Bus, views ViewFactory, log *slog.Logger) *Registry {
	r := &Registry{
		users:     users,
		templates: templates,
		bus:       bus,
		views:     views,
		log:       log,
		sessions:  make(map[string]*Session),
	}
	r.sub = bus.Subscribe(events.TopicUsers, r.onUser)
	return r
}

// Open returns the session for sid, creating an anonymous one when sid is
// empty or unknown.
func (r *Registry) Open(sid string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sid]; ok && sid != "" {
		s.mu.Lock()
		s.lastSeen = time.Now()
		s.mu.Unlock()
		return s
	}
	if sid == "" {
		sid = uuid.NewString()
	}
	s := r.newSession(sid)
	r.sessions[sid] = s
	return s
}

func (r *Registry) newSession(sid string) *Session {
	s := &Session{
		ID:       sid,
		Storage:  nav.NewStorage(),
		Perms:    permission.New(r.templates, r.bus, r.log),
		lastSeen: time.Now(),
	}
	var loaders map[string]nav.Loader
	if r.views != nil {
		loaders = r.views(s)
	}
	s.Router = nav.New(nav.Config{
		Loaders:     loaders,
		Users:       r.users,
		Permissions: s.Perms,
		Storage:     s.Storage,
		Log:         r.log.With("session", sid),
	})
	s.follow(r.bus)
	return s
}

// Get returns the session for sid.
func (r *Registry) Get(sid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// Login binds sid to u. A session previously bound to another user is
// replaced; the intended route survives the login.
func (r *Registry) Login(ctx context.Context, sid string, u *model.User) (*Session, error) {
	s := r.Open(sid)
	if prev := s.UserID(); prev != "" && prev != u.ID {
		intended, hasIntended := s.Storage.Take(nav.IntendedRouteKey)
		r.End(s.ID)
		s = r.Open(s.ID)
		if hasIntended {
			s.Storage.Set(nav.IntendedRouteKey, intended)
		}
	}
	s.mu.Lock()
	s.userID = u.ID
	s.mu.Unlock()
	s.Router.SetUser(u.ID)
	if err := s.Perms.Init(ctx, u.Role); err != nil {
		return nil, err
	}
	r.log.Info("session signed in", "session", s.ID, "user_id", u.ID, "role", u.Role)
	return s, nil
}

// End disposes the session and forgets it.
func (r *Registry) End(sid string) {
	r.mu.Lock()
	s, ok := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if ok {
		s.dispose()
	}
}

// EndUser ends every session of userID.
func (r *Registry) EndUser(userID string) {
	for _, s := range r.byUser(userID) {
		r.End(s.ID)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Expire ends sessions idle for longer than ttl and returns how many it ended.
func (r *Registry) Expire(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var stale []string
	r.mu.Lock()
	for id, s := range r.sessions {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()
	for _, id := range stale {
		r.End(id)
	}
	return len(stale)
}

// Close ends every session and stops following user changes.
func (r *Registry) Close() {
	r.sub.Unsubscribe()
	r.mu.Lock()
	all := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		all = append(all, id)
	}
	r.mu.Unlock()
	for _, id := range all {
		r.End(id)
	}
}

func (r *Registry) byUser(userID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID() == userID {
			out = append(out, s)
		}
	}
	return out
}

// onUser rebinds permissions when a signed-in user's role changes, bumps the
// version of every session the user holds, and ends the sessions of deleted
// users. Events without a snapshot are resolved against the store.
func (r *Registry) onUser(e events.Event) {
	sessions := r.byUser(e.Key)
	if len(sessions) == 0 {
		return
	}
	var u model.User
	if len(e.Data) == 0 || e.Decode(&u) != nil {
		fresh, err := r.users.GetUser(context.Background(), e.Key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			r.EndUser(e.Key)
			return
		case err != nil:
			r.log.Warn("reload user", "user_id", e.Key, "err", err)
			return
		}
		u = *fresh
	}
	for _, s := range sessions {
		if s.Perms.Role() != u.Role {
			if err := s.Perms.Init(context.Background(), u.Role); err != nil {
				r.log.Warn("reinitialise permissions", "session", s.ID, "err", err)
			}
		}
		s.Touch()
	}
}
