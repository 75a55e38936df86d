// Package permission holds one session's role-derived tab permissions and
// keeps them current from the role template change feed.
package permission

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/clmc/procurement/internal/events"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/store"
)

// Access is a tri-state permission value. Unknown means the template has not
// been loaded or does not mention the tab; it is distinct from Denied.
type Access int8

const (
	Unknown Access = iota
	Denied
	Granted
)

func (a Access) String() string {
	switch a {
	case Denied:
		return "denied"
	case Granted:
		return "granted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (a Access) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// FromBool maps an explicit permission flag.
func FromBool(ok bool) Access {
	if ok {
		return Granted
	}
	return Denied
}

// Templates loads role templates.
type Templates interface {
	GetRoleTemplate(ctx context.Context, role model.Role) (*model.RoleTemplate, error)
}

// Store is the per-session permission store. The zero value is not usable;
// call New.
type Store struct {
	templates Templates
	bus       *events.Bus
	log       *slog.Logger

	mu    sync.RWMutex
	role  model.Role
	perms *model.RolePermissions
	sub   *events.Subscription
}

// New creates an uninitialised store. Every lookup reports Unknown until Init.
func New(templates Templates, bus *events.Bus, log *slog.Logger) *Store {
	return &Store{templates: templates, bus: bus, log: log}
}

// Init binds the store to role: the previous subscription, if any, is torn
// down first, then the role template feed is subscribed and the current
// template loaded. A missing template leaves every tab Unknown.
func (s *Store) Init(ctx context.Context, role model.Role) error {
	s.Dispose()

	s.mu.Lock()
	s.role = role
	s.sub = s.bus.Subscribe(events.TopicRoleTemplates, s.onTemplate)
	s.mu.Unlock()

	rt, err := s.templates.GetRoleTemplate(ctx, role)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.log.Warn("no role template for role", "role", role)
		return nil
	case err != nil:
		return err
	}
	s.apply(role, &rt.Permissions)
	return nil
}

// Dispose unsubscribes and forgets the loaded permissions.
func (s *Store) Dispose() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.role = ""
	s.perms = nil
	s.mu.Unlock()
	sub.Unsubscribe()
}

func (s *Store) onTemplate(e events.Event) {
	s.mu.RLock()
	role := s.role
	s.mu.RUnlock()
	if e.Key != string(role) {
		return
	}
	var rt model.RoleTemplate
	if len(e.Data) == 0 || e.Decode(&rt) != nil {
		fresh, err := s.templates.GetRoleTemplate(context.Background(), role)
		if err != nil {
			s.log.Warn("reload role template", "role", role, "err", err)
			return
		}
		rt = *fresh
	}
	s.apply(role, &rt.Permissions)
}

func (s *Store) apply(role model.Role, perms *model.RolePermissions) {
	s.mu.Lock()
	if s.role != role {
		// Disposed or re-initialised while loading.
		s.mu.Unlock()
		return
	}
	s.perms = perms
	s.mu.Unlock()

	// Local delivery only: every process derives its own signal from the
	// relayed role template event.
	s.bus.Deliver(events.Event{Topic: events.TopicPermissionsChanged, Key: string(role), Origin: s.bus.Origin()})
}

// Role returns the role the store is bound to.
func (s *Store) Role() model.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Loaded reports whether a template has been received.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perms != nil
}

// TabAccess reports whether the role may open tab.
func (s *Store) TabAccess(tab model.Tab) Access {
	g, ok := s.grant(tab)
	if !ok {
		return Unknown
	}
	return FromBool(g.Access)
}

// TabEdit reports whether the role may mutate data on tab.
func (s *Store) TabEdit(tab model.Tab) Access {
	g, ok := s.grant(tab)
	if !ok {
		return Unknown
	}
	return FromBool(g.Edit)
}

func (s *Store) grant(tab model.Tab) (model.TabGrant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.perms == nil || s.perms.Tabs == nil {
		return model.TabGrant{}, false
	}
	g, ok := s.perms.Tabs[tab]
	return g, ok
}

// TabState is the pair of lookups for one tab.
type TabState struct {
	Access Access `json:"access"`
	Edit   Access `json:"edit"`
}

// Snapshot returns the state of every tab.
func (s *Store) Snapshot() map[model.Tab]TabState {
	out := make(map[model.Tab]TabState, len(model.Tabs))
	for _, tab := range model.Tabs {
		out[tab] = TabState{Access: s.TabAccess(tab), Edit: s.TabEdit(tab)}
	}
	return out
}
