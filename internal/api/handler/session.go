package handler

import (
	"net/http"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/api/middleware"
	"github.com/clmc/procurement/internal/nav"
	"github.com/clmc/procurement/internal/permission"
	"github.com/clmc/procurement/internal/session"
)

// SessionHandler exposes the per-session router and permission store.
type SessionHandler struct {
	sessions *session.Registry
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions *session.Registry) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type navigateAttrs struct {
	nav.Outcome
	SessionID string `json:"session_id"`
	Version   uint64 `json:"version"`
}

// Navigate handles GET /api/v1/navigate?hash=. An unknown or missing session
// id starts an anonymous session whose id is returned.
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Open(r.Header.Get(middleware.SessionHeader))
	out := s.Router.NavigateHash(r.Context(), r.URL.Query().Get("hash"))
	jsonapi.RenderOne(w, http.StatusOK, resource("navigation", s.ID, navigateAttrs{
		Outcome:   out,
		SessionID: s.ID,
		Version:   s.Version(),
	}))
}

type permissionsAttrs struct {
	Role    string                         `json:"role"`
	Loaded  bool                           `json:"loaded"`
	Tabs    map[string]permission.TabState `json:"tabs"`
	Version uint64                         `json:"version"`
}

// Permissions handles GET /api/v1/session/permissions.
func (h *SessionHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.sessions.Get(r.Header.Get(middleware.SessionHeader))
	if !ok || s.UserID() == "" {
		jsonapi.RenderError(w, http.StatusUnauthorized, "no_session", "Unauthorized", "sign in to start a session")
		return
	}
	tabs := make(map[string]permission.TabState)
	for tab, st := range s.Perms.Snapshot() {
		tabs[string(tab)] = st
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("session_permissions", s.ID, permissionsAttrs{
		Role:    string(s.Perms.Role()),
		Loaded:  s.Perms.Loaded(),
		Tabs:    tabs,
		Version: s.Version(),
	}))
}
