// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sessions reports the number of live client sessions.
type Sessions interface {
	Len() int
}

type check struct {
	name   string
	pinger Pinger
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	checks    []check
	sessions  Sessions
	startTime time.Time
}

// New creates a Handler whose readiness depends on the database. db may be
// nil during startup; /ready then returns 503. sessions may be nil.
func New(db Pinger, sessions Sessions) *Handler {
	h := &Handler{sessions: sessions, startTime: time.Now()}
	h.AddCheck("database", db)
	return h
}

// AddCheck makes readiness depend on p as well, reported under name.
func (h *Handler) AddCheck(name string, p Pinger) {
	h.checks = append(h.checks, check{name: name, pinger: p})
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
}

// ServeHealth handles GET /api/v1/health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	sessions := 0
	if h.sessions != nil {
		sessions = h.sessions.Len()
	}
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
			Sessions:      sessions,
		},
	})
}

// ServeReady handles GET /api/v1/ready. Every check must answer within
// three seconds; the first failure is reported with a 503.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if c.pinger == nil {
			jsonapi.RenderError(w, http.StatusServiceUnavailable,
				"dependency_unavailable", "Service Unavailable",
				c.name+" is not initialised")
			return
		}
		if err := c.pinger.Ping(ctx); err != nil {
			jsonapi.RenderError(w, http.StatusServiceUnavailable,
				"dependency_unavailable", "Service Unavailable",
				c.name+" is unreachable: "+err.Error())
			return
		}
		status[c.name] = "ok"
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: map[string]any{"status": "ok", "checks": status},
	})
}
