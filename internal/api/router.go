// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/clmc/procurement/internal/api/handler"
	"github.com/clmc/procurement/internal/api/middleware"
	"github.com/clmc/procurement/internal/health"
	"github.com/clmc/procurement/internal/model"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the route handlers registered by RegisterRoutes.
type Handlers struct {
	Health   *health.Handler
	Auth     *handler.AuthHandler
	Session  *handler.SessionHandler
	Projects *handler.ProjectHandler
	Users    *handler.UserHandler
	Roles    *handler.RoleHandler
	Records  *handler.RecordHandler
}

// Directory is what the auth chain reads: live users and role templates.
type Directory interface {
	middleware.Users
	middleware.Templates
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, h Handlers, dir Directory, jwtSecret string) {
	// Public
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh", h.Auth.Refresh)
	mux.HandleFunc("POST /api/v1/auth/register", h.Auth.Register)

	// Navigation is keyed by the session id, not by a token.
	mux.HandleFunc("GET /api/v1/navigate", h.Session.Navigate)
	mux.HandleFunc("GET /api/v1/session/permissions", h.Session.Permissions)

	authed := func(allowInactive bool, next http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(jwtSecret)(middleware.LoadUser(dir, allowInactive)(next))
	}
	// Logout works for pending and deactivated accounts too.
	mux.Handle("POST /api/v1/auth/logout", authed(true, h.Auth.Logout))

	gated := func(tab model.Tab, edit bool, next http.HandlerFunc) http.Handler {
		return authed(false, middleware.RequireTab(dir, tab, edit)(next).ServeHTTP)
	}
	view := func(tab model.Tab, next http.HandlerFunc) http.Handler { return gated(tab, false, next) }
	edit := func(tab model.Tab, next http.HandlerFunc) http.Handler { return gated(tab, true, next) }

	// Projects
	p := h.Projects
	mux.Handle("GET /api/v1/projects", view(model.TabProjects, p.List))
	mux.Handle("POST /api/v1/projects", edit(model.TabProjects, p.Create))
	mux.Handle("GET /api/v1/projects/{code}", view(model.TabProjects, p.Get))
	mux.Handle("PATCH /api/v1/projects/{code}", edit(model.TabProjects, p.Patch))
	mux.Handle("DELETE /api/v1/projects/{code}", edit(model.TabProjects, p.Delete))
	mux.Handle("POST /api/v1/projects/{code}/toggle-active", edit(model.TabProjects, p.ToggleActive))
	mux.Handle("POST /api/v1/projects/{code}/personnel", edit(model.TabProjects, p.AddPersonnel))
	mux.Handle("DELETE /api/v1/projects/{code}/personnel/{userID}", edit(model.TabProjects, p.RemovePersonnel))
	mux.Handle("GET /api/v1/projects/{code}/history", view(model.TabProjects, p.History))
	mux.Handle("GET /api/v1/projects/{code}/expenses", view(model.TabProjects, p.Expenses))

	// Administration
	u := h.Users
	mux.Handle("GET /api/v1/users", view(model.TabAdmin, u.List))
	mux.Handle("POST /api/v1/users/{id}/approve", edit(model.TabAdmin, u.Approve))
	mux.Handle("POST /api/v1/users/{id}/reject", edit(model.TabAdmin, u.Reject))
	mux.Handle("POST /api/v1/users/{id}/deactivate", edit(model.TabAdmin, u.Deactivate))
	mux.Handle("POST /api/v1/users/{id}/activate", edit(model.TabAdmin, u.Activate))
	mux.Handle("PUT /api/v1/users/{id}/role", edit(model.TabAdmin, u.ChangeRole))
	mux.Handle("PUT /api/v1/users/{id}/assignments", edit(model.TabAdmin, u.Assignments))
	mux.Handle("GET /api/v1/invitations", view(model.TabAdmin, u.Invitations))
	mux.Handle("POST /api/v1/invitations", edit(model.TabAdmin, u.CreateInvitation))
	mux.Handle("GET /api/v1/roles", view(model.TabAdmin, h.Roles.List))
	mux.Handle("PUT /api/v1/roles/{role}", edit(model.TabAdmin, h.Roles.Update))

	// Records
	rec := h.Records
	mux.Handle("GET /api/v1/clients", view(model.TabClients, rec.ListClients))
	mux.Handle("POST /api/v1/clients", edit(model.TabClients, rec.CreateClient))
	mux.Handle("GET /api/v1/pos", view(model.TabProcurement, rec.ListPurchaseOrders))
	mux.Handle("POST /api/v1/pos", edit(model.TabProcurement, rec.CreatePurchaseOrder))
	mux.Handle("GET /api/v1/transport-requests", view(model.TabProcurement, rec.ListTransportRequests))
	mux.Handle("POST /api/v1/transport-requests", edit(model.TabProcurement, rec.CreateTransportRequest))
	mux.Handle("POST /api/v1/transport-requests/{id}/decision", edit(model.TabFinance, rec.DecideTransportRequest))

	// Unmatched API paths must not fall through to the SPA shell.
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
