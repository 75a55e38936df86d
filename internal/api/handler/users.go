package handler

import (
	"net/http"

	"github.com/clmc/procurement/internal/account"
	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/store"
)

// UserHandler handles /api/v1/users and /api/v1/invitations routes.
type UserHandler struct {
	accounts *account.Service
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(accounts *account.Service) *UserHandler {
	return &UserHandler{accounts: accounts}
}

func userID(u *model.User) string { return u.ID }

func (h *UserHandler) renderUser(w http.ResponseWriter, u *model.User, err error) {
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("user", u.ID, u))
}

// List handles GET /api/v1/users?status=&role=.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.accounts.List(r.Context(), caller(r), store.UserFilter{
		Status: model.UserStatus(q.Get("status")),
		Role:   model.Role(q.Get("role")),
	})
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "user", users, userID)
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

// Approve handles POST /api/v1/users/{id}/approve.
func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.accounts.Approve(r.Context(), caller(r), r.PathValue("id"), req.Role)
	h.renderUser(w, u, err)
}

// Reject handles POST /api/v1/users/{id}/reject.
func (h *UserHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Reject(r.Context(), caller(r), r.PathValue("id")); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deactivate handles POST /api/v1/users/{id}/deactivate.
func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Deactivate(r.Context(), caller(r), r.PathValue("id"))
	h.renderUser(w, u, err)
}

// Activate handles POST /api/v1/users/{id}/activate.
func (h *UserHandler) Activate(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.Activate(r.Context(), caller(r), r.PathValue("id"))
	h.renderUser(w, u, err)
}

// ChangeRole handles PUT /api/v1/users/{id}/role.
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := h.accounts.ChangeRole(r.Context(), caller(r), r.PathValue("id"), req.Role)
	h.renderUser(w, u, err)
}

type assignmentsRequest struct {
	ProjectCodes []string `json:"project_codes"`
	AllProjects  *bool    `json:"all_projects"`
}

// Assignments handles PUT /api/v1/users/{id}/assignments. all_projects is
// applied first when present.
func (h *UserHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	var req assignmentsRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, id := r.Context(), r.PathValue("id")
	if req.AllProjects != nil {
		if _, err := h.accounts.SetAllProjects(ctx, caller(r), id, *req.AllProjects); err != nil {
			jsonapi.RenderErr(w, err)
			return
		}
	}
	u, err := h.accounts.SetAssignments(ctx, caller(r), id, req.ProjectCodes)
	h.renderUser(w, u, err)
}

// Invitations handles GET /api/v1/invitations.
func (h *UserHandler) Invitations(w http.ResponseWriter, r *http.Request) {
	invs, err := h.accounts.Invitations(r.Context(), caller(r))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "invitation", invs, func(i *model.InvitationCode) string { return i.Code })
}

// CreateInvitation handles POST /api/v1/invitations.
func (h *UserHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.accounts.CreateInvitation(r.Context(), caller(r))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, resource("invitation", inv.Code, inv))
}
