package handler

import (
	"net/http"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/roles"
)

// RoleHandler handles /api/v1/roles routes.
type RoleHandler struct {
	svc *roles.Service
}

// NewRoleHandler creates a RoleHandler.
func NewRoleHandler(svc *roles.Service) *RoleHandler {
	return &RoleHandler{svc: svc}
}

// List handles GET /api/v1/roles.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.List(r.Context())
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "role_template", templates, func(rt *model.RoleTemplate) string { return string(rt.Role) })
}

type roleTemplateRequest struct {
	Tabs map[model.Tab]model.TabGrant `json:"tabs"`
}

// Update handles PUT /api/v1/roles/{role}. Only the tabs present in the
// body change.
func (h *RoleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req roleTemplateRequest
	if !decode(w, r, &req) {
		return
	}
	rt, err := h.svc.Update(r.Context(), caller(r), model.Role(r.PathValue("role")), req.Tabs)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("role_template", string(rt.Role), rt))
}
