package handler

import (
	"net/http"
	"strings"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/project"
	"github.com/clmc/procurement/internal/store"
)

// ProjectHandler handles /api/v1/projects routes.
type ProjectHandler struct {
	svc *project.Service
}

// NewProjectHandler creates a ProjectHandler.
func NewProjectHandler(svc *project.Service) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

func projectID(p *model.Project) string { return p.ProjectCode }

// List handles GET /api/v1/projects. Supported filters: client, active.
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ProjectFilter{ClientCode: strings.ToUpper(q.Get("client"))}
	switch q.Get("active") {
	case "true":
		on := true
		f.Active = &on
	case "false":
		off := false
		f.Active = &off
	}
	projects, err := h.svc.List(r.Context(), caller(r), f)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "project", projects, projectID)
}

// Create handles POST /api/v1/projects.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in project.CreateInput
	if !decode(w, r, &in) {
		return
	}
	p, err := h.svc.Create(r.Context(), caller(r), in)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, resource("project", p.ProjectCode, p))
}

// Get handles GET /api/v1/projects/{code}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), caller(r), r.PathValue("code"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("project", p.ProjectCode, p))
}

type patchRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Patch handles PATCH /api/v1/projects/{code}: one inline field edit.
// The response meta reports whether anything changed.
func (h *ProjectHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var req patchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Field == "" {
		jsonapi.RenderErr(w, apperr.Invalid("field", "is required"))
		return
	}
	p, changed, err := h.svc.UpdateField(r.Context(), caller(r), r.PathValue("code"), req.Field, req.Value)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.Render(w, http.StatusOK, jsonapi.Document{
		Data: resource("project", p.ProjectCode, p),
		Meta: jsonapi.Meta{"changed": changed},
	})
}

// Delete handles DELETE /api/v1/projects/{code}?confirm=true.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	confirm := r.URL.Query().Get("confirm") == "true"
	if err := h.svc.Delete(r.Context(), caller(r), r.PathValue("code"), confirm); err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleActive handles POST /api/v1/projects/{code}/toggle-active.
func (h *ProjectHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ToggleActive(r.Context(), caller(r), r.PathValue("code"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("project", p.ProjectCode, p))
}

type personnelRequest struct {
	UserID string `json:"user_id"`
}

// AddPersonnel handles POST /api/v1/projects/{code}/personnel.
func (h *ProjectHandler) AddPersonnel(w http.ResponseWriter, r *http.Request) {
	var req personnelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		jsonapi.RenderErr(w, apperr.Invalid("user_id", "is required"))
		return
	}
	p, err := h.svc.AddPersonnel(r.Context(), caller(r), r.PathValue("code"), req.UserID)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("project", p.ProjectCode, p))
}

// RemovePersonnel handles DELETE /api/v1/projects/{code}/personnel/{userID}.
// Free-text legacy members have no id; they are removed with ?name=.
func (h *ProjectHandler) RemovePersonnel(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if userID == "-" {
		userID = ""
	}
	p, err := h.svc.RemovePersonnel(r.Context(), caller(r), r.PathValue("code"), userID, r.URL.Query().Get("name"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("project", p.ProjectCode, p))
}

// History handles GET /api/v1/projects/{code}/history, newest first.
func (h *ProjectHandler) History(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), caller(r), r.PathValue("code"))
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	renderList(w, "edit_history", entries, func(e *model.EditHistoryEntry) string { return e.ID })
}

// Expenses handles GET /api/v1/projects/{code}/expenses.
func (h *ProjectHandler) Expenses(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	sum, err := h.svc.Expenses(r.Context(), caller(r), code)
	if err != nil {
		jsonapi.RenderErr(w, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, resource("expense_summary", code, sum))
}
