// Package handler contains HTTP handlers grouped by resource.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/api/middleware"
	"github.com/clmc/procurement/internal/model"
)

// decode reads a JSON body into v and renders 400 when it cannot.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return false
	}
	return true
}

// caller is the user loaded by middleware.LoadUser.
func caller(r *http.Request) *model.User {
	return middleware.UserFromContext(r.Context())
}

func resource(typ, id string, attrs any) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{Type: typ, ID: id, Attributes: attrs}
}

func renderList[T any](w http.ResponseWriter, typ string, items []T, id func(*T) string) {
	data := make([]any, len(items))
	for i := range items {
		data[i] = resource(typ, id(&items[i]), &items[i])
	}
	jsonapi.RenderList(w, http.StatusOK, data)
}
