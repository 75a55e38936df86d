package jsonapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/clmc/procurement/internal/apperr"
	"github.com/clmc/procurement/internal/store"
)

// RenderErr maps a service error to its status code. Validation errors
// become one 422 error per field with a source pointer; anything not
// recognised is a 500 whose detail is not exposed.
func RenderErr(w http.ResponseWriter, err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		objs := make([]ErrorObject, 0, len(verr.Fields))
		for _, f := range verr.Fields {
			objs = append(objs, ErrorObject{
				Status: strconv.Itoa(http.StatusUnprocessableEntity),
				Code:   "invalid_field",
				Title:  "Unprocessable Entity",
				Detail: f.Message,
				Source: &ErrorSource{Pointer: "/data/attributes/" + strings.ReplaceAll(f.Field, ".", "/")},
			})
		}
		RenderErrors(w, http.StatusUnprocessableEntity, objs)
	case errors.Is(err, apperr.ErrForbidden):
		RenderError(w, http.StatusForbidden, "forbidden", "Forbidden", "you are not allowed to do this")
	case errors.Is(err, store.ErrNotFound):
		RenderError(w, http.StatusNotFound, "not_found", "Not Found", "resource does not exist")
	case errors.Is(err, store.ErrConflict):
		RenderError(w, http.StatusConflict, "conflict", "Conflict", err.Error())
	default:
		RenderError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", "unexpected error")
	}
}
