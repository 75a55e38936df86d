// Package jsonapi renders JSON:API 1.1 documents for the procurement API and
// maps service errors to status codes.
package jsonapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const contentType = "application/vnd.api+json"

// Document is a single-resource document. Meta carries operation results
// that are not attributes of the resource, such as whether an edit changed
// anything.
type Document struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta,omitempty"`
}

// ListDocument is a collection document. Meta.total is always set.
type ListDocument struct {
	Data []any `json:"data"`
	Meta Meta  `json:"meta"`
}

// ResourceObject is one resource. Attributes is usually the GORM model
// itself; its json tags define the wire names.
type ResourceObject struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	Attributes any    `json:"attributes,omitempty"`
}

// Meta is free-form non-standard information.
type Meta map[string]any

// Total reads meta.total from a decoded list document.
func (m Meta) Total() int {
	switch v := m["total"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := strconv.Atoi(v.String())
		return n
	}
	return 0
}

// ErrorDocument is an error response document.
type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// ErrorObject is one error. Code is the stable machine-readable reason.
type ErrorObject struct {
	Status string       `json:"status,omitempty"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the offending request member.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// Render writes doc with the given status.
func Render(w http.ResponseWriter, status int, doc any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(doc)
}

// RenderOne writes a single-resource document.
func RenderOne(w http.ResponseWriter, status int, data any) {
	Render(w, status, Document{Data: data})
}

// RenderList writes a collection document. A nil slice renders as [].
func RenderList(w http.ResponseWriter, status int, data []any) {
	if data == nil {
		data = []any{}
	}
	Render(w, status, ListDocument{Data: data, Meta: Meta{"total": len(data)}})
}

// RenderError writes a single error.
func RenderError(w http.ResponseWriter, status int, code, title, detail string) {
	RenderErrors(w, status, []ErrorObject{{
		Status: strconv.Itoa(status),
		Code:   code,
		Title:  title,
		Detail: detail,
	}})
}

// RenderErrors writes several errors under one status.
func RenderErrors(w http.ResponseWriter, status int, errs []ErrorObject) {
	Render(w, status, ErrorDocument{Errors: errs})
}
