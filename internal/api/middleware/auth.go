// Package middleware provides HTTP middleware for the procurement API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/clmc/procurement/internal/api/jsonapi"
	"github.com/clmc/procurement/internal/auth"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/store"
)

type contextKey string

const (
	claimsKey contextKey = "auth_claims"
	userKey   contextKey = "auth_user"
)

// SessionHeader carries the client session id.
const SessionHeader = "X-Session-ID"

// RequireAuth validates the Bearer JWT in the Authorization header.
// On success it injects *auth.Claims into the request context.
// On failure it writes a 401 JSON:API error response.
func RequireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "Authorization header is required")
				return
			}

			claims, err := auth.ParseAccessToken(token, secret)
			if err != nil {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"invalid_token", "Unauthorized", "access token is invalid or expired")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext extracts Claims from the request context.
// Returns nil if not present.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

// Users loads live account state.
type Users interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// LoadUser replaces the token snapshot with the stored user. Tokens of
// deleted accounts are rejected with 401; accounts that are not active get
// 403 unless allowInactive is set. Must be chained after RequireAuth.
func LoadUser(users Users, allowInactive bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "authentication required")
				return
			}
			u, err := users.GetUser(r.Context(), claims.UserID)
			if errors.Is(err, store.ErrNotFound) {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"user_not_found", "Unauthorized", "user account does not exist")
				return
			}
			if err != nil {
				jsonapi.RenderErr(w, err)
				return
			}
			if u.Status != model.StatusActive && !allowInactive {
				jsonapi.RenderError(w, http.StatusForbidden,
					"account_inactive", "Forbidden", "account is "+string(u.Status))
				return
			}
			ctx := context.WithValue(r.Context(), userKey, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user stored by LoadUser, or nil.
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(userKey).(*model.User)
	return u
}

// Templates loads role templates.
type Templates interface {
	GetRoleTemplate(ctx context.Context, role model.Role) (*model.RoleTemplate, error)
}

// RequireTab checks that the user's role template explicitly grants access
// to tab, and edit as well when edit is set. super_admin always passes. A
// missing template or tab entry denies. Must be chained after LoadUser.
func RequireTab(templates Templates, tab model.Tab, edit bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := UserFromContext(r.Context())
			if u == nil {
				jsonapi.RenderError(w, http.StatusUnauthorized,
					"missing_token", "Unauthorized", "authentication required")
				return
			}
			if u.Role != model.RoleSuperAdmin && !granted(r.Context(), templates, u.Role, tab, edit) {
				action := "access"
				if edit {
					action = "edit"
				}
				jsonapi.RenderError(w, http.StatusForbidden, "forbidden", "Forbidden",
					"your role cannot "+action+" the '"+string(tab)+"' tab")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func granted(ctx context.Context, templates Templates, role model.Role, tab model.Tab, edit bool) bool {
	rt, err := templates.GetRoleTemplate(ctx, role)
	if err != nil {
		return false
	}
	g, ok := rt.Permissions.Tabs[tab]
	if !ok || !g.Access {
		return false
	}
	return !edit || g.Edit
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
