package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/clmc/procurement/internal/account"
	"github.com/clmc/procurement/internal/api"
	"github.com/clmc/procurement/internal/api/handler"
	"github.com/clmc/procurement/internal/api/middleware"
	"github.com/clmc/procurement/internal/assignment"
	"github.com/clmc/procurement/internal/auth"
	"github.com/clmc/procurement/internal/db"
	"github.com/clmc/procurement/internal/expense"
	"github.com/clmc/procurement/internal/health"
	"github.com/clmc/procurement/internal/history"
	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/notify"
	"github.com/clmc/procurement/internal/observability"
	"github.com/clmc/procurement/internal/project"
	"github.com/clmc/procurement/internal/roles"
	"github.com/clmc/procurement/internal/session"
	"github.com/clmc/procurement/internal/testutil"
	"github.com/clmc/procurement/internal/views"
	"github.com/clmc/procurement/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	secret   = "router-test-secret"
	password = "correct horse"
)

type document struct {
	Data struct {
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	log := observability.Discard()
	st, bus := testutil.Store(t)
	_, err := roles.EnsureTemplates(ctx, st)
	require.NoError(t, err)

	reg := worker.NewRegistry()
	assignment.Register(reg, assignment.New(st, bus, log))
	history.Register(reg, st)
	notify.Register(reg, notify.LogMailer{Log: log})
	q := worker.NewLocal(reg, worker.Options{Concurrency: 1, MaxAttempts: 3}, log)
	q.InitialInterval = time.Millisecond
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop(ctx) })

	refresh := auth.NewRefreshStore(st.DB(), time.Hour)
	sync := assignment.NewDispatcher(q, log)
	accounts := account.New(account.Config{Store: st, Sync: sync, Queue: q, Tokens: refresh, BaseURL: "http://proc.test", Log: log})
	projects := project.New(st, history.New(st, q, log), sync, expense.New(st), log)
	sessions := session.NewRegistry(st, st, bus, views.Factory(views.Deps{Store: st, Projects: projects, Bus: bus, Log: log}), log)
	t.Cleanup(sessions.Close)
	accounts.SetSessions(sessions)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	for _, u := range []*model.User{
		{Email: "admin@clmc.local", FullName: "Admin", Role: model.RoleSuperAdmin, Status: model.StatusActive, PasswordHash: string(hash)},
		{Email: "buyer@clmc.local", FullName: "Buyer", Role: model.RoleProcurement, Status: model.StatusActive, PasswordHash: string(hash)},
		{Email: "new@clmc.local", FullName: "Newcomer", Role: model.RoleOperationsUser, Status: model.StatusPending, PasswordHash: string(hash)},
	} {
		require.NoError(t, st.CreateUser(ctx, u))
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Handlers{
		Health:   health.New(db.NewPinger(st.DB()), sessions),
		Auth:     handler.NewAuthHandler(accounts, st, refresh, sessions, secret, time.Minute, log),
		Session:  handler.NewSessionHandler(sessions),
		Projects: handler.NewProjectHandler(projects),
		Users:    handler.NewUserHandler(accounts),
		Roles:    handler.NewRoleHandler(roles.NewService(st)),
		Records:  handler.NewRecordHandler(st),
	}, st, secret)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token, sid string, body any) (int, document) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sid != "" {
		req.Header.Set(middleware.SessionHeader, sid)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var doc document
	_ = json.NewDecoder(resp.Body).Decode(&doc)
	return resp.StatusCode, doc
}

func login(t *testing.T, srv *httptest.Server, email, sid string) document {
	t.Helper()
	status, doc := call(t, srv, http.MethodPost, "/api/v1/auth/login", "", sid, map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, status)
	return doc
}

func token(doc document) string {
	s, _ := doc.Data.Attributes["access_token"].(string)
	return s
}

func TestPublicEndpoints(t *testing.T) {
	srv := newServer(t)

	status, _ := call(t, srv, http.MethodGet, "/api/v1/health", "", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/projects", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/nope", "", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{"email": "admin@clmc.local", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestTabGating(t *testing.T) {
	srv := newServer(t)
	admin := token(login(t, srv, "admin@clmc.local", ""))
	buyer := token(login(t, srv, "buyer@clmc.local", ""))

	status, _ := call(t, srv, http.MethodGet, "/api/v1/users", admin, "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodGet, "/api/v1/users", buyer, "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/pos", buyer, "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, srv, http.MethodPost, "/api/v1/clients", buyer, "", map[string]string{"client_code": "ACME", "company_name": "Acme"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestTransportRequestDecision(t *testing.T) {
	srv := newServer(t)
	admin := token(login(t, srv, "admin@clmc.local", ""))
	buyer := token(login(t, srv, "buyer@clmc.local", ""))

	status, created := call(t, srv, http.MethodPost, "/api/v1/transport-requests", buyer, "", map[string]string{
		"tr_number": "TR-0001", "project_name": "Tower", "total_amount": "1500.50",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, model.FinancePending, created.Data.Attributes["finance_status"])
	decide := "/api/v1/transport-requests/" + created.Data.ID + "/decision"

	status, _ = call(t, srv, http.MethodPost, decide, buyer, "", map[string]string{"finance_status": "Approved"})
	assert.Equal(t, http.StatusForbidden, status, "procurement has no finance access")

	status, _ = call(t, srv, http.MethodPost, decide, admin, "", map[string]string{"finance_status": "Maybe"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, doc := call(t, srv, http.MethodPost, decide, admin, "", map[string]string{"finance_status": "Approved"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Approved", doc.Data.Attributes["finance_status"])

	status, _ = call(t, srv, http.MethodPost, decide, admin, "", map[string]string{"finance_status": "Rejected"})
	assert.Equal(t, http.StatusConflict, status, "a decided request stays decided")
}

func TestNavigateRestoresIntendedRouteAfterLogin(t *testing.T) {
	srv := newServer(t)
	target := "/api/v1/navigate?hash=" + url.QueryEscape("#/finance")

	status, doc := call(t, srv, http.MethodGet, target, "", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/login", doc.Data.Attributes["path"])
	sid, _ := doc.Data.Attributes["session_id"].(string)
	require.NotEmpty(t, sid)

	got := login(t, srv, "admin@clmc.local", sid)
	assert.Equal(t, sid, got.Data.Attributes["session_id"])
	assert.Equal(t, "#/finance", got.Data.Attributes["intended_route"])

	_, doc = call(t, srv, http.MethodGet, target, "", sid, nil)
	assert.Equal(t, "/finance", doc.Data.Attributes["path"])
	assert.Equal(t, "rendered", doc.Data.Attributes["kind"])

	status, _ = call(t, srv, http.MethodGet, "/api/v1/session/permissions", "", sid, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestPendingLoginConsumesIntendedRoute(t *testing.T) {
	srv := newServer(t)
	target := "/api/v1/navigate?hash=" + url.QueryEscape("#/finance")

	_, doc := call(t, srv, http.MethodGet, target, "", "", nil)
	sid, _ := doc.Data.Attributes["session_id"].(string)
	require.NotEmpty(t, sid)

	got := login(t, srv, "new@clmc.local", sid)
	assert.Empty(t, got.Data.Attributes["intended_route"])

	got = login(t, srv, "admin@clmc.local", sid)
	assert.Empty(t, got.Data.Attributes["intended_route"])
}
