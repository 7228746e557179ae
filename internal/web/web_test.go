package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"churchadmin/internal/backend/backendtest"
	"churchadmin/internal/config"
	"churchadmin/internal/dashboard"
	"churchadmin/internal/export"
	"churchadmin/internal/logger"
	"churchadmin/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv      *backendtest.Server
	server   *Server
	registry *dashboard.Registry
	cfg      *config.Config
}

func newTestEnv(t *testing.T, checks map[string]HealthCheck) *testEnv {
	t.Helper()
	srv := backendtest.NewSeeded(t)

	cfg := config.NewConfig()
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Backend.RetryCount = 0
	cfg.Permission.Authority = "backend"
	cfg.Permission.GuardTimeout = 2 * time.Second

	files, err := storage.NewLocalStorage(t.TempDir(), "/exports")
	require.NoError(t, err)

	registry := dashboard.NewRegistry(dashboard.Deps{
		Config:  cfg,
		Logger:  logger.Discard(),
		Storage: files,
	}, nil)

	server := New(Options{
		Config:   cfg,
		Logger:   logger.Discard(),
		Registry: registry,
		Storage:  files,
		Checks:   checks,
	})
	return &testEnv{srv: srv, server: server, registry: registry, cfg: cfg}
}

// browser keeps cookies between requests and echoes the CSRF token on
// unsafe methods.
type browser struct {
	t       *testing.T
	env     *testEnv
	cookies map[string]string
}

func (e *testEnv) browser(t *testing.T) *browser {
	return &browser{t: t, env: e, cookies: make(map[string]string)}
}

type response struct {
	Status int
	Header http.Header
	Body   APIResponse
	Raw    []byte
}

func (b *browser) do(method, target string, body any) response {
	b.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = bytes.NewReader(data)
	}
	unsafe := method != http.MethodGet && method != http.MethodHead
	if unsafe && b.cookies[CSRFCookieName] == "" {
		b.do(http.MethodGet, "/auth/session", nil)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if unsafe {
		req.Header.Set(HeaderCSRFToken, b.cookies[CSRFCookieName])
	}

	resp, err := b.env.server.App().Test(req, -1)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}

	raw, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	out := response{Status: resp.StatusCode, Header: resp.Header, Raw: raw}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(b.t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

func (b *browser) login(email string) {
	b.t.Helper()
	res := b.do(http.MethodPost, "/auth/login", loginRequest{Email: email, Password: backendtest.Password})
	require.Equal(b.t, http.StatusOK, res.Status, string(res.Raw))
}

func dataMap(t *testing.T, res response) map[string]any {
	t.Helper()
	m, isMap := res.Body.Data.(map[string]any)
	require.True(t, isMap, "data is %T", res.Body.Data)
	return m
}

func TestLoginAndSession(t *testing.T) {
	tests := []struct {
		name       string
		email      string
		password   string
		wantStatus int
		wantState  string
	}{
		{
			name:       "valid credentials",
			email:      backendtest.AdminEmail,
			password:   backendtest.Password,
			wantStatus: http.StatusOK,
			wantState:  "authenticated",
		},
		{
			name:       "wrong password",
			email:      backendtest.AdminEmail,
			password:   "nope-nope",
			wantStatus: http.StatusUnauthorized,
			wantState:  "anonymous",
		},
		{
			name:       "malformed email",
			email:      "not-an-email",
			password:   backendtest.Password,
			wantStatus: http.StatusUnauthorized,
			wantState:  "anonymous",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			b := env.browser(t)

			res := b.do(http.MethodPost, "/auth/login", loginRequest{Email: tt.email, Password: tt.password})
			assert.Equal(t, tt.wantStatus, res.Status)
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, res.Body.Message)
			}

			res = b.do(http.MethodGet, "/auth/session", nil)
			require.Equal(t, http.StatusOK, res.Status)
			assert.Equal(t, tt.wantState, dataMap(t, res)["status"])
		})
	}
}

func TestFallbackLimiterCountsRoutesSeparately(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser(t)

	for range 5 {
		res := b.do(http.MethodPost, "/auth/login", loginRequest{Email: backendtest.AdminEmail, Password: "nope-nope"})
		require.Equal(t, http.StatusUnauthorized, res.Status)
	}
	res := b.do(http.MethodPost, "/auth/login", loginRequest{Email: backendtest.AdminEmail, Password: backendtest.Password})
	assert.Equal(t, http.StatusTooManyRequests, res.Status)

	res = b.do(http.MethodPost, "/auth/register", registerRequest{Name: "Lydia", Email: "lydia@church.org", Password: "Purple-Cloth-42"})
	assert.NotEqual(t, http.StatusTooManyRequests, res.Status, string(res.Raw))
}

func TestGuard_RedirectsAnonymous(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser(t)

	res := b.do(http.MethodGet, "/members", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "/login", dataMap(t, res)["redirect"])
}

func TestGuard_DeniedMutationQueuesNotice(t *testing.T) {
	env := newTestEnv(t, nil)
	ids := env.srv.Seed(backendtest.OrgGrace, "members", map[string]any{"firstName": "Ruth", "lastName": "Moabite"})
	b := env.browser(t)
	b.login(backendtest.ViewerEmail)

	res := b.do(http.MethodPatch, "/members/"+ids[0], map[string]any{"firstName": "Naomi"})
	assert.Equal(t, http.StatusForbidden, res.Status)
	assert.Equal(t, "You do not have permission to update member", res.Body.Message)
	assert.Equal(t, "Ruth", env.srv.Record(backendtest.OrgGrace, "members", ids[0])["firstName"])

	res = b.do(http.MethodGet, "/notices", nil)
	require.Equal(t, http.StatusOK, res.Status)
	notices, isList := res.Body.Data.([]any)
	require.True(t, isList)
	require.Len(t, notices, 1)
	assert.Equal(t, "error", notices[0].(map[string]any)["type"])

	res = b.do(http.MethodGet, "/notices", nil)
	assert.Empty(t, res.Body.Data, "notices are drained once read")

	res = b.do(http.MethodGet, "/members/"+ids[0], nil)
	assert.Equal(t, http.StatusOK, res.Status, "viewers can still read")
}

func TestDestructiveActionsNeedConfirmation(t *testing.T) {
	env := newTestEnv(t, nil)
	ids := env.srv.Seed(backendtest.OrgGrace, "members", map[string]any{"firstName": "Ruth", "lastName": "Moabite"})
	b := env.browser(t)
	b.login(backendtest.AdminEmail)

	res := b.do(http.MethodDelete, "/members/"+ids[0], nil)
	assert.Equal(t, http.StatusPreconditionRequired, res.Status)
	data := dataMap(t, res)
	assert.Equal(t, true, data["confirm"])
	assert.Equal(t, "delete member "+ids[0], data["action"])
	assert.NotNil(t, env.srv.Record(backendtest.OrgGrace, "members", ids[0]))

	res = b.do(http.MethodDelete, "/members/"+ids[0]+"?confirm=true", nil)
	assert.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	assert.Nil(t, env.srv.Record(backendtest.OrgGrace, "members", ids[0]))

	res = b.do(http.MethodGet, "/members/"+ids[0], nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
}

func TestListMembers_Pagination(t *testing.T) {
	env := newTestEnv(t, nil)
	items := make([]map[string]any, 0, 12)
	for i := range 12 {
		items = append(items, map[string]any{"firstName": "Member", "lastName": string(rune('A' + i))})
	}
	env.srv.Seed(backendtest.OrgGrace, "members", items...)
	b := env.browser(t)
	b.login(backendtest.AdminEmail)

	res := b.do(http.MethodGet, "/members?page=2", nil)
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	page := dataMap(t, res)
	assert.Len(t, page["items"], 2)
	assert.EqualValues(t, 12, page["total"])
	assert.EqualValues(t, 2, page["pages"])
}

func TestSwitchOrganization(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.Seed(backendtest.OrgHope, "members", map[string]any{"firstName": "Lydia", "lastName": "Thyatira"})
	b := env.browser(t)
	b.login(backendtest.AdminEmail)

	res := b.do(http.MethodPost, "/organizations/active", organizationRequest{OrganizationID: backendtest.OrgHope})
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	assert.Equal(t, "Switched to Hope Chapel", res.Body.Message)

	res = b.do(http.MethodGet, "/members", nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.EqualValues(t, 1, dataMap(t, res)["total"])

	res = b.do(http.MethodPost, "/organizations/active", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestNavigation(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser(t)

	res := b.do(http.MethodGet, "/navigation", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)

	b.login(backendtest.MinisterEmail)
	res = b.do(http.MethodGet, "/navigation", nil)
	require.Equal(t, http.StatusOK, res.Status)
	items, isList := res.Body.Data.([]any)
	require.True(t, isList)
	var paths []string
	for _, item := range items {
		paths = append(paths, item.(map[string]any)["path"].(string))
	}
	assert.Equal(t, []string{"/members", "/services", "/activity"}, paths)
}

func TestSearchMembers_NewestSearchWins(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.Seed(backendtest.OrgGrace, "members",
		map[string]any{"firstName": "Ruth", "lastName": "Moabite"},
		map[string]any{"firstName": "Boaz", "lastName": "Bethlehem"},
	)
	b := env.browser(t)
	b.login(backendtest.AdminEmail)

	res := b.do(http.MethodGet, "/members/search?q=boaz", nil)
	require.Equal(t, http.StatusOK, res.Status)

	req := httptest.NewRequest(http.MethodGet, "/members/search?q=ruth", nil)
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	release := env.srv.Hold("/api/members/search")
	defer release()
	older := make(chan int, 1)
	go func() {
		resp, err := env.server.App().Test(req, -1)
		if err != nil {
			older <- 0
			return
		}
		resp.Body.Close()
		older <- resp.StatusCode
	}()
	require.Eventually(t, func() bool {
		return env.srv.Requests(http.MethodGet, "/api/members/search") == 2
	}, time.Second, 5*time.Millisecond)

	res = b.do(http.MethodGet, "/members/search?q=boaz", nil)
	require.Equal(t, http.StatusOK, res.Status, "the repeated search is answered from cache")
	results, isList := res.Body.Data.([]any)
	require.True(t, isList)
	require.Len(t, results, 1)
	assert.Equal(t, "Boaz", results[0].(map[string]any)["firstName"])

	release()
	assert.Equal(t, http.StatusConflict, <-older, "the older search was superseded")
}

func TestCheckPermission(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser(t)
	b.login(backendtest.ViewerEmail)

	res := b.do(http.MethodGet, "/permissions/check?resource=member&actions=read,list", nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, true, dataMap(t, res)["allowed"])

	res = b.do(http.MethodGet, "/permissions/check?resource=member&actions=delete", nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, false, dataMap(t, res)["allowed"])

	res = b.do(http.MethodGet, "/permissions/check?resource=member&actions=ban", nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser(t)
	b.login(backendtest.AdminEmail)
	require.Equal(t, 1, env.registry.Len())

	res := b.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, 0, env.registry.Len())

	res = b.do(http.MethodGet, "/members", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestExportMembers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.Seed(backendtest.OrgGrace, "members",
		map[string]any{"firstName": "Ruth", "lastName": "Moabite"},
		map[string]any{"firstName": "Boaz", "lastName": "Bethlehem"},
	)
	b := env.browser(t)
	b.login(backendtest.AdminEmail)

	res := b.do(http.MethodPost, "/members/export", nil)
	require.Equal(t, http.StatusCreated, res.Status, string(res.Raw))
	data := dataMap(t, res)
	assert.EqualValues(t, 2, data["count"])
	key, _ := data["key"].(string)
	require.True(t, strings.HasPrefix(key, backendtest.OrgGrace+"/"))
	assert.Equal(t, "/exports/"+key, data["url"])

	res = b.do(http.MethodGet, "/exports/"+key, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, export.ContentType, res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), ".xlsx")
	assert.NotEmpty(t, res.Raw)

	other := env.browser(t)
	other.login(backendtest.AdminEmail)
	other.do(http.MethodPost, "/organizations/active", organizationRequest{OrganizationID: backendtest.OrgHope})
	res = other.do(http.MethodGet, "/exports/"+key, nil)
	assert.Equal(t, http.StatusNotFound, res.Status, "exports are scoped to the active organization")
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
		},
		{
			name: "all healthy",
			checks: map[string]HealthCheck{
				"redis": func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "one failing",
			checks: map[string]HealthCheck{
				"redis":    func(context.Context) error { return nil },
				"database": func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.checks)
			res := env.browser(t).do(http.MethodGet, "/healthz", nil)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, 0, env.registry.Len(), "health checks do not create clients")
		})
	}
}

func TestCSRFRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"admin@church.org","password":"secret123"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusPreconditionRequired, statusFor(ErrConfirmationRequired))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
