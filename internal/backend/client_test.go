package backend_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"churchadmin/internal/backend"
	"churchadmin/internal/backend/backendtest"
	"churchadmin/internal/model"
	"churchadmin/internal/rbac"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T, url string) *backend.Client {
	t.Helper()
	client, err := backend.New(backend.Config{BaseURL: url, Timeout: 2 * time.Second}, quietLogger())
	require.NoError(t, err)
	return client
}

func TestClient_SignInCarriesSessionCookie(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.GetSession(ctx)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)

	actor, err := client.SignIn(ctx, backendtest.AdminEmail, backendtest.Password)
	require.NoError(t, err)
	assert.Equal(t, "user-admin", actor.ID)
	assert.Equal(t, rbac.RoleSuperAdmin, actor.Role)

	info, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, actor.ID, info.User.ID)
	assert.Equal(t, backendtest.OrgGrace, info.ActiveOrganizationID)

	require.NoError(t, client.SignOut(ctx))
	assert.Empty(t, client.Cookies())
	_, err = client.GetSession(ctx)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)
}

func TestClient_SignInWrongPassword(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	client := newClient(t, srv.URL)

	_, err := client.SignIn(context.Background(), backendtest.AdminEmail, "nope")
	require.ErrorIs(t, err, backend.ErrUnauthenticated)
	assert.Equal(t, "Invalid email or password", backend.Message(err))
}

func TestClient_CookiesSurviveExport(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	ctx := context.Background()

	first := newClient(t, srv.URL)
	_, err := first.SignIn(ctx, backendtest.ViewerEmail, backendtest.Password)
	require.NoError(t, err)

	second := newClient(t, srv.URL)
	second.SetCookies(first.Cookies())
	info, err := second.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-viewer", info.User.ID)
}

func TestClient_ClearCookiesDuringRequest(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()

	_, err := client.SignIn(ctx, backendtest.ViewerEmail, backendtest.Password)
	require.NoError(t, err)
	exported := client.Cookies()
	require.NotEmpty(t, exported)

	release := srv.Hold("/session")
	done := make(chan error, 1)
	go func() {
		_, err := client.GetSession(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return srv.Requests(http.MethodGet, "/session") == 1
	}, time.Second, 5*time.Millisecond)

	client.ClearCookies()
	assert.Empty(t, client.Cookies())
	release()
	require.NoError(t, <-done, "the held request was sent with the session cookie")

	_, err = client.GetSession(ctx)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)

	client.SetCookies(exported)
	info, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-viewer", info.User.ID)
}

func TestClient_HasPermission(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()
	_, err := client.SignIn(ctx, backendtest.MinisterEmail, backendtest.Password)
	require.NoError(t, err)

	allowed, err := client.HasPermission(ctx, backendtest.OrgGrace, rbac.ResourceMember, []rbac.Action{rbac.ActionRead, rbac.ActionUpdate})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = client.HasPermission(ctx, backendtest.OrgHope, rbac.ResourceMember, []rbac.Action{rbac.ActionUpdate})
	require.NoError(t, err)
	assert.False(t, allowed)

	srv.FailPermissionChecks(1)
	allowed, err = client.HasPermission(ctx, backendtest.OrgGrace, rbac.ResourceMember, []rbac.Action{rbac.ActionRead})
	assert.ErrorIs(t, err, backend.ErrServer)
	assert.False(t, allowed)
}

func TestClient_HasPermissionInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":null}`))
	}))
	defer srv.Close()

	allowed, err := newClient(t, srv.URL).HasPermission(context.Background(), "org", rbac.ResourceMember, []rbac.Action{rbac.ActionRead})
	assert.ErrorIs(t, err, backend.ErrInconclusive)
	assert.False(t, allowed)
}

func TestClient_Organizations(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()
	_, err := client.SignIn(ctx, backendtest.AdminEmail, backendtest.Password)
	require.NoError(t, err)

	orgs, err := client.ListOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 2)

	org, err := client.SetActiveOrganization(ctx, backendtest.OrgHope)
	require.NoError(t, err)
	assert.Equal(t, "Hope Chapel", org.Name)

	_, err = client.SetActiveOrganization(ctx, "org-unknown")
	assert.ErrorIs(t, err, backend.ErrForbidden)
}

func TestClient_DoDecodesEnvelope(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	client := newClient(t, srv.URL)
	ctx := context.Background()
	_, err := client.SignIn(ctx, backendtest.AdminEmail, backendtest.Password)
	require.NoError(t, err)
	srv.Seed(backendtest.OrgGrace, "members",
		map[string]any{"firstName": "Ruth", "lastName": "Moab"},
		map[string]any{"firstName": "Boaz", "lastName": "Bethlehem"},
	)

	var members []model.Member
	pagination, err := client.Do(ctx, http.MethodGet, backend.Path("members"), nil, nil, &members)
	require.NoError(t, err)
	require.NotNil(t, pagination)
	assert.Equal(t, 2, pagination.Total)
	assert.Len(t, members, 2)

	var member model.Member
	_, err = client.Do(ctx, http.MethodGet, backend.Path("members", "missing"), nil, nil, &member)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestClient_ErrorNormalization(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    error
		message string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"success":false}`, backend.ErrUnauthenticated, "Your session has expired, please sign in again"},
		{"forbidden", http.StatusForbidden, `{"success":false,"message":"You do not have permission to delete member"}`, backend.ErrForbidden, "You do not have permission to delete member"},
		{"not found", http.StatusNotFound, `{"success":false,"message":"Member not found"}`, backend.ErrNotFound, "The requested record was not found"},
		{"validation", http.StatusUnprocessableEntity, `{"success":false,"message":"Email already in use"}`, backend.ErrValidation, "Email already in use"},
		{"server", http.StatusInternalServerError, `oops`, backend.ErrServer, "Something went wrong on the server, please try again"},
		{"rejected with 200", http.StatusOK, `{"success":false,"message":"Member is already enrolled"}`, backend.ErrValidation, "Member is already enrolled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL).Do(context.Background(), http.MethodPost, "/api/members", nil, map[string]string{}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Equal(t, tt.message, backend.Message(err))
		})
	}
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).Do(context.Background(), http.MethodGet, "/api/members", nil, nil, nil)
	require.ErrorIs(t, err, backend.ErrUnavailable)
	assert.Equal(t, "Unable to reach the server, please try again", backend.Message(err))

	var backendErr *backend.Error
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, 0, backendErr.Status)
}

func TestClient_UnauthenticatedHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newClient(t, srv.URL)
	var calls atomic.Int32
	client.OnUnauthenticated(func() { calls.Add(1) })

	_, err := client.Do(context.Background(), http.MethodGet, "/api/members", nil, nil, nil)
	assert.ErrorIs(t, err, backend.ErrUnauthenticated)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesOnlyIdempotentRequests(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		} else {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := backend.New(backend.Config{BaseURL: srv.URL, RetryCount: 2}, quietLogger())
	require.NoError(t, err)

	_, err = client.Do(context.Background(), http.MethodGet, "/api/members", nil, nil, nil)
	assert.ErrorIs(t, err, backend.ErrServer)
	_, err = client.Do(context.Background(), http.MethodPost, "/api/members", nil, map[string]string{}, nil)
	assert.ErrorIs(t, err, backend.ErrServer)

	assert.Equal(t, int32(3), gets.Load())
	assert.Equal(t, int32(1), posts.Load())
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/api/members", backend.Path("members"))
	assert.Equal(t, "/api/church-services/svc%2F1/members/m-1", backend.Path("church-services", "svc/1", "members", "m-1"))
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := backend.New(backend.Config{}, nil)
	assert.Error(t, err)
}
