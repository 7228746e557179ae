package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"churchadmin/internal/backend/backendtest"
	"churchadmin/internal/config"
	"churchadmin/internal/guard"
	"churchadmin/internal/logger"
	"churchadmin/internal/rbac"
	"churchadmin/internal/records"
	"churchadmin/internal/session"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{data: make(map[string][]byte)}
}

func (m *memStorage) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStorage) Set(key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), val...)
	return nil
}

func (m *memStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStorage) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

func (m *memStorage) Close() error { return nil }

func (m *memStorage) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func testConfig(srv *backendtest.Server) *config.Config {
	cfg := config.NewConfig()
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Backend.RetryCount = 0
	cfg.Permission.Authority = "backend"
	cfg.Permission.GuardTimeout = 2 * time.Second
	return cfg
}

func newRegistry(t *testing.T, srv *backendtest.Server, storage fiber.Storage) *Registry {
	t.Helper()
	return NewRegistry(Deps{Config: testConfig(srv), Logger: logger.Discard()}, storage)
}

func TestRegistry_GetSharesOneClient(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	registry := newRegistry(t, srv, nil)

	var wg sync.WaitGroup
	clients := make([]*Client, 8)
	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := registry.Get(t.Context(), "browser-1")
			assert.NoError(t, err)
			clients[i] = c
		}()
	}
	wg.Wait()

	for _, c := range clients {
		assert.Same(t, clients[0], c)
	}
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, session.StatusAnonymous, clients[0].Session.Status())
}

func TestRegistry_RestoresSessionAfterRestart(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	storage := newMemStorage()
	ctx := t.Context()

	first := newRegistry(t, srv, storage)
	c, err := first.Get(ctx, "browser-1")
	require.NoError(t, err)
	res := c.Session.Login(ctx, backendtest.AdminEmail, backendtest.Password)
	require.True(t, res.Success, res.Error)
	_, err = c.Session.SetActiveOrganization(ctx, backendtest.OrgHope)
	require.NoError(t, err)
	require.True(t, storage.has(stateKeyPrefix+"browser-1"))

	restarted := newRegistry(t, srv, storage)
	restored, err := restarted.Get(ctx, "browser-1")
	require.NoError(t, err)

	assert.Equal(t, session.StatusAuthenticated, restored.Session.Status())
	actor, ok := restored.Session.Actor()
	require.True(t, ok)
	assert.Equal(t, "user-admin", actor.ID)
	org, ok := restored.Session.Organization()
	require.True(t, ok)
	assert.Equal(t, backendtest.OrgHope, org.ID)
}

func TestRegistry_LogoutForgetsState(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	storage := newMemStorage()
	ctx := t.Context()

	registry := newRegistry(t, srv, storage)
	c, err := registry.Get(ctx, "browser-1")
	require.NoError(t, err)
	require.True(t, c.Session.Login(ctx, backendtest.PastorEmail, backendtest.Password).Success)
	require.True(t, storage.has(stateKeyPrefix+"browser-1"))

	c.Session.Logout(ctx)
	assert.False(t, storage.has(stateKeyPrefix+"browser-1"))
}

func TestRegistry_SweepEvictsIdleClients(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	registry := newRegistry(t, srv, nil)
	ctx := t.Context()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	registry.now = func() time.Time { return base }
	_, err := registry.Get(ctx, "idle")
	require.NoError(t, err)

	registry.now = func() time.Time { return base.Add(20 * time.Minute) }
	_, err = registry.Get(ctx, "active")
	require.NoError(t, err)

	registry.now = func() time.Time { return base.Add(40 * time.Minute) }
	assert.Equal(t, 1, registry.Sweep(ctx, 30*time.Minute))
	assert.Equal(t, 1, registry.Len())

	registry.Remove(ctx, "active")
	assert.Equal(t, 0, registry.Len())
}

func TestClient_TenantSwitchPurgesCaches(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	registry := newRegistry(t, srv, nil)
	ctx := t.Context()

	c, err := registry.Get(ctx, "browser-1")
	require.NoError(t, err)
	require.True(t, c.Session.Login(ctx, backendtest.AdminEmail, backendtest.Password).Success)

	_, err = c.Members.List(ctx, records.MemberFilter{})
	require.NoError(t, err)
	require.True(t, c.Permissions.HasPermission(ctx, rbac.ResourceMember, rbac.ActionList))
	require.NotZero(t, c.Cache.Len())
	checks := srv.PermissionChecks()

	_, err = c.Session.SetActiveOrganization(ctx, backendtest.OrgHope)
	require.NoError(t, err)
	assert.Zero(t, c.Cache.Len())

	require.True(t, c.Permissions.HasPermission(ctx, rbac.ResourceMember, rbac.ActionList))
	assert.Equal(t, checks+1, srv.PermissionChecks(), "answers are not reused across organizations")
}

func sectionNames(sections []Section) []string {
	names := make([]string, 0, len(sections))
	for _, s := range sections {
		names = append(names, s.Name)
	}
	return names
}

func TestClient_NavigationFollowsOrganization(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	registry := newRegistry(t, srv, nil)
	ctx := t.Context()

	c, err := registry.Get(ctx, "browser-1")
	require.NoError(t, err)
	assert.Empty(t, c.Visible(ctx), "anonymous actors see no sections")

	require.True(t, c.Session.Login(ctx, backendtest.MinisterEmail, backendtest.Password).Success)
	assert.Equal(t, []string{"Members", "Services", "Activity"}, sectionNames(c.Visible(ctx)))

	checks := srv.PermissionChecks()
	assert.Equal(t, []string{"Members", "Services", "Activity"}, sectionNames(c.Visible(ctx)))
	assert.Equal(t, checks, srv.PermissionChecks(), "settled gates answer without checking")

	_, err = c.Session.SetActiveOrganization(ctx, backendtest.OrgHope)
	require.NoError(t, err)
	for _, s := range c.Navigation {
		assert.Equal(t, guard.StateChecking, s.Gate.Decision().State, s.Name)
	}
	assert.Equal(t, []string{"Members", "Services", "Ministers", "Users", "Roles", "Activity"}, sectionNames(c.Visible(ctx)))
}

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Check(ctx context.Context, user, relation, object string) (bool, error) {
	args := m.Called(ctx, user, relation, object)
	return args.Bool(0), args.Error(1)
}

func TestClient_OpenFGAAuthority(t *testing.T) {
	srv := backendtest.NewSeeded(t)
	checker := new(MockChecker)
	checker.On("Check", mock.Anything, "user:user-viewer", "member_update", "organization:"+backendtest.OrgGrace).Return(false, nil)
	checker.On("Check", mock.Anything, "user:user-viewer", "member_read", "organization:"+backendtest.OrgGrace).Return(true, nil)

	cfg := testConfig(srv)
	cfg.Permission.Authority = AuthorityOpenFGA
	c, err := NewClient("browser-1", Deps{Config: cfg, Logger: logger.Discard(), Checker: checker})
	require.NoError(t, err)
	defer c.Close()

	ctx := t.Context()
	require.True(t, c.Session.Login(ctx, backendtest.ViewerEmail, backendtest.Password).Success)

	assert.True(t, c.Permissions.HasPermission(ctx, rbac.ResourceMember, rbac.ActionRead))
	assert.False(t, c.Permissions.HasPermission(ctx, rbac.ResourceMember, rbac.ActionUpdate))
	assert.Zero(t, srv.PermissionChecks(), "the backend authority is not consulted")
	checker.AssertExpectations(t)
}
