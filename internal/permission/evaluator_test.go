package permission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"churchadmin/internal/model"
	"churchadmin/internal/rbac"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthority struct {
	mock.Mock
}

func (m *MockAuthority) HasPermission(ctx context.Context, organizationID string, resource rbac.Resource, actions []rbac.Action) (bool, error) {
	args := m.Called(ctx, organizationID, resource, actions)
	return args.Bool(0), args.Error(1)
}

type fakeSession struct {
	mu    sync.Mutex
	org   string
	epoch uint64
	actor *model.Actor
}

func (s *fakeSession) ActiveTenant() (string, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.org, s.epoch, s.org != ""
}

func (s *fakeSession) Actor() (model.Actor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actor == nil {
		return model.Actor{}, false
	}
	return *s.actor, true
}

func (s *fakeSession) switchTo(org string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.org = org
	s.epoch++
}

type funcAuthority func(ctx context.Context, organizationID string, resource rbac.Resource, actions []rbac.Action) (bool, error)

func (f funcAuthority) HasPermission(ctx context.Context, organizationID string, resource rbac.Resource, actions []rbac.Action) (bool, error) {
	return f(ctx, organizationID, resource, actions)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvaluator_HasPermission(t *testing.T) {
	tests := []struct {
		name       string
		org        string
		resource   rbac.Resource
		actions    []rbac.Action
		setupMocks func(*MockAuthority)
		expected   bool
	}{
		{
			name:     "allowed by authority",
			org:      "org-1",
			resource: rbac.ResourceMember,
			actions:  []rbac.Action{rbac.ActionUpdate},
			setupMocks: func(m *MockAuthority) {
				m.On("HasPermission", mock.Anything, "org-1", rbac.ResourceMember, []rbac.Action{rbac.ActionUpdate}).Return(true, nil).Once()
			},
			expected: true,
		},
		{
			name:     "denied by authority",
			org:      "org-1",
			resource: rbac.ResourceUser,
			actions:  []rbac.Action{rbac.ActionBan},
			setupMocks: func(m *MockAuthority) {
				m.On("HasPermission", mock.Anything, "org-1", rbac.ResourceUser, []rbac.Action{rbac.ActionBan}).Return(false, nil).Once()
			},
			expected: false,
		},
		{
			name:     "transport error fails closed",
			org:      "org-1",
			resource: rbac.ResourceMember,
			actions:  []rbac.Action{rbac.ActionDelete},
			setupMocks: func(m *MockAuthority) {
				m.On("HasPermission", mock.Anything, "org-1", rbac.ResourceMember, []rbac.Action{rbac.ActionDelete}).Return(true, errors.New("connection refused")).Once()
			},
			expected: false,
		},
		{
			name:       "no tenant never calls authority",
			org:        "",
			resource:   rbac.ResourceMember,
			actions:    []rbac.Action{rbac.ActionRead},
			setupMocks: func(m *MockAuthority) {},
			expected:   false,
		},
		{
			name:       "action outside catalog",
			org:        "org-1",
			resource:   rbac.ResourceAnalytics,
			actions:    []rbac.Action{rbac.ActionDelete},
			setupMocks: func(m *MockAuthority) {},
			expected:   false,
		},
		{
			name:       "no actions",
			org:        "org-1",
			resource:   rbac.ResourceMember,
			setupMocks: func(m *MockAuthority) {},
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := new(MockAuthority)
			tt.setupMocks(authority)
			session := &fakeSession{org: tt.org}
			evaluator := NewEvaluator(authority, session, Config{}, quietLogger())

			assert.NotPanics(t, func() {
				assert.Equal(t, tt.expected, evaluator.HasPermission(context.Background(), tt.resource, tt.actions...))
			})
			authority.AssertExpectations(t)
		})
	}
}

func TestEvaluator_CachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		calls.Add(1)
		return true, nil
	})
	evaluator := NewEvaluator(authority, &fakeSession{org: "org-1"}, Config{TTL: 50 * time.Millisecond}, quietLogger())
	ctx := context.Background()

	assert.True(t, evaluator.HasPermission(ctx, rbac.ResourceMember, rbac.ActionRead, rbac.ActionList))
	assert.True(t, evaluator.HasPermission(ctx, rbac.ResourceMember, rbac.ActionList, rbac.ActionRead))
	assert.Equal(t, int32(1), calls.Load(), "action order must not affect the cache key")

	time.Sleep(120 * time.Millisecond)
	assert.True(t, evaluator.HasPermission(ctx, rbac.ResourceMember, rbac.ActionRead, rbac.ActionList))
	assert.Equal(t, int32(2), calls.Load(), "answers older than the TTL must be refetched")
}

func TestEvaluator_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("timeout")
		}
		return true, nil
	})
	evaluator := NewEvaluator(authority, &fakeSession{org: "org-1"}, Config{}, quietLogger())

	assert.False(t, evaluator.HasPermission(context.Background(), rbac.ResourceMember, rbac.ActionRead))
	assert.True(t, evaluator.HasPermission(context.Background(), rbac.ResourceMember, rbac.ActionRead))
}

func TestEvaluator_TimeoutFailsClosed(t *testing.T) {
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(time.Second):
			return true, nil
		}
	})
	evaluator := NewEvaluator(authority, &fakeSession{org: "org-1"}, Config{CheckTimeout: 20 * time.Millisecond}, quietLogger())

	start := time.Now()
	allowed, err := evaluator.Check(context.Background(), rbac.ResourceUser, rbac.ActionDelete)
	assert.False(t, allowed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestEvaluator_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		<-release
		return true, nil
	})
	evaluator := NewEvaluator(authority, &fakeSession{org: "org-1"}, Config{}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	allowed, err := evaluator.Check(ctx, rbac.ResourceMember, rbac.ActionRead)
	assert.False(t, allowed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEvaluator_DiscardsAnswerAfterTenantSwitch(t *testing.T) {
	session := &fakeSession{org: "org-old"}
	started := make(chan struct{})
	release := make(chan struct{})
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		if org == "org-old" {
			close(started)
			<-release
			return true, nil
		}
		return false, nil
	})
	evaluator := NewEvaluator(authority, session, Config{}, quietLogger())

	result := make(chan error, 1)
	go func() {
		allowed, err := evaluator.Check(context.Background(), rbac.ResourceMember, rbac.ActionDelete)
		assert.False(t, allowed)
		result <- err
	}()

	<-started
	session.switchTo("org-new")
	evaluator.Invalidate()
	close(release)

	assert.ErrorIs(t, <-result, ErrTenantChanged)
	assert.False(t, evaluator.HasPermission(context.Background(), rbac.ResourceMember, rbac.ActionDelete))
}

func TestEvaluator_CollapsesConcurrentChecks(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		calls.Add(1)
		<-gate
		return true, nil
	})
	evaluator := NewEvaluator(authority, &fakeSession{org: "org-1"}, Config{}, quietLogger())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, evaluator.HasPermission(context.Background(), rbac.ResourceChurchService, rbac.ActionList))
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestEvaluator_InvalidateForcesRemoteCheck(t *testing.T) {
	var calls atomic.Int32
	authority := funcAuthority(func(ctx context.Context, org string, r rbac.Resource, a []rbac.Action) (bool, error) {
		calls.Add(1)
		return true, nil
	})
	evaluator := NewEvaluator(authority, &fakeSession{org: "org-1"}, Config{}, quietLogger())

	evaluator.HasPermission(context.Background(), rbac.ResourceRole, rbac.ActionList)
	evaluator.Invalidate()
	evaluator.HasPermission(context.Background(), rbac.ResourceRole, rbac.ActionList)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEvaluator_HasRole(t *testing.T) {
	session := &fakeSession{org: "org-1"}
	evaluator := NewEvaluator(new(MockAuthority), session, Config{}, quietLogger())

	assert.False(t, evaluator.HasRole(rbac.RoleAdmin), "no actor")

	session.actor = &model.Actor{ID: "u1", Role: "pastor,viewer"}
	assert.True(t, evaluator.HasRole(rbac.RoleAdmin, rbac.RolePastor))
	assert.True(t, evaluator.HasRole(rbac.RoleViewer))
	assert.False(t, evaluator.HasRole(rbac.RoleSuperAdmin))
	assert.False(t, evaluator.HasRole())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "org|3|member|read,update", cacheKey("org", 3, rbac.ResourceMember, []rbac.Action{rbac.ActionUpdate, rbac.ActionRead, rbac.ActionUpdate}))
}
