package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimiter(client), mr
}

func TestCheckLogin_BlocksAfterFiveAttempts(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := t.Context()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.CheckLogin(ctx, "pastor@grace.test"))
	}
	assert.ErrorIs(t, limiter.CheckLogin(ctx, "pastor@grace.test"), ErrTooManyAttempts)
	assert.ErrorIs(t, limiter.CheckLogin(ctx, " PASTOR@grace.test "), ErrTooManyAttempts)

	assert.NoError(t, limiter.CheckLogin(ctx, "viewer@grace.test"))
}

func TestCheckLogin_WindowExpires(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := t.Context()

	for i := 0; i < 6; i++ {
		_ = limiter.CheckLogin(ctx, "pastor@grace.test")
	}
	assert.Equal(t, 15*time.Minute, mr.TTL("login_attempts:pastor@grace.test"))

	mr.FastForward(16 * time.Minute)
	assert.NoError(t, limiter.CheckLogin(ctx, "pastor@grace.test"))
}

func TestCheckRegister(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.CheckRegister(ctx, "new@grace.test"))
	}
	assert.ErrorIs(t, limiter.CheckRegister(ctx, "new@grace.test"), ErrTooManyAttempts)
	assert.NoError(t, limiter.CheckLogin(ctx, "new@grace.test"))
}

func TestResetAttempts(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := t.Context()

	for i := 0; i < 6; i++ {
		_ = limiter.CheckLogin(ctx, "pastor@grace.test")
	}
	require.NoError(t, limiter.ResetAttempts(ctx, OperationLogin, "pastor@grace.test"))
	assert.NoError(t, limiter.CheckLogin(ctx, "pastor@grace.test"))
}

func TestCheck_RedisUnavailable(t *testing.T) {
	limiter, mr := newLimiter(t)
	mr.Close()

	err := limiter.CheckLogin(t.Context(), "pastor@grace.test")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooManyAttempts)
}
