// Package ratelimit throttles login and registration attempts per email.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTooManyAttempts = errors.New("too many attempts, please try again later")

type Operation string

const (
	OperationLogin    Operation = "login"
	OperationRegister Operation = "register"
)

type Rule struct {
	Max    int64
	Window time.Duration
}

var defaultRules = map[Operation]Rule{
	OperationLogin:    {Max: 5, Window: 15 * time.Minute},
	OperationRegister: {Max: 3, Window: time.Hour},
}

type RateLimiter struct {
	redis redis.Cmdable
	rules map[Operation]Rule
}

func NewRateLimiter(client redis.Cmdable) *RateLimiter {
	return &RateLimiter{redis: client, rules: defaultRules}
}

func (r *RateLimiter) CheckLogin(ctx context.Context, email string) error {
	return r.check(ctx, OperationLogin, email)
}

func (r *RateLimiter) CheckRegister(ctx context.Context, email string) error {
	return r.check(ctx, OperationRegister, email)
}

// ResetAttempts clears the counter, e.g. after a successful login.
func (r *RateLimiter) ResetAttempts(ctx context.Context, op Operation, email string) error {
	return r.redis.Del(ctx, key(op, email)).Err()
}

func (r *RateLimiter) check(ctx context.Context, op Operation, email string) error {
	rule := r.rules[op]
	k := key(op, email)

	count, err := r.redis.Incr(ctx, k).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, k, rule.Window).Err(); err != nil {
			return err
		}
	}
	if count > rule.Max {
		return ErrTooManyAttempts
	}
	return nil
}

func key(op Operation, email string) string {
	return string(op) + "_attempts:" + strings.ToLower(strings.TrimSpace(email))
}
