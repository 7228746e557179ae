// Package permission answers whether the current actor may perform actions on
// a resource inside the active organization. The answer always comes from a
// remote authority; a bounded TTL cache sits in front of it and every
// uncertain outcome is a denial.
package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"churchadmin/internal/model"
	"churchadmin/internal/rbac"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoTenant      = errors.New("no active organization")
	ErrInvalidAction = errors.New("action not valid for resource")
	ErrTenantChanged = errors.New("organization changed during check")
)

// Authority decides permission questions remotely.
type Authority interface {
	HasPermission(ctx context.Context, organizationID string, resource rbac.Resource, actions []rbac.Action) (bool, error)
}

// Session exposes the parts of the session the evaluator reads.
type Session interface {
	// ActiveTenant returns the active organization and an epoch that changes
	// on every login, logout and organization switch.
	ActiveTenant() (organizationID string, epoch uint64, ok bool)
	Actor() (model.Actor, bool)
}

type Config struct {
	// TTL bounds how long a remote answer is trusted.
	TTL          time.Duration
	CheckTimeout time.Duration
	CacheSize    int
}

func DefaultConfig() Config {
	return Config{TTL: 2 * time.Minute, CheckTimeout: 5 * time.Second, CacheSize: 512}
}

type Evaluator struct {
	authority Authority
	session   Session
	config    Config
	logger    *slog.Logger

	cache  *expirable.LRU[string, bool]
	group  singleflight.Group
	checks metric.Int64Counter
}

func NewEvaluator(authority Authority, session Session, cfg Config, logger *slog.Logger) *Evaluator {
	defaults := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaults.CheckTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaults.CacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	checks, err := otel.Meter("churchadmin/permission").Int64Counter("permission.checks",
		metric.WithDescription("Permission checks by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("Failed to create permission metric", "error", err)
	}

	return &Evaluator{
		authority: authority,
		session:   session,
		config:    cfg,
		logger:    logger.With("component", "permission"),
		cache:     expirable.NewLRU[string, bool](cfg.CacheSize, nil, cfg.TTL),
		checks:    checks,
	}
}

// HasPermission reports whether every action is allowed on the resource.
// It never returns an error: anything short of a confirmed grant is false.
func (e *Evaluator) HasPermission(ctx context.Context, resource rbac.Resource, actions ...rbac.Action) bool {
	allowed, err := e.Check(ctx, resource, actions...)
	if err != nil {
		e.logger.DebugContext(ctx, "Permission check denied by default",
			"resource", resource, "actions", actions, "reason", err)
	}
	return allowed
}

// Check is HasPermission with the reason for a fail-closed denial.
func (e *Evaluator) Check(ctx context.Context, resource rbac.Resource, actions ...rbac.Action) (bool, error) {
	if len(actions) == 0 {
		e.record(ctx, "invalid")
		return false, fmt.Errorf("%w: no action given", ErrInvalidAction)
	}
	for _, action := range actions {
		if !rbac.Valid(resource, action) {
			e.record(ctx, "invalid")
			return false, fmt.Errorf("%w: %s:%s", ErrInvalidAction, resource, action)
		}
	}

	organizationID, epoch, ok := e.session.ActiveTenant()
	if !ok || organizationID == "" {
		e.record(ctx, "no_tenant")
		return false, ErrNoTenant
	}

	key := cacheKey(organizationID, epoch, resource, actions)
	if allowed, hit := e.cache.Get(key); hit {
		e.record(ctx, outcome(allowed)+"_cached")
		return allowed, nil
	}

	ch := e.group.DoChan(key, func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.CheckTimeout)
		defer cancel()
		return e.authority.HasPermission(checkCtx, organizationID, resource, slices.Clone(actions))
	})

	select {
	case <-ctx.Done():
		e.record(ctx, "canceled")
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			e.record(ctx, "error")
			e.logger.WarnContext(ctx, "Permission check failed",
				"organization_id", organizationID, "resource", resource, "actions", actions, "error", res.Err)
			return false, res.Err
		}

		allowed := res.Val.(bool)
		if _, current, ok := e.session.ActiveTenant(); !ok || current != epoch {
			e.record(ctx, "stale")
			return false, ErrTenantChanged
		}
		e.cache.Add(key, allowed)
		e.record(ctx, outcome(allowed))
		e.logger.DebugContext(ctx, "Permission check",
			"organization_id", organizationID, "resource", resource, "actions", actions, "allowed", allowed)
		return allowed, nil
	}
}

// HasRole is a local membership test on the actor's role names.
func (e *Evaluator) HasRole(candidates ...string) bool {
	actor, ok := e.session.Actor()
	if !ok {
		return false
	}
	for _, name := range rbac.ParseRoleNames(actor.Role) {
		if slices.Contains(candidates, name) {
			return true
		}
	}
	return false
}

// Invalidate drops every cached answer.
func (e *Evaluator) Invalidate() {
	e.cache.Purge()
}

// TTL is the staleness window of cached answers.
func (e *Evaluator) TTL() time.Duration {
	return e.config.TTL
}

func (e *Evaluator) record(ctx context.Context, result string) {
	if e.checks == nil {
		return
	}
	e.checks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", result)))
}

func cacheKey(organizationID string, epoch uint64, resource rbac.Resource, actions []rbac.Action) string {
	sorted := make([]string, 0, len(actions))
	for _, action := range actions {
		sorted = append(sorted, string(action))
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return fmt.Sprintf("%s|%d|%s|%s", organizationID, epoch, resource, strings.Join(sorted, ","))
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
