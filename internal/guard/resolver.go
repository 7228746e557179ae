package guard

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"churchadmin/internal/model"
	"churchadmin/internal/rbac"
)

const LoginPath = "/login"

const maxRefreshAttempts = 3

// Session is the read side of the session store.
type Session interface {
	Ready() <-chan struct{}
	Actor() (model.Actor, bool)
	ActiveTenant() (organizationID string, epoch uint64, ok bool)
}

// Permissions is the evaluator the guards consult.
type Permissions interface {
	HasPermission(ctx context.Context, resource rbac.Resource, actions ...rbac.Action) bool
	HasRole(candidates ...string) bool
}

type Decision struct {
	State    State  `json:"state"`
	Redirect string `json:"redirect,omitempty"`
	Notice   string `json:"notice,omitempty"`
	// Denied is the layer that denied, if any.
	Denied *Guard `json:"-"`
}

func (d Decision) Allowed() bool {
	return d.State == StateAllowed
}

type Resolver struct {
	session     Session
	permissions Permissions
	timeout     time.Duration
}

// NewResolver builds a resolver whose waits are bounded by timeout.
func NewResolver(session Session, permissions Permissions, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{session: session, permissions: permissions, timeout: timeout}
}

// Resolve waits for every layer in order and returns the composed decision.
// It never returns checking: a layer that cannot settle in time denies.
func (r *Resolver) Resolve(ctx context.Context, guards ...Guard) Decision {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	authInput := r.waitForSession(ctx)

	for i := range guards {
		g := guards[i]
		var state State
		switch g.Kind {
		case KindAuthenticated:
			state = EvaluateAuth(authInput)
		case KindOrgPermission:
			state = Compose(EvaluateAuth(authInput), r.permission(ctx, authInput, g))
			if authInput.Settled && !authInput.Authenticated {
				return Decision{State: StateDenied, Redirect: LoginPath, Notice: Authenticated().Notice(), Denied: &g}
			}
		default:
			state = r.permission(ctx, authInput, g)
		}

		if state == StateAllowed {
			continue
		}
		decision := Decision{State: StateDenied, Denied: &g}
		switch {
		case !authInput.Settled:
			decision.Notice = "Unable to verify your session, please try again"
		case g.Kind == KindAuthenticated:
			decision.Redirect = LoginPath
			decision.Notice = g.Notice()
		default:
			decision.Notice = g.Notice()
		}
		return decision
	}
	return Decision{State: StateAllowed}
}

func (r *Resolver) waitForSession(ctx context.Context) AuthInput {
	select {
	case <-r.session.Ready():
		_, ok := r.session.Actor()
		return AuthInput{Settled: true, Authenticated: ok}
	case <-ctx.Done():
		return AuthInput{TimedOut: true}
	}
}

func (r *Resolver) permission(ctx context.Context, auth AuthInput, g Guard) State {
	if !auth.Settled {
		return EvaluatePermission(PermissionInput{TimedOut: auth.TimedOut})
	}
	switch g.Kind {
	case KindRoles:
		return EvaluatePermission(PermissionInput{Answered: true, Allowed: r.permissions.HasRole(g.Roles...)})
	default:
		allowed := r.permissions.HasPermission(ctx, g.Resource, g.Actions...)
		if !allowed && ctx.Err() != nil {
			return EvaluatePermission(PermissionInput{TimedOut: true})
		}
		return EvaluatePermission(PermissionInput{Answered: true, Allowed: allowed})
	}
}

// Gate is one guarded region. It starts in checking, settles to allowed or
// denied and drops back to checking whenever its guards or the session epoch
// change. Answers computed for superseded inputs are discarded.
type Gate struct {
	resolver *Resolver

	mu       sync.Mutex
	guards   []Guard
	decision Decision
	resolved string
	run      uint64
}

func (r *Resolver) Gate(guards ...Guard) *Gate {
	return &Gate{resolver: r, guards: guards, decision: Decision{State: StateChecking}}
}

// SetGuards replaces the gate's inputs.
func (g *Gate) SetGuards(guards ...Guard) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.guards = guards
	g.run++
}

// Decision is the current state without waiting.
func (g *Gate) Decision() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved == "" || g.resolved != g.fingerprintLocked() {
		return Decision{State: StateChecking}
	}
	return g.decision
}

// Refresh resolves the gate against the current inputs. A decision computed
// while the session epoch moved is discarded and resolved again; one computed
// for guards replaced through SetGuards is dropped.
func (g *Gate) Refresh(ctx context.Context) Decision {
	g.mu.Lock()
	g.run++
	run := g.run
	g.mu.Unlock()

	for range maxRefreshAttempts {
		g.mu.Lock()
		guards := append([]Guard(nil), g.guards...)
		fingerprint := g.fingerprintLocked()
		g.mu.Unlock()

		decision := g.resolver.Resolve(ctx, guards...)

		g.mu.Lock()
		if run != g.run {
			g.mu.Unlock()
			return Decision{State: StateChecking}
		}
		if fingerprint == g.fingerprintLocked() {
			g.decision = decision
			g.resolved = fingerprint
			g.mu.Unlock()
			return decision
		}
		g.mu.Unlock()
	}
	return Decision{State: StateChecking}
}

func (g *Gate) fingerprintLocked() string {
	_, epoch, _ := g.resolver.session.ActiveTenant()
	var b strings.Builder
	b.WriteString(strconv.FormatUint(epoch, 10))
	for _, guard := range g.guards {
		b.WriteByte('|')
		b.WriteString(guard.fingerprint())
	}
	return b.String()
}
