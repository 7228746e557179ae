// Package dashboard assembles the per browser dashboard state: one backend
// client with its cookie jar, the session store, the permission evaluator,
// the query cache and the resource collections built on top of them.
package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"churchadmin/internal/audit"
	"churchadmin/internal/backend"
	"churchadmin/internal/config"
	"churchadmin/internal/export"
	"churchadmin/internal/guard"
	"churchadmin/internal/model"
	"churchadmin/internal/notifications"
	"churchadmin/internal/openfga"
	"churchadmin/internal/permission"
	"churchadmin/internal/query"
	"churchadmin/internal/records"
	"churchadmin/internal/session"
	"churchadmin/internal/storage"
	"churchadmin/internal/telemetry"
	"churchadmin/internal/validator"
)

const AuthorityOpenFGA = "openfga"

// Deps are shared by every client.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *telemetry.Telemetry
	// Checker answers permission checks when the authority is openfga.
	Checker openfga.Checker
	Storage storage.Storage
	Auditor *audit.Auditor
}

type Client struct {
	ID string

	Backend     *backend.Client
	Session     *session.Store
	Permissions *permission.Evaluator
	Guards      *guard.Resolver
	Cache       *query.Cache
	Notices     *notifications.Queue
	Exporter    *export.Exporter
	Auditor     *audit.Auditor

	Members   *records.Members
	Services  *records.Services
	Ministers *records.Ministers
	Users     *records.Users
	Roles     *records.Roles
	Activity  *records.ActivityLogs

	// MemberSearch backs the member picker, where a newer keystroke
	// supersedes the searches still in flight.
	MemberSearch *query.View[[]model.Member]
	Navigation   []Section

	logger      *slog.Logger
	lastSeen    atomic.Int64
	unsubscribe func()
}

func NewClient(id string, deps Deps) (*Client, error) {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("client_id", id)

	api, err := backend.New(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.Timeout,
		RetryCount: cfg.Backend.RetryCount,
	}, logger)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(api, logger)
	api.OnUnauthenticated(store.Expire)

	var authority permission.Authority = api
	if cfg.Permission.Authority == AuthorityOpenFGA && deps.Checker != nil {
		authority = openfga.NewAuthority(deps.Checker, store.Actor)
	}
	evaluator := permission.NewEvaluator(authority, store, permission.Config{
		TTL:          cfg.Permission.CacheTTL,
		CheckTimeout: cfg.Permission.CheckTimeout,
		CacheSize:    cfg.Permission.CacheSize,
	}, logger)

	cache := query.NewCache(query.DefaultConfig())
	recordDeps := records.Deps{
		Backend:   api,
		Session:   store,
		Cache:     cache,
		Validator: validator.New(),
		Logger:    logger,
	}

	resolver := guard.NewResolver(store, evaluator, cfg.Permission.GuardTimeout)
	c := &Client{
		ID:          id,
		Backend:     api,
		Session:     store,
		Permissions: evaluator,
		Guards:      resolver,
		Cache:       cache,
		Notices:     notifications.NewQueue(notifications.DefaultCapacity),
		Auditor:     deps.Auditor,
		Members:     records.NewMembers(recordDeps),
		Services:    records.NewServices(recordDeps),
		Ministers:   records.NewMinisters(recordDeps),
		Users:       records.NewUsers(recordDeps),
		Roles:       records.NewRoles(recordDeps),
		Activity:    records.NewActivityLogs(recordDeps),

		Navigation:   newNavigation(resolver),
		MemberSearch: &query.View[[]model.Member]{},
		logger:       logger,
	}
	if c.Auditor == nil {
		c.Auditor = audit.NewAuditor(logger, nil)
	}
	if deps.Storage != nil {
		c.Exporter = export.NewExporter(c.Members, deps.Storage, logger)
	}

	// Cached answers belong to one login and organization pair.
	c.unsubscribe = store.Subscribe(func(session.Event) {
		evaluator.Invalidate()
		cache.Purge()
	})
	c.Touch(time.Now())
	return c, nil
}

// Touch records activity for idle eviction.
func (c *Client) Touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// State is what survives a dashboard restart: the backend cookies and the
// organization the user last worked in.
type State struct {
	Cookies        []StoredCookie `json:"cookies"`
	OrganizationID string         `json:"organizationId,omitempty"`
}

type StoredCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (c *Client) State() State {
	var state State
	for _, cookie := range c.Backend.Cookies() {
		state.Cookies = append(state.Cookies, StoredCookie{Name: cookie.Name, Value: cookie.Value})
	}
	if org, ok := c.Session.Organization(); ok {
		state.OrganizationID = org.ID
	}
	return state
}

// Restore loads saved cookies and rehydrates the session, preferring the
// saved organization.
func (c *Client) Restore(ctx context.Context, state State) {
	if len(state.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(state.Cookies))
		for _, sc := range state.Cookies {
			cookies = append(cookies, &http.Cookie{Name: sc.Name, Value: sc.Value})
		}
		c.Backend.SetCookies(cookies)
	}
	c.Session.Rehydrate(ctx, state.OrganizationID)
}

// Close detaches the client from session events.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}
