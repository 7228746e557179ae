// Package web exposes the dashboard core over a JSON HTTP API. Every route
// is resolved against the caller's dashboard client, and guarded routes
// answer only after the guard decision has settled.
package web

import (
	"context"
	"log/slog"
	"time"

	"churchadmin/internal/config"
	"churchadmin/internal/dashboard"
	"churchadmin/internal/guard"
	"churchadmin/internal/middleware"
	"churchadmin/internal/ratelimit"
	"churchadmin/internal/rbac"
	"churchadmin/internal/storage"
	"churchadmin/internal/telemetry"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/fiber/v2/utils"
)

const (
	HeaderCSRFToken = "X-Csrf-Token"
	CSRFCookieName  = "csrf_"
)

// Throttle limits sign-in and registration attempts per email.
type Throttle interface {
	CheckLogin(ctx context.Context, email string) error
	CheckRegister(ctx context.Context, email string) error
	ResetAttempts(ctx context.Context, op ratelimit.Operation, email string) error
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *dashboard.Registry
	Sessions  *fibersession.Store
	Throttle  Throttle
	Telemetry *telemetry.Telemetry
	Storage   storage.Storage
	Checks    map[string]HealthCheck
}

type Server struct {
	app       *fiber.App
	config    *config.Config
	logger    *slog.Logger
	registry  *dashboard.Registry
	sessions  *fibersession.Store
	throttle  Throttle
	telemetry *telemetry.Telemetry
	storage   storage.Storage
	checks    map[string]HealthCheck
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = fibersession.New(fibersession.Config{
			KeyLookup:      "cookie:" + opts.Config.Session.CookieName,
			CookieSecure:   opts.Config.Session.CookieSecure,
			CookieHTTPOnly: true,
			CookieSameSite: "Lax",
			Expiration:     opts.Config.Session.Expiration,
		})
	}

	s := &Server{
		config:    opts.Config,
		logger:    logger.With("component", "web"),
		registry:  opts.Registry,
		sessions:  sessions,
		throttle:  opts.Throttle,
		telemetry: opts.Telemetry,
		storage:   opts.Storage,
		checks:    opts.Checks,
	}

	s.app = fiber.New(fiber.Config{
		AppName:      opts.Config.Telemetry.ServiceName,
		ReadTimeout:  opts.Config.Server.ReadTimeout,
		WriteTimeout: opts.Config.Server.WriteTimeout,
		ErrorHandler: s.errorHandler,
	})
	s.routes()
	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen() error {
	return s.app.Listen(s.config.Server.Host + ":" + s.config.Server.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	app := s.app
	app.Use(recover.New(recover.Config{EnableStackTrace: !s.config.IsProduction()}))
	app.Use(telemetry.FiberMiddleware(s.config.Telemetry.ServiceName))
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(s.logger))
	app.Use(middleware.SecurityHeaders())

	app.Get("/healthz", s.health)

	api := app.Group("", middleware.NoStore(), csrf.New(csrf.Config{
		KeyLookup:      "header:" + HeaderCSRFToken,
		CookieName:     CSRFCookieName,
		CookieSameSite: "Lax",
		CookieSecure:   s.config.Session.CookieSecure,
		Expiration:     time.Hour,
		KeyGenerator:   utils.UUIDv4,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return fail(c, fiber.StatusForbidden, "Invalid CSRF token", nil)
		},
	}), s.withClient())

	auth := api.Group("/auth")
	auth.Post("/login", append(s.fallbackLimiter(), s.login)...)
	auth.Post("/register", append(s.fallbackLimiter(), s.register)...)
	auth.Post("/logout", s.logout)
	auth.Get("/session", s.sessionInfo)

	signedIn := s.guard()
	api.Get("/navigation", signedIn, s.navigation)
	api.Get("/organizations", signedIn, s.listOrganizations)
	api.Post("/organizations/active", signedIn, s.setActiveOrganization)
	api.Get("/permissions/check", signedIn, s.checkPermission)
	api.Get("/notices", s.drainNotices)

	members := api.Group("/members")
	members.Get("/", s.guard(guard.OrgPermission(rbac.ResourceMember, rbac.ActionList)), s.listMembers)
	members.Get("/search", s.guard(guard.OrgPermission(rbac.ResourceMember, rbac.ActionList)), s.searchMembers)
	members.Post("/export", s.guard(guard.OrgPermission(rbac.ResourceMember, rbac.ActionExportData)), s.exportMembers)
	members.Get("/:id", s.guard(guard.OrgPermission(rbac.ResourceMember, rbac.ActionRead)), s.getMember)
	members.Post("/", s.guard(guard.Permission(rbac.ResourceMember, rbac.ActionCreate)), s.createMember)
	members.Patch("/:id", s.guard(guard.Permission(rbac.ResourceMember, rbac.ActionUpdate)), s.updateMember)
	members.Delete("/:id", s.guard(guard.Permission(rbac.ResourceMember, rbac.ActionDelete)),
		confirm(func(c *fiber.Ctx) string { return "delete member " + c.Params("id") }), s.deleteMember)

	services := api.Group("/services")
	services.Get("/", s.guard(guard.OrgPermission(rbac.ResourceChurchService, rbac.ActionList)), s.listServices)
	services.Get("/:id", s.guard(guard.OrgPermission(rbac.ResourceChurchService, rbac.ActionRead)), s.getService)
	services.Post("/", s.guard(guard.Permission(rbac.ResourceChurchService, rbac.ActionCreate)), s.createService)
	services.Patch("/:id", s.guard(guard.Permission(rbac.ResourceChurchService, rbac.ActionUpdate)), s.updateService)
	services.Delete("/:id", s.guard(guard.Permission(rbac.ResourceChurchService, rbac.ActionDelete)),
		confirm(func(c *fiber.Ctx) string { return "delete service " + c.Params("id") }), s.deleteService)
	services.Post("/:id/members", s.guard(guard.Permission(rbac.ResourceChurchService, rbac.ActionEnroll)), s.enrollMember)
	services.Delete("/:id/members/:memberId", s.guard(guard.Permission(rbac.ResourceChurchService, rbac.ActionExit)),
		confirm(func(c *fiber.Ctx) string {
			return "remove member " + c.Params("memberId") + " from service " + c.Params("id")
		}), s.exitMember)

	ministers := api.Group("/ministers")
	ministers.Get("/", s.guard(guard.OrgPermission(rbac.ResourceMinister, rbac.ActionList)), s.listMinisters)
	ministers.Get("/:id", s.guard(guard.OrgPermission(rbac.ResourceMinister, rbac.ActionRead)), s.getMinister)
	ministers.Post("/", s.guard(guard.Permission(rbac.ResourceMinister, rbac.ActionCreate)), s.createMinister)
	ministers.Patch("/:id", s.guard(guard.Permission(rbac.ResourceMinister, rbac.ActionUpdate)), s.updateMinister)
	ministers.Delete("/:id", s.guard(guard.Permission(rbac.ResourceMinister, rbac.ActionDelete)),
		confirm(func(c *fiber.Ctx) string { return "delete minister " + c.Params("id") }), s.deleteMinister)

	users := api.Group("/users")
	users.Get("/", s.guard(guard.OrgPermission(rbac.ResourceUser, rbac.ActionList)), s.listUsers)
	users.Get("/:id", s.guard(guard.OrgPermission(rbac.ResourceUser, rbac.ActionRead)), s.getUser)
	users.Post("/", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionCreate)), s.createUser)
	users.Patch("/:id", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionUpdate)), s.updateUser)
	users.Delete("/:id", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionDelete)),
		confirm(func(c *fiber.Ctx) string { return "delete user " + c.Params("id") }), s.deleteUser)
	users.Post("/:id/ban", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionBan)),
		confirm(func(c *fiber.Ctx) string { return "ban user " + c.Params("id") }), s.banUser)
	users.Post("/:id/unban", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionBan)), s.unbanUser)
	users.Post("/:id/role", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionSetRole)), s.setUserRole)
	users.Post("/:id/password", s.guard(guard.Permission(rbac.ResourceUser, rbac.ActionSetPassword)), s.setUserPassword)
	users.Get("/:id/sessions", s.guard(guard.OrgPermission(rbac.ResourceSession, rbac.ActionList)), s.userSessions)
	api.Delete("/sessions/:id", s.guard(guard.Permission(rbac.ResourceSession, rbac.ActionRevoke)),
		confirm(func(c *fiber.Ctx) string { return "revoke session " + c.Params("id") }), s.revokeSession)

	roles := api.Group("/roles")
	roles.Get("/", s.guard(guard.OrgPermission(rbac.ResourceRole, rbac.ActionList)), s.listRoles)
	roles.Get("/catalog", s.guard(guard.OrgPermission(rbac.ResourceRole, rbac.ActionRead)), s.roleCatalog)
	roles.Get("/mine", signedIn, s.myRole)
	roles.Post("/", s.guard(guard.Permission(rbac.ResourceRole, rbac.ActionCreate)), s.createRole)
	roles.Patch("/:id", s.guard(guard.Permission(rbac.ResourceRole, rbac.ActionUpdate)), s.updateRole)
	roles.Delete("/:id", s.guard(guard.Permission(rbac.ResourceRole, rbac.ActionDelete)),
		confirm(func(c *fiber.Ctx) string { return "delete role " + c.Params("id") }), s.deleteRole)

	api.Get("/activity", s.guard(guard.OrgPermission(rbac.ResourceAnalytics, rbac.ActionRead)), s.listActivity)
	api.Get("/audit", s.guard(guard.OrgPermission(rbac.ResourceAnalytics, rbac.ActionRead)), s.listAudit)
	api.Get("/exports/*", s.guard(guard.OrgPermission(rbac.ResourceMember, rbac.ActionExportData)), s.downloadExport)
}

// errorHandler answers errors that escape a handler with the JSON envelope.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	if fe, isFiber := err.(*fiber.Error); isFiber {
		return fail(c, fe.Code, fe.Message, nil)
	}
	s.logger.ErrorContext(c.UserContext(), "Unhandled error", "path", c.Path(), "error", err)
	return fail(c, fiber.StatusInternalServerError, "Internal server error", nil)
}

// fallbackLimiter caps attempts per client IP when no Throttle is configured.
// Each call builds its own limiter so routes keep separate counters.
func (s *Server) fallbackLimiter() []fiber.Handler {
	if s.throttle != nil {
		return nil
	}
	return []fiber.Handler{limiter.New(limiter.Config{
		Max:        5,
		Expiration: 15 * time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return fail(c, fiber.StatusTooManyRequests, "Too many attempts. Please try again later.", nil)
		},
	})}
}
