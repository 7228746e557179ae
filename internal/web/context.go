package web

import (
	"strings"

	"churchadmin/internal/audit"
	"churchadmin/internal/dashboard"
	"churchadmin/internal/guard"
	"churchadmin/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

const clientKey = "dashboard_client"

// withClient binds the browser session cookie to its dashboard client.
func (s *Server) withClient() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := s.sessions.Get(c)
		if err != nil {
			return err
		}
		// ID must be read before Save, which releases the session.
		id := sess.ID()
		if sess.Fresh() {
			sess.Set("created", true)
			if err := sess.Save(); err != nil {
				return err
			}
		}

		client, err := s.registry.Get(telemetry.ContextFromFiber(c), id)
		if err != nil {
			s.logger.ErrorContext(c.UserContext(), "Failed to load dashboard client", "error", err)
			return fail(c, fiber.StatusServiceUnavailable, "Dashboard is unavailable", nil)
		}
		c.Locals(clientKey, client)
		return c.Next()
	}
}

func clientFrom(c *fiber.Ctx) *dashboard.Client {
	client, _ := c.Locals(clientKey).(*dashboard.Client)
	return client
}

// guard resolves the route's guards after an implicit sign-in check. Handlers
// behind it only run once the decision is allowed.
func (s *Server) guard(guards ...guard.Guard) fiber.Handler {
	layers := append([]guard.Guard{guard.Authenticated()}, guards...)
	return func(c *fiber.Ctx) error {
		client := clientFrom(c)
		ctx := telemetry.ContextFromFiber(c)
		decision := client.Guards.Resolve(ctx, layers...)
		s.telemetry.RecordGuardDecision(ctx, c.Route().Path, decision.State.String())

		switch {
		case decision.Allowed():
			return c.Next()
		case decision.Redirect != "":
			return fail(c, fiber.StatusUnauthorized, "Please sign in to continue", fiber.Map{"redirect": decision.Redirect})
		default:
			if c.Method() != fiber.MethodGet {
				client.Notices.Error(decision.Notice)
			}
			return fail(c, fiber.StatusForbidden, decision.Notice, fiber.Map{"state": decision.State})
		}
	}
}

// confirm holds destructive actions until the caller repeats the request
// with confirm=true.
func confirm(summary func(c *fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.QueryBool("confirm") {
			return c.Next()
		}
		action := summary(c)
		return fail(c, statusFor(ErrConfirmationRequired), "Please confirm: "+action, fiber.Map{
			"confirm": true,
			"action":  action,
		})
	}
}

// respondError answers err and queues it as a notice for mutations.
func respondError(c *fiber.Ctx, err error) error {
	msg := messageFor(err)
	if c.Method() != fiber.MethodGet {
		if client := clientFrom(c); client != nil {
			client.Notices.Error(msg)
		}
	}
	return fail(c, statusFor(err), msg, nil)
}

// succeed queues a success notice and answers with data.
func succeed(c *fiber.Ctx, status int, message string, data any) error {
	clientFrom(c).Notices.Success(message)
	if status == fiber.StatusCreated {
		return created(c, message, data)
	}
	return done(c, message, data)
}

// recordAudit writes the audit trail entry of a destructive action.
func (s *Server) recordAudit(c *fiber.Ctx, event audit.EventType, recordID string, data map[string]any) {
	client := clientFrom(c)
	actor, _ := client.Session.Actor()
	orgID, _, _ := client.Session.ActiveTenant()
	err := client.Auditor.LogEvent(telemetry.ContextFromFiber(c), audit.LogEventParam{
		Actor:          actor,
		OrganizationID: orgID,
		Type:           event,
		RecordID:       recordID,
		Data:           data,
		IPAddress:      c.IP(),
	})
	if err != nil {
		s.logger.WarnContext(c.UserContext(), "Failed to record audit event", "event", event, "error", err)
	}
}

func queryList(c *fiber.Ctx) (page, limit int, search string) {
	return c.QueryInt("page", 1), c.QueryInt("limit", 0), strings.TrimSpace(c.Query("search"))
}

func queryBool(c *fiber.Ctx, key string) *bool {
	raw := c.Query(key)
	if raw == "" {
		return nil
	}
	v := c.QueryBool(key)
	return &v
}
