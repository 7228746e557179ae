package web

import (
	"errors"
	"strings"

	"churchadmin/internal/ratelimit"
	"churchadmin/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type organizationRequest struct {
	OrganizationID string `json:"organizationId"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	ctx := telemetry.ContextFromFiber(c)
	email := strings.TrimSpace(req.Email)

	if s.throttle != nil {
		if err := s.throttle.CheckLogin(ctx, email); err != nil {
			if errors.Is(err, ratelimit.ErrTooManyAttempts) {
				return respondError(c, err)
			}
			s.logger.WarnContext(ctx, "Login throttle unavailable", "error", err)
		}
	}

	client := clientFrom(c)
	result := client.Session.Login(ctx, email, req.Password)
	s.telemetry.RecordLogin(ctx, result.Success)
	if !result.Success {
		return fail(c, fiber.StatusUnauthorized, result.Error, result)
	}
	if s.throttle != nil {
		if err := s.throttle.ResetAttempts(ctx, ratelimit.OperationLogin, email); err != nil {
			s.logger.WarnContext(ctx, "Failed to reset login attempts", "error", err)
		}
	}
	return done(c, "Signed in", client.Session.Snapshot())
}

func (s *Server) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	ctx := telemetry.ContextFromFiber(c)
	email := strings.TrimSpace(req.Email)

	if s.throttle != nil {
		if err := s.throttle.CheckRegister(ctx, email); err != nil {
			if errors.Is(err, ratelimit.ErrTooManyAttempts) {
				return respondError(c, err)
			}
			s.logger.WarnContext(ctx, "Register throttle unavailable", "error", err)
		}
	}

	client := clientFrom(c)
	result := client.Session.Register(ctx, strings.TrimSpace(req.Name), email, req.Password)
	if !result.Success {
		return fail(c, fiber.StatusUnprocessableEntity, result.Error, result)
	}
	return created(c, "Account created", client.Session.Snapshot())
}

// logout always succeeds locally, even when the backend call fails.
func (s *Server) logout(c *fiber.Ctx) error {
	ctx := telemetry.ContextFromFiber(c)
	client := clientFrom(c)
	client.Session.Logout(ctx)
	s.registry.Remove(ctx, client.ID)

	sess, err := s.sessions.Get(c)
	if err == nil {
		if err := sess.Destroy(); err != nil {
			s.logger.WarnContext(ctx, "Failed to destroy session", "error", err)
		}
	}
	return done(c, "Signed out", nil)
}

func (s *Server) sessionInfo(c *fiber.Ctx) error {
	client := clientFrom(c)
	select {
	case <-client.Session.Ready():
	case <-c.UserContext().Done():
	}
	return ok(c, client.Session.Snapshot())
}

type navigationItem struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// navigation lists the sidebar sections the actor may open.
func (s *Server) navigation(c *fiber.Ctx) error {
	sections := clientFrom(c).Visible(telemetry.ContextFromFiber(c))
	items := make([]navigationItem, 0, len(sections))
	for _, section := range sections {
		items = append(items, navigationItem{Name: section.Name, Path: section.Path})
	}
	return ok(c, items)
}

func (s *Server) listOrganizations(c *fiber.Ctx) error {
	orgs, err := clientFrom(c).Session.Organizations(telemetry.ContextFromFiber(c))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, orgs)
}

func (s *Server) setActiveOrganization(c *fiber.Ctx) error {
	var req organizationRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.OrganizationID) == "" {
		return fail(c, fiber.StatusBadRequest, "organizationId is required", nil)
	}
	org, err := clientFrom(c).Session.SetActiveOrganization(telemetry.ContextFromFiber(c), req.OrganizationID)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Switched to "+org.Name, org)
}

func (s *Server) drainNotices(c *fiber.Ctx) error {
	return ok(c, clientFrom(c).Notices.Drain())
}
