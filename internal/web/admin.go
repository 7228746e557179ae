package web

import (
	"churchadmin/internal/audit"
	"churchadmin/internal/model"
	"churchadmin/internal/rbac"
	"churchadmin/internal/records"
	"churchadmin/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

type roleRequest struct {
	Role string `json:"role"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	page, err := clientFrom(c).Users.List(telemetry.ContextFromFiber(c), records.UserFilter{
		ListParams: listParams(c),
		Role:       c.Query("role"),
		Banned:     queryBool(c, "banned"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, page)
}

func (s *Server) getUser(c *fiber.Ctx) error {
	user, err := clientFrom(c).Users.Get(telemetry.ContextFromFiber(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, user)
}

func (s *Server) createUser(c *fiber.Ctx) error {
	var input model.AdminUserInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	user, err := clientFrom(c).Users.Create(telemetry.ContextFromFiber(c), input)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusCreated, "User created", user)
}

func (s *Server) updateUser(c *fiber.Ctx) error {
	var patch model.AdminUserUpdate
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	user, err := clientFrom(c).Users.Update(telemetry.ContextFromFiber(c), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "User updated", user)
}

func (s *Server) deleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := clientFrom(c).Users.Delete(telemetry.ContextFromFiber(c), id); err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeUserDelete, id, nil)
	return succeed(c, fiber.StatusOK, "User deleted", nil)
}

func (s *Server) banUser(c *fiber.Ctx) error {
	var req model.BanRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
		}
	}
	id := c.Params("id")
	user, err := clientFrom(c).Users.Ban(telemetry.ContextFromFiber(c), id, req)
	if err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeUserBan, id, map[string]any{
		"reason":     req.Reason,
		"expires_in": req.Seconds,
	})
	return succeed(c, fiber.StatusOK, "User banned", user)
}

func (s *Server) unbanUser(c *fiber.Ctx) error {
	user, err := clientFrom(c).Users.Unban(telemetry.ContextFromFiber(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "User unbanned", user)
}

func (s *Server) setUserRole(c *fiber.Ctx) error {
	var req roleRequest
	if err := c.BodyParser(&req); err != nil || req.Role == "" {
		return fail(c, fiber.StatusBadRequest, "role is required", nil)
	}
	user, err := clientFrom(c).Users.SetRole(telemetry.ContextFromFiber(c), c.Params("id"), req.Role)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Role updated", user)
}

func (s *Server) setUserPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	if err := clientFrom(c).Users.SetPassword(telemetry.ContextFromFiber(c), c.Params("id"), req.Password); err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Password updated", nil)
}

func (s *Server) userSessions(c *fiber.Ctx) error {
	sessions, err := clientFrom(c).Users.Sessions(telemetry.ContextFromFiber(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, sessions)
}

func (s *Server) revokeSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := clientFrom(c).Users.RevokeSession(telemetry.ContextFromFiber(c), id); err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeSessionRevoke, id, nil)
	return succeed(c, fiber.StatusOK, "Session revoked", nil)
}

// Roles

func (s *Server) listRoles(c *fiber.Ctx) error {
	roles, err := clientFrom(c).Roles.List(telemetry.ContextFromFiber(c))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, roles)
}

func (s *Server) roleCatalog(c *fiber.Ctx) error {
	catalog, err := clientFrom(c).Roles.Catalog(telemetry.ContextFromFiber(c))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, catalog)
}

func (s *Server) myRole(c *fiber.Ctx) error {
	role, err := clientFrom(c).Roles.Mine(telemetry.ContextFromFiber(c))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, role)
}

func (s *Server) createRole(c *fiber.Ctx) error {
	var role rbac.Role
	if err := c.BodyParser(&role); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	saved, err := clientFrom(c).Roles.Create(telemetry.ContextFromFiber(c), role)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusCreated, "Role created", saved)
}

func (s *Server) updateRole(c *fiber.Ctx) error {
	var patch records.RoleUpdate
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	role, err := clientFrom(c).Roles.Update(telemetry.ContextFromFiber(c), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Role updated", role)
}

func (s *Server) deleteRole(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := clientFrom(c).Roles.Delete(telemetry.ContextFromFiber(c), id); err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeRoleDelete, id, nil)
	return succeed(c, fiber.StatusOK, "Role deleted", nil)
}
