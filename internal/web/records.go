package web

import (
	"context"
	"errors"
	"strings"

	"churchadmin/internal/audit"
	"churchadmin/internal/model"
	"churchadmin/internal/permission"
	"churchadmin/internal/query"
	"churchadmin/internal/rbac"
	"churchadmin/internal/records"
	"churchadmin/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

func listParams(c *fiber.Ctx) records.ListParams {
	page, limit, search := queryList(c)
	return records.ListParams{Page: page, Limit: limit, Search: search}
}

func (s *Server) checkPermission(c *fiber.Ctx) error {
	resource := rbac.Resource(c.Query("resource"))
	var actions []rbac.Action
	for _, a := range strings.Split(c.Query("actions", c.Query("action")), ",") {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, rbac.Action(a))
		}
	}

	allowed, err := clientFrom(c).Permissions.Check(telemetry.ContextFromFiber(c), resource, actions...)
	if errors.Is(err, permission.ErrInvalidAction) {
		return fail(c, fiber.StatusBadRequest, err.Error(), fiber.Map{"allowed": false})
	}
	data := fiber.Map{"allowed": allowed}
	if err != nil {
		data["reason"] = messageFor(err)
	}
	return ok(c, data)
}

// Members

func (s *Server) listMembers(c *fiber.Ctx) error {
	page, err := clientFrom(c).Members.List(telemetry.ContextFromFiber(c), memberFilter(c))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, page)
}

func memberFilter(c *fiber.Ctx) records.MemberFilter {
	return records.MemberFilter{
		ListParams: listParams(c),
		Status:     model.MemberStatus(c.Query("status")),
		Gender:     c.Query("gender"),
		ServiceID:  c.Query("serviceId"),
	}
}

// searchMembers answers the member picker. Only the newest search of a
// browser session is answered; older ones still in flight get a 409.
func (s *Server) searchMembers(c *fiber.Ctx) error {
	client := clientFrom(c)
	q, limit := c.Query("q"), c.QueryInt("limit", 0)

	var members []model.Member
	var err error
	applied := client.MemberSearch.Load(telemetry.ContextFromFiber(c), query.Key{"members", "search", q},
		func(ctx context.Context) ([]model.Member, error) {
			members, err = client.Members.Search(ctx, q, limit)
			return members, err
		})
	if !applied && err == nil {
		err = ErrSearchSuperseded
	}
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, members)
}

func (s *Server) getMember(c *fiber.Ctx) error {
	member, err := clientFrom(c).Members.Get(telemetry.ContextFromFiber(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, member)
}

func (s *Server) createMember(c *fiber.Ctx) error {
	var input model.MemberInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	member, err := clientFrom(c).Members.Create(telemetry.ContextFromFiber(c), input)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusCreated, "Member created", member)
}

func (s *Server) updateMember(c *fiber.Ctx) error {
	var patch model.MemberUpdate
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	member, err := clientFrom(c).Members.Update(telemetry.ContextFromFiber(c), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Member updated", member)
}

func (s *Server) deleteMember(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := clientFrom(c).Members.Delete(telemetry.ContextFromFiber(c), id); err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeMemberDelete, id, nil)
	return succeed(c, fiber.StatusOK, "Member deleted", nil)
}

// Church services

func (s *Server) listServices(c *fiber.Ctx) error {
	page, err := clientFrom(c).Services.List(telemetry.ContextFromFiber(c), records.ServiceFilter{
		ListParams: listParams(c),
		Type:       c.Query("type"),
		Active:     queryBool(c, "active"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, page)
}

func (s *Server) getService(c *fiber.Ctx) error {
	service, err := clientFrom(c).Services.Get(telemetry.ContextFromFiber(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, service)
}

func (s *Server) createService(c *fiber.Ctx) error {
	var input model.ChurchServiceInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	service, err := clientFrom(c).Services.Create(telemetry.ContextFromFiber(c), input)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusCreated, "Service created", service)
}

func (s *Server) updateService(c *fiber.Ctx) error {
	var patch model.ChurchServiceUpdate
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	service, err := clientFrom(c).Services.Update(telemetry.ContextFromFiber(c), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Service updated", service)
}

func (s *Server) deleteService(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := clientFrom(c).Services.Delete(telemetry.ContextFromFiber(c), id); err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeServiceDelete, id, nil)
	return succeed(c, fiber.StatusOK, "Service deleted", nil)
}

type enrollRequest struct {
	MemberID string `json:"memberId"`
}

func (s *Server) enrollMember(c *fiber.Ctx) error {
	var req enrollRequest
	if err := c.BodyParser(&req); err != nil || req.MemberID == "" {
		return fail(c, fiber.StatusBadRequest, "memberId is required", nil)
	}
	service, err := clientFrom(c).Services.Enroll(telemetry.ContextFromFiber(c), c.Params("id"), req.MemberID)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Member enrolled", service)
}

func (s *Server) exitMember(c *fiber.Ctx) error {
	serviceID, memberID := c.Params("id"), c.Params("memberId")
	service, err := clientFrom(c).Services.Exit(telemetry.ContextFromFiber(c), serviceID, memberID)
	if err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeServiceExit, serviceID, map[string]any{"member_id": memberID})
	return succeed(c, fiber.StatusOK, "Member removed from service", service)
}

// Ministers

func (s *Server) listMinisters(c *fiber.Ctx) error {
	page, err := clientFrom(c).Ministers.List(telemetry.ContextFromFiber(c), records.MinisterFilter{
		ListParams: listParams(c),
		ServiceID:  c.Query("serviceId"),
		Active:     queryBool(c, "active"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, page)
}

func (s *Server) getMinister(c *fiber.Ctx) error {
	minister, err := clientFrom(c).Ministers.Get(telemetry.ContextFromFiber(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, minister)
}

func (s *Server) createMinister(c *fiber.Ctx) error {
	var input model.MinisterInput
	if err := c.BodyParser(&input); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	minister, err := clientFrom(c).Ministers.Create(telemetry.ContextFromFiber(c), input)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusCreated, "Minister created", minister)
}

func (s *Server) updateMinister(c *fiber.Ctx) error {
	var patch model.MinisterUpdate
	if err := c.BodyParser(&patch); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body", nil)
	}
	minister, err := clientFrom(c).Ministers.Update(telemetry.ContextFromFiber(c), c.Params("id"), patch)
	if err != nil {
		return respondError(c, err)
	}
	return succeed(c, fiber.StatusOK, "Minister updated", minister)
}

func (s *Server) deleteMinister(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := clientFrom(c).Ministers.Delete(telemetry.ContextFromFiber(c), id); err != nil {
		return respondError(c, err)
	}
	s.recordAudit(c, audit.EventTypeMinisterDelete, id, nil)
	return succeed(c, fiber.StatusOK, "Minister deleted", nil)
}

// Activity

func (s *Server) listActivity(c *fiber.Ctx) error {
	page, err := clientFrom(c).Activity.List(telemetry.ContextFromFiber(c), records.ActivityFilter{
		ListParams: listParams(c),
		ActorID:    c.Query("actorId"),
		Resource:   c.Query("resource"),
		Action:     c.Query("action"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return ok(c, page)
}

func (s *Server) listAudit(c *fiber.Ctx) error {
	client := clientFrom(c)
	orgID, _, found := client.Session.ActiveTenant()
	if !found {
		return respondError(c, records.ErrNoTenant)
	}
	events, err := client.Auditor.Recent(telemetry.ContextFromFiber(c), orgID, c.QueryInt("limit", 50))
	if err != nil {
		s.logger.ErrorContext(c.UserContext(), "Failed to list audit events", "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to load the audit trail", nil)
	}
	return ok(c, events)
}
