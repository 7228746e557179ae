package web

import (
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"churchadmin/internal/audit"
	"churchadmin/internal/export"
	"churchadmin/internal/records"
	"churchadmin/internal/storage"
	"churchadmin/internal/telemetry"

	"github.com/gofiber/fiber/v2"
)

const exportLinkTTL = 15 * time.Minute

func (s *Server) exportMembers(c *fiber.Ctx) error {
	client := clientFrom(c)
	if client.Exporter == nil {
		return fail(c, fiber.StatusServiceUnavailable, "Exports are not configured", nil)
	}
	orgID, _, found := client.Session.ActiveTenant()
	if !found {
		return respondError(c, records.ErrNoTenant)
	}

	ctx := telemetry.ContextFromFiber(c)
	filter := memberFilter(c)
	result, err := client.Exporter.ExportMembers(ctx, orgID, filter)
	if err != nil {
		return respondError(c, err)
	}

	link, err := s.storage.URL(ctx, result.Key, exportLinkTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to sign export link", "key", result.Key, "error", err)
		return respondError(c, err)
	}

	s.recordAudit(c, audit.EventTypeMemberExport, result.Key, map[string]any{
		"count":  result.Count,
		"status": string(filter.Status),
	})
	return succeed(c, fiber.StatusCreated, "Member export is ready", fiber.Map{
		"key":      result.Key,
		"filename": result.Filename,
		"count":    result.Count,
		"url":      link,
	})
}

// downloadExport streams an export of the active organization.
func (s *Server) downloadExport(c *fiber.Ctx) error {
	if s.storage == nil {
		return fail(c, fiber.StatusNotFound, "Export not found", nil)
	}
	key := c.Params("*")
	orgID, _, _ := clientFrom(c).Session.ActiveTenant()
	if !storage.OwnedBy(key, orgID) {
		return fail(c, fiber.StatusNotFound, "Export not found", nil)
	}

	file, err := s.storage.Retrieve(telemetry.ContextFromFiber(c), key)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidPath) {
		return fail(c, fiber.StatusNotFound, "Export not found", nil)
	}
	if err != nil {
		s.logger.ErrorContext(c.UserContext(), "Failed to read export", "key", key, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to read export", nil)
	}
	defer file.Close()

	name := path.Base(key)
	if _, rest, cut := strings.Cut(name, "_"); cut {
		name = rest
	}
	c.Attachment(name)
	c.Set(fiber.HeaderContentType, export.ContentType)
	if _, err := io.Copy(c.Response().BodyWriter(), file); err != nil {
		return err
	}
	return nil
}
