package web

import (
	"errors"

	"churchadmin/internal/backend"
	"churchadmin/internal/permission"
	"churchadmin/internal/query"
	"churchadmin/internal/ratelimit"
	"churchadmin/internal/records"
	"churchadmin/internal/session"

	"github.com/gofiber/fiber/v2"
)

type APIResponseStatus string

const (
	APIResponseStatusSuccess APIResponseStatus = "success"
	APIResponseStatusError   APIResponseStatus = "error"
)

// APIResponse is the body of every JSON response.
type APIResponse struct {
	Status  APIResponseStatus `json:"status"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
}

var (
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrSearchSuperseded     = errors.New("superseded by a newer search")
)

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(APIResponse{Status: APIResponseStatusSuccess, Data: data})
}

func created(c *fiber.Ctx, message string, data any) error {
	return c.Status(fiber.StatusCreated).JSON(APIResponse{Status: APIResponseStatusSuccess, Message: message, Data: data})
}

func done(c *fiber.Ctx, message string, data any) error {
	return c.JSON(APIResponse{Status: APIResponseStatusSuccess, Message: message, Data: data})
}

func fail(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(APIResponse{Status: APIResponseStatusError, Message: message, Data: data})
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrUnauthenticated), errors.Is(err, session.ErrNotAuthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, backend.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, backend.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, backend.ErrValidation):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, query.ErrStale), errors.Is(err, session.ErrSuperseded), errors.Is(err, permission.ErrTenantChanged),
		errors.Is(err, records.ErrNoTenant), errors.Is(err, permission.ErrNoTenant):
		return fiber.StatusConflict
	case errors.Is(err, ErrSearchSuperseded):
		return fiber.StatusConflict
	case errors.Is(err, ErrConfirmationRequired):
		return fiber.StatusPreconditionRequired
	case errors.Is(err, ratelimit.ErrTooManyAttempts):
		return fiber.StatusTooManyRequests
	case errors.Is(err, backend.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, backend.ErrServer), errors.Is(err, backend.ErrInconclusive):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// messageFor returns user facing text for err.
func messageFor(err error) string {
	switch {
	case errors.Is(err, records.ErrNoTenant), errors.Is(err, permission.ErrNoTenant):
		return "Select an organization first"
	case errors.Is(err, query.ErrStale), errors.Is(err, session.ErrSuperseded), errors.Is(err, permission.ErrTenantChanged):
		return "The active organization changed, please reload"
	case errors.Is(err, ErrSearchSuperseded):
		return "A newer search replaced this one"
	case errors.Is(err, session.ErrNotAuthenticated):
		return "Please sign in to continue"
	case errors.Is(err, ratelimit.ErrTooManyAttempts):
		return "Too many attempts. Please try again later."
	default:
		return backend.Message(err)
	}
}
