package web

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthTimeout = 3 * time.Second

// health reports each registered dependency. Any failing check turns the
// response into a 503.
func (s *Server) health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.WarnContext(ctx, "Health check failed", "check", name, "error", err)
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	data := fiber.Map{
		"checks":  checks,
		"clients": s.registry.Len(),
	}
	if !healthy {
		return fail(c, fiber.StatusServiceUnavailable, "unhealthy", data)
	}
	return done(c, "ok", data)
}
