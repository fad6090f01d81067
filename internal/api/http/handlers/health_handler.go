package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/chatdesk/internal/persistence"
	apperrors "github.com/spec-kit/chatdesk/pkg/util/errorutil"
)

const probeTimeout = 2 * time.Second

type probe struct {
	name  string
	check func(context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	startedAt   time.Time
	probes      []probe
	disabled    []string
}

// NewHealthHandler builds the probe set from the configured backends. A nil
// redis or a postgres handle without a pool is reported as disabled and never
// fails readiness.
func NewHealthHandler(serviceName, version string, postgres *persistence.Postgres, redis *persistence.Redis) *HealthHandler {
	h := &HealthHandler{serviceName: serviceName, version: version, startedAt: time.Now()}
	if postgres.PoolHandle() != nil {
		h.probes = append(h.probes, probe{name: "postgres", check: postgres.Ping})
	} else {
		h.disabled = append(h.disabled, "postgres")
	}
	if redis != nil && redis.Client != nil {
		h.probes = append(h.probes, probe{name: "redis", check: redis.Ping})
	} else {
		h.disabled = append(h.disabled, "redis")
	}
	return h
}

func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":         "alive",
		"service":        h.serviceName,
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// Ready pings every enabled backend and answers 503 when one of them fails.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), probeTimeout)
	defer cancel()

	deps := make(map[string]any, len(h.probes)+len(h.disabled))
	for _, name := range h.disabled {
		deps[name] = "disabled"
	}
	ready := true
	for _, p := range h.probes {
		if err := p.check(ctx); err != nil {
			deps[p.name] = "unreachable"
			ready = false
			continue
		}
		deps[p.name] = "ok"
	}

	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    apperrors.CodeDependency,
				"message": "one or more dependencies unavailable",
				"details": deps,
			},
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "dependencies": deps})
}
