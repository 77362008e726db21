package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"signflow/internal/domain/entity"
	"signflow/internal/infrastructure/database"
	"signflow/internal/infrastructure/metrics"
	"signflow/internal/infrastructure/redis"
)

const healthCheckTimeout = 2 * time.Second

type HealthHandler struct {
	checks  map[string]func(ctx context.Context) error
	metrics *metrics.Collector
}

func NewHealthHandler(db *database.Database, rc *redis.RedisClient, mc *metrics.Collector) *HealthHandler {
	return &HealthHandler{
		checks: map[string]func(ctx context.Context) error{
			"database": db.DB.PingContext,
			"redis":    rc.Ping,
		},
		metrics: mc,
	}
}

type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health godoc
// @Summary Health check
// @Description Check the service and its database and redis connections
// @Tags health
// @Produce json
// @Success 200 {object} entity.APIResponse
// @Failure 503 {object} entity.APIResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now(),
		Version:      "1.0.0",
		Dependencies: make(map[string]string, len(h.checks)),
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Dependencies[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Dependencies[name] = "ok"
	}

	if resp.Status != "healthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(&entity.APIResponse{
			Success: false,
			Message: "Service is degraded",
			Data:    resp,
		})
	}
	return c.JSON(entity.NewSuccessResponse(resp, "Service is healthy"))
}

// Metrics serves the in-process counters and latency averages.
func (h *HealthHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(entity.NewSuccessResponse(h.metrics.Snapshot(), "Metrics retrieved successfully"))
}
