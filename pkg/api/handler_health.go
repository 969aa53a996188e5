package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/spectra-assist/spectra/pkg/version"
)

// healthHandler handles GET /api/master-agent/health.
func (s *Server) healthHandler(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth := s.db.Health(ctx)

	resp := HealthResponse{
		Status:           "healthy",
		Version:          version.Full(),
		ConnectedDaemons: s.registry.ConnectedDaemons(),
		Database:         dbHealth,
	}
	if !dbHealth.Reachable {
		resp.Status = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
