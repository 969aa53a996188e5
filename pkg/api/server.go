// Package api exposes the orchestrator's HTTP surface: the query API the
// glasses client polls, the daemon WebSocket endpoint with its REST
// fallback, and health.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/spectra-assist/spectra/pkg/database"
	"github.com/spectra-assist/spectra/pkg/masteragent"
	"github.com/spectra-assist/spectra/pkg/registry"
	"github.com/spectra-assist/spectra/pkg/services"
)

// Server wires the HTTP surface to the orchestrator components.
type Server struct {
	master       *masteragent.MasterAgent
	registry     *registry.Registry
	agents       *services.SubAgentService
	db           *database.Client
	sharedSecret string

	httpServer *http.Server
}

// NewServer creates an API server.
func NewServer(master *masteragent.MasterAgent, reg *registry.Registry,
	agents *services.SubAgentService, db *database.Client, sharedSecret string) *Server {
	return &Server{
		master:       master,
		registry:     reg,
		agents:       agents,
		db:           db,
		sharedSecret: sharedSecret,
	}
}

// Routes builds the echo handler tree.
func (s *Server) Routes() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())

	// Query surface used by the glasses client.
	e.POST("/api/master-agent/query", s.queryHandler)
	e.GET("/api/master-agent/task/:taskId", s.getTaskHandler)
	e.GET("/api/master-agent/health", s.healthHandler)

	// Daemon control plane.
	e.GET("/ws/daemon", s.wsDaemonHandler)
	e.POST("/api/daemon/heartbeat", s.daemonHeartbeatHandler)
	e.POST("/api/subagent/:agentId/status", s.agentStatusHandler)
	e.POST("/api/subagent/:agentId/complete", s.agentCompleteHandler)
	e.POST("/api/subagent/:agentId/log", s.agentLogHandler)

	// Manual test surface, not used by production clients.
	e.POST("/daemon-api/test/spawn", s.testSpawnHandler)
	e.GET("/daemon-api/test/agent/:agentId", s.testGetAgentHandler)

	return e
}

// Start serves HTTP on the given port until Shutdown.
func (s *Server) Start(port string) error {
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
