package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/spectra-assist/spectra/pkg/models"
	"github.com/spectra-assist/spectra/pkg/services"
)

// The REST fallback mirrors the WebSocket event surface for daemons that
// temporarily cannot hold a socket open. Events land in the same registry
// handlers, so ordering and terminal-state rules are identical.

// daemonHeartbeatHandler handles POST /api/daemon/heartbeat.
func (s *Server) daemonHeartbeatHandler(c *echo.Context) error {
	userID, ok := s.authenticateDaemon(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized,
			ErrorBody{Code: services.CodeForbidden, Message: "invalid daemon token"})
	}

	var req HeartbeatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "malformed request body"})
	}

	accepted := s.registry.Heartbeat(userID, req.Capacity, req.RunningAgentIDs)
	return c.JSON(http.StatusOK, AckResponse{Accepted: accepted})
}

// agentStatusHandler handles POST /api/subagent/:agentId/status.
func (s *Server) agentStatusHandler(c *echo.Context) error {
	userID, agentID, httpErr := s.authenticateAgentEvent(c)
	if httpErr != nil {
		return httpErr
	}

	var req StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "malformed request body"})
	}

	slog.Debug("Fallback status update", "user_id", userID, "agent_id", agentID)
	s.registry.ApplyStatusUpdate(c.Request().Context(), agentID,
		models.AgentStatus(req.Status), req.Observation)
	return c.JSON(http.StatusOK, AckResponse{Accepted: true})
}

// agentCompleteHandler handles POST /api/subagent/:agentId/complete.
func (s *Server) agentCompleteHandler(c *echo.Context) error {
	userID, agentID, httpErr := s.authenticateAgentEvent(c)
	if httpErr != nil {
		return httpErr
	}

	var req CompleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "malformed request body"})
	}

	slog.Debug("Fallback complete", "user_id", userID, "agent_id", agentID)
	s.registry.ApplyComplete(c.Request().Context(), agentID, req.Result, req.Error)
	return c.JSON(http.StatusOK, AckResponse{Accepted: true})
}

// agentLogHandler handles POST /api/subagent/:agentId/log.
func (s *Server) agentLogHandler(c *echo.Context) error {
	_, agentID, httpErr := s.authenticateAgentEvent(c)
	if httpErr != nil {
		return httpErr
	}

	var req LogRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "malformed request body"})
	}

	slog.Debug("Agent log line", "agent_id", agentID, "stream", req.Stream, "line", req.Line)
	return c.JSON(http.StatusOK, AckResponse{Accepted: true})
}

// authenticateAgentEvent validates the daemon token and checks the agent
// in the path belongs to that daemon's user.
func (s *Server) authenticateAgentEvent(c *echo.Context) (userID, agentID string, httpErr *echo.HTTPError) {
	userID, ok := s.authenticateDaemon(c)
	if !ok {
		return "", "", echo.NewHTTPError(http.StatusUnauthorized,
			ErrorBody{Code: services.CodeForbidden, Message: "invalid daemon token"})
	}
	agentID = c.Param("agentId")
	if agentID == "" {
		return "", "", echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "agentId is required"})
	}
	if _, err := s.agents.GetForUser(c.Request().Context(), agentID, userID); err != nil {
		return "", "", mapServiceError(err)
	}
	return userID, agentID, nil
}

// testSpawnHandler handles POST /daemon-api/test/spawn.
func (s *Server) testSpawnHandler(c *echo.Context) error {
	var req TestSpawnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "malformed request body"})
	}
	if req.UserID == "" {
		req.UserID = req.Email
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeMissingUserID, Message: "userId is required"})
	}
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "goal is required"})
	}

	agentID, err := s.registry.SpawnAgent(c.Request().Context(),
		req.UserID, req.Goal, req.WorkingDirectory, models.SpawnOptions{})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, SpawnResponse{AgentID: agentID})
}

// testGetAgentHandler handles GET /daemon-api/test/agent/:agentId.
func (s *Server) testGetAgentHandler(c *echo.Context) error {
	agentID := c.Param("agentId")
	if agentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "agentId is required"})
	}
	agent, err := s.agents.Get(c.Request().Context(), agentID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, agent)
}
