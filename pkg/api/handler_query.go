package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/spectra-assist/spectra/pkg/services"
)

// queryHandler handles POST /api/master-agent/query.
func (s *Server) queryHandler(c *echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "malformed request body"})
	}

	task, err := s.master.Submit(c.Request().Context(), req.UserID, req.Query)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusAccepted, QueryResponse{
		Success: true,
		TaskID:  task.TaskID,
		Status:  string(task.Status),
		Message: "task accepted, poll the task endpoint for the result",
	})
}

// getTaskHandler handles GET /api/master-agent/task/:taskId.
func (s *Server) getTaskHandler(c *echo.Context) error {
	taskID := c.Param("taskId")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: "taskId is required"})
	}
	userID := c.QueryParam("userId")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeMissingUserID, Message: "userId is required"})
	}

	task, err := s.master.GetTask(c.Request().Context(), taskID, userID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, task)
}
