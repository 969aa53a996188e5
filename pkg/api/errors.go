package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/spectra-assist/spectra/pkg/masteragent"
	"github.com/spectra-assist/spectra/pkg/services"
)

// ErrorBody is the JSON shape of every error response. Code is a stable
// discriminator; Message is for humans.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var queryErr *masteragent.QueryError
	if errors.As(err, &queryErr) {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: queryErr.Code, Message: queryErr.Message})
	}
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest,
			ErrorBody{Code: services.CodeInvalidQuery, Message: validErr.Error()})
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound,
			ErrorBody{Code: services.CodeTaskNotFound, Message: "resource not found"})
	}
	if errors.Is(err, services.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden,
			ErrorBody{Code: services.CodeForbidden, Message: "access denied"})
	}
	if errors.Is(err, services.ErrDaemonUnavailable) {
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			ErrorBody{Code: services.CodeDaemonUnavailable, Message: "no daemon connected for user"})
	}
	if errors.Is(err, services.ErrQuotaExceeded) {
		return echo.NewHTTPError(http.StatusTooManyRequests,
			ErrorBody{Code: services.CodeQuotaExceeded, Message: "concurrent agent limit reached"})
	}
	if errors.Is(err, services.ErrConcurrentModification) {
		return echo.NewHTTPError(http.StatusServiceUnavailable,
			ErrorBody{Code: services.CodeServiceUnavailable, Message: "try again shortly"})
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError,
		ErrorBody{Code: services.CodeInternalError, Message: "internal server error"})
}
