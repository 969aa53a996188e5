package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-assist/spectra/pkg/masteragent"
	"github.com/spectra-assist/spectra/pkg/services"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectHTTP int
		expectCode string
	}{
		{
			name:       "query error maps to 400 with its code",
			err:        &masteragent.QueryError{Code: services.CodeQueryTooLong, Message: "too long"},
			expectHTTP: http.StatusBadRequest,
			expectCode: services.CodeQueryTooLong,
		},
		{
			name:       "validation error maps to 400",
			err:        services.NewValidationError("query", "required"),
			expectHTTP: http.StatusBadRequest,
			expectCode: services.CodeInvalidQuery,
		},
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", services.ErrNotFound),
			expectHTTP: http.StatusNotFound,
			expectCode: services.CodeTaskNotFound,
		},
		{
			name:       "forbidden maps to 403",
			err:        services.ErrForbidden,
			expectHTTP: http.StatusForbidden,
			expectCode: services.CodeForbidden,
		},
		{
			name:       "daemon unavailable maps to 503",
			err:        services.ErrDaemonUnavailable,
			expectHTTP: http.StatusServiceUnavailable,
			expectCode: services.CodeDaemonUnavailable,
		},
		{
			name:       "quota maps to 429",
			err:        services.ErrQuotaExceeded,
			expectHTTP: http.StatusTooManyRequests,
			expectCode: services.CodeQuotaExceeded,
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectHTTP: http.StatusInternalServerError,
			expectCode: services.CodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapServiceError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectHTTP, he.Code)
			body, ok := he.Message.(ErrorBody)
			require.True(t, ok)
			assert.Equal(t, tt.expectCode, body.Code)
		})
	}
}
