package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectra-assist/spectra/pkg/masteragent"
	"github.com/spectra-assist/spectra/pkg/services"
)

// validationServer builds a Server whose master agent rejects queries
// before touching any store, which is all these tests exercise.
func validationServer() *Server {
	master := masteragent.New(nil, nil, nil, nil, nil, nil, masteragent.Options{
		Budgets: masteragent.Budgets{
			Task: time.Second, Planner: time.Second,
			ToolCall: time.Second, Synthesis: time.Second,
		},
		QueryMaxLen: 2000,
	})
	return &Server{master: master}
}

func postQuery(t *testing.T, s *Server, body string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/master-agent/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return s.queryHandler(c)
}

func TestQueryHandlerValidation(t *testing.T) {
	s := validationServer()

	tests := []struct {
		name       string
		body       string
		expectCode string
	}{
		{"missing user id", `{"query":"hello"}`, services.CodeMissingUserID},
		{"empty query", `{"userId":"user-1","query":""}`, services.CodeInvalidQuery},
		{"query too long", `{"userId":"user-1","query":"` + strings.Repeat("a", 2001) + `"}`, services.CodeQueryTooLong},
		{"malformed body", `{not json`, services.CodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := postQuery(t, s, tt.body)
			require.Error(t, err)
			he, ok := err.(*echo.HTTPError)
			require.True(t, ok, "expected echo.HTTPError")
			assert.Equal(t, http.StatusBadRequest, he.Code)
			body, ok := he.Message.(ErrorBody)
			require.True(t, ok)
			assert.Equal(t, tt.expectCode, body.Code)
		})
	}
}

func TestGetTaskHandlerValidation(t *testing.T) {
	s := validationServer()

	t.Run("missing task id returns 400", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/master-agent/task/?userId=user-1", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := s.getTaskHandler(c)
		require.Error(t, err)
		he, ok := err.(*echo.HTTPError)
		require.True(t, ok, "expected echo.HTTPError")
		assert.Equal(t, http.StatusBadRequest, he.Code)
	})
}
