package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func newAuthContext(t *testing.T, target, bearer string) *echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestAuthenticateDaemon(t *testing.T) {
	s := &Server{sharedSecret: "s3cret"}

	t.Run("token query parameter", func(t *testing.T) {
		c := newAuthContext(t, "/ws/daemon?token=user-1:s3cret", "")
		userID, ok := s.authenticateDaemon(c)
		assert.True(t, ok)
		assert.Equal(t, "user-1", userID)
	})

	t.Run("authorization header", func(t *testing.T) {
		c := newAuthContext(t, "/api/daemon/heartbeat", "user-2:s3cret")
		userID, ok := s.authenticateDaemon(c)
		assert.True(t, ok)
		assert.Equal(t, "user-2", userID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		c := newAuthContext(t, "/ws/daemon?token=user-1:wrong", "")
		_, ok := s.authenticateDaemon(c)
		assert.False(t, ok)
	})

	t.Run("missing user id", func(t *testing.T) {
		c := newAuthContext(t, "/ws/daemon?token=:s3cret", "")
		_, ok := s.authenticateDaemon(c)
		assert.False(t, ok)
	})

	t.Run("no token at all", func(t *testing.T) {
		c := newAuthContext(t, "/ws/daemon", "")
		_, ok := s.authenticateDaemon(c)
		assert.False(t, ok)
	})

	t.Run("user id may contain colons", func(t *testing.T) {
		// Cut splits on the first colon only; the secret is the remainder.
		c := newAuthContext(t, "/ws/daemon?token=user-1:s3cret:extra", "")
		_, ok := s.authenticateDaemon(c)
		assert.False(t, ok)
	})
}

func TestAuthenticateDaemonDisabledWithoutSecret(t *testing.T) {
	// No configured secret means no daemon may connect.
	s := &Server{sharedSecret: ""}
	c := newAuthContext(t, "/ws/daemon?token=user-1:", "")
	_, ok := s.authenticateDaemon(c)
	assert.False(t, ok)
}
