package api

import (
	"crypto/subtle"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// daemonToken extracts the daemon bearer token. The WebSocket path carries
// it in the token query parameter because browser-side WebSocket clients
// cannot set headers; the REST fallback uses the Authorization header.
func daemonToken(c *echo.Context) string {
	if tok := c.QueryParam("token"); tok != "" {
		return tok
	}
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authenticateDaemon validates a userId:secret token against the shared
// secret and returns the userId. The secret comparison is constant time.
func (s *Server) authenticateDaemon(c *echo.Context) (string, bool) {
	if s.sharedSecret == "" {
		return "", false
	}
	token := daemonToken(c)
	userID, secret, ok := strings.Cut(token, ":")
	if !ok || userID == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.sharedSecret)) != 1 {
		return "", false
	}
	return userID, true
}
