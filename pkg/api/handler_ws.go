package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/spectra-assist/spectra/pkg/services"
)

// wsDaemonHandler upgrades GET /ws/daemon to a WebSocket and hands the
// connection to the registry. Authentication happens before the upgrade so
// bad tokens get a plain 401, not a broken socket.
func (s *Server) wsDaemonHandler(c *echo.Context) error {
	userID, ok := s.authenticateDaemon(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized,
			ErrorBody{Code: services.CodeForbidden, Message: "invalid daemon token"})
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Daemons are native clients, not browsers; origin checks do not apply.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.registry.HandleConnection(c.Request().Context(), userID, conn)
	return nil
}
