package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"onair-relay/internal/client"
)

// Recover returns Echo's panic recovery for direct requests only. A panic
// while serving a relayed request reaches the LocalClient, which reports it
// to the relay host as a failure of that one request instead of a 500 page.
func Recover() echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		Skipper: func(c echo.Context) bool {
			return client.IsInProcess(c.Request().Context())
		},
	})
}
