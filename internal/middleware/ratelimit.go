package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"onair-relay/internal/client"
)

// RateLimiter returns an Echo middleware limiting direct requests to rps per
// client IP. Requests replayed for the relay host are not limited here: they
// all share the loopback address, and the relay host meters its own visitors.
func RateLimiter(rps float64) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return client.IsInProcess(c.Request().Context())
		},
		Store: echomw.NewRateLimiterMemoryStore(rate.Limit(rps)),
	})
}
