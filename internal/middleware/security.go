package middleware

import (
	"github.com/labstack/echo/v4"
)

// securityHeaders are set on every response of the local app. Framing is
// limited to the same origin so the relay host can still embed pages it serves.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"Referrer-Policy":        "same-origin",
}

// SecurityHeaders returns an Echo middleware that adds security headers to
// responses. Headers are set before the handler runs so they are present
// even when the handler writes the body itself.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for k, v := range securityHeaders {
				h.Set(k, v)
			}
			return next(c)
		}
	}
}
