package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	headerForwardedPrefix = "X-Forwarded-Prefix"
	prefixContextKey      = "forwarded_prefix"
)

// ForwardedPrefix returns an Echo middleware that stores the sanitized
// X-Forwarded-Prefix of the request in the context. Handlers read it with
// Prefix to build URLs as the relay host exposes them.
func ForwardedPrefix() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(prefixContextKey, sanitizePrefix(c.Request().Header.Get(headerForwardedPrefix)))
			return next(c)
		}
	}
}

// Prefix returns the forwarded prefix stored by ForwardedPrefix, or "".
func Prefix(c echo.Context) string {
	p, _ := c.Get(prefixContextKey).(string)
	return p
}

// sanitizePrefix keeps absolute path prefixes, minus any trailing slash.
// Anything else is dropped.
func sanitizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p[0] != '/' || strings.HasPrefix(p, "//") {
		return ""
	}
	if strings.ContainsAny(p, "?#\\\"'<> ") {
		return ""
	}
	return strings.TrimRight(p, "/")
}
