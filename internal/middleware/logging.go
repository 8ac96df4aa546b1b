// Package middleware provides the Echo middleware of the local app.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"onair-relay/internal/client"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests replayed for the relay host log at debug level, since the relay
// session already logs every event it answers.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			via := "direct"
			if client.IsInProcess(req.Context()) {
				level = slog.LevelDebug
				via = "relay"
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"prefix", Prefix(c),
				"via", via,
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
