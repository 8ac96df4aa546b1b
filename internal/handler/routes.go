package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"onair-relay/internal/config"
	"onair-relay/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics parameter is optional; the metrics route is only served when
// metrics are enabled and a registry is available.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, index *IndexHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/", index.Index)
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
