package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"onair-relay/internal/client"
	"onair-relay/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each request served by the local app. Requests replayed on behalf of the
// relay host are labelled via="relay"; everything else is via="direct".
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			// An *echo.HTTPError is written later by the central error
			// handler, so the response status is not final yet.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				statusCode = he.Code
			}

			req := c.Request()
			via := metrics.ViaDirect
			if client.IsInProcess(req.Context()) {
				via = metrics.ViaRelay
			}

			labels := []string{
				metrics.NormalizeMethod(req.Method),
				strconv.Itoa(statusCode),
				metrics.NormalizePath(req.URL.Path),
				via,
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
