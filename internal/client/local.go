// Package client provides the in-process HTTP client for the local app.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	"onair-relay/internal/metrics"
	"onair-relay/internal/model"
)

// ErrLocalHandler is returned when the local app fails to produce a response.
var ErrLocalHandler = errors.New("local handler failed")

// localHost is the Host header of in-process requests.
const localHost = "localhost"

type inProcessKey struct{}

// IsInProcess reports whether ctx belongs to a request issued by a LocalClient.
func IsInProcess(ctx context.Context) bool {
	v, _ := ctx.Value(inProcessKey{}).(bool)
	return v
}

// LocalClient calls the local app in-process, without opening a socket.
type LocalClient struct {
	handler http.Handler
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewLocalClient creates a LocalClient bound to the given local app.
// The metrics parameter is optional; pass nil to disable local call metrics.
func NewLocalClient(handler http.Handler, logger *slog.Logger, m *metrics.Metrics) *LocalClient {
	return &LocalClient{
		handler: handler,
		logger:  logger.With("component", "local_client"),
		metrics: m,
	}
}

// Get issues a GET for target against the local app and buffers the full response.
// A panic in the local app is reported as an error wrapping ErrLocalHandler.
func (c *LocalClient) Get(ctx context.Context, target string, header http.Header) (*model.LocalResponse, error) {
	ctx = context.WithValue(ctx, inProcessKey{}, true)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build local request: %w", err)
	}
	req.Host = localHost
	req.RequestURI = target
	req.RemoteAddr = "127.0.0.1:0"
	for key, vals := range header {
		req.Header[key] = vals
	}

	c.logger.Debug("local request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	rec, err := c.serve(req)
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.LocalDuration.WithLabelValues(http.MethodGet).Observe(duration)
	}
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.LocalResponses.WithLabelValues(http.MethodGet, strconv.Itoa(rec.Code)).Inc()
	}

	res := rec.Result()
	return &model.LocalResponse{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       rec.Body.Bytes(),
	}, nil
}

func (c *LocalClient) serve(req *http.Request) (rec *httptest.ResponseRecorder, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = fmt.Errorf("%w: panic: %v", ErrLocalHandler, r)
		}
	}()

	rec = httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec, nil
}
