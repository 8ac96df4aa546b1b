// Package service implements the relay gateway: it answers requests forwarded
// by the relay host by replaying them against the local app.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"

	"onair-relay/internal/client"
	"onair-relay/internal/config"
	"onair-relay/internal/metrics"
	"onair-relay/internal/model"
	"onair-relay/internal/relay"
)

// HeaderForwardedPrefix carries the externally visible path prefix to the local app.
const HeaderForwardedPrefix = "X-Forwarded-Prefix"

const encodingGzip = "gzip"

var (
	// ErrInvalidPath is returned when a forwarded path is not a local route.
	ErrInvalidPath = errors.New("invalid forwarded path")

	// ErrEncoding is returned when the response body cannot be compressed.
	ErrEncoding = errors.New("compress response")

	// ErrLocalHandler is returned when the local app fails to produce a response.
	ErrLocalHandler = client.ErrLocalHandler
)

// Gateway bridges forwarded requests to the local app.
type Gateway struct {
	local     *client.LocalClient
	transport *relay.Client
	level     int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewGateway creates a Gateway and registers it as the transport's "get" handler.
// The metrics parameter is optional.
func NewGateway(local *client.LocalClient, transport *relay.Client, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	g := &Gateway{
		local:     local,
		transport: transport,
		level:     cfg.Relay.GzipLevel(),
		logger:    logger.With("component", "gateway"),
		metrics:   m,
	}
	transport.OnGet(g)
	return g
}

// Connect establishes the outbound session to the relay host. It does not
// retry; a failure is a *relay.ConnectionError.
func (g *Gateway) Connect(ctx context.Context) (*relay.Session, error) {
	return g.transport.Connect(ctx)
}

// HandleGet replays req against the local app and returns the gzip-compressed reply.
//
// The local call asks for an identity encoding so the body is compressed
// exactly once, here. Status code and content type are copied from the local
// response; the reply's only header is Content-Encoding: gzip.
func (g *Gateway) HandleGet(ctx context.Context, req *model.ForwardedRequest) (*model.RelayResponse, error) {
	if err := validatePath(req.Path); err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Accept-Encoding", "identity")
	header.Set(HeaderForwardedPrefix, req.Prefix)

	g.logger.Debug("forwarded request",
		"path", req.Path,
		"prefix", req.Prefix,
	)

	resp, err := g.local.Get(ctx, req.Path, header)
	if err != nil {
		return nil, fmt.Errorf("local call %s: %w", req.Path, err)
	}

	content, err := compress(resp.Body, g.level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	if g.metrics != nil {
		g.metrics.UncompressedBytes.Add(float64(len(resp.Body)))
		g.metrics.CompressedBytes.Add(float64(len(content)))
	}

	var mediaType *string
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType = &ct
	}

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Headers:    map[string]string{"Content-Encoding": encodingGzip},
		Content:    content,
		MediaType:  mediaType,
	}, nil
}

// validatePath accepts absolute local request URIs only.
func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return fmt.Errorf("%w: %q must start with a single '/'", ErrInvalidPath, path)
	}
	u, err := url.ParseRequestURI(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if u.Host != "" || u.Scheme != "" {
		return fmt.Errorf("%w: %q is not a local route", ErrInvalidPath, path)
	}
	return nil
}

// compress gzips body. The gzip header carries no name or mtime, so equal
// input gives byte-identical output.
func compress(body []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
