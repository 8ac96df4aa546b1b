package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"onair-relay/internal/config"
	"onair-relay/internal/metrics"
)

// ConnectionError reports that the outbound session could not be established.
type ConnectionError struct {
	URL        string
	StatusCode int // handshake response status, 0 when no response was received
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay: connect %s: handshake status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("relay: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Options tunes the websocket session.
type Options struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // 0 disables keepalive pings
	MaxMessageBytes  int64         // 0 means unlimited
	Header           http.Header   // extra handshake headers
}

// Client owns the outbound connection to a fixed relay endpoint.
type Client struct {
	url     string
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	get GetHandler

	mu        sync.Mutex
	sessionID string
	connected bool
}

// NewClient creates a Client for the relay endpoint in cfg.
func NewClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	u, err := cfg.Relay.URL()
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	return New(u, Options{
		HandshakeTimeout: cfg.Relay.HandshakeTimeout(),
		PingInterval:     cfg.Relay.PingInterval(),
		MaxMessageBytes:  cfg.Relay.MaxMessageBytes,
	}, logger, m), nil
}

// New creates a Client for a websocket URL. The metrics parameter is optional.
func New(url string, opts Options, logger *slog.Logger, m *metrics.Metrics) *Client {
	return &Client{
		url:     url,
		opts:    opts,
		logger:  logger.With("component", "relay_client"),
		metrics: m,
	}
}

// OnGet registers the handler for "get" events. It must be called before Connect.
func (c *Client) OnGet(h GetHandler) {
	c.get = h
}

// URL returns the relay endpoint.
func (c *Client) URL() string { return c.url }

// State reports whether a session is established and its id.
func (c *Client) State() (connected bool, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected, c.sessionID
}

// Connect dials the relay endpoint and completes the websocket handshake.
// It does not retry; failures are returned as *ConnectionError.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	conn, resp, err := d.DialContext(ctx, c.url, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		ce := &ConnectionError{URL: c.url, Err: err}
		if resp != nil {
			ce.StatusCode = resp.StatusCode
		}
		return nil, ce
	}

	if c.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(c.opts.MaxMessageBytes)
	}

	s := &Session{
		ID:     uuid.NewString(),
		client: c,
		conn:   conn,
	}
	s.logger = c.logger.With("session_id", s.ID)

	c.setState(true, s.ID)
	if c.metrics != nil {
		c.metrics.RelaySessions.Inc()
		c.metrics.RelayConnected.Set(1)
	}
	s.logger.Info("relay session established", "url", c.url)

	return s, nil
}

func (c *Client) setState(connected bool, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	c.sessionID = sessionID
}

// handle dispatches one event to its registered handler and returns the ack payload.
func (c *Client) handle(ctx context.Context, event string, data json.RawMessage) (any, error) {
	switch event {
	case EventGet:
		if c.get == nil {
			return nil, fmt.Errorf("%w: %q has no handler", ErrUnknownEvent, event)
		}
		req, err := decodeForwardedRequest(data)
		if err != nil {
			return nil, err
		}
		return c.get.HandleGet(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}
