package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"onair-relay/internal/metrics"
)

const closeWriteTimeout = 2 * time.Second

// Session is one established connection to the relay host.
type Session struct {
	ID string

	client *Client
	conn   *websocket.Conn
	logger *slog.Logger

	closeOnce sync.Once
}

// Serve reads events and answers them one at a time, in arrival order.
// Handler failures are sent back as error acks and do not end the session.
// Serve returns nil when the relay host closes the session normally, the
// context error when ctx is done, and the read or write error otherwise.
// The session is closed when Serve returns.
func (s *Session) Serve(ctx context.Context) error {
	defer s.Close()

	// Unblock the pending read when ctx is done.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	pongWait := 2 * s.client.opts.PingInterval
	if s.client.opts.PingInterval > 0 {
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		done := make(chan struct{})
		defer close(done)
		go s.keepalive(done)
	}

	// A forwarded request runs to completion once started.
	handleCtx := context.WithoutCancel(ctx)

	for {
		if pongWait > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("relay session closed by host")
				return nil
			}
			return fmt.Errorf("relay: read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("dropping malformed frame", "err", err, "bytes", len(data))
			continue
		}
		if f.Type != frameEvent {
			s.logger.Debug("ignoring frame", "type", f.Type, "id", f.ID)
			continue
		}

		ack := s.dispatch(handleCtx, &f)

		out, err := json.Marshal(ack)
		if err != nil {
			return fmt.Errorf("relay: encode ack: %w", err)
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, out); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("relay: write ack: %w", err)
		}
	}
}

// dispatch runs the handler for one event and builds its ack.
func (s *Session) dispatch(ctx context.Context, f *frame) *frame {
	start := time.Now()
	label := metrics.NormalizeEvent(f.Event)
	ack := &frame{Type: frameAck, ID: f.ID}

	payload, err := s.client.handle(ctx, f.Event, f.Data)
	if err == nil {
		ack.Data, err = json.Marshal(payload)
	}

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
		ack.Data = nil
		ack.Error = err.Error()
		s.logger.Error("relay event failed",
			"event", f.Event,
			"id", f.ID,
			"err", err,
		)
	} else {
		s.logger.Debug("relay event answered",
			"event", f.Event,
			"id", f.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if m := s.client.metrics; m != nil {
		m.RelayEvents.WithLabelValues(label, outcome).Inc()
		m.RelayEventDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}

	return ack
}

// keepalive pings the relay host until done is closed.
func (s *Session) keepalive(done <-chan struct{}) {
	ticker := time.NewTicker(s.client.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.client.opts.PingInterval)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug("relay ping failed", "err", err)
				}
				return
			}
		}
	}
}

// Close sends a close frame and tears the connection down. It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = s.conn.Close()

		s.client.setState(false, "")
		if s.client.metrics != nil {
			s.client.metrics.RelayConnected.Set(0)
		}
	})
	return err
}
