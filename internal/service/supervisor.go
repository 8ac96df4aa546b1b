package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v3"

	"onair-relay/internal/config"
	"onair-relay/internal/relay"
)

// Supervisor keeps the gateway's relay session alive for the process.
//
// Without reconnect it connects once and serves that session; a connection
// failure or a broken session is returned to the caller. With reconnect it
// retries connecting with exponential backoff and opens a new session
// whenever the current one ends, until ctx is done.
type Supervisor struct {
	gateway    *Gateway
	reconnect  bool
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// NewSupervisor creates a Supervisor for g.
func NewSupervisor(g *Gateway, cfg *config.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		gateway:    g,
		reconnect:  cfg.Relay.Reconnect,
		newBackOff: newExponentialBackOff,
		logger:     logger.With("component", "supervisor"),
	}
}

func newExponentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Run serves relay sessions until ctx is done, which is reported as nil.
// Without reconnect, Run also returns nil when the relay host closes the
// session normally.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		session, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = session.Serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !s.reconnect {
			return err
		}
		s.logger.Warn("relay session ended, reconnecting", "session_id", session.ID, "err", err)
	}
}

// connect returns ctx.Err() once ctx is done. In reconnect mode that is its
// only failure: the backoff paces attempts but never gives up on its own.
func (s *Supervisor) connect(ctx context.Context) (*relay.Session, error) {
	if !s.reconnect {
		return s.gateway.Connect(ctx)
	}

	b := s.newBackOff()
	b.Reset()
	for {
		session, err := s.gateway.Connect(ctx)
		if err == nil {
			return session, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			b.Reset()
			next = b.NextBackOff()
		}
		s.logger.Warn("relay connect failed", "err", err, "retry_in", next)

		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
