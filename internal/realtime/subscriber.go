package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Handler receives decoded notifications one at a time, in arrival order.
type Handler func(Notification)

// Subscriber keeps a websocket open to the realtime channel and redials
// on a ticker after the connection drops.
type Subscriber struct {
	URL     string
	Handler Handler
	// Retry is the delay between reconnect attempts. Zero means one second.
	Retry  time.Duration
	Dialer *websocket.Dialer
	Log    *slog.Logger
	// OnState, if set, is told when the connection goes up or down.
	OnState func(connected bool)
}

// ChannelURL turns the server base URL into the websocket address of the
// realtime endpoint.
func ChannelURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.JoinPath("realtime").String(), nil
}

// Run blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	retry := s.Retry
	if retry <= 0 {
		retry = time.Second
	}
	if err := s.connectAndRead(ctx); err != nil && ctx.Err() == nil {
		s.logger().Warn("realtime channel closed", "err", err)
	}
	t := time.NewTicker(retry)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.connectAndRead(ctx); err != nil && ctx.Err() == nil {
				s.logger().Warn("realtime channel closed", "err", err)
			}
		case <-ctx.Done():
			s.logger().Debug("stopping realtime subscriber")
			return ctx.Err()
		}
	}
}

func (s *Subscriber) connectAndRead(ctx context.Context) error {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()
	s.setState(true)
	defer s.setState(false)

	// ReadMessage does not watch ctx; closing the conn unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		n, err := Decode(p)
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				notificationsTotal.WithLabelValues("unknown", "malformed").Inc()
			}
			s.logger().Debug("dropping notification", "err", err)
			continue
		}
		if s.Handler != nil {
			s.Handler(n)
		}
	}
}

func (s *Subscriber) setState(up bool) {
	if s.OnState != nil {
		s.OnState(up)
	}
}

func (s *Subscriber) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
