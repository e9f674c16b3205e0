package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"signal-core/internal/logger"
)

// Source is the listen-key surface of the exchange client.
type Source interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	StreamURL(listenKey string) string
}

// Config tunes the supervisor. Zero values pick the exchange defaults.
type Config struct {
	RenewalInterval time.Duration // listen-key keepalive period
	BackoffCap      time.Duration // upper bound on reconnect delay
	Buffer          int           // event channel capacity
}

// Supervisor owns the user data stream connection: it creates the
// listen key, dials, renews the key on a timer, and reconnects with
// exponential backoff after any failure. Decoded events come out of a
// single channel so consumers observe them in arrival order.
type Supervisor struct {
	src    Source
	log    *logger.Logger
	cfg    Config
	events chan Event
}

func NewSupervisor(src Source, log *logger.Logger, cfg Config) *Supervisor {
	if cfg.RenewalInterval <= 0 {
		cfg.RenewalInterval = 30 * time.Minute
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Supervisor{
		src:    src,
		log:    log.WithComponent("stream"),
		cfg:    cfg,
		events: make(chan Event, cfg.Buffer),
	}
}

// Events is the ordered stream of decoded events. Closed when Run returns.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Run connects and reconnects until ctx is cancelled. The backoff delay
// doubles per consecutive failed attempt up to the cap and resets once a
// connection is established.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.events)
	attempts := 0
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			s.log.Info("user stream stopped")
			return
		}
		if connected {
			attempts = 0
		}
		delay := backoff(attempts, s.cfg.BackoffCap)
		attempts++
		s.log.WithError(err).WithFields(map[string]any{
			"attempt": attempts, "retry_in": delay.String(),
		}).Warn("user stream disconnected, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.log.Info("user stream stopped")
			return
		}
	}
}

// session runs one connection from listen-key creation to disconnect.
// The returned bool reports whether the dial succeeded, which is what
// resets the backoff.
func (s *Supervisor) session(ctx context.Context) (bool, error) {
	key, err := s.src.CreateListenKey(ctx)
	if err != nil {
		return false, fmt.Errorf("create listen key: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.src.StreamURL(key), nil)
	if err != nil {
		return false, fmt.Errorf("dial user stream: %w", err)
	}
	defer conn.Close()
	s.log.Info("user stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.RenewalInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := s.src.KeepAliveListenKey(ctx, key); err != nil {
					// A key we cannot renew will expire server-side;
					// drop the connection and start over with a new key.
					s.log.WithError(err).Warn("listen key renewal failed, forcing reconnect")
					conn.Close()
					return
				}
				s.log.Debug("listen key renewed")
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, fmt.Errorf("read user stream: %w", err)
		}
		ev, err := Parse(msg)
		if err != nil {
			s.log.WithError(err).Warn("unparseable stream message")
			continue
		}
		if ev.Type == EventListenKeyExpired {
			return true, errors.New("listen key expired")
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func backoff(attempts int, cap time.Duration) time.Duration {
	if attempts > 16 {
		attempts = 16
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > cap {
		d = cap
	}
	return d
}
