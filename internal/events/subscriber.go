package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/Aman-CERP/issueindex/internal/config"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
)

// natsConnectFunc allows test injection.
var natsConnectFunc = nats.Connect

// Subscriber consumes trigger events from NATS.
type Subscriber struct {
	cfg   config.EventsConfig
	coord *Coordinator
	retry ierrors.RetryConfig

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber. Start connects it.
func NewSubscriber(cfg config.EventsConfig, coord *Coordinator) *Subscriber {
	if cfg.NATSURL == "" {
		cfg.NATSURL = nats.DefaultURL
	}
	return &Subscriber{cfg: cfg, coord: coord, retry: ierrors.DefaultRetryConfig()}
}

// Start connects, retrying with backoff, and subscribes to every
// coordinator subject in the configured queue group. Handlers run with ctx.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return fmt.Errorf("subscriber already started")
	}

	conn, err := ierrors.RetryWithResult(ctx, s.retry, func() (*nats.Conn, error) {
		nc, err := natsConnectFunc(s.cfg.NATSURL, nats.Name("issueindex"))
		if err != nil {
			slog.Debug("nats_connect_failed", slog.String("url", s.cfg.NATSURL), slog.String("error", err.Error()))
		}
		return nc, err
	})
	if err != nil {
		return ierrors.New(ierrors.ErrCodeEventBus, fmt.Sprintf("failed to connect to %s", s.cfg.NATSURL), err).
			WithSuggestion("check events.nats_url and that the NATS server is running")
	}

	for _, subject := range s.coord.Subjects() {
		sub, err := conn.QueueSubscribe(subject, s.cfg.QueueGroup, func(msg *nats.Msg) {
			s.coord.Handle(ctx, msg.Subject, msg.Data)
		})
		if err != nil {
			conn.Close()
			s.subs = nil
			return ierrors.New(ierrors.ErrCodeEventBus, fmt.Sprintf("failed to subscribe to %s", subject), err)
		}
		s.subs = append(s.subs, sub)
	}
	s.conn = conn

	slog.Info("events_subscribed",
		slog.String("url", s.cfg.NATSURL),
		slog.String("queue_group", s.cfg.QueueGroup),
		slog.Any("subjects", s.coord.Subjects()))
	return nil
}

// Close drains the connection, letting in-flight handlers finish before
// it closes. It is safe to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}

	err := s.conn.Drain()
	s.conn, s.subs = nil, nil
	if err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}
