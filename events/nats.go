package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when publishing before Start.
var ErrNotConnected = errors.New("publisher not connected; call Start first")

// NATSPublisher publishes events to subjects "<prefix>.<event type>".
type NATSPublisher struct {
	url    string
	prefix string
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
}

// NewNATSPublisher creates a publisher. An empty url uses nats.DefaultURL and
// an empty prefix "mindcare".
func NewNATSPublisher(url, prefix string, logger *slog.Logger) *NATSPublisher {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = "mindcare"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{url: url, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Start connects to NATS.
func (p *NATSPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	opts := []nats.Option{
		nats.Name("mindcare"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}
	conn, err := nats.Connect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	p.conn = conn
	p.logger.Info("NATS publisher started", "url", p.url, "prefix", p.prefix)
	return nil
}

// Stop drains and closes the connection.
func (p *NATSPublisher) Stop(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("NATS drain failed", "err", err)
		p.conn.Close()
	}
	p.conn = nil
	p.logger.Info("NATS publisher stopped")
	return nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := p.Subject(ev.Type)
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %q: %w", subject, err)
	}
	p.logger.Debug("event published to NATS", "subject", subject, "event_id", ev.ID)
	return nil
}
