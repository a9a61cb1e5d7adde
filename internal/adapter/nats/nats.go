// Package nats implements the pub/sub broker port using core NATS.
// Status events are ephemeral fan-out traffic: a subscriber that is not
// connected when an event fires has no use for it later, so no stream or
// durable consumer is involved.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/launchforge/launchforge/internal/port/pubsub"
)

// SubjectPrefix is the subject namespace for agent status events.
const SubjectPrefix = "agents.status."

// StatusSubject returns the broker subject for one agent's status topic.
func StatusSubject(agentID string) string {
	return SubjectPrefix + agentID
}

// Broker implements pubsub.Broker using a core NATS connection.
type Broker struct {
	nc *nats.Conn
}

// Connect establishes a connection to NATS.
func Connect(url string) (*Broker, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", url)
	return &Broker{nc: nc}, nil
}

// Publish sends a message to the given subject.
func (b *Broker) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// The subject may contain NATS wildcards.
func (b *Broker) Subscribe(subject string, h pubsub.Handler) (func(), error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		h(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("nats unsubscribe failed", "subject", subject, "error", err)
		}
	}, nil
}

// Close shuts down the NATS connection, flushing buffered messages first.
func (b *Broker) Close() error {
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// IsConnected reports whether the NATS connection is healthy.
func (b *Broker) IsConnected() bool {
	return b.nc.IsConnected()
}

// Conn exposes the underlying connection for collaborators that need more
// than pub/sub, such as the JetStream KV cache level.
func (b *Broker) Conn() *nats.Conn {
	return b.nc
}
