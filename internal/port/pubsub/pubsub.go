// Package pubsub defines the port for the cross-instance publish/subscribe
// broker. Fan-out between instances is entirely delegated to the broker;
// this core only maintains per-instance subscriber bookkeeping.
package pubsub

import "context"

// Handler processes one received message.
type Handler func(subject string, data []byte)

// Broker is the port interface for topic-based publish/subscribe.
type Broker interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned func cancels the subscription.
	Subscribe(subject string, h Handler) (func(), error)

	// Close shuts down the broker connection.
	Close() error

	// IsConnected reports whether the broker connection is healthy.
	IsConnected() bool
}
