package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	natsadapter "github.com/launchforge/launchforge/internal/adapter/nats"
	"github.com/launchforge/launchforge/internal/adapter/otel"
	"github.com/launchforge/launchforge/internal/adapter/ws"
	"github.com/launchforge/launchforge/internal/port/broadcast"
	"github.com/launchforge/launchforge/internal/port/cache"
	"github.com/launchforge/launchforge/internal/port/pubsub"
)

// StatusBroadcaster publishes agent status events to the broker. Cross-
// instance fan-out is entirely the broker's job; this type only serializes
// and fires. Publish failures are logged and swallowed: a lost event must
// never fail the transition that produced it.
type StatusBroadcaster struct {
	broker  pubsub.Broker
	metrics *otel.Metrics // optional
}

// NewStatusBroadcaster creates a StatusBroadcaster on top of the broker.
func NewStatusBroadcaster(broker pubsub.Broker) *StatusBroadcaster {
	return &StatusBroadcaster{broker: broker}
}

// SetMetrics attaches metric instruments; nil is fine.
func (b *StatusBroadcaster) SetMetrics(m *otel.Metrics) {
	b.metrics = m
}

// Publish sends the event to the agent's status subject.
func (b *StatusBroadcaster) Publish(ctx context.Context, ev broadcast.StatusEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("status event marshal failed", "agent_id", ev.AgentID, "error", err)
		return
	}
	if err := b.broker.Publish(ctx, natsadapter.StatusSubject(ev.AgentID), data); err != nil {
		slog.Warn("status event publish failed", "agent_id", ev.AgentID, "type", ev.Type, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.StatusEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", ev.Type)))
	}
}

// eventSink receives relayed events for local WebSocket subscribers.
// *ws.Hub is the production implementation.
type eventSink interface {
	Publish(ctx context.Context, agentID string, msg ws.Message)
}

// StatusRelay subscribes to every agent status subject and bridges events
// into this instance's WebSocket hub. It also drops the agent's cache entry
// so reads on this instance see the new state without waiting out the TTL.
type StatusRelay struct {
	broker pubsub.Broker
	sink   eventSink
	cache  cache.Cache
	stop   func()
}

// NewStatusRelay creates a StatusRelay. cache may be nil.
func NewStatusRelay(broker pubsub.Broker, sink eventSink, c cache.Cache) *StatusRelay {
	return &StatusRelay{broker: broker, sink: sink, cache: c}
}

// Start subscribes to the status subject wildcard. Call Stop to unsubscribe.
func (r *StatusRelay) Start(ctx context.Context) error {
	stop, err := r.broker.Subscribe(natsadapter.SubjectPrefix+">", func(subject string, data []byte) {
		agentID := subject[len(natsadapter.SubjectPrefix):]

		if r.cache != nil {
			if err := r.cache.Delete(ctx, cache.AgentKey(agentID)); err != nil {
				slog.Debug("cache invalidation failed", "agent_id", agentID, "error", err)
			}
		}

		r.sink.Publish(ctx, agentID, ws.Message{
			Type:    envelopeType(data),
			Payload: data,
		})
	})
	if err != nil {
		return err
	}
	r.stop = stop
	return nil
}

// Stop unsubscribes the relay from the broker.
func (r *StatusRelay) Stop() {
	if r.stop != nil {
		r.stop()
	}
}

// envelopeType lifts the event's own type field into the WebSocket envelope,
// so milestone events such as tx.confirmed keep their identity on the wire.
// A payload without a type is labeled as a plain status transition.
func envelopeType(data []byte) string {
	var ev struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		return broadcast.EventStatusTransition
	}
	return ev.Type
}
