package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/launchforge/launchforge/internal/adapter/otel"
	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
	"github.com/launchforge/launchforge/internal/port/broadcast"
	"github.com/launchforge/launchforge/internal/port/store"
)

// Orchestrator drives agents through the deployment lifecycle. A per-agent
// lock in the store serializes transitions across all server instances; the
// final commit is still conditional so an expired lock cannot let two
// processes both win.
type Orchestrator struct {
	store       store.Store
	broadcaster broadcast.Broadcaster
	lockTTL     time.Duration
	metrics     *otel.Metrics    // optional
	now         func() time.Time // for testing
}

// NewOrchestrator creates an Orchestrator with the given lock TTL.
func NewOrchestrator(st store.Store, bc broadcast.Broadcaster, lockTTL time.Duration) *Orchestrator {
	return &Orchestrator{
		store:       st,
		broadcaster: bc,
		lockTTL:     lockTTL,
		now:         time.Now,
	}
}

// SetMetrics attaches metric instruments. Nil metrics are skipped at every
// recording site, so tests can leave them unset.
func (o *Orchestrator) SetMetrics(m *otel.Metrics) {
	o.metrics = m
}

// Transition fires ev against the agent and returns the updated agent.
// Errors: domain.ErrNotFound, domain.ErrLocked, domain.ErrInvalidTransition,
// domain.ErrConflict.
func (o *Orchestrator) Transition(ctx context.Context, agentID string, ev lifecycle.Event, evCtx lifecycle.Context, actor string) (*agent.Agent, error) {
	if !lifecycle.ValidEvent(ev) {
		return nil, fmt.Errorf("unknown event %q: %w", ev, domain.ErrValidation)
	}

	// Existence check first so a missing agent reads as NOT_FOUND, not LOCKED.
	if _, err := o.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}

	holder := uuid.NewString()
	now := o.now().UTC()

	ok, err := o.store.AcquireLock(ctx, agentID, holder, now.Add(o.lockTTL), now)
	if err != nil {
		return nil, fmt.Errorf("transition %s: %w", agentID, err)
	}
	if !ok {
		return nil, fmt.Errorf("transition %s: %w", agentID, domain.ErrLocked)
	}

	// Re-read after acquiring: the orchestrator must reason about the state
	// it just locked, not a read that raced the lock write.
	a, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		o.releaseLock(ctx, agentID, holder)
		return nil, err
	}

	from := a.Deployment.Status
	ch, err := lifecycle.Apply(a, ev, evCtx)
	if err != nil {
		o.releaseLock(ctx, agentID, holder)
		return nil, err
	}

	entry := agent.AuditEntry{
		AgentID:   agentID,
		Actor:     actor,
		Action:    agent.ActionStatusTransition,
		Details:   fmt.Sprintf("%s: %s -> %s", ev, from, ch.To),
		Timestamp: o.now().UTC(),
	}

	updated, err := o.store.CommitTransition(ctx, agentID, from, holder, ch, entry)
	if err != nil {
		o.releaseLock(ctx, agentID, holder)
		if o.metrics != nil {
			o.metrics.TransitionsRejected.Add(ctx, 1, metric.WithAttributes(
				attribute.String("event", string(ev))))
		}
		return nil, err
	}

	if o.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("event", string(ev)),
			attribute.String("to", string(ch.To)))
		o.metrics.TransitionsCommitted.Add(ctx, 1, attrs)
		o.metrics.TransitionDuration.Record(ctx, time.Since(now).Seconds(), attrs)
	}

	slog.Info("transition committed",
		"agent_id", agentID, "event", string(ev),
		"from", string(from), "to", string(ch.To), "actor", actor)

	o.broadcaster.Publish(ctx, broadcast.StatusEvent{
		Type:    broadcast.EventStatusTransition,
		AgentID: agentID,
		Status:  updated.Deployment.Status,
		Error:   updated.Deployment.LastError,
		At:      o.now().UTC(),
	})

	return updated, nil
}

// releaseLock is the error-path cleanup. The commit path clears the lock
// itself; here a failed release is only logged because the TTL bounds the
// damage anyway.
func (o *Orchestrator) releaseLock(ctx context.Context, agentID, holder string) {
	if err := o.store.ReleaseLock(ctx, agentID, holder); err != nil {
		slog.Warn("lock release failed", "agent_id", agentID, "error", err)
	}
}
