package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/launchforge/launchforge/internal/adapter/otel"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
	"github.com/launchforge/launchforge/internal/port/store"
)

// autoDisableError is recorded on the agent when the invocation breaker
// trips. %d is the failure threshold.
const autoDisableError = "auto-deactivated after %d consecutive invocation failures"

// InvocationService tracks invocation outcomes against deployed agents and
// auto-deactivates an agent once its consecutive failure count reaches the
// threshold. The conditional increment in the store keeps a burst of
// concurrent failures from tripping the breaker twice.
type InvocationService struct {
	store     store.Store
	orch      *Orchestrator
	threshold int
	metrics   *otel.Metrics    // optional
	now       func() time.Time // for testing
}

// NewInvocationService creates an InvocationService with the given
// consecutive-failure threshold.
func NewInvocationService(st store.Store, orch *Orchestrator, threshold int) *InvocationService {
	return &InvocationService{
		store:     st,
		orch:      orch,
		threshold: threshold,
		now:       time.Now,
	}
}

// SetMetrics attaches metric instruments. Nil metrics are skipped at every
// recording site, so tests can leave them unset.
func (s *InvocationService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// RecordOutcome persists one invocation outcome and runs the breaker logic.
// Deactivation is best-effort self-healing: its failure is recorded on the
// agent, never raised to the caller.
func (s *InvocationService) RecordOutcome(ctx context.Context, agentID, versionTag string, success bool, durationMs int64, httpStatus int) error {
	rec := agent.InvocationRecord{
		AgentID:    agentID,
		VersionTag: versionTag,
		Success:    success,
		DurationMs: durationMs,
		HTTPStatus: httpStatus,
		Timestamp:  s.now().UTC(),
	}
	if err := s.store.AppendInvocation(ctx, rec); err != nil {
		return err
	}

	if success {
		return s.store.ResetFailures(ctx, agentID)
	}

	count, applied, err := s.store.IncrementFailuresBelow(ctx, agentID, s.threshold)
	if err != nil {
		return err
	}
	if !applied || count < s.threshold {
		return nil
	}

	// This failure landed exactly on the threshold; trip the breaker.
	msg := fmt.Sprintf(autoDisableError, s.threshold)
	if err := s.store.SetLastError(ctx, agentID, msg); err != nil {
		slog.Error("recording auto-disable reason failed", "agent_id", agentID, "error", err)
	}

	slog.Warn("invocation breaker tripped", "agent_id", agentID, "failures", count)

	if s.metrics != nil {
		s.metrics.AutoDeactivations.Add(ctx, 1)
	}

	if _, err := s.orch.Transition(ctx, agentID, lifecycle.EventDeactivate, lifecycle.Context{Error: msg}, actorSystem); err != nil {
		reason := fmt.Sprintf("%s; deactivation failed: %v", msg, err)
		if serr := s.store.SetLastError(ctx, agentID, reason); serr != nil {
			slog.Error("recording deactivation failure failed", "agent_id", agentID, "error", serr)
		}
		return nil
	}

	return s.store.ResetFailures(ctx, agentID)
}
