package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/launchforge/launchforge/internal/adapter/otel"
	"github.com/launchforge/launchforge/internal/config"
	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
	"github.com/launchforge/launchforge/internal/port/broadcast"
	"github.com/launchforge/launchforge/internal/port/chain"
	"github.com/launchforge/launchforge/internal/port/store"
)

// actorSystem is the audit actor recorded for transitions the service drives
// itself, as opposed to ones requested by a caller.
const actorSystem = "system"

// PrepareResult is what the caller needs to obtain a signature out of band.
type PrepareResult struct {
	UnsignedTx     []byte `json:"unsigned_tx"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ProvisioningService runs the two on-chain provisioning steps: build an
// unsigned transaction, hand it to the caller for signing, then broadcast
// and confirm the signed bytes. The pending-transaction subdocument and its
// idempotency key make re-submission safe: the same key never broadcasts
// twice and the hash is recorded at most once.
type ProvisioningService struct {
	store       store.Store
	builder     chain.Builder
	client      chain.Client
	orch        *Orchestrator
	broadcaster broadcast.Broadcaster
	cfg         config.Confirm
	metrics     *otel.Metrics    // optional
	now         func() time.Time // for testing

	wg sync.WaitGroup // tracks async finalize work; tests wait on it
}

// NewProvisioningService creates a ProvisioningService.
func NewProvisioningService(st store.Store, builder chain.Builder, client chain.Client, orch *Orchestrator, bc broadcast.Broadcaster, cfg config.Confirm) *ProvisioningService {
	return &ProvisioningService{
		store:       st,
		builder:     builder,
		client:      client,
		orch:        orch,
		broadcaster: bc,
		cfg:         cfg,
		now:         time.Now,
	}
}

// SetMetrics attaches metric instruments. Nil metrics are skipped at every
// recording site, so tests can leave them unset.
func (p *ProvisioningService) SetMetrics(m *otel.Metrics) {
	p.metrics = m
}

// expectedStatus returns the lifecycle status a provisioning kind is gated on.
func expectedStatus(kind agent.TxKind) (agent.Status, error) {
	switch kind {
	case agent.TxKindTokenCreation:
		return agent.StatusPendingTokenSignature, nil
	case agent.TxKindPoolCreation:
		return agent.StatusPendingPoolSignature, nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q: %w", kind, domain.ErrValidation)
	}
}

func successEvent(kind agent.TxKind) lifecycle.Event {
	if kind == agent.TxKindPoolCreation {
		return lifecycle.EventPoolCreationSuccess
	}
	return lifecycle.EventTokenCreationSuccess
}

// Prepare builds the unsigned transaction for the given kind and installs a
// fresh pending-transaction descriptor on the agent.
func (p *ProvisioningService) Prepare(ctx context.Context, agentID string, kind agent.TxKind) (*PrepareResult, error) {
	expected, err := expectedStatus(kind)
	if err != nil {
		return nil, err
	}

	a, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.Deployment.Status != expected {
		return nil, fmt.Errorf("prepare %s in status %s: %w", kind, a.Deployment.Status, domain.ErrInvalidState)
	}

	unsigned, err := p.builder.Build(ctx, kind, a)
	if err != nil {
		return nil, fmt.Errorf("build %s for %s: %w", kind, agentID, err)
	}

	pending := &agent.PendingTransaction{
		IdempotencyKey: uuid.NewString(),
		Kind:           kind,
		Status:         agent.TxStatusPending,
		Details: agent.TxDetails{
			AssetAddress:  unsigned.AssetAddress,
			AncillaryKeys: unsigned.AncillaryKeys,
		},
	}
	if err := p.store.SetPendingTx(ctx, agentID, expected, pending); err != nil {
		return nil, err
	}

	slog.Info("provisioning prepared",
		"agent_id", agentID, "kind", string(kind), "asset", unsigned.AssetAddress)

	return &PrepareResult{
		UnsignedTx:     unsigned.Bytes,
		IdempotencyKey: pending.IdempotencyKey,
	}, nil
}

// Finalize accepts the signed transaction and starts the async broadcast and
// confirmation work. A nil return means accepted, not done; completion is
// observed via the status broadcaster.
func (p *ProvisioningService) Finalize(ctx context.Context, agentID string, kind agent.TxKind, signedTx []byte, idempotencyKey string) error {
	if _, err := expectedStatus(kind); err != nil {
		return err
	}
	if idempotencyKey == "" {
		return fmt.Errorf("finalize %s: empty key: %w", agentID, domain.ErrInvalidIdempotencyKey)
	}

	// The hard idempotency guard: exactly one caller flips PENDING to
	// PROCESSING for a given key.
	ok, err := p.store.UpdatePendingTxStatus(ctx, agentID, idempotencyKey, agent.TxStatusPending, agent.TxStatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		a, err := p.store.GetAgent(ctx, agentID)
		if err != nil {
			return err
		}
		pending := a.Deployment.PendingTx
		if pending != nil && pending.IdempotencyKey == idempotencyKey {
			return fmt.Errorf("finalize %s key %s: %w", agentID, idempotencyKey, domain.ErrAlreadyInProgress)
		}
		return fmt.Errorf("finalize %s key %s: %w", agentID, idempotencyKey, domain.ErrInvalidIdempotencyKey)
	}

	// The caller's request context ends when we return "accepted"; the
	// pipeline keeps its values (trace, logger) but not its deadline.
	bg := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(bg, agentID, kind, signedTx, idempotencyKey)
	}()

	return nil
}

// run is the async half of Finalize: broadcast if needed, then confirm.
func (p *ProvisioningService) run(ctx context.Context, agentID string, kind agent.TxKind, signedTx []byte, idempotencyKey string) {
	a, err := p.store.GetAgent(ctx, agentID)
	if err != nil {
		slog.Error("provisioning re-read failed", "agent_id", agentID, "error", err)
		return
	}
	pending := a.Deployment.PendingTx
	if pending == nil || pending.IdempotencyKey != idempotencyKey {
		slog.Error("pending transaction vanished mid-finalize", "agent_id", agentID, "key", idempotencyKey)
		return
	}

	txHash := pending.TxHash
	if txHash == "" {
		txHash, err = p.client.Broadcast(ctx, signedTx)
		if err != nil {
			// Revert so a future finalize with the same key can retry the
			// broadcast, then surface the failure through the lifecycle.
			if _, rerr := p.store.UpdatePendingTxStatus(ctx, agentID, idempotencyKey, agent.TxStatusProcessing, agent.TxStatusPending); rerr != nil {
				slog.Error("pending tx revert failed", "agent_id", agentID, "error", rerr)
			}
			p.fail(ctx, agentID, kind, "", fmt.Sprintf("broadcast of %s failed: %v", kind, err))
			return
		}

		if ok, err := p.store.SetPendingTxHash(ctx, agentID, idempotencyKey, txHash); err != nil || !ok {
			slog.Error("recording tx hash failed", "agent_id", agentID, "tx_hash", txHash, "ok", ok, "error", err)
		}

		if p.metrics != nil {
			p.metrics.TxSubmitted.Add(ctx, 1, metric.WithAttributes(
				attribute.String("kind", string(kind))))
		}

		p.broadcaster.Publish(ctx, broadcast.StatusEvent{
			Type:    broadcast.EventTxSubmitted,
			AgentID: agentID,
			TxKind:  kind,
			TxHash:  txHash,
			At:      p.now().UTC(),
		})
	}

	if err := p.confirm(ctx, txHash); err != nil {
		var msg string
		if errors.Is(err, chain.ErrReverted) {
			msg = fmt.Sprintf("transaction %s failed on-chain: %v", txHash, err)
		} else {
			msg = fmt.Sprintf("confirmation of %s not reached after %d attempts; the transaction may still be processing on-chain", txHash, p.cfg.MaxAttempts)
		}
		p.fail(ctx, agentID, kind, txHash, msg)
		return
	}

	details, err := p.client.Details(ctx, txHash)
	if err != nil {
		// A confirmed transaction with unfetchable details is still a
		// success; fall back to wall clock and an unknown position.
		slog.Warn("transaction details unavailable", "agent_id", agentID, "tx_hash", txHash, "error", err)
		details = &chain.Details{Timestamp: p.now().UTC()}
	}

	evCtx := lifecycle.Context{
		AssetAddress: pending.Details.AssetAddress,
		TxHash:       txHash,
		Timestamp:    details.Timestamp,
		Slot:         details.Slot,
	}
	if _, err := p.orch.Transition(ctx, agentID, successEvent(kind), evCtx, actorSystem); err != nil {
		slog.Error("success transition failed", "agent_id", agentID, "kind", string(kind), "error", err)
		return
	}

	p.broadcaster.Publish(ctx, broadcast.StatusEvent{
		Type:    broadcast.EventTxConfirmed,
		AgentID: agentID,
		TxKind:  kind,
		TxHash:  txHash,
		At:      p.now().UTC(),
	})
}

// confirm polls for the transaction with bounded attempts and exponential
// backoff. A definitive on-chain failure aborts immediately.
func (p *ProvisioningService) confirm(ctx context.Context, txHash string) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(p.cfg.MaxAttempts)),
		retry.Delay(p.cfg.BackoffBase),
		retry.MaxDelay(p.cfg.BackoffMax),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, chain.ErrReverted)
		}),
	)
	return r.Do(func() error {
		if p.metrics != nil {
			p.metrics.ConfirmAttempts.Add(ctx, 1)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
		defer cancel()
		return p.client.Confirm(attemptCtx, txHash)
	})
}

// fail drives the agent to FAILED and publishes the pipeline failure event.
func (p *ProvisioningService) fail(ctx context.Context, agentID string, kind agent.TxKind, txHash, msg string) {
	if _, err := p.orch.Transition(ctx, agentID, lifecycle.EventFail, lifecycle.Context{Error: msg}, actorSystem); err != nil {
		slog.Error("fail transition failed", "agent_id", agentID, "error", err)
	}
	p.broadcaster.Publish(ctx, broadcast.StatusEvent{
		Type:    broadcast.EventTxFailed,
		AgentID: agentID,
		TxKind:  kind,
		TxHash:  txHash,
		Error:   msg,
		At:      p.now().UTC(),
	})
}

// Wait blocks until all in-flight async finalize work has completed.
func (p *ProvisioningService) Wait() {
	p.wg.Wait()
}
