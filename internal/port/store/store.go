// Package store defines the port for the persistent agent store. Every
// lifecycle mutation goes through a conditional update keyed on the fields
// being changed; implementations must never blind-overwrite.
package store

import (
	"context"
	"time"

	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
)

// Store is the port interface for agent persistence.
type Store interface {
	// CreateAgent inserts a new draft agent.
	CreateAgent(ctx context.Context, a *agent.Agent) error

	// GetAgent returns the agent by ID, or domain.ErrNotFound.
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)

	// ListAgents returns all agents ordered by creation time.
	ListAgents(ctx context.Context) ([]agent.Agent, error)

	// UpdateMetadata updates the mutable descriptive fields conditioned on
	// the status still being expected. Returns domain.ErrConflict otherwise.
	UpdateMetadata(ctx context.Context, id string, expected agent.Status, name, description string, tok agent.Tokenomics) (*agent.Agent, error)

	// UpdateVersions replaces the versions list and active tag conditioned
	// on the status still being expected.
	UpdateVersions(ctx context.Context, id string, expected agent.Status, versions []agent.Version, activeTag string) (*agent.Agent, error)

	// AcquireLock sets the transition lock conditioned on no live lock
	// existing at now. Returns false when another holder has it.
	AcquireLock(ctx context.Context, id, holder string, expiresAt, now time.Time) (bool, error)

	// ReleaseLock clears the transition lock if holder still owns it.
	// Releasing a lock that expired or moved on is not an error.
	ReleaseLock(ctx context.Context, id, holder string) error

	// CommitTransition applies the changes of one lifecycle transition in a
	// single atomic operation conditioned on (status == from, lock held by
	// holder), appending exactly one audit entry and clearing the lock.
	// Returns domain.ErrConflict when the condition no longer holds.
	CommitTransition(ctx context.Context, id string, from agent.Status, holder string, ch lifecycle.Changes, entry agent.AuditEntry) (*agent.Agent, error)

	// SetPendingTx writes the pending transaction descriptor conditioned on
	// the status still being expected. Returns domain.ErrConflict otherwise.
	SetPendingTx(ctx context.Context, id string, expected agent.Status, tx *agent.PendingTransaction) error

	// UpdatePendingTxStatus flips the pending transaction status from one
	// value to another, conditioned on the idempotency key matching.
	// Returns false when the condition does not hold.
	UpdatePendingTxStatus(ctx context.Context, id, idempotencyKey string, from, to agent.TxStatus) (bool, error)

	// SetPendingTxHash records the broadcast hash and marks the pending
	// transaction SUBMITTED, conditioned on the key matching and no hash
	// being recorded yet. Returns false when the condition does not hold.
	SetPendingTxHash(ctx context.Context, id, idempotencyKey, txHash string) (bool, error)

	// ResetFailures zeroes the consecutive failure counter if it is above 0.
	ResetFailures(ctx context.Context, id string) error

	// IncrementFailuresBelow increments the consecutive failure counter
	// conditioned on it being below threshold. Returns the new count and
	// whether the increment was applied.
	IncrementFailuresBelow(ctx context.Context, id string, threshold int) (int, bool, error)

	// SetLastError records a failure reason without a lifecycle transition.
	SetLastError(ctx context.Context, id, msg string) error

	// AppendInvocation persists one invocation record (append-only).
	AppendInvocation(ctx context.Context, rec agent.InvocationRecord) error

	// ListAudit returns the agent's audit log ordered oldest first.
	ListAudit(ctx context.Context, id string) ([]agent.AuditEntry, error)

	// ListInvocations returns the agent's most recent invocation records.
	ListInvocations(ctx context.Context, id string, limit int) ([]agent.InvocationRecord, error)
}
