// Package chain defines the ports for building, broadcasting and confirming
// on-chain provisioning transactions.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/launchforge/launchforge/internal/domain/agent"
)

// ErrReverted indicates the chain accepted and executed the transaction but
// it failed definitively. Not retryable.
var ErrReverted = errors.New("transaction reverted on-chain")

// ErrDetailsUnavailable indicates a confirmed transaction's block details
// could not be fetched. Callers treat this as a soft failure.
var ErrDetailsUnavailable = errors.New("transaction details unavailable")

// Details describes where and when a confirmed transaction landed.
type Details struct {
	Timestamp time.Time
	Slot      uint64
}

// UnsignedTx is a constructed, not-yet-signed provisioning transaction.
type UnsignedTx struct {
	Bytes         []byte
	AssetAddress  string
	AncillaryKeys map[string]string
}

// Client broadcasts signed transactions and tracks their confirmation.
type Client interface {
	// Broadcast submits the signed raw transaction and returns its hash.
	Broadcast(ctx context.Context, signedTx []byte) (string, error)

	// Confirm checks whether the transaction has landed. A nil return means
	// confirmed; ErrReverted means definitive on-chain failure; any other
	// error (including ctx deadline) means not yet known and retryable.
	Confirm(ctx context.Context, txHash string) error

	// Details fetches the confirmed transaction's block timestamp and
	// position, or ErrDetailsUnavailable.
	Details(ctx context.Context, txHash string) (*Details, error)
}

// Builder constructs unsigned provisioning transactions. Builders only
// construct; they never broadcast.
type Builder interface {
	Build(ctx context.Context, kind agent.TxKind, a *agent.Agent) (*UnsignedTx, error)
}
