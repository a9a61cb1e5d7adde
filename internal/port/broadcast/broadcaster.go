// Package broadcast defines the port for publishing agent status events to
// subscribed clients across all server instances.
package broadcast

import (
	"context"
	"time"

	"github.com/launchforge/launchforge/internal/domain/agent"
)

// Event type constants for status events.
const (
	EventStatusTransition = "agent.status"
	EventTxAccepted       = "tx.accepted"
	EventTxSubmitted      = "tx.submitted"
	EventTxConfirmed      = "tx.confirmed"
	EventTxFailed         = "tx.failed"
)

// StatusEvent is one committed transition or pipeline milestone. The agent
// ID doubles as the broadcast topic.
type StatusEvent struct {
	Type    string       `json:"type"`
	AgentID string       `json:"agent_id"`
	Status  agent.Status `json:"status,omitempty"`
	TxKind  agent.TxKind `json:"tx_kind,omitempty"`
	TxHash  string       `json:"tx_hash,omitempty"`
	Error   string       `json:"error,omitempty"`
	At      time.Time    `json:"at"`
}

// Broadcaster delivers status events to every subscriber of the agent's
// topic, on every instance. Delivery is best-effort; a failed publish must
// never fail the operation that triggered it.
type Broadcaster interface {
	Publish(ctx context.Context, ev StatusEvent)
}
