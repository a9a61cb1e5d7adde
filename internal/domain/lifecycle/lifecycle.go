// Package lifecycle defines the agent deployment state machine as a pure
// transition table. It performs no I/O and reads no clocks; callers pass
// timestamps in and persist the resulting Changes themselves.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
)

// Event is a lifecycle state machine input.
type Event string

const (
	EventInitiateDeployment   Event = "INITIATE_DEPLOYMENT"
	EventTokenCreationSuccess Event = "TOKEN_CREATION_SUCCESS"
	EventInitiatePoolCreation Event = "INITIATE_POOL_CREATION"
	EventPoolCreationSuccess  Event = "POOL_CREATION_SUCCESS"
	EventFail                 Event = "FAIL"
	EventRetry                Event = "RETRY"
	EventCancel               Event = "CANCEL"
	EventDeactivate           Event = "DEACTIVATE"
	EventArchive              Event = "ARCHIVE"
)

// validEvents enumerates all valid lifecycle events.
var validEvents = map[Event]bool{
	EventInitiateDeployment:   true,
	EventTokenCreationSuccess: true,
	EventInitiatePoolCreation: true,
	EventPoolCreationSuccess:  true,
	EventFail:                 true,
	EventRetry:                true,
	EventCancel:               true,
	EventDeactivate:           true,
	EventArchive:              true,
}

// ValidEvent reports whether ev names a known lifecycle event.
func ValidEvent(ev Event) bool {
	return validEvents[ev]
}

type key struct {
	from agent.Status
	ev   Event
}

// transitions is the static (status, event) -> target table. RETRY from
// FAILED is guard-resolved on token presence and handled in Target.
var transitions = map[key]agent.Status{
	{agent.StatusDraft, EventInitiateDeployment}:                  agent.StatusPendingTokenSignature,
	{agent.StatusDraft, EventArchive}:                             agent.StatusArchived,
	{agent.StatusPendingTokenSignature, EventTokenCreationSuccess}: agent.StatusTokenCreated,
	{agent.StatusPendingTokenSignature, EventFail}:                agent.StatusFailed,
	{agent.StatusPendingTokenSignature, EventCancel}:              agent.StatusDraft,
	{agent.StatusTokenCreated, EventInitiatePoolCreation}:         agent.StatusPendingPoolSignature,
	{agent.StatusTokenCreated, EventCancel}:                       agent.StatusFailed,
	{agent.StatusPendingPoolSignature, EventPoolCreationSuccess}:  agent.StatusDeployed,
	{agent.StatusPendingPoolSignature, EventFail}:                 agent.StatusFailed,
	{agent.StatusPendingPoolSignature, EventCancel}:               agent.StatusFailed,
	{agent.StatusDeployed, EventDeactivate}:                       agent.StatusDeactivated,
	{agent.StatusDeactivated, EventArchive}:                       agent.StatusArchived,
	{agent.StatusFailed, EventArchive}:                            agent.StatusArchived,
}

// Target resolves the status ev leads to from the agent's current status.
// The second return is false when the event is not legal from that status.
func Target(a *agent.Agent, ev Event) (agent.Status, bool) {
	from := a.Deployment.Status
	if ev == EventRetry {
		if from != agent.StatusFailed {
			return "", false
		}
		// A retry resumes at the step that failed: pool creation once a
		// token exists, token creation otherwise.
		if a.HasToken() {
			return agent.StatusPendingPoolSignature, true
		}
		return agent.StatusPendingTokenSignature, true
	}
	to, ok := transitions[key{from, ev}]
	return to, ok
}

// CanFire reports whether ev is legal from the agent's current status,
// without mutating anything.
func CanFire(a *agent.Agent, ev Event) bool {
	_, ok := Target(a, ev)
	return ok
}

// Context carries the event payload into Apply.
type Context struct {
	Error        string
	AssetAddress string
	TxHash       string
	Timestamp    time.Time
	Slot         uint64
}

// Changes is the set of mutations a permitted transition produces. The
// orchestrator commits them in a single conditional store update.
type Changes struct {
	To                agent.Status
	SetLastError      *string
	IncrementFailures bool
	TokenAddress      string
	TokenCreation     *agent.CreationDetails
	PoolAddress       string
	PoolCreation      *agent.CreationDetails
	ClearPendingTx    bool
}

// CancelledAfterTokenError is recorded when a deployment is cancelled after
// the token already exists on-chain. Cancellation at that point is not a
// clean rollback and must read differently from a technical failure.
const CancelledAfterTokenError = "deployment cancelled after token creation; the on-chain token persists"

// FailedGenericError is recorded when a FAIL event carries no reason.
const FailedGenericError = "deployment failed"

// Apply resolves ev against the table and returns the context mutations the
// transition produces. The agent itself is not modified.
func Apply(a *agent.Agent, ev Event, evCtx Context) (Changes, error) {
	to, ok := Target(a, ev)
	if !ok {
		return Changes{}, fmt.Errorf("%s from %s: %w", ev, a.Deployment.Status, domain.ErrInvalidTransition)
	}

	ch := Changes{To: to}
	switch ev {
	case EventTokenCreationSuccess:
		ch.TokenAddress = evCtx.AssetAddress
		ch.TokenCreation = &agent.CreationDetails{
			TxHash:    evCtx.TxHash,
			Timestamp: evCtx.Timestamp,
			Slot:      evCtx.Slot,
		}
		ch.ClearPendingTx = true
	case EventPoolCreationSuccess:
		ch.PoolAddress = evCtx.AssetAddress
		ch.PoolCreation = &agent.CreationDetails{
			TxHash:    evCtx.TxHash,
			Timestamp: evCtx.Timestamp,
			Slot:      evCtx.Slot,
		}
		ch.ClearPendingTx = true
	case EventFail:
		msg := evCtx.Error
		if msg == "" {
			msg = FailedGenericError
		}
		ch.SetLastError = &msg
		ch.IncrementFailures = true
	case EventCancel:
		if a.Deployment.Status == agent.StatusTokenCreated || a.Deployment.Status == agent.StatusPendingPoolSignature {
			msg := CancelledAfterTokenError
			ch.SetLastError = &msg
		}
		ch.ClearPendingTx = true
	case EventDeactivate:
		if evCtx.Error != "" {
			msg := evCtx.Error
			ch.SetLastError = &msg
		}
	}
	return ch, nil
}
