// Package agent defines the Agent domain entity and its deployment state.
package agent

import "time"

// Status represents the agent's position in the deployment lifecycle.
type Status string

const (
	StatusDraft                 Status = "DRAFT"
	StatusPendingTokenSignature Status = "PENDING_TOKEN_SIGNATURE"
	StatusTokenCreated          Status = "TOKEN_CREATED"
	StatusPendingPoolSignature  Status = "PENDING_POOL_SIGNATURE"
	StatusDeployed              Status = "DEPLOYED"
	StatusDeactivated           Status = "DEACTIVATED"
	StatusFailed                Status = "FAILED"
	StatusArchived              Status = "ARCHIVED" // terminal
)

// TxKind identifies which provisioning step a pending transaction belongs to.
type TxKind string

const (
	TxKindTokenCreation TxKind = "TOKEN_CREATION"
	TxKindPoolCreation  TxKind = "POOL_CREATION"
)

// TxStatus tracks a pending transaction through the submission pipeline.
type TxStatus string

const (
	TxStatusPending    TxStatus = "PENDING"
	TxStatusProcessing TxStatus = "PROCESSING"
	TxStatusSubmitted  TxStatus = "SUBMITTED"
)

// VersionStatus marks a deployment version as active or deprecated.
type VersionStatus string

const (
	VersionActive     VersionStatus = "active"
	VersionDeprecated VersionStatus = "deprecated"
)

// Agent is the unit of orchestration: one entity moving through the
// deployment lifecycle.
type Agent struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	OwnerAddress string     `json:"owner_address"`
	Tokenomics   Tokenomics `json:"tokenomics"`
	Deployment   Deployment `json:"deployment"`
	Blockchain   Blockchain `json:"blockchain"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Tokenomics holds the token parameters used when building the creation
// transaction. Mutable only while the agent is in DRAFT.
type Tokenomics struct {
	Symbol      string `json:"symbol"`
	TotalSupply int64  `json:"total_supply"`
	Decimals    int    `json:"decimals"`
}

// Deployment is the lifecycle sub-document.
type Deployment struct {
	Status              Status              `json:"status"`
	Versions            []Version           `json:"versions,omitempty"`
	ActiveVersionTag    string              `json:"active_version_tag,omitempty"`
	PendingTx           *PendingTransaction `json:"pending_tx,omitempty"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	LastError           string              `json:"last_error,omitempty"`
	Lock                *TransitionLock     `json:"lock,omitempty"`
}

// Version is one deployment configuration. At most one version is active
// at a time.
type Version struct {
	Tag        string        `json:"tag"`
	Status     VersionStatus `json:"status"`
	Endpoint   string        `json:"endpoint"`
	Credential string        `json:"credential,omitempty"` // opaque, encrypted by the caller
	CreatedAt  time.Time     `json:"created_at"`
}

// PendingTransaction is the single outstanding provisioning transaction.
// Present only while a token or pool creation step is in flight.
type PendingTransaction struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Kind           TxKind    `json:"kind"`
	Status         TxStatus  `json:"status"`
	Details        TxDetails `json:"details"`
	TxHash         string    `json:"tx_hash,omitempty"`
}

// TxDetails captures addresses and keys generated at prepare time; they are
// carried through to the success event once the transaction confirms.
type TxDetails struct {
	AssetAddress  string            `json:"asset_address"`
	AncillaryKeys map[string]string `json:"ancillary_keys,omitempty"`
}

// TransitionLock serializes lifecycle transitions for one agent across
// server instances. Cleared on commit, on error, or by TTL expiry.
type TransitionLock struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Blockchain holds the on-chain addresses created during provisioning.
// Immutable once populated.
type Blockchain struct {
	TokenAddress  string           `json:"token_address,omitempty"`
	TokenCreation *CreationDetails `json:"token_creation,omitempty"`
	PoolAddress   string           `json:"pool_address,omitempty"`
	PoolCreation  *CreationDetails `json:"pool_creation,omitempty"`
}

// CreationDetails records how an on-chain asset came to exist.
type CreationDetails struct {
	TxHash    string    `json:"tx_hash"`
	Timestamp time.Time `json:"timestamp"`
	Slot      uint64    `json:"slot"`
}

// ActionStatusTransition is the audit action recorded for every committed
// lifecycle transition.
const ActionStatusTransition = "STATUS_TRANSITION"

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	AgentID   string    `json:"agent_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InvocationRecord is one external call outcome against a deployed agent.
// Used for auditing and metrics; the circuit breaker relies on the counter
// stored on the agent, not on these records.
type InvocationRecord struct {
	AgentID    string    `json:"agent_id"`
	VersionTag string    `json:"version_tag"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HasToken reports whether the token creation step has completed.
func (a *Agent) HasToken() bool {
	return a.Blockchain.TokenAddress != ""
}

// ActiveVersion returns the currently active version, or nil.
func (a *Agent) ActiveVersion() *Version {
	for i := range a.Deployment.Versions {
		if a.Deployment.Versions[i].Status == VersionActive {
			return &a.Deployment.Versions[i]
		}
	}
	return nil
}

// LockedAt reports whether the agent holds an unexpired transition lock at t.
func (a *Agent) LockedAt(t time.Time) bool {
	return a.Deployment.Lock != nil && a.Deployment.Lock.ExpiresAt.After(t)
}

// CreateRequest holds the fields needed to create a draft agent.
type CreateRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	OwnerAddress string     `json:"owner_address"`
	Tokenomics   Tokenomics `json:"tokenomics"`
}

// VersionRequest holds the fields needed to add a deployment version.
type VersionRequest struct {
	Tag        string `json:"tag"`
	Endpoint   string `json:"endpoint"`
	Credential string `json:"credential,omitempty"`
}
