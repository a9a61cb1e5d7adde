package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
)

// agentColumns is the canonical column list shared by every agent query.
// Scan order in scanAgent must match.
const agentColumns = `id, name, description, owner_address,
	token_symbol, token_total_supply, token_decimals,
	status, versions, active_version_tag, pending_tx,
	consecutive_failures, last_error, lock_holder, lock_expires_at,
	token_address, token_creation, pool_address, pool_creation,
	created_at, updated_at`

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanAgent(row scannable) (agent.Agent, error) {
	var (
		a             agent.Agent
		versionsJSON  []byte
		pendingJSON   []byte
		tokenJSON     []byte
		poolJSON      []byte
		lockHolder    sql.NullString
		lockExpiresAt sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &a.OwnerAddress,
		&a.Tokenomics.Symbol, &a.Tokenomics.TotalSupply, &a.Tokenomics.Decimals,
		&a.Deployment.Status, &versionsJSON, &a.Deployment.ActiveVersionTag, &pendingJSON,
		&a.Deployment.ConsecutiveFailures, &a.Deployment.LastError, &lockHolder, &lockExpiresAt,
		&a.Blockchain.TokenAddress, &tokenJSON, &a.Blockchain.PoolAddress, &poolJSON,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return agent.Agent{}, err
	}

	if len(versionsJSON) > 0 {
		if err := json.Unmarshal(versionsJSON, &a.Deployment.Versions); err != nil {
			return agent.Agent{}, fmt.Errorf("unmarshal versions: %w", err)
		}
	}
	if len(pendingJSON) > 0 {
		a.Deployment.PendingTx = &agent.PendingTransaction{}
		if err := json.Unmarshal(pendingJSON, a.Deployment.PendingTx); err != nil {
			return agent.Agent{}, fmt.Errorf("unmarshal pending tx: %w", err)
		}
	}
	if len(tokenJSON) > 0 {
		a.Blockchain.TokenCreation = &agent.CreationDetails{}
		if err := json.Unmarshal(tokenJSON, a.Blockchain.TokenCreation); err != nil {
			return agent.Agent{}, fmt.Errorf("unmarshal token creation: %w", err)
		}
	}
	if len(poolJSON) > 0 {
		a.Blockchain.PoolCreation = &agent.CreationDetails{}
		if err := json.Unmarshal(poolJSON, a.Blockchain.PoolCreation); err != nil {
			return agent.Agent{}, fmt.Errorf("unmarshal pool creation: %w", err)
		}
	}
	if lockHolder.Valid {
		a.Deployment.Lock = &agent.TransitionLock{
			Holder:    lockHolder.String,
			ExpiresAt: lockExpiresAt.Time,
		}
	}
	return a, nil
}

// marshalOrNil serializes v to JSON, mapping nil pointers and empty slices to
// SQL NULL so nullable jsonb columns stay NULL instead of holding "null".
func marshalOrNil(v any) (any, error) {
	switch t := v.(type) {
	case *agent.PendingTransaction:
		if t == nil {
			return nil, nil
		}
	case *agent.CreationDetails:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	return data, nil
}

// notFoundWrap checks whether err is pgx.ErrNoRows and, if so, wraps
// domain.ErrNotFound with the given message. Otherwise it wraps the
// original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
