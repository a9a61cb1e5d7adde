package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
)

// Store implements store.Store using PostgreSQL. Every lifecycle mutation is
// a conditional UPDATE keyed on the fields being changed; a zero row count
// means the precondition no longer holds, never that the write half-applied.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Agents ---

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	versionsJSON, err := json.Marshal(orEmptyVersions(a.Deployment.Versions))
	if err != nil {
		return fmt.Errorf("marshal versions: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO agents (id, name, description, owner_address, token_symbol, token_total_supply, token_decimals, status, versions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at, updated_at`,
		a.ID, a.Name, a.Description, a.OwnerAddress,
		a.Tokenomics.Symbol, a.Tokenomics.TotalSupply, a.Tokenomics.Decimals,
		a.Deployment.Status, versionsJSON)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) UpdateMetadata(ctx context.Context, id string, expected agent.Status, name, description string, tok agent.Tokenomics) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE agents
		 SET name = $3, description = $4, token_symbol = $5, token_total_supply = $6, token_decimals = $7, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+agentColumns,
		id, expected, name, description, tok.Symbol, tok.TotalSupply, tok.Decimals)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update agent %s: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}
	return &a, nil
}

func (s *Store) UpdateVersions(ctx context.Context, id string, expected agent.Status, versions []agent.Version, activeTag string) (*agent.Agent, error) {
	versionsJSON, err := json.Marshal(orEmptyVersions(versions))
	if err != nil {
		return nil, fmt.Errorf("marshal versions: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE agents
		 SET versions = $3, active_version_tag = $4, updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+agentColumns,
		id, expected, versionsJSON, activeTag)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update versions %s: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("update versions %s: %w", id, err)
	}
	return &a, nil
}

// --- Transition lock ---

func (s *Store) AcquireLock(ctx context.Context, id, holder string, expiresAt, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents
		 SET lock_holder = $2, lock_expires_at = $3, updated_at = now()
		 WHERE id = $1 AND (lock_holder IS NULL OR lock_expires_at <= $4)`,
		id, holder, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseLock(ctx context.Context, id, holder string) error {
	// Conditional on the holder: releasing after expiry must not clobber a
	// lock another instance has since acquired.
	_, err := s.pool.Exec(ctx,
		`UPDATE agents
		 SET lock_holder = NULL, lock_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND lock_holder = $2`,
		id, holder)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", id, err)
	}
	return nil
}

// --- Lifecycle transitions ---

func (s *Store) CommitTransition(ctx context.Context, id string, from agent.Status, holder string, ch lifecycle.Changes, entry agent.AuditEntry) (*agent.Agent, error) {
	tokenJSON, err := marshalOrNil(ch.TokenCreation)
	if err != nil {
		return nil, fmt.Errorf("commit transition %s: %w", id, err)
	}
	poolJSON, err := marshalOrNil(ch.PoolCreation)
	if err != nil {
		return nil, fmt.Errorf("commit transition %s: %w", id, err)
	}

	increment := 0
	if ch.IncrementFailures {
		increment = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit transition %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE agents SET
		   status = $4,
		   last_error = COALESCE($5, last_error),
		   consecutive_failures = consecutive_failures + $6,
		   token_address = CASE WHEN $7 <> '' THEN $7 ELSE token_address END,
		   token_creation = COALESCE($8, token_creation),
		   pool_address = CASE WHEN $9 <> '' THEN $9 ELSE pool_address END,
		   pool_creation = COALESCE($10, pool_creation),
		   pending_tx = CASE WHEN $11 THEN NULL ELSE pending_tx END,
		   lock_holder = NULL,
		   lock_expires_at = NULL,
		   updated_at = now()
		 WHERE id = $1 AND status = $2 AND lock_holder = $3
		 RETURNING `+agentColumns,
		id, from, holder,
		ch.To, ch.SetLastError, increment,
		ch.TokenAddress, tokenJSON, ch.PoolAddress, poolJSON,
		ch.ClearPendingTx)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("commit transition %s: %w", id, domain.ErrConflict)
		}
		return nil, fmt.Errorf("commit transition %s: %w", id, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO agent_audit_log (agent_id, actor, action, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, entry.Actor, entry.Action, entry.Details, entry.Timestamp); err != nil {
		return nil, fmt.Errorf("commit transition %s: audit: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition %s: %w", id, err)
	}
	return &a, nil
}

// --- Pending transaction pipeline ---

func (s *Store) SetPendingTx(ctx context.Context, id string, expected agent.Status, pending *agent.PendingTransaction) error {
	pendingJSON, err := marshalOrNil(pending)
	if err != nil {
		return fmt.Errorf("set pending tx %s: %w", id, err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET pending_tx = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, expected, pendingJSON)
	if err != nil {
		return fmt.Errorf("set pending tx %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set pending tx %s: %w", id, domain.ErrConflict)
	}
	return nil
}

func (s *Store) UpdatePendingTxStatus(ctx context.Context, id, idempotencyKey string, from, to agent.TxStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents
		 SET pending_tx = jsonb_set(pending_tx, '{status}', to_jsonb($4::text)), updated_at = now()
		 WHERE id = $1
		   AND pending_tx->>'idempotency_key' = $2
		   AND pending_tx->>'status' = $3`,
		id, idempotencyKey, from, to)
	if err != nil {
		return false, fmt.Errorf("update pending tx status %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) SetPendingTxHash(ctx context.Context, id, idempotencyKey, txHash string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents
		 SET pending_tx = jsonb_set(jsonb_set(pending_tx, '{status}', '"SUBMITTED"'), '{tx_hash}', to_jsonb($3::text)),
		     updated_at = now()
		 WHERE id = $1
		   AND pending_tx->>'idempotency_key' = $2
		   AND COALESCE(pending_tx->>'tx_hash', '') = ''`,
		id, idempotencyKey, txHash)
	if err != nil {
		return false, fmt.Errorf("set pending tx hash %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Failure counter ---

func (s *Store) ResetFailures(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE agents SET consecutive_failures = 0, updated_at = now()
		 WHERE id = $1 AND consecutive_failures > 0`, id)
	if err != nil {
		return fmt.Errorf("reset failures %s: %w", id, err)
	}
	return nil
}

func (s *Store) IncrementFailuresBelow(ctx context.Context, id string, threshold int) (int, bool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE agents SET consecutive_failures = consecutive_failures + 1, updated_at = now()
		 WHERE id = $1 AND consecutive_failures < $2
		 RETURNING consecutive_failures`,
		id, threshold)

	var count int
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("increment failures %s: %w", id, err)
	}
	return count, true, nil
}

func (s *Store) SetLastError(ctx context.Context, id, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_error = $2, updated_at = now() WHERE id = $1`,
		id, msg)
	if err != nil {
		return fmt.Errorf("set last error %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set last error %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Audit and invocations ---

func (s *Store) AppendInvocation(ctx context.Context, rec agent.InvocationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_invocations (agent_id, version_tag, success, duration_ms, http_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.AgentID, rec.VersionTag, rec.Success, rec.DurationMs, rec.HTTPStatus, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append invocation %s: %w", rec.AgentID, err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, id string) ([]agent.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, actor, action, details, created_at
		 FROM agent_audit_log WHERE agent_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list audit %s: %w", id, err)
	}
	defer rows.Close()

	var entries []agent.AuditEntry
	for rows.Next() {
		var e agent.AuditEntry
		if err := rows.Scan(&e.AgentID, &e.Actor, &e.Action, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("list audit %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListInvocations(ctx context.Context, id string, limit int) ([]agent.InvocationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, version_tag, success, duration_ms, http_status, created_at
		 FROM agent_invocations WHERE agent_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		id, limit)
	if err != nil {
		return nil, fmt.Errorf("list invocations %s: %w", id, err)
	}
	defer rows.Close()

	var recs []agent.InvocationRecord
	for rows.Next() {
		var r agent.InvocationRecord
		if err := rows.Scan(&r.AgentID, &r.VersionTag, &r.Success, &r.DurationMs, &r.HTTPStatus, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("list invocations %s: %w", id, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func orEmptyVersions(vs []agent.Version) []agent.Version {
	if vs == nil {
		return []agent.Version{}
	}
	return vs
}
