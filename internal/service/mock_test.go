package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/domain/lifecycle"
	"github.com/launchforge/launchforge/internal/port/broadcast"
	"github.com/launchforge/launchforge/internal/port/chain"
)

// mockStore is an in-memory store.Store that mirrors the conditional-update
// semantics of the real adapter: every mutation checks its precondition
// under one mutex, so concurrency tests exercise real races.
type mockStore struct {
	mu          sync.Mutex
	agents      map[string]*agent.Agent
	audit       map[string][]agent.AuditEntry
	invocations map[string][]agent.InvocationRecord

	failCommit  bool // force ErrConflict from CommitTransition
	commitCount int
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:      make(map[string]*agent.Agent),
		audit:       make(map[string][]agent.AuditEntry),
		invocations: make(map[string][]agent.InvocationRecord),
	}
}

// put installs an agent directly, bypassing conditions. Test setup only.
func (m *mockStore) put(a *agent.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneAgent(a)
	m.agents[a.ID] = cp
}

func cloneAgent(a *agent.Agent) *agent.Agent {
	data, err := json.Marshal(a)
	if err != nil {
		panic(err)
	}
	var cp agent.Agent
	if err := json.Unmarshal(data, &cp); err != nil {
		panic(err)
	}
	return &cp
}

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return fmt.Errorf("agent %s: %w", a.ID, domain.ErrConflict)
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	m.agents[a.ID] = cloneAgent(a)
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return cloneAgent(a), nil
}

func (m *mockStore) ListAgents(_ context.Context) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, a := range m.agents {
		out = append(out, *cloneAgent(a))
	}
	return out, nil
}

func (m *mockStore) UpdateMetadata(_ context.Context, id string, expected agent.Status, name, description string, tok agent.Tokenomics) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.Deployment.Status != expected {
		return nil, fmt.Errorf("update %s: %w", id, domain.ErrConflict)
	}
	a.Name, a.Description, a.Tokenomics = name, description, tok
	return cloneAgent(a), nil
}

func (m *mockStore) UpdateVersions(_ context.Context, id string, expected agent.Status, versions []agent.Version, activeTag string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.Deployment.Status != expected {
		return nil, fmt.Errorf("update versions %s: %w", id, domain.ErrConflict)
	}
	a.Deployment.Versions = versions
	a.Deployment.ActiveVersionTag = activeTag
	return cloneAgent(a), nil
}

func (m *mockStore) AcquireLock(_ context.Context, id, holder string, expiresAt, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	if a.Deployment.Lock != nil && a.Deployment.Lock.ExpiresAt.After(now) {
		return false, nil
	}
	a.Deployment.Lock = &agent.TransitionLock{Holder: holder, ExpiresAt: expiresAt}
	return true, nil
}

func (m *mockStore) ReleaseLock(_ context.Context, id, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil
	}
	if a.Deployment.Lock != nil && a.Deployment.Lock.Holder == holder {
		a.Deployment.Lock = nil
	}
	return nil
}

func (m *mockStore) CommitTransition(_ context.Context, id string, from agent.Status, holder string, ch lifecycle.Changes, entry agent.AuditEntry) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit {
		return nil, fmt.Errorf("commit %s: %w", id, domain.ErrConflict)
	}
	a, ok := m.agents[id]
	if !ok || a.Deployment.Status != from || a.Deployment.Lock == nil || a.Deployment.Lock.Holder != holder {
		return nil, fmt.Errorf("commit %s: %w", id, domain.ErrConflict)
	}

	a.Deployment.Status = ch.To
	if ch.SetLastError != nil {
		a.Deployment.LastError = *ch.SetLastError
	}
	if ch.IncrementFailures {
		a.Deployment.ConsecutiveFailures++
	}
	if ch.TokenAddress != "" {
		a.Blockchain.TokenAddress = ch.TokenAddress
	}
	if ch.TokenCreation != nil {
		a.Blockchain.TokenCreation = ch.TokenCreation
	}
	if ch.PoolAddress != "" {
		a.Blockchain.PoolAddress = ch.PoolAddress
	}
	if ch.PoolCreation != nil {
		a.Blockchain.PoolCreation = ch.PoolCreation
	}
	if ch.ClearPendingTx {
		a.Deployment.PendingTx = nil
	}
	a.Deployment.Lock = nil
	m.audit[id] = append(m.audit[id], entry)
	m.commitCount++
	return cloneAgent(a), nil
}

func (m *mockStore) SetPendingTx(_ context.Context, id string, expected agent.Status, tx *agent.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.Deployment.Status != expected {
		return fmt.Errorf("set pending tx %s: %w", id, domain.ErrConflict)
	}
	a.Deployment.PendingTx = tx
	return nil
}

func (m *mockStore) UpdatePendingTxStatus(_ context.Context, id, idempotencyKey string, from, to agent.TxStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	p := a.Deployment.PendingTx
	if p == nil || p.IdempotencyKey != idempotencyKey || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (m *mockStore) SetPendingTxHash(_ context.Context, id, idempotencyKey, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	p := a.Deployment.PendingTx
	if p == nil || p.IdempotencyKey != idempotencyKey || p.TxHash != "" {
		return false, nil
	}
	p.TxHash = txHash
	p.Status = agent.TxStatusSubmitted
	return true, nil
}

func (m *mockStore) ResetFailures(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.agents[id]; ok {
		a.Deployment.ConsecutiveFailures = 0
	}
	return nil
}

func (m *mockStore) IncrementFailuresBelow(_ context.Context, id string, threshold int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.Deployment.ConsecutiveFailures >= threshold {
		return 0, false, nil
	}
	a.Deployment.ConsecutiveFailures++
	return a.Deployment.ConsecutiveFailures, true, nil
}

func (m *mockStore) SetLastError(_ context.Context, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	a.Deployment.LastError = msg
	return nil
}

func (m *mockStore) AppendInvocation(_ context.Context, rec agent.InvocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations[rec.AgentID] = append(m.invocations[rec.AgentID], rec)
	return nil
}

func (m *mockStore) ListAudit(_ context.Context, id string) ([]agent.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]agent.AuditEntry(nil), m.audit[id]...), nil
}

func (m *mockStore) ListInvocations(_ context.Context, id string, limit int) ([]agent.InvocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.invocations[id]
	if len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return append([]agent.InvocationRecord(nil), recs...), nil
}

// mockBroadcaster records every published event.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcast.StatusEvent
}

func (m *mockBroadcaster) Publish(_ context.Context, ev broadcast.StatusEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockBroadcaster) byType(t string) []broadcast.StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broadcast.StatusEvent
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// mockChainClient scripts broadcast/confirm/details behavior.
type mockChainClient struct {
	mu sync.Mutex

	broadcastHash string
	broadcastErr  error
	broadcasts    int

	confirmErrs []error // consumed one per Confirm call; empty means success
	confirms    int

	details    *chain.Details
	detailsErr error
}

func (m *mockChainClient) Broadcast(context.Context, []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts++
	if m.broadcastErr != nil {
		return "", m.broadcastErr
	}
	return m.broadcastHash, nil
}

func (m *mockChainClient) Confirm(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirms++
	if len(m.confirmErrs) == 0 {
		return nil
	}
	err := m.confirmErrs[0]
	m.confirmErrs = m.confirmErrs[1:]
	return err
}

func (m *mockChainClient) Details(context.Context, string) (*chain.Details, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detailsErr != nil {
		return nil, m.detailsErr
	}
	return m.details, nil
}

// mockBuilder returns a fixed unsigned transaction.
type mockBuilder struct {
	tx  *chain.UnsignedTx
	err error
}

func (m *mockBuilder) Build(_ context.Context, _ agent.TxKind, _ *agent.Agent) (*chain.UnsignedTx, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tx, nil
}
