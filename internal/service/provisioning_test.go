package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/launchforge/launchforge/internal/config"
	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/port/broadcast"
	"github.com/launchforge/launchforge/internal/port/chain"
)

func testConfirmConfig() config.Confirm {
	return config.Confirm{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		BackoffBase:    time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func newProvisioning(st *mockStore, client *mockChainClient, bc *mockBroadcaster) *ProvisioningService {
	orch := NewOrchestrator(st, bc, 30*time.Second)
	builder := &mockBuilder{tx: &chain.UnsignedTx{
		Bytes:        []byte{0x01, 0x02},
		AssetAddress: "0xpredicted",
	}}
	return NewProvisioningService(st, builder, client, orch, bc, testConfirmConfig())
}

func pendingSignatureAgent(id string) *agent.Agent {
	a := draftTestAgent(id)
	a.Deployment.Status = agent.StatusPendingTokenSignature
	return a
}

func TestPrepareInvalidState(t *testing.T) {
	st := newMockStore()
	st.put(draftTestAgent("a1")) // DRAFT, not PENDING_TOKEN_SIGNATURE
	p := newProvisioning(st, &mockChainClient{}, &mockBroadcaster{})

	_, err := p.Prepare(context.Background(), "a1", agent.TxKindTokenCreation)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	got, _ := st.GetAgent(context.Background(), "a1")
	if got.Deployment.PendingTx != nil {
		t.Fatal("agent must be unchanged after rejected prepare")
	}
}

func TestPrepareInstallsPendingTx(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	p := newProvisioning(st, &mockChainClient{}, &mockBroadcaster{})

	res, err := p.Prepare(context.Background(), "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(res.UnsignedTx) == 0 || res.IdempotencyKey == "" {
		t.Fatalf("expected unsigned bytes and key, got %+v", res)
	}

	got, _ := st.GetAgent(context.Background(), "a1")
	pending := got.Deployment.PendingTx
	if pending == nil || pending.Status != agent.TxStatusPending || pending.Kind != agent.TxKindTokenCreation {
		t.Fatalf("expected PENDING token-creation descriptor, got %+v", pending)
	}
	if pending.Details.AssetAddress != "0xpredicted" {
		t.Fatalf("expected builder details carried into the descriptor, got %+v", pending.Details)
	}
}

func TestFinalizeUnknownKey(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	p := newProvisioning(st, &mockChainClient{}, &mockBroadcaster{})

	err := p.Finalize(context.Background(), "a1", agent.TxKindTokenCreation, []byte{0x01}, "bogus")
	if !errors.Is(err, domain.ErrInvalidIdempotencyKey) {
		t.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
	}
}

func TestFinalizeSuccessFlow(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	client := &mockChainClient{
		broadcastHash: "0xhash",
		details:       &chain.Details{Timestamp: time.Now().UTC(), Slot: 99},
	}
	bc := &mockBroadcaster{}
	p := newProvisioning(st, client, bc)
	ctx := context.Background()

	res, err := p.Prepare(ctx, "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	p.Wait()

	got, _ := st.GetAgent(ctx, "a1")
	if got.Deployment.Status != agent.StatusTokenCreated {
		t.Fatalf("expected TOKEN_CREATED, got %s", got.Deployment.Status)
	}
	if got.Blockchain.TokenAddress != "0xpredicted" {
		t.Fatalf("expected predicted address recorded, got %q", got.Blockchain.TokenAddress)
	}
	if got.Blockchain.TokenCreation == nil || got.Blockchain.TokenCreation.Slot != 99 {
		t.Fatalf("expected creation details, got %+v", got.Blockchain.TokenCreation)
	}
	if got.Deployment.PendingTx != nil {
		t.Fatal("expected pending tx cleared on success")
	}

	if n := len(bc.byType(broadcast.EventTxSubmitted)); n != 1 {
		t.Fatalf("expected one submitted event, got %d", n)
	}
	if n := len(bc.byType(broadcast.EventTxConfirmed)); n != 1 {
		t.Fatalf("expected one confirmed event, got %d", n)
	}
}

func TestDoubleFinalizeSingleBroadcast(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	client := &mockChainClient{
		broadcastHash: "0xhash",
		details:       &chain.Details{Timestamp: time.Now().UTC(), Slot: 1},
	}
	p := newProvisioning(st, client, &mockBroadcaster{})
	ctx := context.Background()

	res, err := p.Prepare(ctx, "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if err := p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	err = p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey)
	if err == nil {
		p.Wait()
		t.Fatal("expected second finalize with the same key to be rejected")
	}
	if !errors.Is(err, domain.ErrAlreadyInProgress) && !errors.Is(err, domain.ErrInvalidIdempotencyKey) {
		t.Fatalf("expected ErrAlreadyInProgress or ErrInvalidIdempotencyKey, got %v", err)
	}
	p.Wait()

	if client.broadcasts != 1 {
		t.Fatalf("expected exactly one broadcast, got %d", client.broadcasts)
	}
}

func TestFinalizeBroadcastFailureRevertsAndFails(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	client := &mockChainClient{broadcastErr: errors.New("node unreachable")}
	bc := &mockBroadcaster{}
	p := newProvisioning(st, client, bc)
	ctx := context.Background()

	res, err := p.Prepare(ctx, "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	p.Wait()

	got, _ := st.GetAgent(ctx, "a1")
	if got.Deployment.Status != agent.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Deployment.Status)
	}
	// The descriptor reverts to PENDING so a later finalize with the same
	// key can retry the broadcast.
	pending := got.Deployment.PendingTx
	if pending == nil || pending.Status != agent.TxStatusPending || pending.TxHash != "" {
		t.Fatalf("expected reverted PENDING descriptor, got %+v", pending)
	}
	if n := len(bc.byType(broadcast.EventTxFailed)); n != 1 {
		t.Fatalf("expected one failed event, got %d", n)
	}
}

func TestFinalizeConfirmationExhaustion(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	timeout := errors.New("receipt not yet available")
	client := &mockChainClient{
		broadcastHash: "0xdeadbeef",
		confirmErrs:   []error{timeout, timeout, timeout, timeout},
	}
	p := newProvisioning(st, client, &mockBroadcaster{})
	ctx := context.Background()

	res, err := p.Prepare(ctx, "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	p.Wait()

	if client.confirms != 3 {
		t.Fatalf("expected exactly %d confirm attempts, got %d", 3, client.confirms)
	}

	got, _ := st.GetAgent(ctx, "a1")
	if got.Deployment.Status != agent.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Deployment.Status)
	}
	if !strings.Contains(got.Deployment.LastError, "0xdeadbeef") {
		t.Fatalf("failure message must name the transaction, got %q", got.Deployment.LastError)
	}
	if !strings.Contains(got.Deployment.LastError, "still be processing") {
		t.Fatalf("timeout must read as inconclusive, got %q", got.Deployment.LastError)
	}
}

func TestFinalizeRevertedStopsRetrying(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	client := &mockChainClient{
		broadcastHash: "0xbad",
		confirmErrs:   []error{chain.ErrReverted},
	}
	p := newProvisioning(st, client, &mockBroadcaster{})
	ctx := context.Background()

	res, err := p.Prepare(ctx, "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	p.Wait()

	if client.confirms != 1 {
		t.Fatalf("a definitive on-chain failure must not be retried, got %d attempts", client.confirms)
	}

	got, _ := st.GetAgent(ctx, "a1")
	if got.Deployment.Status != agent.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Deployment.Status)
	}
	if !strings.Contains(got.Deployment.LastError, "failed on-chain") {
		t.Fatalf("expected a definitive failure message, got %q", got.Deployment.LastError)
	}
}

func TestFinalizeDetailsUnavailableFallsBack(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	client := &mockChainClient{
		broadcastHash: "0xhash",
		detailsErr:    chain.ErrDetailsUnavailable,
	}
	p := newProvisioning(st, client, &mockBroadcaster{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	ctx := context.Background()

	res, err := p.Prepare(ctx, "a1", agent.TxKindTokenCreation)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := p.Finalize(ctx, "a1", agent.TxKindTokenCreation, []byte{0x01}, res.IdempotencyKey); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	p.Wait()

	got, _ := st.GetAgent(ctx, "a1")
	if got.Deployment.Status != agent.StatusTokenCreated {
		t.Fatalf("details miss must not fail the flow, got %s", got.Deployment.Status)
	}
	cd := got.Blockchain.TokenCreation
	if cd == nil || !cd.Timestamp.Equal(fixed) || cd.Slot != 0 {
		t.Fatalf("expected wall-clock fallback with zero slot, got %+v", cd)
	}
}

func TestFinalizeUnknownKind(t *testing.T) {
	st := newMockStore()
	st.put(pendingSignatureAgent("a1"))
	p := newProvisioning(st, &mockChainClient{}, &mockBroadcaster{})

	err := p.Finalize(context.Background(), "a1", agent.TxKind("BRIDGE"), []byte{0x01}, "key")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
