package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/launchforge/launchforge/internal/config"
	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
)

type fakeNonceSource struct {
	nonce    uint64
	gasPrice *big.Int
}

func (f *fakeNonceSource) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeNonceSource) SuggestGasPrice(context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func testBuilder(t *testing.T) *Builder {
	t.Helper()

	b, err := NewBuilder(&fakeNonceSource{nonce: 7, gasPrice: big.NewInt(1_000_000_000)}, config.Chain{
		TokenFactory:      "0x1111111111111111111111111111111111111111",
		PoolFactory:       "0x2222222222222222222222222222222222222222",
		TokenInitCodeHash: "0xabababababababababababababababababababababababababababababababab",
		PoolInitCodeHash:  "0xcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd",
		GasLimit:          3_000_000,
	})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return b
}

func draftAgent() *agent.Agent {
	return &agent.Agent{
		ID:           "8c2f7a1e-0000-0000-0000-000000000001",
		Name:         "trader-bot",
		OwnerAddress: "0x3333333333333333333333333333333333333333",
		Tokenomics:   agent.Tokenomics{Symbol: "TRD", TotalSupply: 1_000_000, Decimals: 9},
	}
}

func TestBuildTokenCreation(t *testing.T) {
	b := testBuilder(t)
	a := draftAgent()

	tx, err := b.Build(context.Background(), agent.TxKindTokenCreation, a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if tx.AssetAddress == "" || tx.AssetAddress == (common.Address{}).Hex() {
		t.Fatalf("expected a predicted asset address, got %q", tx.AssetAddress)
	}
	if len(tx.Bytes) == 0 {
		t.Fatal("expected encoded tx bytes")
	}
	if tx.AncillaryKeys["nonce"] != "7" {
		t.Fatalf("expected nonce 7, got %q", tx.AncillaryKeys["nonce"])
	}

	var decoded coretypes.Transaction
	if err := decoded.UnmarshalBinary(tx.Bytes); err != nil {
		t.Fatalf("decode tx bytes: %v", err)
	}
	if decoded.To() == nil || decoded.To().Hex() != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("expected tx addressed to the token factory, got %v", decoded.To())
	}
	if decoded.Gas() != 3_000_000 {
		t.Fatalf("expected configured gas limit, got %d", decoded.Gas())
	}
}

func TestBuildIsDeterministicPerAgent(t *testing.T) {
	b := testBuilder(t)
	a := draftAgent()

	tx1, err := b.Build(context.Background(), agent.TxKindTokenCreation, a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	tx2, err := b.Build(context.Background(), agent.TxKindTokenCreation, a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tx1.AssetAddress != tx2.AssetAddress {
		t.Fatalf("same agent and kind must predict the same address: %s vs %s", tx1.AssetAddress, tx2.AssetAddress)
	}

	other := draftAgent()
	other.ID = "8c2f7a1e-0000-0000-0000-000000000002"
	tx3, err := b.Build(context.Background(), agent.TxKindTokenCreation, other)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tx3.AssetAddress == tx1.AssetAddress {
		t.Fatal("different agents must predict different addresses")
	}
}

func TestBuildPoolRequiresToken(t *testing.T) {
	b := testBuilder(t)
	a := draftAgent()

	_, err := b.Build(context.Background(), agent.TxKindPoolCreation, a)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	a.Blockchain.TokenAddress = "0x4444444444444444444444444444444444444444"
	tx, err := b.Build(context.Background(), agent.TxKindPoolCreation, a)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tx.AssetAddress == "" {
		t.Fatal("expected a predicted pool address")
	}
}

func TestBuildUnknownKind(t *testing.T) {
	b := testBuilder(t)

	_, err := b.Build(context.Background(), agent.TxKind("BRIDGE"), draftAgent())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
