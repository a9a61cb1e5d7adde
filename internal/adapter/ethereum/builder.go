package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/launchforge/launchforge/internal/config"
	"github.com/launchforge/launchforge/internal/domain"
	"github.com/launchforge/launchforge/internal/domain/agent"
	"github.com/launchforge/launchforge/internal/port/chain"
)

// Factory method ABIs. Both factories deploy via CREATE2, which is what makes
// the asset address predictable before the owner has signed anything.
const (
	tokenFactoryABI = `[{"name":"createToken","type":"function","inputs":[
		{"name":"name","type":"string"},
		{"name":"symbol","type":"string"},
		{"name":"totalSupply","type":"uint256"},
		{"name":"decimals","type":"uint8"},
		{"name":"owner","type":"address"},
		{"name":"salt","type":"bytes32"}],"outputs":[{"name":"token","type":"address"}]}]`

	poolFactoryABI = `[{"name":"createPool","type":"function","inputs":[
		{"name":"token","type":"address"},
		{"name":"owner","type":"address"},
		{"name":"salt","type":"bytes32"}],"outputs":[{"name":"pool","type":"address"}]}]`
)

// nonceSource is the subset of ethclient.Client the builder needs.
type nonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Builder implements chain.Builder: it constructs unsigned factory-call
// transactions and predicts the CREATE2 address of the asset they will deploy.
type Builder struct {
	eth      nonceSource
	cfg      config.Chain
	tokenABI abi.ABI
	poolABI  abi.ABI
}

// NewBuilder parses the factory ABIs and returns a Builder using the given
// client for nonce and gas price queries.
func NewBuilder(eth nonceSource, cfg config.Chain) (*Builder, error) {
	tokenABI, err := abi.JSON(strings.NewReader(tokenFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse token factory abi: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(poolFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("parse pool factory abi: %w", err)
	}
	return &Builder{eth: eth, cfg: cfg, tokenABI: tokenABI, poolABI: poolABI}, nil
}

// Build constructs the unsigned transaction for the given provisioning kind.
func (b *Builder) Build(ctx context.Context, kind agent.TxKind, a *agent.Agent) (*chain.UnsignedTx, error) {
	switch kind {
	case agent.TxKindTokenCreation:
		return b.buildTokenCreation(ctx, a)
	case agent.TxKindPoolCreation:
		return b.buildPoolCreation(ctx, a)
	default:
		return nil, fmt.Errorf("build %q: %w", kind, domain.ErrValidation)
	}
}

func (b *Builder) buildTokenCreation(ctx context.Context, a *agent.Agent) (*chain.UnsignedTx, error) {
	factory := common.HexToAddress(b.cfg.TokenFactory)
	salt := deploySalt(a.ID, agent.TxKindTokenCreation)

	supply := new(big.Int).Mul(
		big.NewInt(a.Tokenomics.TotalSupply),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Tokenomics.Decimals)), nil),
	)

	calldata, err := b.tokenABI.Pack("createToken",
		a.Name, a.Tokenomics.Symbol, supply, uint8(a.Tokenomics.Decimals),
		common.HexToAddress(a.OwnerAddress), salt)
	if err != nil {
		return nil, fmt.Errorf("pack createToken: %w", err)
	}

	predicted := crypto.CreateAddress2(factory, salt, common.FromHex(b.cfg.TokenInitCodeHash))

	return b.assemble(ctx, a, factory, calldata, predicted, salt)
}

func (b *Builder) buildPoolCreation(ctx context.Context, a *agent.Agent) (*chain.UnsignedTx, error) {
	if !a.HasToken() {
		return nil, fmt.Errorf("pool creation for %s before token exists: %w", a.ID, domain.ErrInvalidState)
	}

	factory := common.HexToAddress(b.cfg.PoolFactory)
	salt := deploySalt(a.ID, agent.TxKindPoolCreation)

	calldata, err := b.poolABI.Pack("createPool",
		common.HexToAddress(a.Blockchain.TokenAddress),
		common.HexToAddress(a.OwnerAddress), salt)
	if err != nil {
		return nil, fmt.Errorf("pack createPool: %w", err)
	}

	predicted := crypto.CreateAddress2(factory, salt, common.FromHex(b.cfg.PoolInitCodeHash))

	return b.assemble(ctx, a, factory, calldata, predicted, salt)
}

func (b *Builder) assemble(ctx context.Context, a *agent.Agent, factory common.Address, calldata []byte, predicted common.Address, salt common.Hash) (*chain.UnsignedTx, error) {
	owner := common.HexToAddress(a.OwnerAddress)

	nonce, err := b.eth.PendingNonceAt(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("pending nonce for %s: %w", owner, err)
	}
	gasPrice, err := b.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	tx := coretypes.NewTransaction(nonce, factory, big.NewInt(0), b.cfg.GasLimit, gasPrice, calldata)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}

	return &chain.UnsignedTx{
		Bytes:        raw,
		AssetAddress: predicted.Hex(),
		AncillaryKeys: map[string]string{
			"factory": factory.Hex(),
			"salt":    salt.Hex(),
			"nonce":   strconv.FormatUint(nonce, 10),
		},
	}, nil
}

// deploySalt derives the CREATE2 salt from the agent ID and provisioning
// kind. Deterministic so that rebuilding the same step predicts the same
// asset address.
func deploySalt(agentID string, kind agent.TxKind) common.Hash {
	return crypto.Keccak256Hash([]byte(agentID), []byte(":"), []byte(kind))
}
