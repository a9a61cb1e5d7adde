// Package ethereum implements the chain ports against an EVM JSON-RPC
// endpoint using go-ethereum.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/launchforge/launchforge/internal/config"
	"github.com/launchforge/launchforge/internal/port/chain"
	"github.com/launchforge/launchforge/internal/resilience"
)

// Client implements chain.Client over a single RPC connection. All RPC calls
// go through the circuit breaker so a dead endpoint fails fast instead of
// piling up blocked confirmation loops.
type Client struct {
	rpc     *gethrpc.Client
	eth     *ethclient.Client
	breaker *resilience.Breaker
}

// Dial connects to the configured RPC endpoint and verifies the chain ID.
func Dial(ctx context.Context, cfg config.Chain, breaker *resilience.Breaker) (*Client, error) {
	rpcClient, err := gethrpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}

	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		rpcClient.Close()
		return nil, fmt.Errorf("chain id mismatch: endpoint reports %d, configured %d", chainID.Int64(), cfg.ChainID)
	}

	return &Client{rpc: rpcClient, eth: eth, breaker: breaker}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Eth exposes the underlying ethclient for collaborators that need direct
// node queries, such as the transaction builder's nonce and gas lookups.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// Broadcast submits the signed raw transaction and returns its hash.
func (c *Client) Broadcast(ctx context.Context, signedTx []byte) (string, error) {
	var hash common.Hash
	err := c.breaker.Execute(func() error {
		return c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(signedTx))
	})
	if err != nil {
		return "", fmt.Errorf("send raw transaction: %w", err)
	}
	return hash.Hex(), nil
}

// Confirm checks whether the transaction has landed. A nil return means
// confirmed; chain.ErrReverted means the chain executed it and it failed.
// Everything else, including a receipt not yet being available, is retryable.
func (c *Client) Confirm(ctx context.Context, txHash string) error {
	var receipt *coretypes.Receipt
	err := c.breaker.Execute(func() error {
		var rerr error
		receipt, rerr = c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		return rerr
	})
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return fmt.Errorf("receipt %s not yet available: %w", txHash, err)
		}
		return fmt.Errorf("receipt %s: %w", txHash, err)
	}

	if receipt.Status == coretypes.ReceiptStatusFailed {
		return fmt.Errorf("tx %s: %w", txHash, chain.ErrReverted)
	}
	return nil
}

// Details fetches the confirmed transaction's block timestamp and position.
func (c *Client) Details(ctx context.Context, txHash string) (*chain.Details, error) {
	var receipt *coretypes.Receipt
	err := c.breaker.Execute(func() error {
		var rerr error
		receipt, rerr = c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		return rerr
	})
	if err != nil {
		return nil, fmt.Errorf("details %s: %w: %w", txHash, chain.ErrDetailsUnavailable, err)
	}

	var header *coretypes.Header
	err = c.breaker.Execute(func() error {
		var herr error
		header, herr = c.eth.HeaderByNumber(ctx, receipt.BlockNumber)
		return herr
	})
	if err != nil {
		return nil, fmt.Errorf("details %s: %w: %w", txHash, chain.ErrDetailsUnavailable, err)
	}

	return &chain.Details{
		Timestamp: time.Unix(int64(header.Time), 0).UTC(),
		Slot:      receipt.BlockNumber.Uint64(),
	}, nil
}
