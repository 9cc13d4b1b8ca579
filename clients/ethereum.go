package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/basedlink/basedlink-pay/types"
)

// DefaultCallTimeout bounds a single JSON-RPC call when the config sets none.
const DefaultCallTimeout = 10 * time.Second

var _ ChainClient = (*EVMClient)(nil)

// EVMClient talks JSON-RPC to an EVM node
type EVMClient struct {
	network types.Network
	rpcURL  string
	eth     *ethclient.Client
	timeout time.Duration
}

// NewEVMClient creates a client for the configured node. The API key, when
// set, is sent as a bearer token on every request.
func NewEVMClient(ctx context.Context, cfg types.ClientConfig) (*EVMClient, error) {
	if cfg.RPCUrl == "" {
		return nil, types.NewConfigError("rpc url is required", nil)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	opts := []rpc.ClientOption{
		rpc.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if cfg.APIKey != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}

	rc, err := rpc.DialOptions(ctx, cfg.RPCUrl, opts...)
	if err != nil {
		return nil, types.NewConfigError("failed to connect to Ethereum RPC", err)
	}

	return &EVMClient{
		network: cfg.Network,
		rpcURL:  cfg.RPCUrl,
		eth:     ethclient.NewClient(rc),
		timeout: timeout,
	}, nil
}

// GetNetwork implements ChainClient.
func (c *EVMClient) GetNetwork() types.Network {
	return c.network
}

// Close implements ChainClient.
func (c *EVMClient) Close() {
	c.eth.Close()
}

// TransactionReceipt implements ChainClient.
func (c *EVMClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.eth.Client().CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, types.NewNetworkError("eth_getTransactionReceipt failed", err)
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	// go-ethereum decodes a missing status as 0, which would read as a revert.
	// Pre-Byzantium receipts carry a state root instead.
	var head struct {
		Status *hexutil.Uint64 `json:"status"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, types.NewNetworkError("malformed receipt", err)
	}
	if head.Status == nil {
		return nil, types.NewNetworkError("receipt has no status field", nil)
	}

	var r gethtypes.Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, types.NewNetworkError("malformed receipt", err)
	}
	if len(r.PostState) != 0 {
		return nil, types.NewNetworkError("receipt has no status field", nil)
	}
	if r.BlockNumber == nil || !r.BlockNumber.IsUint64() {
		return nil, types.NewNetworkError("receipt has no valid blockNumber", nil)
	}
	if r.TxHash != hash {
		return nil, types.NewNetworkError(
			fmt.Sprintf("node returned receipt for %s, asked for %s", r.TxHash.Hex(), hash.Hex()), nil)
	}

	receipt := &types.Receipt{
		TxHash:      r.TxHash,
		Status:      r.Status,
		BlockNumber: r.BlockNumber.Uint64(),
		Logs:        make([]types.Log, 0, len(r.Logs)),
	}
	for _, l := range r.Logs {
		if l == nil {
			return nil, types.NewNetworkError("receipt contains a null log", nil)
		}
		receipt.Logs = append(receipt.Logs, types.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			Index:   l.Index,
		})
	}

	return receipt, nil
}

// BlockNumber implements ChainClient.
func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	height, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, types.NewNetworkError("eth_blockNumber failed", err)
	}
	return height, nil
}

type rpcTransaction struct {
	Hash        *common.Hash    `json:"hash"`
	From        *common.Address `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Nonce       *hexutil.Uint64 `json:"nonce"`
	Input       hexutil.Bytes   `json:"input"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
}

// TransactionByHash implements ChainClient. The raw RPC call is used so the
// sender comes from the node and no signer is needed.
func (c *EVMClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.TransactionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var raw *rpcTransaction
	if err := c.eth.Client().CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, types.NewNetworkError("eth_getTransactionByHash failed", err)
	}
	if raw == nil {
		return nil, nil
	}

	if raw.Hash == nil || raw.From == nil || raw.Value == nil || raw.Nonce == nil {
		return nil, types.NewNetworkError("transaction response is missing required fields", nil)
	}

	info := &types.TransactionInfo{
		Hash:  *raw.Hash,
		From:  *raw.From,
		To:    raw.To,
		Value: raw.Value.ToInt(),
		Nonce: uint64(*raw.Nonce),
		Input: raw.Input,
	}
	if raw.BlockNumber != nil {
		n := uint64(*raw.BlockNumber)
		info.BlockNumber = &n
	}
	return info, nil
}
