package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedlink/basedlink-pay/types"
)

const (
	testTxHash = "0x2f1c6b6d1f0e33cbd0b1e5e1c6f3a4f1e1d0c9b8a7f6e5d4c3b2a19080706050"
	testToken  = "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
)

var emptyBloom = "0x" + strings.Repeat("0", 512)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC calls from a method -> result table.
type fakeNode struct {
	mu      sync.Mutex
	results map[string]any
	headers []http.Header
	delay   time.Duration
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.headers = append(n.headers, r.Header.Clone())
	result, ok := n.results[req.Method]
	delay := n.delay
	n.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, node *fakeNode, apiKey string, timeout time.Duration) *EVMClient {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c, err := NewEVMClient(context.Background(), types.ClientConfig{
		Network: types.NetworkBaseSepolia,
		RPCUrl:  srv.URL,
		APIKey:  apiKey,
		Timeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func receiptJSON(status string) map[string]any {
	return map[string]any{
		"transactionHash":   testTxHash,
		"transactionIndex":  "0x0",
		"blockHash":         "0x" + strings.Repeat("ab", 32),
		"blockNumber":       "0x64",
		"status":            status,
		"type":              "0x2",
		"cumulativeGasUsed": "0x5208",
		"gasUsed":           "0x5208",
		"logsBloom":         emptyBloom,
		"logs": []any{
			map[string]any{
				"address": testToken,
				"topics": []string{
					"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
					"0x000000000000000000000000e4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1",
					"0x000000000000000000000000384aa214be0b279cbf211e9b2c992d8633f77848",
				},
				"data":             "0x0000000000000000000000000000000000000000000000000000000000986f70",
				"blockNumber":      "0x64",
				"transactionHash":  testTxHash,
				"transactionIndex": "0x0",
				"logIndex":         "0x3",
				"removed":          false,
			},
		},
	}
}

func TestNewEVMClient_RequiresURL(t *testing.T) {
	c, err := NewEVMClient(context.Background(), types.ClientConfig{Network: types.NetworkBase})
	assert.Nil(t, c)
	assert.Equal(t, types.ErrConfigError, types.ErrorCode(err))
}

func TestEVMClient_TransactionReceipt(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionReceipt": receiptJSON("0x1"),
	}}
	c := newTestClient(t, node, "", time.Second)

	r, err := c.TransactionReceipt(context.Background(), common.HexToHash(testTxHash))
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.True(t, r.Succeeded())
	assert.Equal(t, uint64(100), r.BlockNumber)
	require.Len(t, r.Logs, 1)
	assert.Equal(t, common.HexToAddress(testToken), r.Logs[0].Address)
	assert.Len(t, r.Logs[0].Topics, 3)
	assert.Len(t, r.Logs[0].Data, 32)
	assert.Equal(t, uint(3), r.Logs[0].Index)
}

func TestEVMClient_TransactionReceipt_Reverted(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionReceipt": receiptJSON("0x0"),
	}}
	c := newTestClient(t, node, "", time.Second)

	r, err := c.TransactionReceipt(context.Background(), common.HexToHash(testTxHash))
	require.NoError(t, err)
	assert.False(t, r.Succeeded())
}

func TestEVMClient_TransactionReceipt_NotFound(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionReceipt": nil,
	}}
	c := newTestClient(t, node, "", time.Second)

	r, err := c.TransactionReceipt(context.Background(), common.HexToHash(testTxHash))
	assert.NoError(t, err)
	assert.Nil(t, r)
}

func TestEVMClient_TransactionReceipt_MissingStatus(t *testing.T) {
	missing := receiptJSON("0x1")
	delete(missing, "status")

	preByzantium := receiptJSON("0x1")
	delete(preByzantium, "status")
	preByzantium["root"] = "0x" + strings.Repeat("cd", 32)

	for name, receipt := range map[string]map[string]any{
		"no status":  missing,
		"state root": preByzantium,
	} {
		t.Run(name, func(t *testing.T) {
			node := &fakeNode{results: map[string]any{
				"eth_getTransactionReceipt": receipt,
			}}
			c := newTestClient(t, node, "", time.Second)

			r, err := c.TransactionReceipt(context.Background(), common.HexToHash(testTxHash))
			assert.Nil(t, r)
			assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
			assert.True(t, types.IsInconclusive(err))
		})
	}
}

func TestEVMClient_TransactionReceipt_MissingBlockNumber(t *testing.T) {
	receipt := receiptJSON("0x1")
	delete(receipt, "blockNumber")
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionReceipt": receipt,
	}}
	c := newTestClient(t, node, "", time.Second)

	r, err := c.TransactionReceipt(context.Background(), common.HexToHash(testTxHash))
	assert.Nil(t, r)
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
}

func TestEVMClient_TransactionReceipt_HashMismatch(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionReceipt": receiptJSON("0x1"),
	}}
	c := newTestClient(t, node, "", time.Second)

	r, err := c.TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	assert.Nil(t, r)
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
}

func TestEVMClient_RPCErrorIsNetworkError(t *testing.T) {
	node := &fakeNode{results: map[string]any{}}
	c := newTestClient(t, node, "", time.Second)

	_, err := c.BlockNumber(context.Background())
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
	assert.True(t, types.IsInconclusive(err))
}

func TestEVMClient_Timeout(t *testing.T) {
	node := &fakeNode{
		results: map[string]any{"eth_blockNumber": "0x68"},
		delay:   2 * time.Second,
	}
	c := newTestClient(t, node, "", 50*time.Millisecond)

	start := time.Now()
	_, err := c.BlockNumber(context.Background())
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestEVMClient_BlockNumberAndAPIKey(t *testing.T) {
	node := &fakeNode{results: map[string]any{"eth_blockNumber": "0x68"}}
	c := newTestClient(t, node, "secret-key", time.Second)

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(104), height)

	node.mu.Lock()
	defer node.mu.Unlock()
	require.NotEmpty(t, node.headers)
	assert.Equal(t, "Bearer secret-key", node.headers[0].Get("Authorization"))
}

func TestEVMClient_TransactionByHash(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionByHash": map[string]any{
			"hash":        testTxHash,
			"from":        "0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1",
			"to":          testToken,
			"value":       "0x0",
			"nonce":       "0x7",
			"input":       "0xa9059cbb",
			"blockNumber": "0x64",
		},
	}}
	c := newTestClient(t, node, "", time.Second)

	tx, err := c.TransactionByHash(context.Background(), common.HexToHash(testTxHash))
	require.NoError(t, err)
	require.NotNil(t, tx)

	assert.Equal(t, common.HexToAddress("0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1"), tx.From)
	require.NotNil(t, tx.To)
	assert.Equal(t, common.HexToAddress(testToken), *tx.To)
	assert.Equal(t, uint64(7), tx.Nonce)
	assert.Equal(t, int64(0), tx.Value.Int64())
	assert.False(t, tx.Pending())
	assert.Equal(t, uint64(100), *tx.BlockNumber)
}

func TestEVMClient_TransactionByHash_Pending(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionByHash": map[string]any{
			"hash":        testTxHash,
			"from":        "0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1",
			"to":          testToken,
			"value":       "0x0",
			"nonce":       "0x7",
			"input":       "0x",
			"blockNumber": nil,
		},
	}}
	c := newTestClient(t, node, "", time.Second)

	tx, err := c.TransactionByHash(context.Background(), common.HexToHash(testTxHash))
	require.NoError(t, err)
	assert.True(t, tx.Pending())
}

func TestEVMClient_TransactionByHash_NotFound(t *testing.T) {
	node := &fakeNode{results: map[string]any{"eth_getTransactionByHash": nil}}
	c := newTestClient(t, node, "", time.Second)

	tx, err := c.TransactionByHash(context.Background(), common.HexToHash(testTxHash))
	assert.NoError(t, err)
	assert.Nil(t, tx)
}

func TestEVMClient_TransactionByHash_MissingFields(t *testing.T) {
	node := &fakeNode{results: map[string]any{
		"eth_getTransactionByHash": map[string]any{"hash": testTxHash},
	}}
	c := newTestClient(t, node, "", time.Second)

	tx, err := c.TransactionByHash(context.Background(), common.HexToHash(testTxHash))
	assert.Nil(t, tx)
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
}
