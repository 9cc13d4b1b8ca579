package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedlink/basedlink-pay/types"
)

type stubChain struct {
	calls   int
	err     error
	receipt *types.Receipt
	height  uint64
}

func (s *stubChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	s.calls++
	return s.receipt, s.err
}

func (s *stubChain) TransactionByHash(context.Context, common.Hash) (*types.TransactionInfo, error) {
	s.calls++
	return nil, s.err
}

func (s *stubChain) BlockNumber(context.Context) (uint64, error) {
	s.calls++
	return s.height, s.err
}

func (s *stubChain) GetNetwork() types.Network { return types.NetworkBase }
func (s *stubChain) Close()                    {}

func TestBreakerClient_PassesThrough(t *testing.T) {
	stub := &stubChain{height: 42, receipt: &types.Receipt{BlockNumber: 7}}
	b := NewBreakerClient(stub, BreakerSettings{})

	h, err := b.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h)

	r, err := b.TransactionReceipt(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), r.BlockNumber)
	assert.Equal(t, types.NetworkBase, b.GetNetwork())
}

func TestBreakerClient_NotFoundIsHealthy(t *testing.T) {
	stub := &stubChain{}
	b := NewBreakerClient(stub, BreakerSettings{ConsecutiveFailures: 1})

	for i := 0; i < 3; i++ {
		r, err := b.TransactionReceipt(context.Background(), common.Hash{})
		require.NoError(t, err)
		assert.Nil(t, r)
	}
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 3, stub.calls)
}

func TestBreakerClient_OpensOnNetworkErrors(t *testing.T) {
	stub := &stubChain{err: types.NewNetworkError("boom", errors.New("dial tcp: refused"))}
	b := NewBreakerClient(stub, BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := b.BlockNumber(context.Background())
		assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
	}
	assert.Equal(t, "open", b.State())

	_, err := b.TransactionReceipt(context.Background(), common.Hash{})
	assert.Equal(t, types.ErrNetworkError, types.ErrorCode(err))
	assert.True(t, types.IsInconclusive(err))
	assert.Equal(t, 2, stub.calls, "open breaker must not reach the node")
}

func TestBreakerClient_IgnoresNonTransportErrors(t *testing.T) {
	stub := &stubChain{err: context.Canceled}
	b := NewBreakerClient(stub, BreakerSettings{ConsecutiveFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := b.BlockNumber(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}
