package clients

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sony/gobreaker/v2"

	"github.com/basedlink/basedlink-pay/types"
)

// BreakerSettings configures the circuit breaker in front of the node.
type BreakerSettings struct {
	// Probe requests let through while half-open.
	MaxRequests uint32
	// Closed-state counting window.
	Interval time.Duration
	// How long the breaker stays open before probing.
	Timeout time.Duration
	// Consecutive transport failures that open the breaker.
	ConsecutiveFailures uint32
}

var _ ChainClient = (*BreakerClient)(nil)

// BreakerClient stops hammering an unhealthy node. Only transport failures
// count against it; "not found" is a healthy answer.
type BreakerClient struct {
	next ChainClient
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps next with a circuit breaker.
func NewBreakerClient(next ChainClient, s BreakerSettings) *BreakerClient {
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}

	threshold := s.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "chain-rpc:" + next.GetNetwork().String(),
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return types.ErrorCode(err) != types.ErrNetworkError
		},
	})

	return &BreakerClient{next: next, cb: cb}
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.NewNetworkError("chain rpc circuit open", err)
	}
	return v, err
}

// TransactionReceipt implements ChainClient.
func (b *BreakerClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	v, err := b.execute(func() (any, error) {
		return b.next.TransactionReceipt(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	r, _ := v.(*types.Receipt)
	return r, nil
}

// TransactionByHash implements ChainClient.
func (b *BreakerClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.TransactionInfo, error) {
	v, err := b.execute(func() (any, error) {
		return b.next.TransactionByHash(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	tx, _ := v.(*types.TransactionInfo)
	return tx, nil
}

// BlockNumber implements ChainClient.
func (b *BreakerClient) BlockNumber(ctx context.Context) (uint64, error) {
	v, err := b.execute(func() (any, error) {
		return b.next.BlockNumber(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// State returns the breaker state: closed, half-open or open.
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

func (b *BreakerClient) GetNetwork() types.Network { return b.next.GetNetwork() }
func (b *BreakerClient) Close()                    { b.next.Close() }
