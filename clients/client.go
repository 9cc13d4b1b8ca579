package clients

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/basedlink/basedlink-pay/types"
)

// ChainClient is the read-only view of the chain the verifier needs.
// Implementations must be safe for concurrent use.
type ChainClient interface {
	// TransactionReceipt returns nil, nil when the node does not know the hash.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// TransactionByHash returns nil, nil when the node does not know the hash.
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.TransactionInfo, error)
	BlockNumber(ctx context.Context) (uint64, error)
	GetNetwork() types.Network
	Close()
}
