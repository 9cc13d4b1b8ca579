package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values reported by the node.
const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Receipt is the part of a transaction receipt the verifier relies on.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	Logs        []Log
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccessful
}

// Log is a single event emitted during execution.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
	Index   uint
}

// TransactionInfo is the diagnostic view of a transaction.
type TransactionInfo struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to,omitempty"`
	Value       *big.Int        `json:"value"`
	Nonce       uint64          `json:"nonce"`
	Input       []byte          `json:"input,omitempty"`
	BlockNumber *uint64         `json:"blockNumber,omitempty"`
}

// Pending reports whether the transaction has not been included in a block yet.
func (t *TransactionInfo) Pending() bool {
	return t.BlockNumber == nil
}
