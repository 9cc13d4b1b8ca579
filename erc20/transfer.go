// Package erc20 decodes ERC-20 Transfer events from receipt logs.
package erc20

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/basedlink/basedlink-pay/types"
)

const transferEventABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "name": "from",  "type": "address"},
		{"indexed": true,  "name": "to",    "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var (
	ErrNotTransfer       = errors.New("log is not an ERC-20 Transfer")
	ErrMalformedTransfer = errors.New("malformed ERC-20 Transfer log")
)

var (
	transferEvent abi.Event

	// TransferTopic is keccak256("Transfer(address,address,uint256)").
	TransferTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(transferEventABI))
	if err != nil {
		panic(fmt.Sprintf("erc20: parse transfer abi: %v", err))
	}
	transferEvent = parsed.Events["Transfer"]
	TransferTopic = transferEvent.ID
}

// DecodeTransfer decodes a single log. It does not look at the emitting
// contract; callers filter on the token address first.
func DecodeTransfer(log types.Log) (*types.TransferEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != TransferTopic {
		return nil, ErrNotTransfer
	}
	// ERC-721 reuses the signature with an indexed tokenId as a fourth topic
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("%w: expected 3 topics, got %d", ErrMalformedTransfer, len(log.Topics))
	}

	from, err := topicAddress(log.Topics[1])
	if err != nil {
		return nil, err
	}
	to, err := topicAddress(log.Topics[2])
	if err != nil {
		return nil, err
	}

	values, err := transferEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransfer, err)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: value is %T", ErrMalformedTransfer, values[0])
	}

	return &types.TransferEvent{From: from, To: to, Value: value}, nil
}

// topicAddress extracts an address from a left-padded indexed topic.
func topicAddress(topic common.Hash) (common.Address, error) {
	for _, b := range topic[:common.HashLength-common.AddressLength] {
		if b != 0 {
			return common.Address{}, fmt.Errorf("%w: address topic %s is not left-padded", ErrMalformedTransfer, topic.Hex())
		}
	}
	return common.BytesToAddress(topic[common.HashLength-common.AddressLength:]), nil
}

// EncodeTransfer builds the log a token contract emits for a transfer.
func EncodeTransfer(token, from, to common.Address, value *big.Int) (types.Log, error) {
	data, err := transferEvent.Inputs.NonIndexed().Pack(value)
	if err != nil {
		return types.Log{}, fmt.Errorf("pack transfer value: %w", err)
	}
	return types.Log{
		Address: token,
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}, nil
}
