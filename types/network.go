package types

import (
	"fmt"
	"time"
)

// Network represents a supported EVM network
type Network string

const (
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
)

// Circle's native USDC deployments.
var usdcContracts = map[Network]string{
	NetworkBase:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	NetworkBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
}

var chainIDs = map[Network]int64{
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
}

// ParseNetwork resolves a network name.
func ParseNetwork(name string) (Network, error) {
	n := Network(name)
	if _, ok := chainIDs[n]; !ok {
		return "", &PaylinkError{
			Code:    ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %s", name),
		}
	}
	return n, nil
}

// USDCContract returns the canonical USDC contract address for the network.
func (n Network) USDCContract() string {
	return usdcContracts[n]
}

// ChainID returns the EIP-155 chain id for the network.
func (n Network) ChainID() int64 {
	return chainIDs[n]
}

func (n Network) IsTestnet() bool {
	return n == NetworkBaseSepolia
}

func (n Network) String() string {
	return string(n)
}

// ClientConfig contains configuration for the chain client
type ClientConfig struct {
	Network Network       `json:"network"`
	RPCUrl  string        `json:"rpcUrl"`
	APIKey  string        `json:"-"`
	Timeout time.Duration `json:"timeout,omitempty"`
}
