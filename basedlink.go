// Package basedlink verifies USDC payments on Base by reading the chain.
package basedlink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/basedlink/basedlink-pay/clients"
	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/metrics"
	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/utils"
	"github.com/basedlink/basedlink-pay/verification"
)

// Config describes the node and token a Basedlink instance verifies against.
type Config struct {
	Network types.Network
	RPCUrl  string
	APIKey  string

	// Defaults to the canonical USDC deployment of Network.
	TokenAddress string

	// Per verification call; zero means verification.DefaultTimeout.
	Timeout time.Duration

	// Per RPC call; zero means clients.DefaultCallTimeout.
	CallTimeout time.Duration

	// Nil disables the circuit breaker.
	Breaker *clients.BreakerSettings
}

// Basedlink is the main entry point for payment verification
type Basedlink struct {
	client   clients.ChainClient
	verifier *verification.VerificationService

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration

	breakerSettings *clients.BreakerSettings
	breaker         *clients.BreakerClient
}

// New dials the configured node and returns a ready verifier.
func New(ctx context.Context, cfg Config, opts ...Option) (*Basedlink, error) {
	network, err := types.ParseNetwork(cfg.Network.String())
	if err != nil {
		return nil, err
	}

	token := cfg.TokenAddress
	if token == "" {
		token = network.USDCContract()
	}
	if !utils.IsValidAddress(token) {
		return nil, types.NewConfigError(fmt.Sprintf("invalid token address %q", token), nil)
	}

	evm, err := clients.NewEVMClient(ctx, types.ClientConfig{
		Network: network,
		RPCUrl:  cfg.RPCUrl,
		APIKey:  cfg.APIKey,
		Timeout: cfg.CallTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chain client for %s: %w", network, err)
	}

	var defaults []Option
	if cfg.Timeout > 0 {
		defaults = append(defaults, WithTimeout(cfg.Timeout))
	}
	if cfg.Breaker != nil {
		defaults = append(defaults, WithBreaker(*cfg.Breaker))
	}
	return NewWithClient(evm, common.HexToAddress(token), append(defaults, opts...)...), nil
}

// NewWithClient builds a Basedlink around an existing chain client.
func NewWithClient(client clients.ChainClient, token common.Address, opts ...Option) *Basedlink {
	b := &Basedlink{
		client:  client,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: verification.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.breakerSettings != nil {
		b.breaker = clients.NewBreakerClient(client, *b.breakerSettings)
		b.client = b.breaker
	} else if bc, ok := client.(*clients.BreakerClient); ok {
		b.breaker = bc
	}

	b.verifier = verification.NewVerificationService(b.client, token,
		verification.WithLogger(b.logger),
		verification.WithMetrics(b.metrics),
		verification.WithTimeout(b.timeout),
	)
	return b
}

// Verifier exposes the underlying verification service.
func (b *Basedlink) Verifier() *verification.VerificationService {
	return b.verifier
}

// ChainState reports the circuit breaker state in front of the node:
// "closed", "half-open" or "open". It is empty when no breaker is configured.
func (b *Basedlink) ChainState() string {
	if b.breaker == nil {
		return ""
	}
	return b.breaker.State()
}

// Network returns the network this instance verifies on.
func (b *Basedlink) Network() types.Network {
	return b.client.GetNetwork()
}

// VerifyTokenTransfer checks one transaction against a payment obligation.
func (b *Basedlink) VerifyTokenTransfer(
	ctx context.Context,
	req types.VerificationRequest,
) (*types.VerificationResult, error) {
	return b.verifier.VerifyTokenTransfer(ctx, req)
}

// BatchVerify verifies multiple payments concurrently
func (b *Basedlink) BatchVerify(
	ctx context.Context,
	reqs []types.VerificationRequest,
) ([]*types.VerificationResult, error) {
	if len(reqs) == 0 {
		return nil, &types.PaylinkError{
			Code:    types.ErrInvalidRequest,
			Message: "at least one verification request is required",
		}
	}
	return b.verifier.BatchVerify(ctx, reqs)
}

// VerifyWithRetry keeps verifying while the transaction may still land or
// gain confirmations.
func (b *Basedlink) VerifyWithRetry(
	ctx context.Context,
	req types.VerificationRequest,
	maxRetries int,
	retryDelay time.Duration,
) (*types.VerificationResult, error) {
	return b.verifier.VerifyWithRetry(ctx, req, maxRetries, retryDelay)
}

// QuickVerify performs basic validation without blockchain queries
func (b *Basedlink) QuickVerify(req types.VerificationRequest) *types.VerificationResult {
	return b.verifier.QuickVerify(req)
}

// TransactionDetails returns the raw transaction for diagnostics.
func (b *Basedlink) TransactionDetails(ctx context.Context, txHash string) (*types.TransactionInfo, error) {
	return b.verifier.TransactionDetails(ctx, txHash)
}

// Close closes the chain client connection
func (b *Basedlink) Close() {
	b.verifier.Close()
}

// IsValidTransactionHash reports whether hash is 0x followed by 64 hex digits.
func IsValidTransactionHash(hash string) bool {
	return utils.IsValidTransactionHash(hash)
}

// IsValidAddress reports whether address is 0x followed by 40 hex digits.
func IsValidAddress(address string) bool {
	return utils.IsValidAddress(address)
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]any {
	return map[string]any{
		"library_version":    Version,
		"supported_networks": []string{types.NetworkBase.String(), types.NetworkBaseSepolia.String()},
		"supported_tokens":   []string{"USDC"},
		"token_decimals":     types.USDCDecimals,
		"max_difference":     types.MaxAmountDifference.String(),
	}
}

// DecimalFromString parses a USDC amount such as "9.99". Negative amounts
// and amounts finer than one token unit are rejected.
func DecimalFromString(s string) (decimal.Decimal, error) {
	d, err := utils.ValidateAmount(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, types.NewInvalidRequestError(fmt.Sprintf("invalid amount %q", s), err)
	}
	return *d, nil
}
