// Package verification decides whether an on-chain transaction satisfies a
// USDC payment obligation.
package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/basedlink/basedlink-pay/clients"
	"github.com/basedlink/basedlink-pay/erc20"
	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/metrics"
	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/utils"
)

// DefaultTimeout bounds one verification call end to end.
const DefaultTimeout = 30 * time.Second

// maxBatchConcurrency caps in-flight verifications of a single batch.
const maxBatchConcurrency = 8

// Verifier interface defines the contract for payment verification
type Verifier interface {
	VerifyTokenTransfer(ctx context.Context, req types.VerificationRequest) (*types.VerificationResult, error)
}

var _ Verifier = (*VerificationService)(nil)

// VerificationService checks USDC transfers against a single token contract.
// It keeps no state between calls and is safe for concurrent use.
type VerificationService struct {
	client  clients.ChainClient
	token   common.Address
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*VerificationService)

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) {
		s.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(s *VerificationService) {
		if t > 0 {
			s.timeout = t
		}
	}
}

// NewVerificationService creates a new verification service
func NewVerificationService(client clients.ChainClient, token common.Address, opts ...Option) *VerificationService {
	s := &VerificationService{
		client:  client,
		token:   token,
		timeout: DefaultTimeout,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns the token contract transfers are accepted from.
func (s *VerificationService) Token() common.Address {
	return s.token
}

// Network returns the network of the underlying chain client.
func (s *VerificationService) Network() types.Network {
	return s.client.GetNetwork()
}

// VerifyTokenTransfer answers whether req.TransactionHash pays
// req.ExpectedAmount to req.ExpectedRecipient with enough confirmations.
//
// Business rejections come back as a result with IsValid false and a nil
// error. A non-nil error means the chain could not be asked and the outcome
// is unknown.
func (s *VerificationService) VerifyTokenTransfer(
	ctx context.Context,
	req types.VerificationRequest,
) (*types.VerificationResult, error) {
	start := time.Now()
	result, err := s.verify(ctx, req)
	s.observe(req, result, err, time.Since(start))
	return result, err
}

func (s *VerificationService) verify(
	ctx context.Context,
	req types.VerificationRequest,
) (*types.VerificationResult, error) {
	if rejected := checkRequest(req); rejected != nil {
		return rejected, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	hash := common.HexToHash(req.TransactionHash)

	receipt, err := s.client.TransactionReceipt(verifyCtx, hash)
	if err != nil {
		return nil, inconclusive("fetch receipt", err)
	}
	if receipt == nil {
		return types.Reject(req, types.ReasonTransactionNotFound,
			"transaction %s not found", req.TransactionHash), nil
	}

	if !receipt.Succeeded() {
		result := types.Reject(req, types.ReasonTransactionFailed,
			"transaction %s reverted", req.TransactionHash)
		result.BlockNumber = receipt.BlockNumber
		return result, nil
	}

	height, err := s.client.BlockNumber(verifyCtx)
	if err != nil {
		return nil, inconclusive("fetch block height", err)
	}

	confirmations := confirmationsAt(receipt.BlockNumber, height)
	if confirmations < req.MinimumConfirmations {
		result := types.Reject(req, types.ReasonInsufficientConfirmations,
			"transaction has %d confirmations, %d required", confirmations, req.MinimumConfirmations)
		result.BlockNumber = receipt.BlockNumber
		result.Confirmations = confirmations
		return result, nil
	}

	transfer := s.findTransfer(receipt.Logs, req.ExpectedRecipient)
	if transfer == nil {
		result := types.Reject(req, types.ReasonNoMatchingTransfer,
			"no %s transfer to %s in transaction", s.token.Hex(), req.ExpectedRecipient)
		result.BlockNumber = receipt.BlockNumber
		result.Confirmations = confirmations
		return result, nil
	}

	// checkRequest already rejected amounts that do not fit in token units
	expected, err := utils.ToTokenUnits(req.ExpectedAmount)
	if err != nil {
		return types.Reject(req, types.ReasonInvalidAmount, "%v", err), nil
	}

	actual := utils.FromTokenUnits(transfer.Value)
	result := &types.VerificationResult{
		TransactionHash: req.TransactionHash,
		ActualAmount:    actual,
		ExpectedAmount:  req.ExpectedAmount,
		ActualRecipient: transfer.To.Hex(),
		Sender:          transfer.From.Hex(),
		BlockNumber:     receipt.BlockNumber,
		Confirmations:   confirmations,
	}

	if !withinTolerance(transfer.Value, expected) {
		result.InvalidReason = types.ReasonAmountMismatch
		result.Error = fmt.Sprintf("transferred %s USDC, expected %s USDC",
			actual.String(), req.ExpectedAmount.String())
		return result, nil
	}

	result.IsValid = true
	return result, nil
}

// checkRequest runs the offline checks and returns a rejection, or nil when
// the request is well formed.
func checkRequest(req types.VerificationRequest) *types.VerificationResult {
	if !utils.IsValidTransactionHash(req.TransactionHash) {
		return types.Reject(req, types.ReasonInvalidHash,
			"transaction hash must be 0x followed by 64 hex characters")
	}
	if !utils.IsValidAddress(req.ExpectedRecipient) {
		return types.Reject(req, types.ReasonInvalidRecipient,
			"recipient must be 0x followed by 40 hex characters")
	}
	if err := utils.CheckAmount(req.ExpectedAmount); err != nil {
		return types.Reject(req, types.ReasonInvalidAmount, "%v", err)
	}
	return nil
}

// findTransfer returns the first token transfer to recipient in log order.
func (s *VerificationService) findTransfer(logs []types.Log, recipient string) *types.TransferEvent {
	for _, l := range logs {
		if l.Address != s.token {
			continue
		}
		ev, err := erc20.DecodeTransfer(l)
		if err != nil {
			if !errors.Is(err, erc20.ErrNotTransfer) {
				s.logger.Debug("skipping undecodable token log", map[string]any{
					"log_index": l.Index,
					"error":     err,
				})
			}
			continue
		}
		if utils.AddressesEqual(ev.To.Hex(), recipient) {
			return ev
		}
	}
	return nil
}

var maxDifferenceUnits = types.MaxAmountDifference.Shift(types.USDCDecimals).BigInt()

func withinTolerance(actual, expected *big.Int) bool {
	diff := new(big.Int).Sub(actual, expected)
	return diff.Abs(diff).Cmp(maxDifferenceUnits) <= 0
}

func confirmationsAt(block, height uint64) uint64 {
	// load-balanced RPC endpoints can report a height behind the receipt
	if height < block {
		return 0
	}
	return height - block
}

func inconclusive(op string, err error) error {
	var pe *types.PaylinkError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &types.PaylinkError{
			Code:    types.ErrVerificationInconclusive,
			Message: op + " did not complete",
			Err:     err,
		}
	}
	return types.NewNetworkError(op+" failed", err)
}

func (s *VerificationService) observe(
	req types.VerificationRequest,
	result *types.VerificationResult,
	err error,
	elapsed time.Duration,
) {
	network := s.client.GetNetwork().String()
	fields := map[string]any{
		"tx_hash":     req.TransactionHash,
		"recipient":   req.ExpectedRecipient,
		"expected":    req.ExpectedAmount.String(),
		"network":     network,
		"duration_ms": elapsed.Milliseconds(),
	}

	outcome := "valid"
	switch {
	case err != nil:
		outcome = "inconclusive"
		s.logger.Error("verification inconclusive", logger.Merge(fields, map[string]any{
			"error": err,
		}))
	case !result.IsValid:
		outcome = result.InvalidReason.String()
		s.logger.Warn("verification rejected", logger.Merge(fields, map[string]any{
			"reason":        outcome,
			"detail":        result.Error,
			"confirmations": result.Confirmations,
		}))
	default:
		s.logger.Info("verification passed", logger.Merge(fields, map[string]any{
			"actual":        result.ActualAmount.String(),
			"block":         result.BlockNumber,
			"confirmations": result.Confirmations,
		}))
	}

	labels := map[string]string{"network": network, "outcome": outcome}
	s.metrics.IncCounter("verification", labels)
	s.metrics.ObserveLatency("verify", elapsed, labels)
}

// BatchVerify verifies requests concurrently. Results keep the order of
// reqs. The first inconclusive error cancels the rest of the batch.
func (s *VerificationService) BatchVerify(
	ctx context.Context,
	reqs []types.VerificationRequest,
) ([]*types.VerificationResult, error) {
	results := make([]*types.VerificationResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchConcurrency)

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			result, err := s.VerifyTokenTransfer(gctx, req)
			if err != nil {
				return fmt.Errorf("verify %s: %w", req.TransactionHash, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// VerifyWithRetry re-runs the verification while the outcome can still
// change: not yet mined, not yet deep enough, or the node was unreachable.
func (s *VerificationService) VerifyWithRetry(
	ctx context.Context,
	req types.VerificationRequest,
	maxRetries int,
	retryDelay time.Duration,
) (*types.VerificationResult, error) {
	var (
		result *types.VerificationResult
		err    error
	)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				if result != nil {
					return result, nil
				}
				return nil, inconclusive("verification retry", ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		result, err = s.VerifyTokenTransfer(ctx, req)
		if err != nil {
			if !types.IsInconclusive(err) {
				return nil, err
			}
			result = nil
			continue
		}
		if result.IsValid || !result.InvalidReason.Retryable() {
			return result, nil
		}
	}

	if err != nil {
		return nil, fmt.Errorf("verification failed after %d attempts: %w", maxRetries+1, err)
	}
	return result, nil
}

// QuickVerify runs only the offline request checks. A valid result here
// says nothing about the chain.
func (s *VerificationService) QuickVerify(req types.VerificationRequest) *types.VerificationResult {
	if rejected := checkRequest(req); rejected != nil {
		return rejected
	}
	return &types.VerificationResult{
		IsValid:         true,
		TransactionHash: req.TransactionHash,
		ExpectedAmount:  req.ExpectedAmount,
	}
}

// TransactionDetails fetches the raw transaction for diagnostics.
func (s *VerificationService) TransactionDetails(ctx context.Context, txHash string) (*types.TransactionInfo, error) {
	if !utils.IsValidTransactionHash(txHash) {
		return nil, &types.PaylinkError{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("invalid transaction hash %q", txHash),
		}
	}

	detailsCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.client.TransactionByHash(detailsCtx, common.HexToHash(txHash))
	if err != nil {
		return nil, inconclusive("fetch transaction", err)
	}
	if tx == nil {
		return nil, &types.PaylinkError{
			Code:    types.ErrNotFound,
			Message: fmt.Sprintf("transaction %s not found", txHash),
		}
	}
	return tx, nil
}

// Close releases the chain client.
func (s *VerificationService) Close() {
	s.client.Close()
}
