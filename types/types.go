package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of fractional digits of one USDC token unit.
const USDCDecimals = 6

// MaxAmountDifference is the absolute tolerance allowed between the expected
// and the transferred amount, in display units.
var MaxAmountDifference = decimal.New(1, -2)

// FailureReason identifies why a transfer did not satisfy a payment obligation.
type FailureReason string

const (
	ReasonInvalidHash               FailureReason = "invalid_hash"
	ReasonInvalidRecipient          FailureReason = "invalid_recipient"
	ReasonInvalidAmount             FailureReason = "invalid_amount"
	ReasonTransactionNotFound       FailureReason = "transaction_not_found"
	ReasonTransactionFailed         FailureReason = "transaction_failed"
	ReasonInsufficientConfirmations FailureReason = "insufficient_confirmations"
	ReasonNoMatchingTransfer        FailureReason = "no_matching_transfer"
	ReasonAmountMismatch            FailureReason = "amount_mismatch"
)

// Retryable reports whether the same request may succeed later against a
// newer chain state.
func (r FailureReason) Retryable() bool {
	return r == ReasonTransactionNotFound || r == ReasonInsufficientConfirmations
}

func (r FailureReason) String() string {
	return string(r)
}

// VerificationRequest describes the payment obligation a transaction must satisfy.
type VerificationRequest struct {
	// 0x-prefixed 32 byte transaction hash.
	TransactionHash string `json:"transactionHash" validate:"required,txhash"`

	// Amount in USDC display units, at most 6 fractional digits.
	ExpectedAmount decimal.Decimal `json:"expectedAmount" validate:"usdcamount"`

	// 0x-prefixed 20 byte address that must receive the transfer.
	ExpectedRecipient string `json:"expectedRecipient" validate:"required,evmaddress"`

	MinimumConfirmations uint64 `json:"minimumConfirmations"`
}

// VerificationResult is the verdict for a single VerificationRequest.
type VerificationResult struct {
	IsValid         bool            `json:"isValid"`
	InvalidReason   FailureReason   `json:"invalidReason,omitempty"`
	TransactionHash string          `json:"transactionHash"`
	ActualAmount    decimal.Decimal `json:"actualAmount"`
	ExpectedAmount  decimal.Decimal `json:"expectedAmount"`
	ActualRecipient string          `json:"actualRecipient,omitempty"`
	Sender          string          `json:"sender,omitempty"`
	BlockNumber     uint64          `json:"blockNumber,omitempty"`
	Confirmations   uint64          `json:"confirmations"`
	Error           string          `json:"error,omitempty"`
}

// Reject builds a failed verdict for the given request.
func Reject(req VerificationRequest, reason FailureReason, format string, args ...any) *VerificationResult {
	return &VerificationResult{
		IsValid:         false,
		InvalidReason:   reason,
		TransactionHash: req.TransactionHash,
		ExpectedAmount:  req.ExpectedAmount,
		Error:           fmt.Sprintf(format, args...),
	}
}

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Error types
type PaylinkError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *PaylinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaylinkError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrInvalidRequest           = "INVALID_REQUEST"
	ErrNotFound                 = "NOT_FOUND"
	ErrConflict                 = "CONFLICT"
	ErrForbidden                = "FORBIDDEN"
	ErrUnauthorized             = "UNAUTHORIZED"
	ErrNetworkError             = "NETWORK_ERROR"
	ErrConfigError              = "CONFIG_ERROR"
	ErrVerificationInconclusive = "VERIFICATION_INCONCLUSIVE"
	ErrUnsupportedNetwork       = "UNSUPPORTED_NETWORK"
)

// NewNetworkError wraps a transport failure talking to the chain node.
func NewNetworkError(msg string, err error) *PaylinkError {
	return &PaylinkError{Code: ErrNetworkError, Message: msg, Err: err}
}

// NewInvalidRequestError reports input that cannot be acted on.
func NewInvalidRequestError(msg string, err error) *PaylinkError {
	return &PaylinkError{Code: ErrInvalidRequest, Message: msg, Err: err}
}

// NewConfigError wraps a configuration failure.
func NewConfigError(msg string, err error) *PaylinkError {
	return &PaylinkError{Code: ErrConfigError, Message: msg, Err: err}
}

// ErrorCode returns the PaylinkError code carried by err, if any.
func ErrorCode(err error) string {
	var pe *PaylinkError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsInconclusive reports whether err means the chain could not be asked,
// as opposed to the chain answering no.
func IsInconclusive(err error) bool {
	switch ErrorCode(err) {
	case ErrNetworkError, ErrConfigError, ErrVerificationInconclusive:
		return true
	}
	return false
}
