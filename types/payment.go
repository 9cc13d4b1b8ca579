package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a Payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// User is a seller identified by the custodial wallet platform.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	WalletAddress string    `json:"walletAddress"`
	Username      string    `json:"username,omitempty"`
	DisplayName   string    `json:"displayName,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Product is a payment link a seller shares with buyers.
type Product struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Name             string          `json:"name" validate:"required,max=120"`
	Description      string          `json:"description,omitempty" validate:"max=2000"`
	PriceUSD         decimal.Decimal `json:"priceUsd" validate:"usdcamount"`
	RecipientAddress string          `json:"recipientAddress" validate:"required,evmaddress"`
	IsActive         bool            `json:"isActive"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// PriceUSDC is the token amount owed for the product; 1 USD = 1 USDC.
func (p *Product) PriceUSDC() decimal.Decimal {
	return p.PriceUSD
}

// Payment records a buyer's claimed transfer for a product.
type Payment struct {
	ID              string          `json:"id"`
	ProductID       string          `json:"productId"`
	SellerID        string          `json:"sellerId"`
	BuyerEmail      string          `json:"buyerEmail,omitempty"`
	BuyerWallet     string          `json:"buyerWallet,omitempty"`
	AmountUSD       decimal.Decimal `json:"amountUsd"`
	AmountUSDC      decimal.Decimal `json:"amountUsdc"`
	TransactionHash string          `json:"transactionHash"`
	ToAddress       string          `json:"toAddress"`
	FromAddress     string          `json:"fromAddress,omitempty"`
	Status          PaymentStatus   `json:"status"`
	FailureReason   FailureReason   `json:"failureReason,omitempty"`
	BlockNumber     uint64          `json:"blockNumber,omitempty"`
	Confirmations   uint64          `json:"confirmations,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// PaymentUpdate carries the verdict applied to a pending payment.
type PaymentUpdate struct {
	Status        PaymentStatus
	FailureReason FailureReason
	FromAddress   string
	BlockNumber   uint64
	Confirmations uint64
}

// SellerStats summarises a seller's completed payments.
type SellerStats struct {
	CompletedPayments int             `json:"completedPayments"`
	PendingPayments   int             `json:"pendingPayments"`
	FailedPayments    int             `json:"failedPayments"`
	RevenueUSDC       decimal.Decimal `json:"revenueUsdc"`
}

// ProfileUpdate changes the editable parts of a seller profile. Nil fields
// are left untouched.
type ProfileUpdate struct {
	Username    *string `json:"username,omitempty" validate:"omitempty,min=3,max=32,alphanum"`
	DisplayName *string `json:"displayName,omitempty" validate:"omitempty,max=80"`
}
