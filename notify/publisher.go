// Package notify publishes payment lifecycle events to other services.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basedlink/basedlink-pay/logger"
)

const (
	Exchange                  = "payment_events"
	RoutingKeyPaymentComplete = "payment.completed"
)

// PaymentCompletedEvent is published once a payment has been verified on chain.
type PaymentCompletedEvent struct {
	PaymentID       string          `json:"payment_id"`
	ProductID       string          `json:"product_id"`
	SellerID        string          `json:"seller_id"`
	TransactionHash string          `json:"transaction_hash"`
	AmountUSDC      decimal.Decimal `json:"amount_usdc"`
	FromAddress     string          `json:"from_address"`
	ToAddress       string          `json:"to_address"`
	BlockNumber     uint64          `json:"block_number"`
	Network         string          `json:"network"`
	CompletedAt     time.Time       `json:"completed_at"`
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	PublishPaymentCompleted(ctx context.Context, event PaymentCompletedEvent) error
	Close()
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct {
	Logger logger.Logger
}

func (p NoopPublisher) PublishPaymentCompleted(_ context.Context, event PaymentCompletedEvent) error {
	if p.Logger != nil {
		p.Logger.Debug("payment event publish skipped", map[string]any{
			"payment_id": event.PaymentID,
			"mode":       "noop",
		})
	}
	return nil
}

func (NoopPublisher) Close() {}
