// Package store persists sellers, their products and payment records.
package store

import (
	"context"

	"github.com/basedlink/basedlink-pay/types"
)

// Store is the persistence interface used by the payment service.
type Store interface {
	// Users
	UpsertUser(ctx context.Context, user *types.User) (*types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (*types.User, error)
	UpdateUserProfile(ctx context.Context, id string, update types.ProfileUpdate) (*types.User, error)

	// Products
	CreateProduct(ctx context.Context, product *types.Product) error
	GetProduct(ctx context.Context, id string) (*types.Product, error)
	ListProductsByUser(ctx context.Context, userID string) ([]types.Product, error)
	UpdateProduct(ctx context.Context, product *types.Product) error
	DeleteProduct(ctx context.Context, id string) error

	// Payments
	CreatePayment(ctx context.Context, payment *types.Payment) error
	GetPayment(ctx context.Context, id string) (*types.Payment, error)
	GetPaymentByTxHash(ctx context.Context, txHash string) (*types.Payment, error)
	ListPaymentsBySeller(ctx context.Context, sellerID string, limit int) ([]types.Payment, error)
	ListPendingPayments(ctx context.Context, limit int) ([]types.Payment, error)
	// UpdatePaymentStatus applies a verdict to a payment that is still
	// pending and returns ErrNotPending otherwise.
	UpdatePaymentStatus(ctx context.Context, id string, update types.PaymentUpdate) (*types.Payment, error)
	SellerStats(ctx context.Context, sellerID string) (*types.SellerStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
