// Package payments ties products, payment records and on-chain verification
// together.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/metrics"
	"github.com/basedlink/basedlink-pay/notify"
	"github.com/basedlink/basedlink-pay/store"
	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/utils"
	"github.com/basedlink/basedlink-pay/verification"
)

// DefaultMinConfirmations is used when no confirmation depth is configured.
const DefaultMinConfirmations = 3

// ProductInput is the seller-editable part of a product.
type ProductInput struct {
	Name             string          `json:"name" validate:"required,max=120"`
	Description      string          `json:"description" validate:"max=2000"`
	PriceUSD         decimal.Decimal `json:"priceUsd" validate:"usdcamount"`
	RecipientAddress string          `json:"recipientAddress" validate:"required,evmaddress"`
	IsActive         *bool           `json:"isActive,omitempty"`
}

// CreatePaymentInput is what a buyer submits after sending the transfer.
type CreatePaymentInput struct {
	ProductID       string `json:"productId" validate:"required"`
	TransactionHash string `json:"transactionHash" validate:"required,txhash"`
	BuyerEmail      string `json:"buyerEmail" validate:"omitempty,email"`
	BuyerWallet     string `json:"buyerWallet" validate:"omitempty,evmaddress"`
}

// Identity is the authenticated seller behind a request.
type Identity struct {
	Email         string
	WalletAddress string
}

// ConfirmResult is the outcome of confirming one payment.
type ConfirmResult struct {
	Payment *types.Payment            `json:"payment"`
	Verdict *types.VerificationResult `json:"verification,omitempty"`
}

// ReconcileSummary counts what one reconciliation pass did.
type ReconcileSummary struct {
	Checked      int `json:"checked"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	StillPending int `json:"stillPending"`
	Errors       int `json:"errors"`
}

// Service implements the seller and buyer payment operations.
type Service struct {
	store            store.Store
	verifier         verification.Verifier
	publisher        notify.Publisher
	logger           logger.Logger
	metrics          metrics.Recorder
	network          types.Network
	minConfirmations uint64
}

type Option func(*Service)

func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

func WithPublisher(p notify.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithNetwork(n types.Network) Option {
	return func(s *Service) {
		s.network = n
	}
}

func WithMinConfirmations(n uint64) Option {
	return func(s *Service) {
		s.minConfirmations = n
	}
}

// NewService creates a payment service
func NewService(st store.Store, verifier verification.Verifier, opts ...Option) *Service {
	s := &Service{
		store:            st,
		verifier:         verifier,
		publisher:        notify.NoopPublisher{},
		logger:           logger.NoopLogger{},
		metrics:          metrics.NoopRecorder{},
		minConfirmations: DefaultMinConfirmations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SyncUser records the signed-in seller, creating them on first sight.
func (s *Service) SyncUser(ctx context.Context, id Identity) (*types.User, error) {
	if !utils.IsValidAddress(id.WalletAddress) {
		return nil, invalid("session wallet address is malformed")
	}
	user, err := s.store.UpsertUser(ctx, &types.User{Email: id.Email, WalletAddress: id.WalletAddress})
	if err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

// CurrentUser returns the seller for an authenticated wallet.
func (s *Service) CurrentUser(ctx context.Context, id Identity) (*types.User, error) {
	user, err := s.store.GetUserByWallet(ctx, id.WalletAddress)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return user, nil
}

// UpdateProfile changes the seller's username or display name.
func (s *Service) UpdateProfile(ctx context.Context, id Identity, update types.ProfileUpdate) (*types.User, error) {
	if err := utils.ValidateStruct(update); err != nil {
		return nil, err
	}
	user, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateUserProfile(ctx, user.ID, update)
	if err != nil {
		return nil, storeError(err, "user")
	}
	return updated, nil
}

// CreateProduct creates a payment link owned by the seller.
func (s *Service) CreateProduct(ctx context.Context, id Identity, in ProductInput) (*types.Product, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	if !in.PriceUSD.IsPositive() {
		return nil, invalid("price must be greater than zero")
	}

	user, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}

	product := &types.Product{
		UserID:           user.ID,
		Name:             strings.TrimSpace(in.Name),
		Description:      in.Description,
		PriceUSD:         in.PriceUSD,
		RecipientAddress: in.RecipientAddress,
		IsActive:         in.IsActive == nil || *in.IsActive,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, storeError(err, "product")
	}

	s.logger.Info("product created", map[string]any{
		"product_id": product.ID,
		"seller_id":  user.ID,
		"price":      product.PriceUSD.String(),
	})
	return product, nil
}

// GetProduct returns a product by id. Anyone holding the link may read it.
func (s *Service) GetProduct(ctx context.Context, productID string) (*types.Product, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, storeError(err, "product")
	}
	return product, nil
}

// ListProducts lists the seller's own products.
func (s *Service) ListProducts(ctx context.Context, id Identity) ([]types.Product, error) {
	user, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	products, err := s.store.ListProductsByUser(ctx, user.ID)
	if err != nil {
		return nil, storeError(err, "product")
	}
	return products, nil
}

// UpdateProduct replaces the editable fields of a product the seller owns.
func (s *Service) UpdateProduct(ctx context.Context, id Identity, productID string, in ProductInput) (*types.Product, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	if !in.PriceUSD.IsPositive() {
		return nil, invalid("price must be greater than zero")
	}

	product, err := s.ownedProduct(ctx, id, productID)
	if err != nil {
		return nil, err
	}

	product.Name = strings.TrimSpace(in.Name)
	product.Description = in.Description
	product.PriceUSD = in.PriceUSD
	product.RecipientAddress = in.RecipientAddress
	if in.IsActive != nil {
		product.IsActive = *in.IsActive
	}

	if err := s.store.UpdateProduct(ctx, product); err != nil {
		return nil, storeError(err, "product")
	}
	return product, nil
}

// DeleteProduct removes a product the seller owns. Products with payments
// must be deactivated instead.
func (s *Service) DeleteProduct(ctx context.Context, id Identity, productID string) error {
	if _, err := s.ownedProduct(ctx, id, productID); err != nil {
		return err
	}
	if err := s.store.DeleteProduct(ctx, productID); err != nil {
		return storeError(err, "product")
	}
	return nil
}

func (s *Service) ownedProduct(ctx context.Context, id Identity, productID string) (*types.Product, error) {
	user, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.UserID != user.ID {
		return nil, &types.PaylinkError{
			Code:    types.ErrForbidden,
			Message: "product belongs to another seller",
		}
	}
	return product, nil
}

// CreatePayment records a buyer's claimed transfer for a product. The amount
// and recipient come from the product, never from the buyer.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*types.Payment, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	product, err := s.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, invalid("product is not accepting payments")
	}

	payment := &types.Payment{
		ProductID:       product.ID,
		SellerID:        product.UserID,
		BuyerEmail:      strings.ToLower(strings.TrimSpace(in.BuyerEmail)),
		BuyerWallet:     in.BuyerWallet,
		AmountUSD:       product.PriceUSD,
		AmountUSDC:      product.PriceUSDC(),
		TransactionHash: in.TransactionHash,
		ToAddress:       product.RecipientAddress,
		Status:          types.PaymentPending,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, storeError(err, "payment")
	}

	s.metrics.IncCounter("payment_created", s.labels(""))
	s.logger.Info("payment recorded", map[string]any{
		"payment_id": payment.ID,
		"product_id": product.ID,
		"tx_hash":    payment.TransactionHash,
		"amount":     payment.AmountUSDC.String(),
	})
	return payment, nil
}

// GetPayment returns a payment by id.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*types.Payment, error) {
	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	return payment, nil
}

// ListPayments lists the seller's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, id Identity, limit int) ([]types.Payment, error) {
	user, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPaymentsBySeller(ctx, user.ID, limit)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	return payments, nil
}

// Stats summarises the seller's payments.
func (s *Service) Stats(ctx context.Context, id Identity) (*types.SellerStats, error) {
	user, err := s.CurrentUser(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.store.SellerStats(ctx, user.ID)
	if err != nil {
		return nil, storeError(err, "payment")
	}
	return stats, nil
}

// ConfirmPayment verifies a pending payment on chain and records the verdict.
//
// A valid transfer completes the payment. A rejection that can still change
// (not mined yet, too few confirmations) leaves it pending. Any other
// rejection fails it. When the chain cannot be reached the payment is left
// untouched and a VERIFICATION_INCONCLUSIVE error is returned.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID string) (*ConfirmResult, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != types.PaymentPending {
		return &ConfirmResult{Payment: payment}, nil
	}

	verdict, err := s.verifier.VerifyTokenTransfer(ctx, types.VerificationRequest{
		TransactionHash:      payment.TransactionHash,
		ExpectedAmount:       payment.AmountUSDC,
		ExpectedRecipient:    payment.ToAddress,
		MinimumConfirmations: s.minConfirmations,
	})
	if err != nil {
		s.metrics.IncCounter("payment_confirm", s.labels("inconclusive"))
		if types.IsInconclusive(err) {
			return nil, &types.PaylinkError{
				Code:    types.ErrVerificationInconclusive,
				Message: "could not reach the chain to verify this payment, try again",
				Err:     err,
			}
		}
		return nil, err
	}

	update := types.PaymentUpdate{
		BlockNumber:   verdict.BlockNumber,
		Confirmations: verdict.Confirmations,
	}
	switch {
	case verdict.IsValid:
		update.Status = types.PaymentCompleted
		update.FromAddress = verdict.Sender
	case verdict.InvalidReason.Retryable():
		update.Status = types.PaymentPending
	default:
		update.Status = types.PaymentFailed
		update.FailureReason = verdict.InvalidReason
	}

	updated, err := s.store.UpdatePaymentStatus(ctx, payment.ID, update)
	if errors.Is(err, store.ErrNotPending) {
		// another confirmation settled it first
		current, getErr := s.GetPayment(ctx, payment.ID)
		if getErr != nil {
			return nil, getErr
		}
		return &ConfirmResult{Payment: current, Verdict: verdict}, nil
	}
	if err != nil {
		return nil, storeError(err, "payment")
	}

	s.metrics.IncCounter("payment_confirm", s.labels(string(updated.Status)))
	fields := map[string]any{
		"payment_id":    updated.ID,
		"tx_hash":       updated.TransactionHash,
		"status":        string(updated.Status),
		"confirmations": verdict.Confirmations,
	}
	if verdict.InvalidReason != "" {
		fields["reason"] = verdict.InvalidReason.String()
	}
	s.logger.Info("payment confirmation processed", fields)

	if updated.Status == types.PaymentCompleted {
		s.publishCompleted(ctx, updated)
	}
	return &ConfirmResult{Payment: updated, Verdict: verdict}, nil
}

func (s *Service) publishCompleted(ctx context.Context, p *types.Payment) {
	completedAt := time.Now().UTC()
	if p.CompletedAt != nil {
		completedAt = *p.CompletedAt
	}
	event := notify.PaymentCompletedEvent{
		PaymentID:       p.ID,
		ProductID:       p.ProductID,
		SellerID:        p.SellerID,
		TransactionHash: p.TransactionHash,
		AmountUSDC:      p.AmountUSDC,
		FromAddress:     p.FromAddress,
		ToAddress:       p.ToAddress,
		BlockNumber:     p.BlockNumber,
		Network:         s.network.String(),
		CompletedAt:     completedAt,
	}
	// the payment is already completed; a lost event is logged, not retried
	if err := s.publisher.PublishPaymentCompleted(ctx, event); err != nil {
		s.logger.Warn("failed to publish payment completed event", map[string]any{
			"payment_id": p.ID,
			"error":      err,
		})
	}
}

// ReconcilePending confirms up to limit pending payments, least recently
// checked first.
// Inconclusive payments are counted and skipped.
func (s *Service) ReconcilePending(ctx context.Context, limit int) (*ReconcileSummary, error) {
	pending, err := s.store.ListPendingPayments(ctx, limit)
	if err != nil {
		return nil, storeError(err, "payment")
	}

	summary := &ReconcileSummary{}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++

		res, err := s.ConfirmPayment(ctx, p.ID)
		if err != nil {
			summary.Errors++
			s.logger.Warn("reconcile: payment left pending", map[string]any{
				"payment_id": p.ID,
				"error":      err,
			})
			continue
		}
		switch res.Payment.Status {
		case types.PaymentCompleted:
			summary.Completed++
		case types.PaymentFailed:
			summary.Failed++
		default:
			summary.StillPending++
		}
	}
	return summary, nil
}

func (s *Service) labels(outcome string) map[string]string {
	return map[string]string{"network": s.network.String(), "outcome": outcome}
}

func invalid(msg string) error {
	return &types.PaylinkError{Code: types.ErrInvalidRequest, Message: msg}
}

// storeError translates storage sentinels into API error codes.
func storeError(err error, entity string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &types.PaylinkError{Code: types.ErrNotFound, Message: entity + " not found", Err: err}
	case errors.Is(err, store.ErrDuplicateTransaction):
		return &types.PaylinkError{Code: types.ErrConflict, Message: "transaction hash has already been submitted", Err: err}
	case errors.Is(err, store.ErrDuplicateUser):
		return &types.PaylinkError{Code: types.ErrConflict, Message: "email or username is already taken", Err: err}
	case errors.Is(err, store.ErrProductInUse):
		return &types.PaylinkError{Code: types.ErrConflict, Message: "product has payments; deactivate it instead", Err: err}
	case errors.Is(err, store.ErrNotPending):
		return &types.PaylinkError{Code: types.ErrConflict, Message: "payment is already settled", Err: err}
	default:
		return fmt.Errorf("%s store: %w", entity, err)
	}
}
