package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedlink/basedlink-pay/types"
)

const (
	sellerWallet = "0x384Aa214be0B279cbf211e9b2C992d8633F77848"
	buyerWallet  = "0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1"
	hashA        = "0xAAAA000000000000000000000000000000000000000000000000000000000001"
	hashB        = "0xbbbb000000000000000000000000000000000000000000000000000000000002"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedSeller(t *testing.T, s *SQLiteStore) (*types.User, *types.Product) {
	t.Helper()
	ctx := context.Background()

	user, err := s.UpsertUser(ctx, &types.User{Email: "Seller@Example.com", WalletAddress: sellerWallet})
	require.NoError(t, err)

	product := &types.Product{
		UserID:           user.ID,
		Name:             "Design consult",
		PriceUSD:         decimal.RequireFromString("9.99"),
		RecipientAddress: sellerWallet,
		IsActive:         true,
	}
	require.NoError(t, s.CreateProduct(ctx, product))
	return user, product
}

func newPayment(user *types.User, product *types.Product, hash string) *types.Payment {
	return &types.Payment{
		ProductID:       product.ID,
		SellerID:        user.ID,
		BuyerEmail:      "buyer@example.com",
		AmountUSD:       product.PriceUSD,
		AmountUSDC:      product.PriceUSDC(),
		TransactionHash: hash,
		ToAddress:       product.RecipientAddress,
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertUser(ctx, &types.User{Email: "Seller@Example.com", WalletAddress: sellerWallet})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "seller@example.com", first.Email)
	assert.Equal(t, "0x384aa214be0b279cbf211e9b2c992d8633f77848", first.WalletAddress)

	t.Run("upsert keeps identity", func(t *testing.T) {
		again, err := s.UpsertUser(ctx, &types.User{Email: "new@example.com", WalletAddress: sellerWallet})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, "new@example.com", again.Email)
	})

	t.Run("email belongs to another wallet", func(t *testing.T) {
		_, err := s.UpsertUser(ctx, &types.User{Email: "new@example.com", WalletAddress: buyerWallet})
		assert.ErrorIs(t, err, ErrDuplicateUser)
	})

	t.Run("lookup by wallet ignores case", func(t *testing.T) {
		got, err := s.GetUserByWallet(ctx, "0x384AA214BE0B279CBF211E9B2C992D8633F77848")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("update profile", func(t *testing.T) {
		username := "Studio"
		got, err := s.UpdateUserProfile(ctx, first.ID, types.ProfileUpdate{Username: &username})
		require.NoError(t, err)
		assert.Equal(t, "studio", got.Username)
		assert.Empty(t, got.DisplayName)

		display := "The Studio"
		got, err = s.UpdateUserProfile(ctx, first.ID, types.ProfileUpdate{DisplayName: &display})
		require.NoError(t, err)
		assert.Equal(t, "studio", got.Username)
		assert.Equal(t, "The Studio", got.DisplayName)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.GetUser(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.UpdateUserProfile(ctx, "nope", types.ProfileUpdate{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestProducts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, product := seedSeller(t, s)

	got, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Design consult", got.Name)
	assert.True(t, got.PriceUSD.Equal(decimal.RequireFromString("9.99")))
	assert.True(t, got.IsActive)
	assert.Equal(t, "0x384aa214be0b279cbf211e9b2c992d8633f77848", got.RecipientAddress)

	got.Name = "Design review"
	got.IsActive = false
	require.NoError(t, s.UpdateProduct(ctx, got))

	list, err := s.ListProductsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Design review", list[0].Name)
	assert.False(t, list[0].IsActive)

	assert.ErrorIs(t, s.UpdateProduct(ctx, &types.Product{ID: "nope"}), ErrNotFound)
	assert.ErrorIs(t, s.CreateProduct(ctx, &types.Product{UserID: "ghost", PriceUSD: decimal.Zero}), ErrNotFound)

	require.NoError(t, s.DeleteProduct(ctx, product.ID))
	_, err = s.GetProduct(ctx, product.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteProduct(ctx, product.ID), ErrNotFound)
}

func TestDeleteProductWithPayments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, product := seedSeller(t, s)

	require.NoError(t, s.CreatePayment(ctx, newPayment(user, product, hashA)))
	assert.ErrorIs(t, s.DeleteProduct(ctx, product.ID), ErrProductInUse)
}

func TestPayments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, product := seedSeller(t, s)

	p := newPayment(user, product, hashA)
	require.NoError(t, s.CreatePayment(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, types.PaymentPending, p.Status)

	t.Run("duplicate hash in any case", func(t *testing.T) {
		dup := newPayment(user, product, "0xaaaa000000000000000000000000000000000000000000000000000000000001")
		assert.ErrorIs(t, s.CreatePayment(ctx, dup), ErrDuplicateTransaction)
	})

	t.Run("get by hash", func(t *testing.T) {
		got, err := s.GetPaymentByTxHash(ctx, hashA)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.True(t, got.AmountUSDC.Equal(decimal.RequireFromString("9.99")))
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("pending list", func(t *testing.T) {
		require.NoError(t, s.CreatePayment(ctx, newPayment(user, product, hashB)))
		pending, err := s.ListPendingPayments(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
	})

	t.Run("pending update keeps status", func(t *testing.T) {
		got, err := s.UpdatePaymentStatus(ctx, p.ID, types.PaymentUpdate{
			Status:        types.PaymentPending,
			BlockNumber:   100,
			Confirmations: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, types.PaymentPending, got.Status)
		assert.Equal(t, uint64(1), got.Confirmations)
	})

	t.Run("complete", func(t *testing.T) {
		got, err := s.UpdatePaymentStatus(ctx, p.ID, types.PaymentUpdate{
			Status:        types.PaymentCompleted,
			FromAddress:   buyerWallet,
			BlockNumber:   100,
			Confirmations: 4,
		})
		require.NoError(t, err)
		assert.Equal(t, types.PaymentCompleted, got.Status)
		assert.Equal(t, uint64(100), got.BlockNumber)
		assert.Equal(t, "0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1", got.FromAddress)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		_, err := s.UpdatePaymentStatus(ctx, p.ID, types.PaymentUpdate{
			Status:        types.PaymentFailed,
			FailureReason: types.ReasonAmountMismatch,
		})
		assert.ErrorIs(t, err, ErrNotPending)

		_, err = s.UpdatePaymentStatus(ctx, "nope", types.PaymentUpdate{Status: types.PaymentFailed})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("fail", func(t *testing.T) {
		other, err := s.GetPaymentByTxHash(ctx, hashB)
		require.NoError(t, err)
		got, err := s.UpdatePaymentStatus(ctx, other.ID, types.PaymentUpdate{
			Status:        types.PaymentFailed,
			FailureReason: types.ReasonNoMatchingTransfer,
		})
		require.NoError(t, err)
		assert.Equal(t, types.ReasonNoMatchingTransfer, got.FailureReason)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("seller views", func(t *testing.T) {
		list, err := s.ListPaymentsBySeller(ctx, user.ID, 0)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		pending, err := s.ListPendingPayments(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)

		stats, err := s.SellerStats(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.CompletedPayments)
		assert.Equal(t, 1, stats.FailedPayments)
		assert.Equal(t, 0, stats.PendingPayments)
		assert.True(t, stats.RevenueUSDC.Equal(decimal.RequireFromString("9.99")))
	})
}

func TestListPendingPayments_LeastRecentlyChecked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user, product := seedSeller(t, s)

	first := newPayment(user, product, hashA)
	require.NoError(t, s.CreatePayment(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := newPayment(user, product, hashB)
	require.NoError(t, s.CreatePayment(ctx, second))

	pending, err := s.ListPendingPayments(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	time.Sleep(2 * time.Millisecond)
	_, err = s.UpdatePaymentStatus(ctx, first.ID, types.PaymentUpdate{Status: types.PaymentPending})
	require.NoError(t, err)

	pending, err = s.ListPendingPayments(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, first.ID, pending[1].ID)
}

func TestSellerStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.SellerStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, stats.CompletedPayments)
	assert.True(t, stats.RevenueUSDC.IsZero())
}
