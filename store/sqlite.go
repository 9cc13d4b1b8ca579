package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/basedlink/basedlink-pay/logger"
	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/utils"
)

const defaultListLimit = 100

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, log logger.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// pragmas in the DSN apply to every pooled connection
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if log == nil {
		log = logger.NoopLogger{}
	}
	return &SQLiteStore{db: db, logger: log}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		wallet_address TEXT NOT NULL UNIQUE,
		username TEXT UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price_usd TEXT NOT NULL,
		recipient_address TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE RESTRICT,
		seller_id TEXT NOT NULL REFERENCES users(id),
		buyer_email TEXT NOT NULL DEFAULT '',
		buyer_wallet TEXT NOT NULL DEFAULT '',
		amount_usd TEXT NOT NULL,
		amount_usdc TEXT NOT NULL,
		transaction_hash TEXT NOT NULL UNIQUE,
		to_address TEXT NOT NULL,
		from_address TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		block_number INTEGER NOT NULL DEFAULT 0,
		confirmations INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_products_user ON products(user_id);
	CREATE INDEX IF NOT EXISTS idx_payments_seller ON payments(seller_id, created_at);
	DROP INDEX IF EXISTS idx_payments_status;
	CREATE INDEX IF NOT EXISTS idx_payments_pending ON payments(status, updated_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete", nil)
	return nil
}

// UpsertUser creates the user on first sign-in, keyed by wallet address,
// and refreshes the email on later ones.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *types.User) (*types.User, error) {
	wallet := utils.NormalizeAddress(user.WalletAddress)
	now := formatTime(time.Now())

	query := `
		INSERT INTO users (id, email, wallet_address, username, display_name, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?, ?)
		ON CONFLICT(wallet_address) DO UPDATE SET
			email = excluded.email,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		generateID(), strings.ToLower(user.Email), wallet, user.DisplayName, now, now)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateUser
	}
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return s.GetUserByWallet(ctx, wallet)
}

const userColumns = `id, email, wallet_address, COALESCE(username, ''), display_name, created_at, updated_at`

// GetUser retrieves a user by id
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByWallet retrieves a user by wallet address
func (s *SQLiteStore) GetUserByWallet(ctx context.Context, wallet string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE wallet_address = ?`, utils.NormalizeAddress(wallet))
	return scanUser(row)
}

// UpdateUserProfile updates the editable profile fields
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, id string, update types.ProfileUpdate) (*types.User, error) {
	var username, displayName any
	if update.Username != nil {
		username = strings.ToLower(*update.Username)
	}
	if update.DisplayName != nil {
		displayName = *update.DisplayName
	}

	query := `
		UPDATE users SET
			username = COALESCE(?, username),
			display_name = COALESCE(?, display_name),
			updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query, username, displayName, formatTime(time.Now()), id)
	if isUniqueViolation(err) {
		return nil, ErrDuplicateUser
	}
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

// CreateProduct creates a new product
func (s *SQLiteStore) CreateProduct(ctx context.Context, p *types.Product) error {
	if p.ID == "" {
		p.ID = generateID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.RecipientAddress = utils.NormalizeAddress(p.RecipientAddress)

	query := `
		INSERT INTO products (id, user_id, name, description, price_usd, recipient_address, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Name, p.Description, p.PriceUSD.String(), p.RecipientAddress, p.IsActive,
		formatTime(now), formatTime(now))
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("creating product: %w", err)
	}
	return nil
}

const productColumns = `id, user_id, name, description, price_usd, recipient_address, is_active, created_at, updated_at`

// GetProduct retrieves a product by id
func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

// ListProductsByUser lists a seller's products, newest first
func (s *SQLiteStore) ListProductsByUser(ctx context.Context, userID string) ([]types.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []types.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// UpdateProduct overwrites the mutable product fields
func (s *SQLiteStore) UpdateProduct(ctx context.Context, p *types.Product) error {
	p.UpdatedAt = time.Now().UTC()
	p.RecipientAddress = utils.NormalizeAddress(p.RecipientAddress)

	query := `
		UPDATE products SET
			name = ?, description = ?, price_usd = ?, recipient_address = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		p.Name, p.Description, p.PriceUSD.String(), p.RecipientAddress, p.IsActive, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("updating product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProduct deletes a product that has no payments
func (s *SQLiteStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if isForeignKeyViolation(err) {
		return ErrProductInUse
	}
	if err != nil {
		return fmt.Errorf("deleting product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePayment records a claimed payment
func (s *SQLiteStore) CreatePayment(ctx context.Context, p *types.Payment) error {
	if p.ID == "" {
		p.ID = generateID()
	}
	if p.Status == "" {
		p.Status = types.PaymentPending
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	p.TransactionHash = strings.ToLower(p.TransactionHash)
	p.ToAddress = utils.NormalizeAddress(p.ToAddress)

	query := `
		INSERT INTO payments (
			id, product_id, seller_id, buyer_email, buyer_wallet, amount_usd, amount_usdc,
			transaction_hash, to_address, from_address, status, failure_reason,
			block_number, confirmations, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.ProductID, p.SellerID, p.BuyerEmail, utils.NormalizeAddress(p.BuyerWallet),
		p.AmountUSD.String(), p.AmountUSDC.String(),
		p.TransactionHash, p.ToAddress, p.FromAddress, string(p.Status), string(p.FailureReason),
		int64(p.BlockNumber), int64(p.Confirmations), formatTime(now), formatTime(now))
	if isUniqueViolation(err) {
		return ErrDuplicateTransaction
	}
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("creating payment: %w", err)
	}
	return nil
}

const paymentColumns = `
	id, product_id, seller_id, buyer_email, buyer_wallet, amount_usd, amount_usdc,
	transaction_hash, to_address, from_address, status, failure_reason,
	block_number, confirmations, created_at, updated_at, completed_at`

// GetPayment retrieves a payment by id
func (s *SQLiteStore) GetPayment(ctx context.Context, id string) (*types.Payment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	return scanPayment(row)
}

// GetPaymentByTxHash retrieves a payment by transaction hash
func (s *SQLiteStore) GetPaymentByTxHash(ctx context.Context, txHash string) (*types.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_hash = ?`, strings.ToLower(txHash))
	return scanPayment(row)
}

// ListPaymentsBySeller lists a seller's payments, newest first
func (s *SQLiteStore) ListPaymentsBySeller(ctx context.Context, sellerID string, limit int) ([]types.Payment, error) {
	return s.listPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE seller_id = ? ORDER BY created_at DESC LIMIT ?`,
		sellerID, listLimit(limit))
}

// ListPendingPayments lists pending payments, least recently checked first.
// Every re-check bumps updated_at, so a payment that stays pending moves to
// the back of the queue.
func (s *SQLiteStore) ListPendingPayments(ctx context.Context, limit int) ([]types.Payment, error) {
	return s.listPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE status = ? ORDER BY updated_at ASC, created_at ASC LIMIT ?`,
		string(types.PaymentPending), listLimit(limit))
}

func (s *SQLiteStore) listPayments(ctx context.Context, query string, args ...any) ([]types.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []types.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// UpdatePaymentStatus implements Store.
func (s *SQLiteStore) UpdatePaymentStatus(ctx context.Context, id string, u types.PaymentUpdate) (*types.Payment, error) {
	now := formatTime(time.Now())

	var completedAt any
	if u.Status == types.PaymentCompleted {
		completedAt = now
	}

	query := `
		UPDATE payments SET
			status = ?,
			failure_reason = ?,
			from_address = COALESCE(NULLIF(?, ''), from_address),
			block_number = ?,
			confirmations = ?,
			updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		string(u.Status), string(u.FailureReason), utils.NormalizeAddress(u.FromAddress),
		int64(u.BlockNumber), int64(u.Confirmations), now, completedAt,
		id, string(types.PaymentPending))
	if err != nil {
		return nil, fmt.Errorf("updating payment: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetPayment(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotPending
	}

	s.logger.Debug("payment status updated", map[string]any{
		"payment_id": id,
		"status":     string(u.Status),
		"reason":     string(u.FailureReason),
	})
	return s.GetPayment(ctx, id)
}

// SellerStats counts a seller's payments per status and sums completed revenue
func (s *SQLiteStore) SellerStats(ctx context.Context, sellerID string) (*types.SellerStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, amount_usdc FROM payments WHERE seller_id = ?`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &types.SellerStats{RevenueUSDC: decimal.Zero}
	for rows.Next() {
		var status, amount string
		if err := rows.Scan(&status, &amount); err != nil {
			return nil, err
		}
		switch types.PaymentStatus(status) {
		case types.PaymentCompleted:
			stats.CompletedPayments++
			d, err := decimal.NewFromString(amount)
			if err != nil {
				return nil, fmt.Errorf("parsing stored amount %q: %w", amount, err)
			}
			stats.RevenueUSDC = stats.RevenueUSDC.Add(d)
		case types.PaymentPending:
			stats.PendingPayments++
		case types.PaymentFailed:
			stats.FailedPayments++
		}
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*types.User, error) {
	var (
		u                    types.User
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.Email, &u.WalletAddress, &u.Username, &u.DisplayName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanProduct(row rowScanner) (*types.Product, error) {
	var (
		p                           types.Product
		price, createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Description, &price, &p.RecipientAddress,
		&p.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.PriceUSD, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parsing stored price %q: %w", price, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPayment(row rowScanner) (*types.Payment, error) {
	var (
		p                                     types.Payment
		amountUSD, amountUSDC, status, reason string
		createdAt, updatedAt                  string
		blockNumber, confirmations            int64
		completedAt                           sql.NullString
	)
	err := row.Scan(&p.ID, &p.ProductID, &p.SellerID, &p.BuyerEmail, &p.BuyerWallet, &amountUSD, &amountUSDC,
		&p.TransactionHash, &p.ToAddress, &p.FromAddress, &status, &reason,
		&blockNumber, &confirmations, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Status = types.PaymentStatus(status)
	p.FailureReason = types.FailureReason(reason)
	p.BlockNumber = uint64(blockNumber)
	p.Confirmations = uint64(confirmations)

	if p.AmountUSD, err = decimal.NewFromString(amountUSD); err != nil {
		return nil, fmt.Errorf("parsing stored amount %q: %w", amountUSD, err)
	}
	if p.AmountUSDC, err = decimal.NewFromString(amountUSDC); err != nil {
		return nil, fmt.Errorf("parsing stored amount %q: %w", amountUSDC, err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		p.CompletedAt = &t
	}
	return &p, nil
}

func generateID() string {
	return uuid.New().String()
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

// fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
