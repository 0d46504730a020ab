package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, t *model.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions
		   (id, owner_id, client_id, market, transaction_type, ticker_symbol,
		    asset_quantity, asset_value, usd_quantity, unix_timestamp,
		    payment_ref, payment_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		t.ID, t.OwnerID, t.ClientID, string(t.Market), string(t.Type), t.Ticker,
		t.AssetQuantity.String(), t.AssetValue.String(), t.USDQuantity.String(),
		t.Timestamp, t.PaymentRef, string(t.PaymentStatus),
	)
	return err
}

const transactionColumns = `id, owner_id, client_id, market, transaction_type, ticker_symbol,
	asset_quantity::TEXT, asset_value::TEXT, usd_quantity::TEXT, unix_timestamp,
	payment_ref, payment_status`

func (s *PostgresStore) TransactionsByOwner(ctx context.Context, ownerID string, filter TransactionFilter) ([]model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = $1`
	args := []any{ownerID}

	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if filter.Market != "" {
		args = append(args, string(filter.Market))
		query += fmt.Sprintf(" AND market = $%d", len(args))
	}
	if filter.Ticker != "" {
		args = append(args, filter.Ticker)
		query += fmt.Sprintf(" AND ticker_symbol = $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (s *PostgresStore) FindPendingPayment(ctx context.Context, paymentRef string) (*model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE payment_ref = $1 AND payment_status = 'pending'
		 LIMIT 1`, paymentRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, ErrNotFound
	}
	return &txs[0], nil
}

func (s *PostgresStore) SetPaymentStatus(ctx context.Context, transactionID string, status model.PaymentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET payment_status = $2 WHERE id = $1`,
		transactionID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market, ticker, target_price::TEXT FROM price_alerts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func (s *PostgresStore) ListAlertsByUser(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market, ticker, target_price::TEXT
		 FROM price_alerts WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.PriceAlert) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_alerts (id, user_id, market, ticker, target_price)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC)`,
		a.ID, a.UserID, string(a.Market), a.Ticker, a.TargetPrice.String())
	return err
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, alertID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_alerts WHERE id = $1`, alertID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	var role string

	err := s.pool.QueryRow(ctx,
		`SELECT id, email, user_type FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Email, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	a.Role = model.Role(role)
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, user_type) VALUES ($1, $2, $3)`,
		a.ID, a.Email, string(a.Role))
	return err
}

func (s *PostgresStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	var c model.Client

	err := s.pool.QueryRow(ctx,
		`SELECT id, manager_id, client_name FROM clients WHERE id = $1`, id).
		Scan(&c.ID, &c.ManagerID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateClient(ctx context.Context, c *model.Client) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clients (id, manager_id, client_name) VALUES ($1, $2, $3)`,
		c.ID, c.ManagerID, c.Name)
	return err
}

func (s *PostgresStore) DeleteClient(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListClients(ctx context.Context, managerID string) ([]model.Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, manager_id, client_name FROM clients WHERE manager_id = $1`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.ManagerID, &c.Name); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// pgxRows is the subset of pgx.Rows the scan helpers need.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var market, txType, payStatus string
		var qtyS, valS, usdS string

		if err := rows.Scan(&t.ID, &t.OwnerID, &t.ClientID, &market, &txType, &t.Ticker,
			&qtyS, &valS, &usdS, &t.Timestamp,
			&t.PaymentRef, &payStatus); err != nil {
			return nil, err
		}

		t.Market = model.Market(market)
		t.Type = model.TransactionType(txType)
		t.PaymentStatus = model.PaymentStatus(payStatus)
		t.AssetQuantity, _ = decimal.NewFromString(qtyS)
		t.AssetValue, _ = decimal.NewFromString(valS)
		t.USDQuantity, _ = decimal.NewFromString(usdS)

		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanAlerts(rows pgxRows) ([]model.PriceAlert, error) {
	var alerts []model.PriceAlert
	for rows.Next() {
		var a model.PriceAlert
		var market, priceS string

		if err := rows.Scan(&a.ID, &a.UserID, &market, &a.Ticker, &priceS); err != nil {
			return nil, err
		}

		a.Market = model.Market(market)
		a.TargetPrice, _ = decimal.NewFromString(priceS)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
