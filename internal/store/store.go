// Package store defines the persistence interface for the fund engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/tradeagently/fund-engine/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// TransactionFilter narrows a transaction-log query. Zero-valued fields
// match everything.
type TransactionFilter struct {
	ClientID string
	Market   model.Market
	Ticker   string
}

// Matches reports whether a transaction passes the filter.
func (f TransactionFilter) Matches(t model.Transaction) bool {
	if f.ClientID != "" && t.ClientID != f.ClientID {
		return false
	}
	if f.Market != "" && t.Market != f.Market {
		return false
	}
	if f.Ticker != "" && t.Ticker != f.Ticker {
		return false
	}
	return true
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer over the replay inputs.
type Store interface {
	// --- Immutable transaction log ---

	// AppendTransaction appends an immutable ledger record.
	AppendTransaction(ctx context.Context, tx *model.Transaction) error

	// TransactionsByOwner returns all transactions in an owner's log that
	// pass the filter. Order is not guaranteed; callers sort if needed.
	TransactionsByOwner(ctx context.Context, ownerID string, filter TransactionFilter) ([]model.Transaction, error)

	// FindPendingPayment returns the first pending currency deposit with
	// the given external payment reference, or ErrNotFound.
	FindPendingPayment(ctx context.Context, paymentRef string) (*model.Transaction, error)

	// SetPaymentStatus transitions a staged deposit's payment status.
	// The only permitted mutation of a ledger record.
	SetPaymentStatus(ctx context.Context, transactionID string, status model.PaymentStatus) error

	// --- Price alerts ---

	// ListAlerts returns every active alert.
	ListAlerts(ctx context.Context) ([]model.PriceAlert, error)

	// ListAlertsByUser returns the active alerts owned by one user.
	ListAlertsByUser(ctx context.Context, userID string) ([]model.PriceAlert, error)

	// CreateAlert persists a new alert.
	CreateAlert(ctx context.Context, alert *model.PriceAlert) error

	// DeleteAlert removes an alert, reporting whether it existed. Safe to
	// call twice; the second call reports false.
	DeleteAlert(ctx context.Context, alertID string) (bool, error)

	// --- Accounts and managed clients ---

	// GetAccount retrieves an account by id, or ErrNotFound.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetClient retrieves a managed client by id, or ErrNotFound.
	GetClient(ctx context.Context, id string) (*model.Client, error)

	// CreateClient persists a new managed client.
	CreateClient(ctx context.Context, client *model.Client) error

	// DeleteClient removes a managed client.
	DeleteClient(ctx context.Context, id string) error

	// ListClients returns the clients managed by one fund manager.
	ListClients(ctx context.Context, managerID string) ([]model.Client, error)
}
