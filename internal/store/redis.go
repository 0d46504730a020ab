package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradeagently/fund-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache over the replay inputs. Balances and positions are derived by
// replaying an owner's full transaction log, so the log itself is what gets
// cached, keyed per owner; every append invalidates it. Filters are applied
// in-process on the cached log.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendTransaction(ctx context.Context, tx *model.Transaction) error {
	if err := s.primary.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	s.rdb.Del(ctx, ledgerKey(tx.OwnerID))
	return nil
}

func (s *CachedStore) SetPaymentStatus(ctx context.Context, transactionID string, status model.PaymentStatus) error {
	if err := s.primary.SetPaymentStatus(ctx, transactionID, status); err != nil {
		return err
	}
	// The owner is unknown here, and a payment transition changes what
	// Balance replays to. Drop every cached log rather than serve a stale
	// uncredited deposit.
	iter := s.rdb.Scan(ctx, 0, "ledger:*", 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) TransactionsByOwner(ctx context.Context, ownerID string, filter TransactionFilter) ([]model.Transaction, error) {
	data, err := s.rdb.Get(ctx, ledgerKey(ownerID)).Bytes()
	if err == nil {
		var log []model.Transaction
		if json.Unmarshal(data, &log) == nil {
			return filterTransactions(log, filter), nil
		}
	}

	// Cache miss: load the owner's full log once, cache it, filter locally.
	log, err := s.primary.TransactionsByOwner(ctx, ownerID, TransactionFilter{})
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(log); err == nil {
		s.rdb.Set(ctx, ledgerKey(ownerID), data, s.ttl)
	}
	return filterTransactions(log, filter), nil
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(id), data, s.ttl)
	}
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) FindPendingPayment(ctx context.Context, paymentRef string) (*model.Transaction, error) {
	return s.primary.FindPendingPayment(ctx, paymentRef)
}

func (s *CachedStore) ListAlerts(ctx context.Context) ([]model.PriceAlert, error) {
	return s.primary.ListAlerts(ctx)
}

func (s *CachedStore) ListAlertsByUser(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return s.primary.ListAlertsByUser(ctx, userID)
}

func (s *CachedStore) CreateAlert(ctx context.Context, alert *model.PriceAlert) error {
	return s.primary.CreateAlert(ctx, alert)
}

func (s *CachedStore) DeleteAlert(ctx context.Context, alertID string) (bool, error) {
	return s.primary.DeleteAlert(ctx, alertID)
}

func (s *CachedStore) CreateAccount(ctx context.Context, account *model.Account) error {
	return s.primary.CreateAccount(ctx, account)
}

func (s *CachedStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	return s.primary.GetClient(ctx, id)
}

func (s *CachedStore) CreateClient(ctx context.Context, client *model.Client) error {
	return s.primary.CreateClient(ctx, client)
}

func (s *CachedStore) DeleteClient(ctx context.Context, id string) error {
	return s.primary.DeleteClient(ctx, id)
}

func (s *CachedStore) ListClients(ctx context.Context, managerID string) ([]model.Client, error) {
	return s.primary.ListClients(ctx, managerID)
}

// --- Cache helpers ---

func filterTransactions(log []model.Transaction, filter TransactionFilter) []model.Transaction {
	var result []model.Transaction
	for _, t := range log {
		if filter.Matches(t) {
			result = append(result, t)
		}
	}
	return result
}

func ledgerKey(ownerID string) string { return fmt.Sprintf("ledger:%s", ownerID) }
func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
