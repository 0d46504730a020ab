package store

import (
	"context"
	"sync"

	"github.com/tradeagently/fund-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	ledger   []model.Transaction
	alerts   map[string]*model.PriceAlert
	accounts map[string]*model.Account
	clients  map[string]*model.Client
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:   make(map[string]*model.PriceAlert),
		accounts: make(map[string]*model.Account),
		clients:  make(map[string]*model.Client),
	}
}

func (s *MemoryStore) AppendTransaction(_ context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *tx)
	return nil
}

func (s *MemoryStore) TransactionsByOwner(_ context.Context, ownerID string, filter TransactionFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.ledger {
		if t.OwnerID == ownerID && filter.Matches(t) {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) FindPendingPayment(_ context.Context, paymentRef string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.ledger {
		t := s.ledger[i]
		if t.PaymentRef == paymentRef && t.PaymentStatus == model.PaymentPending {
			copy := t
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetPaymentStatus(_ context.Context, transactionID string, status model.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.ledger {
		if s.ledger[i].ID == transactionID {
			s.ledger[i].PaymentStatus = status
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListAlerts(_ context.Context) ([]model.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := make([]model.PriceAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		alerts = append(alerts, *a)
	}
	return alerts, nil
}

func (s *MemoryStore) ListAlertsByUser(_ context.Context, userID string) ([]model.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var alerts []model.PriceAlert
	for _, a := range s.alerts {
		if a.UserID == userID {
			alerts = append(alerts, *a)
		}
	}
	return alerts, nil
}

func (s *MemoryStore) CreateAlert(_ context.Context, alert *model.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *alert
	s.alerts[alert.ID] = &copy
	return nil
}

func (s *MemoryStore) DeleteAlert(_ context.Context, alertID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[alertID]; !ok {
		return false, nil
	}
	delete(s.alerts, alertID)
	return true, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, account *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *account
	s.accounts[account.ID] = &copy
	return nil
}

func (s *MemoryStore) GetClient(_ context.Context, id string) (*model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *c
	return &copy, nil
}

func (s *MemoryStore) CreateClient(_ context.Context, client *model.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *client
	s.clients[client.ID] = &copy
	return nil
}

func (s *MemoryStore) DeleteClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[id]; !ok {
		return ErrNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *MemoryStore) ListClients(_ context.Context, managerID string) ([]model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clients []model.Client
	for _, c := range s.clients {
		if c.ManagerID == managerID {
			clients = append(clients, *c)
		}
	}
	return clients, nil
}
