package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/store"
)

func seedTransactions(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	txs := []model.Transaction{
		{ID: "t1", OwnerID: "o1", ClientID: "o1", Market: model.MarketStocks, Type: model.TypePurchase, Ticker: "AAPL"},
		{ID: "t2", OwnerID: "o1", ClientID: "c1", Market: model.MarketStocks, Type: model.TypePurchase, Ticker: "MSFT"},
		{ID: "t3", OwnerID: "o1", ClientID: "o1", Market: model.MarketCrypto, Type: model.TypeSell, Ticker: "BTC"},
		{ID: "t4", OwnerID: "o2", ClientID: "o2", Market: model.MarketStocks, Type: model.TypePurchase, Ticker: "AAPL"},
	}
	for i := range txs {
		if err := s.AppendTransaction(context.Background(), &txs[i]); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
}

func TestTransactionsByOwner_Filtering(t *testing.T) {
	s := store.NewMemoryStore()
	seedTransactions(t, s)

	tests := []struct {
		name    string
		owner   string
		filter  store.TransactionFilter
		wantIDs []string
	}{
		{"no filter returns whole log", "o1", store.TransactionFilter{}, []string{"t1", "t2", "t3"}},
		{"client filter", "o1", store.TransactionFilter{ClientID: "c1"}, []string{"t2"}},
		{"market filter", "o1", store.TransactionFilter{Market: model.MarketStocks}, []string{"t1", "t2"}},
		{"ticker filter", "o1", store.TransactionFilter{Ticker: "BTC"}, []string{"t3"}},
		{"combined filter", "o1", store.TransactionFilter{ClientID: "o1", Market: model.MarketStocks, Ticker: "AAPL"}, []string{"t1"}},
		{"other owner's log invisible", "o2", store.TransactionFilter{}, []string{"t4"}},
		{"no matches", "o1", store.TransactionFilter{Ticker: "TSLA"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := s.TransactionsByOwner(context.Background(), tt.owner, tt.filter)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if len(txs) != len(tt.wantIDs) {
				t.Fatalf("expected %d transactions, got %d", len(tt.wantIDs), len(txs))
			}
			for i, id := range tt.wantIDs {
				if txs[i].ID != id {
					t.Errorf("index %d: expected %s, got %s", i, id, txs[i].ID)
				}
			}
		})
	}
}

func TestFindPendingPayment(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	pending := &model.Transaction{
		ID:            "t1",
		OwnerID:       "o1",
		ClientID:      "o1",
		Market:        model.MarketCurrency,
		Type:          model.TypePurchase,
		Ticker:        model.CashTicker,
		AssetQuantity: decimal.NewFromInt(500),
		PaymentRef:    "pi_1",
		PaymentStatus: model.PaymentPending,
	}
	if err := s.AppendTransaction(ctx, pending); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	found, err := s.FindPendingPayment(ctx, "pi_1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found.ID != "t1" {
		t.Errorf("expected t1, got %s", found.ID)
	}

	if _, err := s.FindPendingPayment(ctx, "pi_unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// After resolution the reference no longer matches as pending.
	if err := s.SetPaymentStatus(ctx, "t1", model.PaymentSucceeded); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	if _, err := s.FindPendingPayment(ctx, "pi_1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after resolution, got %v", err)
	}

	txs, _ := s.TransactionsByOwner(ctx, "o1", store.TransactionFilter{})
	if len(txs) != 1 || txs[0].PaymentStatus != model.PaymentSucceeded {
		t.Errorf("status transition not persisted: %+v", txs)
	}
}

func TestSetPaymentStatus_UnknownTransaction(t *testing.T) {
	s := store.NewMemoryStore()
	if err := s.SetPaymentStatus(context.Background(), "ghost", model.PaymentFailed); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAlert_Idempotent(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateAlert(ctx, &model.PriceAlert{ID: "a1", UserID: "u1"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := s.DeleteAlert(ctx, "a1")
	if err != nil || !deleted {
		t.Fatalf("first delete: deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.DeleteAlert(ctx, "a1")
	if err != nil || deleted {
		t.Errorf("second delete: deleted=%v err=%v, want false nil", deleted, err)
	}
}

func TestDefensiveCopies(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	account := &model.Account{ID: "u1", Email: "u1@example.com", Role: model.RoleFundManager}
	s.CreateAccount(ctx, account)
	account.Email = "mutated@example.com"

	stored, err := s.GetAccount(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Email != "u1@example.com" {
		t.Errorf("store leaked caller's pointer: %s", stored.Email)
	}

	// Mutating the returned copy must not reach the store either.
	stored.Role = model.RoleFundAdministrator
	again, _ := s.GetAccount(ctx, "u1")
	if again.Role != model.RoleFundManager {
		t.Errorf("returned pointer aliases stored record")
	}
}
