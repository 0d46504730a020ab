package alert_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tradeagently/fund-engine/internal/alert"
	"github.com/tradeagently/fund-engine/internal/marketdata"
	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/store"
)

func newTestService(t *testing.T) (*alert.Service, *store.MemoryStore, *scriptedMarket) {
	t.Helper()
	ms := store.NewMemoryStore()
	md := newScriptedMarket()
	return alert.NewService(ms, md), ms, md
}

func TestService_Create(t *testing.T) {
	svc, ms, md := newTestService(t)
	md.setPrice(model.MarketStocks, "AAPL", d(150))

	a, err := svc.Create(context.Background(), "u1", model.MarketStocks, "AAPL", d(160))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if a.ID == "" {
		t.Error("created alert has no id")
	}

	alerts, _ := ms.ListAlertsByUser(context.Background(), "u1")
	if len(alerts) != 1 {
		t.Fatalf("expected 1 stored alert, got %d", len(alerts))
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc, _, md := newTestService(t)
	md.setPrice(model.MarketStocks, "AAPL", d(150))
	md.setErr(model.MarketStocks, "GHOST", marketdata.ErrInvalidTicker)

	tests := []struct {
		name    string
		market  model.Market
		ticker  string
		price   float64
		wantErr error
	}{
		{"currency market rejected", model.MarketCurrency, "AAPL", 160, alert.ErrInvalidMarket},
		{"unknown market rejected", model.Market("bonds"), "AAPL", 160, alert.ErrInvalidMarket},
		{"zero price rejected", model.MarketStocks, "AAPL", 0, alert.ErrInvalidPrice},
		{"negative price rejected", model.MarketStocks, "AAPL", -5, alert.ErrInvalidPrice},
		{"unknown ticker rejected", model.MarketStocks, "GHOST", 160, marketdata.ErrInvalidTicker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), "u1", tt.market, tt.ticker, d(tt.price))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestService_CreateToleratesClosedMarket(t *testing.T) {
	// A valid ticker on a closed market is still a valid alert target; the
	// monitor simply waits for the market to reopen.
	svc, _, md := newTestService(t)
	md.setErr(model.MarketStocks, "AAPL", marketdata.ErrMarketClosed)

	if _, err := svc.Create(context.Background(), "u1", model.MarketStocks, "AAPL", d(160)); err != nil {
		t.Fatalf("create during closed market failed: %v", err)
	}
}

func TestService_Cancel(t *testing.T) {
	svc, ms, md := newTestService(t)
	md.setPrice(model.MarketStocks, "AAPL", d(150))

	a, err := svc.Create(context.Background(), "u1", model.MarketStocks, "AAPL", d(160))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Another user cannot cancel it.
	if err := svc.Cancel(context.Background(), "u2", a.ID); !errors.Is(err, alert.ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound for foreign user, got %v", err)
	}

	if err := svc.Cancel(context.Background(), "u1", a.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	alerts, _ := ms.ListAlertsByUser(context.Background(), "u1")
	if len(alerts) != 0 {
		t.Errorf("alert still present after cancel")
	}

	// Cancelling again reports not found.
	if err := svc.Cancel(context.Background(), "u1", a.ID); !errors.Is(err, alert.ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound on repeat cancel, got %v", err)
	}
}
