package alert_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/alert"
	"github.com/tradeagently/fund-engine/internal/marketdata"
	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// scriptedMarket returns a price or error per "market:ticker" key. Unset
// keys fail with ErrPriceUnavailable.
type scriptedMarket struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	errs   map[string]error
}

func newScriptedMarket() *scriptedMarket {
	return &scriptedMarket{
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
	}
}

func (s *scriptedMarket) setPrice(market model.Market, ticker string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(market) + ":" + ticker
	s.prices[key] = price
	delete(s.errs, key)
}

func (s *scriptedMarket) setErr(market model.Market, ticker string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(market) + ":" + ticker
	s.errs[key] = err
	delete(s.prices, key)
}

func (s *scriptedMarket) CurrentPrice(_ context.Context, market model.Market, ticker string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(market) + ":" + ticker
	if err, ok := s.errs[key]; ok {
		return decimal.Zero, err
	}
	if p, ok := s.prices[key]; ok {
		return p, nil
	}
	return decimal.Zero, marketdata.ErrPriceUnavailable
}

// recordingNotifier captures sent notifications; fail makes Send error.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []string // "address|subject"
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, address, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp unreachable")
	}
	n.sent = append(n.sent, address+"|"+subject)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func newTestMonitor(t *testing.T) (*alert.Monitor, *store.MemoryStore, *scriptedMarket, *recordingNotifier) {
	t.Helper()
	ms := store.NewMemoryStore()
	md := newScriptedMarket()
	n := &recordingNotifier{}

	if err := ms.CreateAccount(context.Background(), &model.Account{
		ID: "u1", Email: "u1@example.com", Role: model.RoleFundAdministrator,
	}); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	return alert.NewMonitor(ms, md, n, nil, time.Minute), ms, md, n
}

func addAlert(t *testing.T, ms *store.MemoryStore, id string, market model.Market, ticker string, target decimal.Decimal) {
	t.Helper()
	err := ms.CreateAlert(context.Background(), &model.PriceAlert{
		ID: id, UserID: "u1", Market: market, Ticker: ticker, TargetPrice: target,
	})
	if err != nil {
		t.Fatalf("failed to seed alert: %v", err)
	}
}

func runCycle(t *testing.T, m *alert.Monitor) {
	t.Helper()
	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
}

func TestMonitor_CrossingDirections(t *testing.T) {
	tests := []struct {
		name       string
		prev, curr float64
		target     float64
		wantFire   bool
	}{
		{"upward crossing", 100, 110, 105, true},
		{"downward crossing", 110, 100, 105, true},
		{"landing exactly on target", 100, 105, 105, true},
		{"starting exactly on target", 105, 110, 105, true},
		{"approach without crossing", 100, 102, 105, false},
		{"both sides below target", 90, 95, 105, false},
		{"both sides above target", 120, 115, 105, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ms, md, n := newTestMonitor(t)
			addAlert(t, ms, "a1", model.MarketStocks, "AAPL", d(tt.target))

			md.setPrice(model.MarketStocks, "AAPL", d(tt.prev))
			runCycle(t, m)
			md.setPrice(model.MarketStocks, "AAPL", d(tt.curr))
			runCycle(t, m)

			if got := n.count(); (got == 1) != tt.wantFire {
				t.Errorf("expected fire=%v, got %d notifications", tt.wantFire, got)
			}

			alerts, _ := ms.ListAlerts(context.Background())
			wantRemaining := 1
			if tt.wantFire {
				wantRemaining = 0
			}
			if len(alerts) != wantRemaining {
				t.Errorf("expected %d alerts remaining, got %d", wantRemaining, len(alerts))
			}
		})
	}
}

func TestMonitor_FirstCycleNeverFires(t *testing.T) {
	m, ms, md, n := newTestMonitor(t)
	// Price already past the target, but with no baseline there is no
	// crossing to detect.
	addAlert(t, ms, "a1", model.MarketStocks, "AAPL", d(105))
	md.setPrice(model.MarketStocks, "AAPL", d(200))

	runCycle(t, m)

	if n.count() != 0 {
		t.Errorf("first cycle fired %d notifications, want 0", n.count())
	}
	alerts, _ := ms.ListAlerts(context.Background())
	if len(alerts) != 1 {
		t.Errorf("alert was deleted on the first cycle")
	}
}

func TestMonitor_ClosedMarketSkipsWithoutBaseline(t *testing.T) {
	m, ms, md, n := newTestMonitor(t)
	addAlert(t, ms, "a1", model.MarketStocks, "AAPL", d(105))

	// Cycle 1: observed at 100, baseline recorded.
	md.setPrice(model.MarketStocks, "AAPL", d(100))
	runCycle(t, m)

	// Cycle 2: market closed. No fire, and no baseline carried forward.
	md.setErr(model.MarketStocks, "AAPL", marketdata.ErrMarketClosed)
	runCycle(t, m)
	if n.count() != 0 {
		t.Fatalf("closed-market cycle fired a notification")
	}

	// Cycle 3: reopens at 110. The old 100 baseline is gone, so the
	// crossing through 105 must NOT fire here.
	md.setPrice(model.MarketStocks, "AAPL", d(110))
	runCycle(t, m)
	if n.count() != 0 {
		t.Errorf("fired against a baseline from before the market closed")
	}

	// Cycle 4: 110 -> 120 with target 105 is no crossing either.
	md.setPrice(model.MarketStocks, "AAPL", d(120))
	runCycle(t, m)
	if n.count() != 0 {
		t.Errorf("fired without a crossing after reopen")
	}
}

func TestMonitor_FailedFetchSkipsTicker(t *testing.T) {
	m, ms, md, n := newTestMonitor(t)
	addAlert(t, ms, "a1", model.MarketStocks, "DEAD", d(105))
	addAlert(t, ms, "a2", model.MarketStocks, "LIVE", d(50))

	md.setErr(model.MarketStocks, "DEAD", marketdata.ErrPriceUnavailable)
	md.setPrice(model.MarketStocks, "LIVE", d(40))
	runCycle(t, m)

	md.setPrice(model.MarketStocks, "LIVE", d(60))
	runCycle(t, m)

	// The dead ticker never fires; the live one is unaffected by it.
	if n.count() != 1 {
		t.Errorf("expected exactly 1 notification, got %d", n.count())
	}
	alerts, _ := ms.ListAlerts(context.Background())
	if len(alerts) != 1 || alerts[0].ID != "a1" {
		t.Errorf("expected only the dead-ticker alert to remain, got %v", alerts)
	}
}

func TestMonitor_DeleteBeforeNotify(t *testing.T) {
	m, ms, md, n := newTestMonitor(t)
	n.fail = true
	addAlert(t, ms, "a1", model.MarketStocks, "AAPL", d(105))

	md.setPrice(model.MarketStocks, "AAPL", d(100))
	runCycle(t, m)
	md.setPrice(model.MarketStocks, "AAPL", d(110))
	runCycle(t, m)

	// The send failed, but the alert is gone: it can never fire twice.
	alerts, _ := ms.ListAlerts(context.Background())
	if len(alerts) != 0 {
		t.Errorf("alert survived a failed notification, would fire again")
	}

	// Later cycles stay quiet even while the price keeps crossing back
	// and forth over the old target.
	md.setPrice(model.MarketStocks, "AAPL", d(100))
	runCycle(t, m)
	md.setPrice(model.MarketStocks, "AAPL", d(110))
	runCycle(t, m)
	if n.count() != 0 {
		t.Errorf("deleted alert produced a notification")
	}
}

func TestMonitor_FiresAtMostOnce(t *testing.T) {
	m, ms, md, n := newTestMonitor(t)
	addAlert(t, ms, "a1", model.MarketStocks, "AAPL", d(105))

	md.setPrice(model.MarketStocks, "AAPL", d(100))
	runCycle(t, m)

	// Price oscillates across the target for several cycles; only the
	// first crossing notifies.
	for _, p := range []float64{110, 100, 110, 100} {
		md.setPrice(model.MarketStocks, "AAPL", d(p))
		runCycle(t, m)
	}

	if n.count() != 1 {
		t.Errorf("expected exactly 1 notification, got %d", n.count())
	}
}

func TestMonitor_NotificationContent(t *testing.T) {
	m, ms, md, n := newTestMonitor(t)
	addAlert(t, ms, "a1", model.MarketCrypto, "BTC", d(25000))

	md.setPrice(model.MarketCrypto, "BTC", d(24000))
	runCycle(t, m)
	md.setPrice(model.MarketCrypto, "BTC", d(26000))
	runCycle(t, m)

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.sent))
	}
	if n.sent[0] != "u1@example.com|Price Alert For BTC" {
		t.Errorf("unexpected notification %q", n.sent[0])
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m, _, _, _ := newTestMonitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after context cancellation")
	}
}
