// Package alert implements the price-alert crossing monitor and the alert
// management service.
//
// The monitor is one long-lived polling loop. Each cycle it loads every
// active alert, fetches current prices for the distinct tickers involved,
// and fires an alert when its target price falls inclusively between the
// previous cycle's observed price and this cycle's — in either direction.
// A fired alert is deleted before the notification is sent, so a crash
// between the two loses at most one notification and never duplicates one.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/feed"
	"github.com/tradeagently/fund-engine/internal/marketdata"
	"github.com/tradeagently/fund-engine/internal/metrics"
	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/notify"
	"github.com/tradeagently/fund-engine/internal/store"
)

// DefaultInterval is how long the monitor sleeps between polling cycles.
const DefaultInterval = 300 * time.Second

// defaultFetchTimeout bounds each individual price lookup within a cycle.
const defaultFetchTimeout = 10 * time.Second

// priceTable holds one cycle's observed prices per market and ticker.
// A ticker with no entry was not observed this cycle (closed market or
// failed lookup) and cannot participate in crossing evaluation.
type priceTable map[model.Market]map[string]decimal.Decimal

func (p priceTable) get(market model.Market, ticker string) (decimal.Decimal, bool) {
	v, ok := p[market][ticker]
	return v, ok
}

func (p priceTable) set(market model.Market, ticker string, price decimal.Decimal) {
	if p[market] == nil {
		p[market] = make(map[string]decimal.Decimal)
	}
	p[market][ticker] = price
}

// Monitor polls market prices and fires alerts on threshold crossings.
// State is process-local: after a restart the first cycle has no previous
// prices and therefore never fires.
type Monitor struct {
	store        store.Store
	market       marketdata.Provider
	notifier     notify.Notifier
	hub          *feed.Hub // optional price broadcast
	interval     time.Duration
	fetchTimeout time.Duration

	prev priceTable
}

// NewMonitor creates a monitor. Pass nil for hub if price broadcasting is
// not needed; interval <= 0 selects DefaultInterval.
func NewMonitor(st store.Store, md marketdata.Provider, n notify.Notifier, hub *feed.Hub, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		store:        st,
		market:       md,
		notifier:     n,
		hub:          hub,
		interval:     interval,
		fetchTimeout: defaultFetchTimeout,
		prev:         make(priceTable),
	}
}

// Run executes polling cycles until ctx is cancelled. A failed cycle is
// logged and retried on the next interval; no error terminates the loop.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("price-alert monitor started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if err := m.RunCycle(ctx); err != nil {
			metrics.AlertCycleErrors.Inc()
			slog.Error("alert cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("price-alert monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle performs one polling cycle. Exported so tests can drive cycles
// deterministically instead of waiting on the wall clock.
func (m *Monitor) RunCycle(ctx context.Context) error {
	alerts, err := m.store.ListAlerts(ctx)
	if err != nil {
		return fmt.Errorf("list alerts: %w", err)
	}

	current := m.observePrices(ctx, alerts)

	for _, a := range alerts {
		curr, ok := current.get(a.Market, a.Ticker)
		if !ok {
			continue // not observed this cycle: closed market or failed fetch
		}
		prev, ok := m.prev.get(a.Market, a.Ticker)
		if !ok {
			continue // no baseline yet, crossing undefined
		}

		if crossed(prev, a.TargetPrice, curr) {
			m.fire(ctx, a, curr)
		}
	}

	// This cycle's observations become the next cycle's baseline. Tickers
	// skipped this cycle drop out entirely rather than carrying a stale
	// or zero price forward.
	m.prev = current

	metrics.AlertCyclesTotal.Inc()
	return nil
}

// observePrices fetches the current price for every distinct (market,
// ticker) pair referenced by an alert. Failures and closed markets are
// skipped, not errored: one dead ticker must not starve the rest.
func (m *Monitor) observePrices(ctx context.Context, alerts []model.PriceAlert) priceTable {
	current := make(priceTable)

	seen := make(map[model.Market]map[string]bool)
	for _, a := range alerts {
		if seen[a.Market] == nil {
			seen[a.Market] = make(map[string]bool)
		}
		if seen[a.Market][a.Ticker] {
			continue
		}
		seen[a.Market][a.Ticker] = true

		fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
		price, err := m.market.CurrentPrice(fetchCtx, a.Market, a.Ticker)
		cancel()

		if err != nil {
			// Closed markets are routine; anything else is worth a warn.
			if errors.Is(err, marketdata.ErrMarketClosed) {
				slog.Debug("market closed, ticker skipped", "market", a.Market, "ticker", a.Ticker)
			} else {
				slog.Warn("price fetch failed, ticker skipped", "market", a.Market, "ticker", a.Ticker, "err", err)
			}
			continue
		}

		current.set(a.Market, a.Ticker, price)
		if m.hub != nil {
			m.hub.BroadcastPrice(string(a.Market), a.Ticker, price.String())
		}
	}
	return current
}

// fire deletes an alert and notifies its owner. Delete-before-notify caps
// worst-case duplicate sends at zero: a crash between the two loses the
// notification, it never repeats it.
func (m *Monitor) fire(ctx context.Context, a model.PriceAlert, price decimal.Decimal) {
	deleted, err := m.store.DeleteAlert(ctx, a.ID)
	if err != nil {
		slog.Error("alert delete failed", "alert", a.ID, "err", err)
		return
	}
	if !deleted {
		return // another instance already claimed it
	}

	metrics.AlertsTriggered.WithLabelValues(string(a.Market)).Inc()
	slog.Info("price alert triggered",
		"alert", a.ID,
		"market", a.Market,
		"ticker", a.Ticker,
		"target", a.TargetPrice.String(),
		"price", price.String(),
	)

	account, err := m.store.GetAccount(ctx, a.UserID)
	if err != nil {
		metrics.NotifyFailures.Inc()
		slog.Error("alert owner lookup failed, notification dropped", "alert", a.ID, "user", a.UserID, "err", err)
		return
	}

	kind := "stock"
	if a.Market == model.MarketCrypto {
		kind = "crypto"
	}
	subject := fmt.Sprintf("Price Alert For %s", a.Ticker)
	body := fmt.Sprintf("Your price alert for the %s %s set at $%s has been triggered. The price is now $%s.",
		kind, a.Ticker, a.TargetPrice.String(), price.String())

	if err := m.notifier.Send(ctx, account.Email, subject, body); err != nil {
		metrics.NotifyFailures.Inc()
		slog.Error("alert notification failed", "alert", a.ID, "email", account.Email, "err", err)
	}
}

// crossed reports whether target lies inclusively between prev and curr,
// in either direction. Equality counts: a price landing exactly on the
// target fires.
func crossed(prev, target, curr decimal.Decimal) bool {
	if prev.LessThanOrEqual(target) && target.LessThanOrEqual(curr) {
		return true
	}
	return prev.GreaterThanOrEqual(target) && target.GreaterThanOrEqual(curr)
}
