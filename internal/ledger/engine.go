// Package ledger implements the position and balance engine.
//
// Holdings, cash balance, and profit are never stored directly: every query
// replays the owner's append-only transaction log and folds it into a
// number. Mutating operations validate against that derived state and then
// append exactly one new record.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/marketdata"
	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInsufficientBalance is returned when a purchase exceeds the
	// owner's cash balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// ErrInsufficientHoldings is returned when a sell exceeds the client's
	// current position.
	ErrInsufficientHoldings = errors.New("ledger: insufficient asset quantity")

	// ErrClientNotFound is returned when the named client does not exist
	// or is not managed by the owner.
	ErrClientNotFound = errors.New("ledger: client not found")

	// ErrRoleViolation is returned when the owner's role does not permit
	// the requested trade: administrators trade only for themselves,
	// managers only for their clients.
	ErrRoleViolation = errors.New("ledger: role does not permit this trade")

	// ErrInvalidMarket is returned for non-tradable markets.
	ErrInvalidMarket = errors.New("ledger: invalid market")
)

// positionScale is the number of decimal places a reported position is
// truncated to. Truncation (floor), not banker's rounding: the original
// system floors, and stored quantities replay to the same displayed values
// across both implementations.
const positionScale = 4

// Engine validates and appends trades against replayed ledger state.
//
// Mutating operations on the same owner are serialized by a per-owner
// mutex so the check-then-append sequence is atomic: two concurrent sells
// can never both observe the same stale position and over-sell. Read-only
// derivations run unlocked and may serve a slightly stale snapshot.
type Engine struct {
	store  store.Store
	market marketdata.Provider
	now    func() time.Time

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewEngine creates an engine. A nil clock defaults to time.Now.
func NewEngine(st store.Store, md marketdata.Provider, clock func() time.Time) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:  st,
		market: md,
		now:    clock,
		owners: make(map[string]*sync.Mutex),
	}
}

// ownerLock returns the mutex serializing mutations for one owner,
// creating it on first use. Locks are never removed; the set of active
// owners is bounded by the account table.
func (e *Engine) ownerLock(ownerID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.owners[ownerID]
	if !ok {
		l = &sync.Mutex{}
		e.owners[ownerID] = l
	}
	return l
}

// Balance replays the owner's full log into a cash balance: currency
// movements count at face value, asset trades count through their USD leg.
// Each trade is a single appended record, so the cash effect of a purchase
// or sell is derived here rather than stored as a second transaction.
// Deposits staged against an unconfirmed external payment do not count.
func (e *Engine) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	txs, err := e.store.TransactionsByOwner(ctx, ownerID, store.TransactionFilter{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("replay balance: %w", err)
	}

	balance := decimal.Zero
	for _, t := range txs {
		if !t.Settled() {
			continue
		}
		switch {
		case t.Market == model.MarketCurrency && t.Type == model.TypePurchase:
			balance = balance.Add(t.AssetQuantity)
		case t.Market == model.MarketCurrency && t.Type == model.TypeSell:
			balance = balance.Sub(t.AssetQuantity)
		case t.Type == model.TypePurchase:
			balance = balance.Sub(t.USDQuantity)
		case t.Type == model.TypeSell:
			balance = balance.Add(t.USDQuantity)
		}
	}
	return balance, nil
}

// Position replays the matching transactions into the client's net holding
// of one ticker, truncated to four decimal places.
func (e *Engine) Position(ctx context.Context, ownerID, clientID string, market model.Market, ticker string) (decimal.Decimal, error) {
	if !market.Tradable() {
		return decimal.Zero, ErrInvalidMarket
	}
	if err := e.verifyClient(ctx, ownerID, clientID); err != nil {
		return decimal.Zero, err
	}

	qty, err := e.replayPosition(ctx, ownerID, clientID, market, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	return qty.RoundFloor(positionScale), nil
}

// replayPosition folds purchase/sell quantities without truncation.
func (e *Engine) replayPosition(ctx context.Context, ownerID, clientID string, market model.Market, ticker string) (decimal.Decimal, error) {
	txs, err := e.store.TransactionsByOwner(ctx, ownerID, store.TransactionFilter{
		ClientID: clientID,
		Market:   market,
		Ticker:   ticker,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("replay position: %w", err)
	}

	qty := decimal.Zero
	for _, t := range txs {
		if t.Ticker == model.CashTicker {
			continue
		}
		switch t.Type {
		case model.TypePurchase:
			qty = qty.Add(t.AssetQuantity)
		case model.TypeSell:
			qty = qty.Sub(t.AssetQuantity)
		}
	}
	return qty, nil
}

// AssetReport combines the current position, the live price, and the net
// invested total into a profit figure. A failed price lookup propagates;
// profit is never silently reported against a fabricated price.
func (e *Engine) AssetReport(ctx context.Context, ownerID, clientID string, market model.Market, ticker string) (model.AssetReport, error) {
	position, err := e.Position(ctx, ownerID, clientID, market, ticker)
	if err != nil {
		return model.AssetReport{}, err
	}

	price, err := e.market.CurrentPrice(ctx, market, ticker)
	if err != nil {
		return model.AssetReport{}, err
	}

	txs, err := e.store.TransactionsByOwner(ctx, ownerID, store.TransactionFilter{
		ClientID: clientID,
		Market:   market,
		Ticker:   ticker,
	})
	if err != nil {
		return model.AssetReport{}, fmt.Errorf("replay invested: %w", err)
	}

	invested := decimal.Zero
	for _, t := range txs {
		if t.Ticker == model.CashTicker {
			continue
		}
		switch t.Type {
		case model.TypePurchase:
			invested = invested.Add(t.USDQuantity)
		case model.TypeSell:
			invested = invested.Sub(t.USDQuantity)
		}
	}
	if invested.IsNegative() {
		invested = decimal.Zero
	}

	return model.AssetReport{
		Profit:        position.Mul(price).Sub(invested),
		TotalInvested: invested,
	}, nil
}

// Purchase buys usdAmount worth of an asset for a client. On success one
// purchase transaction is appended; nothing else is mutated.
func (e *Engine) Purchase(ctx context.Context, ownerID, clientID string, market model.Market, ticker string, usdAmount decimal.Decimal) (*model.Transaction, error) {
	if usdAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !market.Tradable() {
		return nil, ErrInvalidMarket
	}

	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	balance, err := e.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(usdAmount) {
		return nil, ErrInsufficientBalance
	}

	price, err := e.market.CurrentPrice(ctx, market, ticker)
	if err != nil {
		return nil, err
	}

	if err := e.authorizeTrade(ctx, ownerID, clientID); err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		ClientID:      clientID,
		Market:        market,
		Type:          model.TypePurchase,
		Ticker:        ticker,
		AssetQuantity: usdAmount.Div(price),
		AssetValue:    price,
		USDQuantity:   usdAmount,
		Timestamp:     e.now().Unix(),
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("append purchase: %w", err)
	}

	slog.Info("asset purchased",
		"owner", ownerID,
		"client", clientID,
		"market", market,
		"ticker", ticker,
		"usd", usdAmount.String(),
		"price", price.String(),
	)
	return tx, nil
}

// Sell disposes of assetQuantity units of a client's holding. On success
// one sell transaction is appended; nothing else is mutated.
func (e *Engine) Sell(ctx context.Context, ownerID, clientID string, market model.Market, ticker string, assetQuantity decimal.Decimal) (*model.Transaction, error) {
	if assetQuantity.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !market.Tradable() {
		return nil, ErrInvalidMarket
	}

	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	held, err := e.Position(ctx, ownerID, clientID, market, ticker)
	if err != nil {
		return nil, err
	}
	if held.LessThan(assetQuantity) {
		return nil, ErrInsufficientHoldings
	}

	price, err := e.market.CurrentPrice(ctx, market, ticker)
	if err != nil {
		return nil, err
	}

	if err := e.authorizeTrade(ctx, ownerID, clientID); err != nil {
		return nil, err
	}

	tx := &model.Transaction{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		ClientID:      clientID,
		Market:        market,
		Type:          model.TypeSell,
		Ticker:        ticker,
		AssetQuantity: assetQuantity,
		AssetValue:    price,
		USDQuantity:   assetQuantity.Mul(price),
		Timestamp:     e.now().Unix(),
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("append sell: %w", err)
	}

	slog.Info("asset sold",
		"owner", ownerID,
		"client", clientID,
		"market", market,
		"ticker", ticker,
		"quantity", assetQuantity.String(),
		"price", price.String(),
	)
	return tx, nil
}

// Deposit credits cash to the owner immediately as a currency purchase.
func (e *Engine) Deposit(ctx context.Context, ownerID string, usdAmount decimal.Decimal) (*model.Transaction, error) {
	return e.deposit(ctx, ownerID, usdAmount, "", model.PaymentNone)
}

// DepositPending stages a deposit against an external payment reference.
// The amount does not contribute to Balance until ConfirmPayment succeeds.
func (e *Engine) DepositPending(ctx context.Context, ownerID string, usdAmount decimal.Decimal, paymentRef string) (*model.Transaction, error) {
	return e.deposit(ctx, ownerID, usdAmount, paymentRef, model.PaymentPending)
}

func (e *Engine) deposit(ctx context.Context, ownerID string, usdAmount decimal.Decimal, paymentRef string, status model.PaymentStatus) (*model.Transaction, error) {
	if usdAmount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	lock := e.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	tx := &model.Transaction{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		ClientID:      ownerID,
		Market:        model.MarketCurrency,
		Type:          model.TypePurchase,
		Ticker:        model.CashTicker,
		AssetQuantity: usdAmount,
		AssetValue:    decimal.NewFromInt(1),
		USDQuantity:   usdAmount,
		Timestamp:     e.now().Unix(),
		PaymentRef:    paymentRef,
		PaymentStatus: status,
	}
	if err := e.store.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("append deposit: %w", err)
	}

	slog.Info("balance deposit",
		"owner", ownerID,
		"usd", usdAmount.String(),
		"pending", status == model.PaymentPending,
	)
	return tx, nil
}

// ConfirmPayment credits the staged deposit matching an external payment
// reference. Idempotent: if no deposit is pending under that reference the
// confirmation was already processed and this is a no-op.
func (e *Engine) ConfirmPayment(ctx context.Context, paymentRef string) error {
	return e.resolvePayment(ctx, paymentRef, model.PaymentSucceeded)
}

// FailPayment marks the staged deposit matching an external payment
// reference as failed. Idempotent like ConfirmPayment.
func (e *Engine) FailPayment(ctx context.Context, paymentRef string) error {
	return e.resolvePayment(ctx, paymentRef, model.PaymentFailed)
}

func (e *Engine) resolvePayment(ctx context.Context, paymentRef string, status model.PaymentStatus) error {
	tx, err := e.store.FindPendingPayment(ctx, paymentRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil // already resolved
	}
	if err != nil {
		return fmt.Errorf("find pending payment: %w", err)
	}

	lock := e.ownerLock(tx.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the owner lock: a concurrent webhook delivery may
	// have resolved it between the scan and the lock.
	if _, err := e.store.FindPendingPayment(ctx, paymentRef); errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("find pending payment: %w", err)
	}

	if err := e.store.SetPaymentStatus(ctx, tx.ID, status); err != nil {
		return fmt.Errorf("resolve payment %s: %w", paymentRef, err)
	}

	slog.Info("payment resolved", "ref", paymentRef, "status", status)
	return nil
}

// Assets returns the distinct non-USD tickers a client has ever transacted
// in on one market, including fully sold-out holdings.
func (e *Engine) Assets(ctx context.Context, ownerID, clientID string, market model.Market) ([]string, error) {
	if err := e.verifyClient(ctx, ownerID, clientID); err != nil {
		return nil, err
	}

	txs, err := e.store.TransactionsByOwner(ctx, ownerID, store.TransactionFilter{
		ClientID: clientID,
		Market:   market,
	})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}

	seen := make(map[string]bool)
	var tickers []string
	for _, t := range txs {
		if t.Ticker == model.CashTicker || seen[t.Ticker] {
			continue
		}
		seen[t.Ticker] = true
		tickers = append(tickers, t.Ticker)
	}
	sort.Strings(tickers)
	return tickers, nil
}

// TransactionLog returns a client's transactions for one ticker, newest
// first by client-reported timestamp. Timestamps are display ordering
// only; the store's append order remains the replay order.
func (e *Engine) TransactionLog(ctx context.Context, ownerID, clientID string, market model.Market, ticker string) ([]model.Transaction, error) {
	if err := e.verifyClient(ctx, ownerID, clientID); err != nil {
		return nil, err
	}

	txs, err := e.store.TransactionsByOwner(ctx, ownerID, store.TransactionFilter{
		ClientID: clientID,
		Market:   market,
		Ticker:   ticker,
	})
	if err != nil {
		return nil, fmt.Errorf("transaction log: %w", err)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].Timestamp > txs[j].Timestamp
	})
	return txs, nil
}

// verifyClient checks the (owner, client) pair for read operations. A
// client id equal to the owner is always valid (self view); anything else
// must be a client record managed by this owner.
func (e *Engine) verifyClient(ctx context.Context, ownerID, clientID string) error {
	if ownerID == clientID {
		return nil
	}

	client, err := e.store.GetClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrClientNotFound
	}
	if err != nil {
		return fmt.Errorf("verify client: %w", err)
	}
	if client.ManagerID != ownerID {
		return ErrClientNotFound
	}
	return nil
}

// authorizeTrade enforces the role rules for mutating trades:
// administrators self-trade, managers trade for managed clients, never the
// other way around.
func (e *Engine) authorizeTrade(ctx context.Context, ownerID, clientID string) error {
	account, err := e.store.GetAccount(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	if ownerID == clientID {
		if account.Role != model.RoleFundAdministrator {
			return ErrRoleViolation
		}
		return nil
	}

	if account.Role != model.RoleFundManager {
		return ErrRoleViolation
	}
	return e.verifyClient(ctx, ownerID, clientID)
}
