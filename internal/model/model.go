// Package model defines the core domain types shared across the fund engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"github.com/shopspring/decimal"
)

// Market identifies which venue a transaction or alert belongs to.
type Market string

const (
	MarketStocks   Market = "stocks"
	MarketCrypto   Market = "crypto"
	MarketCurrency Market = "currency" // cash movements only
)

// Valid reports whether m is one of the known markets.
func (m Market) Valid() bool {
	return m == MarketStocks || m == MarketCrypto || m == MarketCurrency
}

// Tradable reports whether assets can be bought and sold on this market.
func (m Market) Tradable() bool {
	return m == MarketStocks || m == MarketCrypto
}

// TransactionType is the direction of a ledger record.
type TransactionType string

const (
	TypePurchase TransactionType = "purchase"
	TypeSell     TransactionType = "sell"
)

// PaymentStatus tracks externally-funded currency deposits. Empty for every
// transaction that is not waiting on a payment processor.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// CashTicker is the reserved ticker symbol for cash movements.
const CashTicker = "USD"

// Transaction is an immutable record in an owner's transaction log.
// Once appended these are never modified or deleted; a correction is a new
// offsetting transaction. Holdings, cash balance, and profit are all
// derived by replaying these records.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	OwnerID       string          `json:"owner_id" db:"owner_id"`
	ClientID      string          `json:"client_id" db:"client_id"` // equals OwnerID for self-trading
	Market        Market          `json:"market" db:"market"`
	Type          TransactionType `json:"transaction_type" db:"transaction_type"`
	Ticker        string          `json:"ticker_symbol" db:"ticker_symbol"`
	AssetQuantity decimal.Decimal `json:"asset_quantity" db:"asset_quantity"` // units of asset, or USD units for cash
	AssetValue    decimal.Decimal `json:"asset_value" db:"asset_value"`       // unit price at time of transaction, 1 for currency
	USDQuantity   decimal.Decimal `json:"usd_quantity" db:"usd_quantity"`     // quantity × value
	Timestamp     int64           `json:"unix_timestamp" db:"unix_timestamp"` // client clock, display ordering only
	PaymentRef    string          `json:"payment_ref,omitempty" db:"payment_ref"`
	PaymentStatus PaymentStatus   `json:"payment_status,omitempty" db:"payment_status"`
}

// Settled reports whether a transaction contributes to derived balances.
// Pending or failed payment deposits are staged, not credited.
func (t Transaction) Settled() bool {
	return t.PaymentStatus == PaymentNone || t.PaymentStatus == PaymentSucceeded
}

// PriceAlert is a one-shot notification request: fire once when the market
// price crosses TargetPrice, then delete. Alerts are immutable once created.
type PriceAlert struct {
	ID          string          `json:"alert_id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Market      Market          `json:"market" db:"market"`
	Ticker      string          `json:"ticker" db:"ticker"`
	TargetPrice decimal.Decimal `json:"price" db:"target_price"`
}

// Role gates who may trade for whom.
type Role string

const (
	// RoleFundAdministrator trades only for their own account.
	RoleFundAdministrator Role = "fa"
	// RoleFundManager trades only on behalf of managed clients.
	RoleFundManager Role = "fm"
)

// Account is a fund-administrator or fund-manager user. Authentication is
// handled upstream; the engine receives already-resolved account ids.
type Account struct {
	ID    string `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Role  Role   `json:"user_type" db:"user_type"`
}

// Client is a beneficiary managed by a fund manager.
type Client struct {
	ID        string `json:"client_id" db:"id"`
	ManagerID string `json:"user_id" db:"manager_id"`
	Name      string `json:"client_name" db:"client_name"`
}

// AssetReport is the profit summary for one holding.
type AssetReport struct {
	Profit        decimal.Decimal `json:"profit"`
	TotalInvested decimal.Decimal `json:"total_usd_invested"` // floored at 0 for reporting
}
