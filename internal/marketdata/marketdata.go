// Package marketdata defines the market-data provider consumed by the
// engine and the alert monitor, plus an HTTP implementation.
//
// The provider is deliberately narrow: given (market, ticker) return the
// current price or fail. Everything else about the upstream vendor stays
// behind this interface.
package marketdata

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/model"
)

var (
	// ErrPriceUnavailable is returned when the upstream lookup fails.
	// Callers must propagate it, never substitute a fabricated price.
	ErrPriceUnavailable = errors.New("marketdata: price unavailable")

	// ErrMarketClosed is returned for stocks when the venue reports no
	// current price because the market is closed. Distinct from an
	// invalid ticker.
	ErrMarketClosed = errors.New("marketdata: market closed")

	// ErrInvalidTicker is returned when the ticker symbol is unknown to
	// the upstream venue.
	ErrInvalidTicker = errors.New("marketdata: invalid ticker")
)

// Provider returns current prices for tradable assets.
type Provider interface {
	// CurrentPrice returns the current unit price in USD for a ticker on
	// the given market. Returns ErrMarketClosed, ErrInvalidTicker, or
	// ErrPriceUnavailable on failure.
	CurrentPrice(ctx context.Context, market model.Market, ticker string) (decimal.Decimal, error)
}
