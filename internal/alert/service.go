package alert

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/marketdata"
	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/store"
)

var (
	// ErrAlertNotFound is returned when the alert does not exist or is not
	// owned by the caller.
	ErrAlertNotFound = errors.New("alert: not found")

	// ErrInvalidMarket is returned for markets alerts cannot watch.
	ErrInvalidMarket = errors.New("alert: market must be stocks or crypto")

	// ErrInvalidPrice is returned for zero or negative target prices.
	ErrInvalidPrice = errors.New("alert: target price must be positive")
)

// Service manages alert definitions. Alerts are immutable: created once,
// deleted exactly once by the monitor on trigger or here on cancel.
type Service struct {
	store  store.Store
	market marketdata.Provider
}

// NewService creates an alert management service.
func NewService(st store.Store, md marketdata.Provider) *Service {
	return &Service{store: st, market: md}
}

// Create validates and persists a new alert. The ticker is checked against
// the market-data provider so alerts cannot be parked on symbols that will
// never price; a closed stocks market still validates the ticker.
func (s *Service) Create(ctx context.Context, userID string, market model.Market, ticker string, targetPrice decimal.Decimal) (*model.PriceAlert, error) {
	if !market.Tradable() {
		return nil, ErrInvalidMarket
	}
	if targetPrice.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidPrice
	}

	if _, err := s.market.CurrentPrice(ctx, market, ticker); err != nil && !errors.Is(err, marketdata.ErrMarketClosed) {
		return nil, err
	}

	a := &model.PriceAlert{
		ID:          uuid.New().String(),
		UserID:      userID,
		Market:      market,
		Ticker:      ticker,
		TargetPrice: targetPrice,
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns the caller's active alerts.
func (s *Service) List(ctx context.Context, userID string) ([]model.PriceAlert, error) {
	return s.store.ListAlertsByUser(ctx, userID)
}

// Cancel deletes an alert the caller owns. Cancelling an alert that was
// already triggered (and therefore deleted) reports ErrAlertNotFound.
func (s *Service) Cancel(ctx context.Context, userID, alertID string) error {
	alerts, err := s.store.ListAlertsByUser(ctx, userID)
	if err != nil {
		return err
	}

	for _, a := range alerts {
		if a.ID == alertID {
			deleted, err := s.store.DeleteAlert(ctx, alertID)
			if err != nil {
				return err
			}
			if !deleted {
				return ErrAlertNotFound
			}
			return nil
		}
	}
	return ErrAlertNotFound
}
