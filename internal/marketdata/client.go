package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/model"
)

// Client is an HTTP market-data client speaking the quote-gateway API:
// GET {base}/v1/quote?market=<market>&ticker=<ticker> returns a JSON quote.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a market-data client with a bounded request timeout.
// A timed-out lookup surfaces as ErrPriceUnavailable rather than hanging
// the calling operation.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// quoteResponse is the JSON body returned by the quote gateway.
type quoteResponse struct {
	Ticker     string `json:"ticker"`
	Price      string `json:"price"`
	MarketOpen bool   `json:"market_open"`
}

// CurrentPrice implements Provider.
func (c *Client) CurrentPrice(ctx context.Context, market model.Market, ticker string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("market", string(market))
	q.Set("ticker", ticker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/quote?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound:
		return decimal.Zero, ErrInvalidTicker
	default:
		return decimal.Zero, fmt.Errorf("%w: quote gateway returned %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	// A zero or absent stocks price signals the market is closed, which is
	// not the same thing as an unknown ticker. Checked before parsing: a
	// closed-market quote may omit the price field entirely.
	if market == model.MarketStocks && (!quote.MarketOpen || quote.Price == "") {
		return decimal.Zero, ErrMarketClosed
	}

	price, err := decimal.NewFromString(quote.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad price %q", ErrPriceUnavailable, quote.Price)
	}
	if market == model.MarketStocks && price.IsZero() {
		return decimal.Zero, ErrMarketClosed
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrPriceUnavailable, price)
	}

	return price, nil
}
