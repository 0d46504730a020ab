// Package trading exposes the engine, alert, and client-management
// operations over HTTP. Handlers are thin: decode, call, map the error
// kind to a status code. No business rule lives here.
package trading

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tradeagently/fund-engine/internal/alert"
	"github.com/tradeagently/fund-engine/internal/ledger"
	"github.com/tradeagently/fund-engine/internal/marketdata"
	"github.com/tradeagently/fund-engine/internal/metrics"
	"github.com/tradeagently/fund-engine/internal/model"
	"github.com/tradeagently/fund-engine/internal/store"
)

// Service wires HTTP handlers to the engine and alert service.
type Service struct {
	engine *ledger.Engine
	alerts *alert.Service
	store  store.Store
}

// NewService creates the HTTP service.
func NewService(engine *ledger.Engine, alerts *alert.Service, st store.Store) *Service {
	return &Service{engine: engine, alerts: alerts, store: st}
}

// Routes mounts every handler on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/owners/{ownerID}/balance", s.GetBalance)
	r.Get("/owners/{ownerID}/position", s.GetPosition)
	r.Get("/owners/{ownerID}/report", s.GetAssetReport)
	r.Get("/owners/{ownerID}/assets", s.GetAssets)
	r.Get("/owners/{ownerID}/transactions", s.GetTransactionLog)

	r.Post("/trade/purchase", s.Purchase)
	r.Post("/trade/sell", s.Sell)
	r.Post("/balance/deposit", s.Deposit)
	r.Post("/payments/webhook", s.PaymentWebhook)

	r.Post("/alerts", s.CreateAlert)
	r.Get("/alerts/{userID}", s.ListAlerts)
	r.Delete("/alerts/{userID}/{alertID}", s.CancelAlert)

	r.Post("/clients", s.AddClient)
	r.Get("/clients/{managerID}", s.ListClients)
	r.Delete("/clients/{managerID}/{clientID}", s.RemoveClient)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for purchase and sell.
type TradeRequest struct {
	OwnerID       string          `json:"owner_id"`
	ClientID      string          `json:"client_id"`
	Market        model.Market    `json:"market"`
	Ticker        string          `json:"ticker"`
	USDQuantity   decimal.Decimal `json:"usd_quantity"`   // purchase only
	AssetQuantity decimal.Decimal `json:"asset_quantity"` // sell only
}

// DepositRequest is the JSON body for POST /balance/deposit.
type DepositRequest struct {
	OwnerID     string          `json:"owner_id"`
	USDQuantity decimal.Decimal `json:"usd_quantity"`
	PaymentRef  string          `json:"payment_ref,omitempty"` // stages the deposit when set
}

// PaymentWebhookRequest mirrors the payment processor's outcome callback.
type PaymentWebhookRequest struct {
	PaymentRef string `json:"payment_ref"`
	Outcome    string `json:"outcome"` // "succeeded" or "failed"
}

// CreateAlertRequest is the JSON body for POST /alerts.
type CreateAlertRequest struct {
	UserID string          `json:"user_id"`
	Market model.Market    `json:"market"`
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
}

// AddClientRequest is the JSON body for POST /clients.
type AddClientRequest struct {
	ManagerID  string `json:"user_id"`
	ClientName string `json:"client_name"`
}

// --- Ledger handlers ---

// GetBalance handles GET /owners/{ownerID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	balance, err := s.engine.Balance(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// GetPosition handles GET /owners/{ownerID}/position?client_id&market&ticker
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	q := r.URL.Query()

	position, err := s.engine.Position(r.Context(), ownerID, q.Get("client_id"),
		model.Market(q.Get("market")), q.Get("ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"total_asset_quantity": position})
}

// GetAssetReport handles GET /owners/{ownerID}/report?client_id&market&ticker
func (s *Service) GetAssetReport(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	q := r.URL.Query()

	report, err := s.engine.AssetReport(r.Context(), ownerID, q.Get("client_id"),
		model.Market(q.Get("market")), q.Get("ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetAssets handles GET /owners/{ownerID}/assets?client_id&market
func (s *Service) GetAssets(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	q := r.URL.Query()

	tickers, err := s.engine.Assets(r.Context(), ownerID, q.Get("client_id"), model.Market(q.Get("market")))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ticker_symbols": tickers})
}

// GetTransactionLog handles GET /owners/{ownerID}/transactions?client_id&market&ticker
func (s *Service) GetTransactionLog(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	q := r.URL.Query()

	txs, err := s.engine.TransactionLog(r.Context(), ownerID, q.Get("client_id"),
		model.Market(q.Get("market")), q.Get("ticker"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Transaction{"transaction_logs": txs})
}

// Purchase handles POST /trade/purchase
func (s *Service) Purchase(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.ClientID == "" || req.Ticker == "" {
		writeError(w, "owner_id, client_id, and ticker are required", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.Purchase(r.Context(), req.OwnerID, req.ClientID, req.Market, req.Ticker, req.USDQuantity)
	if err != nil {
		countRejection(err)
		writeDomainError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(string(tx.Type), string(tx.Market)).Inc()
	writeJSON(w, http.StatusOK, tx)
}

// Sell handles POST /trade/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" || req.ClientID == "" || req.Ticker == "" {
		writeError(w, "owner_id, client_id, and ticker are required", http.StatusBadRequest)
		return
	}

	tx, err := s.engine.Sell(r.Context(), req.OwnerID, req.ClientID, req.Market, req.Ticker, req.AssetQuantity)
	if err != nil {
		countRejection(err)
		writeDomainError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(string(tx.Type), string(tx.Market)).Inc()
	writeJSON(w, http.StatusOK, tx)
}

// Deposit handles POST /balance/deposit
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OwnerID == "" {
		writeError(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	var tx *model.Transaction
	var err error
	if req.PaymentRef != "" {
		tx, err = s.engine.DepositPending(r.Context(), req.OwnerID, req.USDQuantity, req.PaymentRef)
	} else {
		tx, err = s.engine.Deposit(r.Context(), req.OwnerID, req.USDQuantity)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// PaymentWebhook handles POST /payments/webhook
// Signature verification happens upstream; this endpoint receives the
// already-validated outcome.
func (s *Service) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PaymentRef == "" {
		writeError(w, "payment_ref is required", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Outcome {
	case "succeeded":
		err = s.engine.ConfirmPayment(r.Context(), req.PaymentRef)
	case "failed":
		err = s.engine.FailPayment(r.Context(), req.PaymentRef)
	default:
		writeError(w, "outcome must be succeeded or failed", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Alert handlers ---

// CreateAlert handles POST /alerts
func (s *Service) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Ticker == "" {
		writeError(w, "user_id and ticker are required", http.StatusBadRequest)
		return
	}

	a, err := s.alerts.Create(r.Context(), req.UserID, req.Market, req.Ticker, req.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAlerts handles GET /alerts/{userID}
func (s *Service) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	alerts, err := s.alerts.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if alerts == nil {
		alerts = []model.PriceAlert{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.PriceAlert{"alerts": alerts})
}

// CancelAlert handles DELETE /alerts/{userID}/{alertID}
func (s *Service) CancelAlert(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	alertID := chi.URLParam(r, "alertID")

	if err := s.alerts.Cancel(r.Context(), userID, alertID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Client management handlers ---

// AddClient handles POST /clients
// Only fund managers have clients; administrators trade for themselves.
func (s *Service) AddClient(w http.ResponseWriter, r *http.Request) {
	var req AddClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ManagerID == "" || req.ClientName == "" {
		writeError(w, "user_id and client_name are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, req.ManagerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if account.Role != model.RoleFundManager {
		writeError(w, "only fund managers can have clients", http.StatusForbidden)
		return
	}

	existing, err := s.store.ListClients(ctx, req.ManagerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, c := range existing {
		if c.Name == req.ClientName {
			writeError(w, "client already exists", http.StatusConflict)
			return
		}
	}

	client := &model.Client{
		ID:        uuid.New().String(),
		ManagerID: req.ManagerID,
		Name:      req.ClientName,
	}
	if err := s.store.CreateClient(ctx, client); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("client added", "manager", req.ManagerID, "client", client.ID)
	writeJSON(w, http.StatusCreated, client)
}

// ListClients handles GET /clients/{managerID}
// A fund administrator's list is just themself.
func (s *Service) ListClients(w http.ResponseWriter, r *http.Request) {
	managerID := chi.URLParam(r, "managerID")
	ctx := r.Context()

	account, err := s.store.GetAccount(ctx, managerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if account.Role == model.RoleFundAdministrator {
		writeJSON(w, http.StatusOK, map[string][]model.Client{"clients": {
			{ID: managerID, ManagerID: managerID, Name: "Fund Administrator"},
		}})
		return
	}

	clients, err := s.store.ListClients(ctx, managerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if clients == nil {
		clients = []model.Client{}
	}
	writeJSON(w, http.StatusOK, map[string][]model.Client{"clients": clients})
}

// RemoveClient handles DELETE /clients/{managerID}/{clientID}
func (s *Service) RemoveClient(w http.ResponseWriter, r *http.Request) {
	managerID := chi.URLParam(r, "managerID")
	clientID := chi.URLParam(r, "clientID")
	ctx := r.Context()

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if client.ManagerID != managerID {
		writeError(w, "client not found", http.StatusNotFound)
		return
	}

	if err := s.store.DeleteClient(ctx, clientID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

// countRejection records why a trade was refused before append.
func countRejection(err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		metrics.TradeRejections.WithLabelValues("insufficient_balance").Inc()
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		metrics.TradeRejections.WithLabelValues("insufficient_holdings").Inc()
	case errors.Is(err, ledger.ErrRoleViolation):
		metrics.TradeRejections.WithLabelValues("role_violation").Inc()
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidMarket):
		metrics.TradeRejections.WithLabelValues("validation").Inc()
	}
}

// writeDomainError maps an error kind to an HTTP status. Failure is always
// a structured value; no raw driver error reaches the caller for 5xx.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidMarket),
		errors.Is(err, alert.ErrInvalidMarket),
		errors.Is(err, alert.ErrInvalidPrice),
		errors.Is(err, marketdata.ErrInvalidTicker):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrRoleViolation):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrClientNotFound),
		errors.Is(err, alert.ErrAlertNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, marketdata.ErrPriceUnavailable),
		errors.Is(err, marketdata.ErrMarketClosed):
		writeError(w, err.Error(), http.StatusBadGateway)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
