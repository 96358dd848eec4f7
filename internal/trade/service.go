// Package trade provides the HTTP handlers for the athlete-unit market:
// listing and administering instruments, applying match events, executing
// trades and querying balances and portfolios.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fanunits/market-engine/internal/catalog"
	"github.com/fanunits/market-engine/internal/clock"
	"github.com/fanunits/market-engine/internal/event"
	"github.com/fanunits/market-engine/internal/ledger"
	"github.com/fanunits/market-engine/internal/limits"
	"github.com/fanunits/market-engine/internal/model"
	"github.com/fanunits/market-engine/internal/portfolio"
	"github.com/fanunits/market-engine/internal/pricing"
)

// Service handles market operations. The holdings check and the ledger call
// for a trade run under one mutex so a concurrent release cannot slip
// between them (single-instance).
type Service struct {
	catalog   *catalog.Service
	ledger    *ledger.Ledger
	portfolio *portfolio.Service
	limiter   *limits.Limiter
	clock     clock.Clock
	wsHub     *WSHub // optional WebSocket hub for trade broadcasts
	mu        sync.Mutex
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(cat *catalog.Service, led *ledger.Ledger, pf *portfolio.Service, lim *limits.Limiter, clk clock.Clock, hub *WSHub) *Service {
	if lim == nil {
		lim = limits.NewLimiter(0, 0)
	}
	return &Service{
		catalog:   cat,
		ledger:    led,
		portfolio: pf,
		limiter:   lim,
		clock:     clk,
		wsHub:     hub,
	}
}

// Register mounts the API routes on r.
func (s *Service) Register(r chi.Router) {
	r.Get("/instruments", s.ListInstruments)
	r.Post("/instruments", s.CreateInstrument)
	r.Get("/instruments/{symbol}", s.GetInstrument)
	r.Delete("/instruments/{symbol}", s.DeleteInstrument)
	r.Put("/instruments/{symbol}/base", s.PinBase)
	r.Get("/instruments/{symbol}/history", s.GetHistory)
	r.Get("/instruments/{symbol}/simulated", s.GetSimulated)
	r.Post("/instruments/{symbol}/events", s.ApplyEvent)
	r.Post("/instruments/{symbol}/performance", s.ApplyPerformance)

	r.Post("/ticks/simulator", s.SimulatorTick)

	r.Post("/trades", s.ExecuteTrade)

	r.Get("/users/{userID}/portfolio", s.GetPortfolio)
	r.Get("/users/{userID}/trades", s.GetTrades)
	r.Get("/users/{userID}/balance", s.GetBalance)
}

// --- Responses ---

// TradeResponse is the JSON body returned from POST /trades.
type TradeResponse struct {
	Trade    model.Trade     `json:"trade"`
	Balance  decimal.Decimal `json:"balance"`
	Holdings int64           `json:"holdings"` // units of the symbol held after the trade
}

// EventResponse is returned from the event and performance endpoints.
type EventResponse struct {
	Instrument model.Instrument `json:"instrument"`
	Score      *int             `json:"score,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// --- Instruments ---

// ListInstruments handles GET /api/v1/instruments
// Optionally filtered by ?category=<tier>.
func (s *Service) ListInstruments(w http.ResponseWriter, r *http.Request) {
	list, err := s.catalog.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	if c := r.URL.Query().Get("category"); c != "" {
		filtered := []model.Instrument{}
		for _, in := range list {
			if string(in.Category) == c {
				filtered = append(filtered, in)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateInstrument handles POST /api/v1/instruments (athlete approval).
func (s *Service) CreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req CreateInstrumentRequest
	if !decode(w, r, &req) {
		return
	}

	in, err := s.catalog.Add(r.Context(), catalog.NewInstrument{
		Symbol:      req.Symbol,
		DisplayName: req.DisplayName,
		Category:    model.Category(req.Category),
		OwnerUserID: req.OwnerUserID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// GetInstrument handles GET /api/v1/instruments/{symbol}
func (s *Service) GetInstrument(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}
	in, err := s.catalog.Get(r.Context(), sym)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// DeleteInstrument handles DELETE /api/v1/instruments/{symbol}
func (s *Service) DeleteInstrument(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}
	if err := s.catalog.Remove(r.Context(), sym); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PinBase handles PUT /api/v1/instruments/{symbol}/base
// A null base unpins the instrument.
func (s *Service) PinBase(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}
	var req PinBaseRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Base != nil && !req.Base.IsPositive() {
		writeError(w, "base must be positive", http.StatusBadRequest)
		return
	}

	in, err := s.catalog.PinBase(r.Context(), sym, req.Base)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// GetHistory handles GET /api/v1/instruments/{symbol}/history
// ?limit=N returns only the newest N samples.
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}
	in, err := s.catalog.Get(r.Context(), sym)
	if err != nil {
		writeErr(w, err)
		return
	}

	history := in.History
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		if n < len(history) {
			history = history[len(history)-n:]
		}
	}
	if history == nil {
		history = []model.PriceSample{}
	}
	writeJSON(w, http.StatusOK, history)
}

// GetSimulated handles GET /api/v1/instruments/{symbol}/simulated?from=&to=
// Both bounds are RFC3339; to defaults to now and from to 24h before to.
func (s *Service) GetSimulated(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}

	to := s.clock.Now()
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "to must be an RFC3339 instant", http.StatusBadRequest)
			return
		}
		to = t
	}
	from := to.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "from must be an RFC3339 instant", http.StatusBadRequest)
			return
		}
		from = t
	}

	points, err := s.catalog.Simulated(r.Context(), sym, from, to)
	if errors.Is(err, pricing.ErrRangeTooLarge) {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Events ---

// ApplyEvent handles POST /api/v1/instruments/{symbol}/events
// The body carries an optional next-match forecast and an optional
// last-match report; their score moves the price.
func (s *Service) ApplyEvent(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}
	var req EventRequest
	if !decode(w, r, &req) {
		return
	}
	forecast, report := req.toModel()

	in, err := s.catalog.ApplyEvent(r.Context(), sym, forecast, report)
	if err != nil {
		writeErr(w, err)
		return
	}
	score := event.Score(forecast, report)
	writeJSON(w, http.StatusOK, EventResponse{
		Instrument: in,
		Score:      &score,
		Reason:     event.Reason(forecast, report),
	})
}

// ApplyPerformance handles POST /api/v1/instruments/{symbol}/performance
func (s *Service) ApplyPerformance(w http.ResponseWriter, r *http.Request) {
	sym, ok := symbolParam(w, r)
	if !ok {
		return
	}
	var req PerformanceRequest
	if !decode(w, r, &req) {
		return
	}

	in, err := s.catalog.ApplyPerformance(r.Context(), sym, req.toModel())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventResponse{Instrument: in})
}

// SimulatorTick handles POST /api/v1/ticks/simulator
// Returns the instruments the tick moved; a repeat within one bucket moves none.
func (s *Service) SimulatorTick(w http.ResponseWriter, r *http.Request) {
	changed, err := s.catalog.SimulatorTick(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if changed == nil {
		changed = []model.Instrument{}
	}
	writeJSON(w, http.StatusOK, changed)
}

// --- Trades ---

// ExecuteTrade handles POST /api/v1/trades
// Checks holdings and caps, executes against the catalog price and returns
// the trade with the new balance.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	sym, err := model.NormalizeSymbol(req.Symbol)
	if err != nil {
		writeErr(w, err)
		return
	}
	ctx := r.Context()

	// Serialize check-then-execute.
	s.mu.Lock()
	defer s.mu.Unlock()

	in, err := s.catalog.Get(ctx, sym)
	if err != nil {
		writeErr(w, err)
		return
	}

	dir := model.Direction(req.Direction)
	// The ledger rejects self-trades itself, ahead of any holdings concern.
	if in.OwnerUserID != req.UserID {
		if err := s.checkLimits(ctx, req.UserID, in, dir, req.Quantity); err != nil {
			writeErr(w, err)
			return
		}
	}

	tr, err := s.ledger.Execute(ctx, ledger.Request{
		UserID:    req.UserID,
		Symbol:    sym,
		Direction: dir,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	resp := TradeResponse{Trade: tr}
	if bal, err := s.ledger.Balance(ctx, req.UserID); err == nil {
		resp.Balance = bal
	}
	if held, err := s.portfolio.Holdings(ctx, req.UserID); err == nil {
		resp.Holdings = held[sym]
	}

	// Broadcast the execution via WebSocket.
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_executed",
			Symbol:    sym,
			Price:     tr.UnitPrice.String(),
			Direction: string(tr.Direction),
			Quantity:  strconv.FormatInt(tr.Quantity, 10),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) checkLimits(ctx context.Context, userID string, in model.Instrument, dir model.Direction, qty int64) error {
	held, err := s.portfolio.Holdings(ctx, userID)
	if err != nil {
		return err
	}
	list, err := s.catalog.List(ctx)
	if err != nil {
		return err
	}
	categories := make(map[string]model.Category, len(list))
	for _, it := range list {
		categories[it.Symbol] = it.Category
	}
	return s.limiter.CheckLimit(in, dir, qty, held, categories)
}

// --- Users ---

// GetPortfolio handles GET /api/v1/users/{userID}/portfolio
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolio.Project(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetTrades handles GET /api/v1/users/{userID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.ledger.Trades(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	bal, err := s.ledger.Balance(r.Context(), userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "balance": bal})
}

// --- Helpers ---

// decode reads and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, describe(err), http.StatusBadRequest)
		return false
	}
	return true
}

func symbolParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	sym, err := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeErr(w, err)
		return "", false
	}
	return sym, true
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSelfTrade):
		return http.StatusForbidden
	case errors.Is(err, model.ErrUnknownInstrument):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrInsufficientHoldings),
		errors.Is(err, model.ErrPriceChanged),
		errors.Is(err, limits.ErrPerInstrumentLimitExceeded),
		errors.Is(err, limits.ErrCategoryLimitExceeded),
		errors.Is(err, catalog.ErrInstrumentExists),
		errors.Is(err, catalog.ErrTooManyConflicts):
		return http.StatusConflict
	case errors.Is(err, model.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with the status its kind maps to.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "err", err)
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
