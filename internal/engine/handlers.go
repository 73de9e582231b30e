package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oddspool/settle-engine/internal/model"
	"github.com/oddspool/settle-engine/internal/weimath"
)

// --- Request/Response types ---

// AmountRequest is the JSON body for deposits and withdrawals. Amount is
// a decimal wei string; JSON numbers cannot carry 256-bit values.
type AmountRequest struct {
	Amount string `json:"amount"`
}

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Caller   string `json:"caller"`
	Question string `json:"question"`
	Deadline int64  `json:"deadline"` // unix seconds
}

// ResolveRequest is the JSON body for POST /markets/{id}/resolve.
type ResolveRequest struct {
	Caller     string `json:"caller"`
	OutcomeYes bool   `json:"outcome_yes"`
}

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Trader   string `json:"trader"`
	MarketID uint64 `json:"market_id"`
	SideYes  bool   `json:"side_yes"`
	Leverage uint8  `json:"leverage"`
	Margin   string `json:"margin"` // decimal wei string
}

// ClaimRequest is the JSON body for POST /positions/{id}/claim.
type ClaimRequest struct {
	Caller string `json:"caller"`
}

// MarketView is the JSON shape of a market. Wei totals are decimal
// strings, and the locked flag is derived from the clock at render time.
type MarketView struct {
	ID                uint64 `json:"id"`
	Question          string `json:"question"`
	Deadline          int64  `json:"deadline"`
	Resolved          bool   `json:"resolved"`
	OutcomeYes        bool   `json:"outcome_yes"`
	Active            bool   `json:"active"`
	Locked            bool   `json:"locked"`
	TotalYesMargin    string `json:"total_yes_margin"`
	TotalNoMargin     string `json:"total_no_margin"`
	TotalYesEffective string `json:"total_yes_effective"`
	TotalNoEffective  string `json:"total_no_effective"`
	CreatedAt         int64  `json:"created_at"`
}

// PositionView is the JSON shape of a position.
type PositionView struct {
	ID        uint64 `json:"id"`
	Trader    string `json:"trader"`
	MarketID  uint64 `json:"market_id"`
	SideYes   bool   `json:"side_yes"`
	MarginWei string `json:"margin_wei"`
	Leverage  uint8  `json:"leverage"`
	Claimed   bool   `json:"claimed"`
	CreatedAt int64  `json:"created_at"`
}

// JournalView is the JSON shape of a journal entry.
type JournalView struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Amount     string  `json:"amount"`
	MarketID   *uint64 `json:"market_id,omitempty"`
	PositionID *uint64 `json:"position_id,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

func (s *Service) marketView(m *model.Market) MarketView {
	return MarketView{
		ID:                m.ID,
		Question:          m.Question,
		Deadline:          m.Deadline,
		Resolved:          m.Resolved,
		OutcomeYes:        m.OutcomeYes,
		Active:            m.Active,
		Locked:            m.Locked(s.now()),
		TotalYesMargin:    m.TotalYesMargin.Dec(),
		TotalNoMargin:     m.TotalNoMargin.Dec(),
		TotalYesEffective: m.TotalYesEffective.Dec(),
		TotalNoEffective:  m.TotalNoEffective.Dec(),
		CreatedAt:         m.CreatedAt.Unix(),
	}
}

func positionView(p *model.Position) PositionView {
	return PositionView{
		ID:        p.ID,
		Trader:    p.Trader,
		MarketID:  p.MarketID,
		SideYes:   p.SideYes,
		MarginWei: p.MarginWei.Dec(),
		Leverage:  p.Leverage,
		Claimed:   p.Claimed,
		CreatedAt: p.CreatedAt.Unix(),
	}
}

func journalView(e *model.JournalEntry) JournalView {
	return JournalView{
		ID:         e.ID.String(),
		Kind:       e.Kind,
		Amount:     e.Amount.Dec(),
		MarketID:   e.MarketID,
		PositionID: e.PositionID,
		Timestamp:  e.Timestamp.Unix(),
	}
}

// Routes mounts the engine's HTTP API on the given router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/users/{addr}", func(r chi.Router) {
		r.Post("/deposit", s.HandleDeposit)
		r.Post("/withdraw", s.HandleWithdraw)
		r.Get("/balance", s.HandleBalance)
		r.Get("/positions", s.HandleUserPositions)
		r.Get("/journal", s.HandleJournal)
	})
	r.Route("/markets", func(r chi.Router) {
		r.Post("/", s.HandleCreateMarket)
		r.Get("/", s.HandleListMarkets)
		r.Get("/{marketID}", s.HandleGetMarket)
		r.Get("/{marketID}/odds", s.HandleGetOdds)
		r.Post("/{marketID}/lock", s.HandleLockMarket)
		r.Post("/{marketID}/resolve", s.HandleResolveMarket)
	})
	r.Route("/positions", func(r chi.Router) {
		r.Post("/", s.HandleOpenPosition)
		r.Get("/{positionID}", s.HandleGetPosition)
		r.Post("/{positionID}/claim", s.HandleClaim)
	})
}

// --- HTTP Handlers ---

// HandleDeposit handles POST /api/v1/users/{addr}/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := weimath.Parse(req.Amount)
	if err != nil {
		writeError(w, "amount must be a decimal wei string", http.StatusBadRequest)
		return
	}

	if err := s.Deposit(r.Context(), addr, amount); err != nil {
		writeServiceError(w, err)
		return
	}
	s.HandleBalance(w, r)
}

// HandleWithdraw handles POST /api/v1/users/{addr}/withdraw
func (s *Service) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	amount, err := weimath.Parse(req.Amount)
	if err != nil {
		writeError(w, "amount must be a decimal wei string", http.StatusBadRequest)
		return
	}

	if err := s.Withdraw(r.Context(), addr, amount); err != nil {
		writeServiceError(w, err)
		return
	}
	s.HandleBalance(w, r)
}

// HandleBalance handles GET /api/v1/users/{addr}/balance
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")

	b, err := s.Balance(r.Context(), addr)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": b.Dec()})
}

// HandleUserPositions handles GET /api/v1/users/{addr}/positions
func (s *Service) HandleUserPositions(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")

	positions, err := s.PositionsOf(r.Context(), addr)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]PositionView, 0, len(positions))
	for i := range positions {
		views = append(views, positionView(&positions[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleJournal handles GET /api/v1/users/{addr}/journal
func (s *Service) HandleJournal(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")

	entries, err := s.Journal(r.Context(), addr)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]JournalView, 0, len(entries))
	for i := range entries {
		views = append(views, journalView(&entries[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleCreateMarket handles POST /api/v1/markets
func (s *Service) HandleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}

	id, err := s.CreateMarket(r.Context(), req.Caller, req.Question, req.Deadline)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	m, err := s.Market(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.marketView(m))
}

// HandleListMarkets handles GET /api/v1/markets
func (s *Service) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.Markets(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]MarketView, 0, len(markets))
	for i := range markets {
		views = append(views, s.marketView(&markets[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleGetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "marketID")
	if !ok {
		return
	}
	m, err := s.Market(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(m))
}

// HandleGetOdds handles GET /api/v1/markets/{marketID}/odds
func (s *Service) HandleGetOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "marketID")
	if !ok {
		return
	}
	odds, err := s.MarketOdds(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, odds)
}

// HandleLockMarket handles POST /api/v1/markets/{marketID}/lock
func (s *Service) HandleLockMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "marketID")
	if !ok {
		return
	}
	if err := s.LockMarket(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := s.Market(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(m))
}

// HandleResolveMarket handles POST /api/v1/markets/{marketID}/resolve
func (s *Service) HandleResolveMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "marketID")
	if !ok {
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.ResolveMarket(r.Context(), req.Caller, id, req.OutcomeYes); err != nil {
		writeServiceError(w, err)
		return
	}
	m, err := s.Market(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(m))
}

// HandleOpenPosition handles POST /api/v1/positions
func (s *Service) HandleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	margin, err := weimath.Parse(req.Margin)
	if err != nil {
		writeError(w, "margin must be a decimal wei string", http.StatusBadRequest)
		return
	}

	id, err := s.OpenPosition(r.Context(), req.Trader, req.MarketID, req.SideYes, req.Leverage, margin)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	p, err := s.Position(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, positionView(p))
}

// HandleGetPosition handles GET /api/v1/positions/{positionID}
func (s *Service) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	p, err := s.Position(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView(p))
}

// HandleClaim handles POST /api/v1/positions/{positionID}/claim
func (s *Service) HandleClaim(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "positionID")
	if !ok {
		return
	}
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payout, err := s.Claim(r.Context(), req.Caller, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.Dec()})
}

// pathID parses a numeric path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, name+" must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeServiceError maps engine sentinel errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusOf(err))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidDeadline),
		errors.Is(err, model.ErrInvalidLeverage),
		errors.Is(err, model.ErrInvalidMargin):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized),
		errors.Is(err, model.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, model.ErrMarketNotFound),
		errors.Is(err, model.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrAlreadyResolved),
		errors.Is(err, model.ErrMarketNotActive),
		errors.Is(err, model.ErrMarketNotLockable),
		errors.Is(err, model.ErrMarketNotResolved),
		errors.Is(err, model.ErrAlreadyPositioned),
		errors.Is(err, model.ErrAlreadyClaimed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
