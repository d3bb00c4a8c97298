package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/service"
)

// MarketEngine is the part of the market engine the market handler serves.
// It is declared locally so the handler package does not depend on the
// concrete service.
type MarketEngine interface {
	CreateMarket(ctx context.Context, caller common.Address, milestoneID string) (domain.Market, error)
	PlaceBet(ctx context.Context, caller common.Address, marketID uint64, side domain.Side, amount decimal.Decimal) (domain.Bet, error)
	IncreaseBet(ctx context.Context, caller common.Address, marketID uint64, side domain.Side, extra decimal.Decimal) (domain.Bet, error)
	CloseMarket(ctx context.Context, caller common.Address, marketID uint64) (domain.Market, error)
	ResolveMarket(ctx context.Context, caller common.Address, marketID uint64, outcome bool) (domain.Market, error)
	ClaimRewards(ctx context.Context, caller common.Address, betID uint64) (service.ClaimResult, error)
	TransferFundingPool(ctx context.Context, caller common.Address) (decimal.Decimal, error)

	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, int, error)
	GetMarketOdds(ctx context.Context, id uint64) (service.Odds, error)
	ListMarketBets(ctx context.Context, marketID uint64) ([]domain.Bet, error)
	GetBet(ctx context.Context, id uint64) (domain.Bet, error)
	GetClaimableAmount(ctx context.Context, betID uint64) (decimal.Decimal, error)
	GetCounters(ctx context.Context) (service.Counters, error)
	GetEngineAccount(ctx context.Context) (domain.EngineAccount, error)
}

// MarketHandler serves markets, bets and engine endpoints.
type MarketHandler struct {
	engine MarketEngine
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(engine MarketEngine, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{engine: engine, logger: logHandler(logger, "market")}
}

type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by status and project.
// GET /api/markets?status=open&project_id=p-1&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()
	f := domain.MarketFilter{
		Status:    domain.MarketStatus(q.Get("status")),
		ProjectID: q.Get("project_id"),
		ListOpts:  opts,
	}
	switch f.Status {
	case "", domain.MarketStatusOpen, domain.MarketStatusClosed, domain.MarketStatusResolved:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	markets, total, err := h.engine.ListMarkets(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.engine.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetOdds returns a market's implied probabilities.
// GET /api/markets/{id}/odds
func (h *MarketHandler) GetOdds(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	odds, err := h.engine.GetMarketOdds(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get odds", err)
		return
	}
	writeJSON(w, http.StatusOK, odds)
}

// ListBets returns every bet in a market.
// GET /api/markets/{id}/bets
func (h *MarketHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bets, err := h.engine.ListMarketBets(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

type createMarketRequest struct {
	MilestoneID string `json:"milestone_id"`
}

// CreateMarket opens a market on a milestone.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	m, err := h.engine.CreateMarket(r.Context(), who, req.MilestoneID)
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type betRequest struct {
	Side   domain.Side `json:"side"`
	Amount string      `json:"amount"`
}

// PlaceBet opens the caller's position.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	h.bet(w, r, false)
}

// IncreaseBet tops up the caller's position.
// POST /api/markets/{id}/bets/increase
func (h *MarketHandler) IncreaseBet(w http.ResponseWriter, r *http.Request) {
	h.bet(w, r, true)
}

func (h *MarketHandler) bet(w http.ResponseWriter, r *http.Request, increase bool) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req betRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}

	var (
		b   domain.Bet
		err error
	)
	if increase {
		b, err = h.engine.IncreaseBet(r.Context(), who, id, req.Side, amount)
	} else {
		b, err = h.engine.PlaceBet(r.Context(), who, id, req.Side, amount)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	status := http.StatusCreated
	if increase {
		status = http.StatusOK
	}
	writeJSON(w, status, b)
}

// CloseMarket stops betting.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.engine.CloseMarket(r.Context(), who, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "close market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type resolveRequest struct {
	Outcome *bool `json:"outcome"`
}

// ResolveMarket settles a closed market.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	m, err := h.engine.ResolveMarket(r.Context(), who, id, *req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetBet returns a bet.
// GET /api/bets/{id}
func (h *MarketHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.engine.GetBet(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetClaimable returns what a bet could claim now.
// GET /api/bets/{id}/claimable
func (h *MarketHandler) GetClaimable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	amount, err := h.engine.GetClaimableAmount(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bet_id": id, "claimable": amount})
}

// ClaimRewards pays out a winning bet. A failed payout still records the
// claim and answers 502 with the transfer so the caller can follow it up.
// POST /api/bets/{id}/claim
func (h *MarketHandler) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	res, err := h.engine.ClaimRewards(r.Context(), who, id)
	if err != nil {
		if res.Transfer.ID != "" {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "claim": res})
			return
		}
		writeServiceError(w, r, h.logger, "claim rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetCounters returns the last issued market and bet ids.
// GET /api/engine/counters
func (h *MarketHandler) GetCounters(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.GetCounters(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get counters", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetEngine returns the engine parameters and fee balance.
// GET /api/engine
func (h *MarketHandler) GetEngine(w http.ResponseWriter, r *http.Request) {
	acct, err := h.engine.GetEngineAccount(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get engine", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Sweep moves accrued fees into the funding pool.
// POST /api/engine/sweep
func (h *MarketHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	amount, err := h.engine.TransferFundingPool(r.Context(), who)
	if err != nil {
		writeServiceError(w, r, h.logger, "sweep fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swept": amount})
}
