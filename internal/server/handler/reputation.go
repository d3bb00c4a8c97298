package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// ReputationLedger is the part of the reputation ledger the handler serves.
type ReputationLedger interface {
	GetUserStats(ctx context.Context, user common.Address) (domain.UserStats, error)
	GetUserBadges(ctx context.Context, user common.Address) ([]domain.Badge, error)
	GetBadge(ctx context.Context, id uint64) (domain.Badge, error)
	GetTotalBadges(ctx context.Context) (uint64, error)
	HasAchievement(ctx context.Context, user common.Address, kind domain.AchievementType) (bool, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)

	MintAchievementBadge(ctx context.Context, caller, user common.Address, kind domain.AchievementType) (domain.Badge, error)
	MintTopPredictorBadge(ctx context.Context, caller, user common.Address, marketID uint64) (domain.Badge, error)
	TransferBadge(ctx context.Context, caller common.Address, badgeID uint64, to common.Address) (domain.Badge, error)
}

// ReputationHandler serves user stats and badge endpoints.
type ReputationHandler struct {
	rep    ReputationLedger
	logger *slog.Logger
}

// NewReputationHandler creates a ReputationHandler.
func NewReputationHandler(rep ReputationLedger, logger *slog.Logger) *ReputationHandler {
	return &ReputationHandler{rep: rep, logger: logHandler(logger, "reputation")}
}

type statsResponse struct {
	domain.UserStats
	WinRateBps int64 `json:"win_rate_bps"`
}

// GetStats returns a user's track record. Unknown users have zero stats.
// GET /api/users/{addr}/stats
func (h *ReputationHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	s, err := h.rep.GetUserStats(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{UserStats: s, WinRateBps: s.WinRateBps()})
}

// GetUserBadges lists a user's badges.
// GET /api/users/{addr}/badges
func (h *ReputationHandler) GetUserBadges(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	badges, err := h.rep.GetUserBadges(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get user badges", err)
		return
	}
	if badges == nil {
		badges = []domain.Badge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"badges": badges})
}

// HasAchievement reports whether a user holds a badge type.
// GET /api/users/{addr}/achievements/{type}
func (h *ReputationHandler) HasAchievement(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	kind := domain.AchievementType(pathParam(r, "type"))
	has, err := h.rep.HasAchievement(r.Context(), user, kind)
	if err != nil {
		writeServiceError(w, r, h.logger, "has achievement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": kind, "has": has})
}

// Leaderboard ranks users by earnings.
// GET /api/leaderboard?limit=10
func (h *ReputationHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 100)
	}
	entries, err := h.rep.Leaderboard(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "leaderboard", err)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// GetBadge returns a badge.
// GET /api/badges/{id}
func (h *ReputationHandler) GetBadge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.rep.GetBadge(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get badge", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CountBadges returns how many badges were minted.
// GET /api/badges/count
func (h *ReputationHandler) CountBadges(w http.ResponseWriter, r *http.Request) {
	n, err := h.rep.GetTotalBadges(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count badges", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": n})
}

type mintRequest struct {
	Address string                 `json:"address"`
	Type    domain.AchievementType `json:"type"`
}

// Mint awards a badge type at the authority's discretion.
// POST /api/badges
func (h *ReputationHandler) Mint(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, "address", req.Address)
	if !ok {
		return
	}
	b, err := h.rep.MintAchievementBadge(r.Context(), who, user, req.Type)
	if err != nil {
		writeServiceError(w, r, h.logger, "mint badge", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type topPredictorRequest struct {
	Address  string `json:"address"`
	MarketID uint64 `json:"market_id"`
}

// MintTopPredictor awards the transferable top-predictor badge.
// POST /api/badges/top-predictor
func (h *ReputationHandler) MintTopPredictor(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req topPredictorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, ok := parseAddress(w, "address", req.Address)
	if !ok {
		return
	}
	b, err := h.rep.MintTopPredictorBadge(r.Context(), who, user, req.MarketID)
	if err != nil {
		writeServiceError(w, r, h.logger, "mint top predictor", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type transferBadgeRequest struct {
	To string `json:"to"`
}

// Transfer moves a transferable badge to another address.
// POST /api/badges/{id}/transfer
func (h *ReputationHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req transferBadgeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, "to", req.To)
	if !ok {
		return
	}
	b, err := h.rep.TransferBadge(r.Context(), who, id, to)
	if err != nil {
		writeServiceError(w, r, h.logger, "transfer badge", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
