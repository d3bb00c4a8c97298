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

// FundingPool is the part of the funding pool the pool handler serves.
type FundingPool interface {
	AllocateToProject(ctx context.Context, caller common.Address, projectID string, amount decimal.Decimal) (domain.ProjectAllocation, error)
	BatchAllocate(ctx context.Context, caller common.Address, projectIDs []string, amounts []decimal.Decimal) ([]domain.ProjectAllocation, error)
	ReleaseOnMilestone(ctx context.Context, caller common.Address, projectID, milestoneID string, amount decimal.Decimal) (domain.MilestoneRelease, domain.Transfer, error)
	GrantTokenAllocations(ctx context.Context, caller common.Address, projectID string, marketID uint64) (domain.TokenGrant, error)

	GetPoolStats(ctx context.Context) (service.PoolStats, error)
	GetProjectAllocation(ctx context.Context, projectID string) (domain.ProjectAllocation, error)
	GetMilestoneRelease(ctx context.Context, milestoneID string) (domain.MilestoneRelease, error)
	GetTokenAllocation(ctx context.Context, projectID string) (domain.TokenGrant, error)
	GetUserProjectAllocation(ctx context.Context, projectID string, user common.Address) (domain.TokenAllocation, error)
	GetUserTokenAllocations(ctx context.Context, user common.Address) ([]service.UserTokenAllocation, error)
}

// PoolHandler serves funding pool endpoints.
type PoolHandler struct {
	pool   FundingPool
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pool FundingPool, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pool: pool, logger: logHandler(logger, "pool")}
}

// GetStats returns the pool balances.
// GET /api/pool/stats
func (h *PoolHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.pool.GetPoolStats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool stats", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type allocateRequest struct {
	ProjectID string `json:"project_id"`
	Amount    string `json:"amount"`
}

// Allocate earmarks pool funds for a project.
// POST /api/pool/allocations
func (h *PoolHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	a, err := h.pool.AllocateToProject(r.Context(), who, req.ProjectID, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "allocate", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type batchAllocateRequest struct {
	ProjectIDs []string `json:"project_ids"`
	Amounts    []string `json:"amounts"`
}

// BatchAllocate applies several allocations atomically.
// POST /api/pool/allocations/batch
func (h *PoolHandler) BatchAllocate(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req batchAllocateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amounts := make([]decimal.Decimal, len(req.Amounts))
	for i, v := range req.Amounts {
		if amounts[i], ok = parseAmount(w, "amounts", v); !ok {
			return
		}
	}
	out, err := h.pool.BatchAllocate(r.Context(), who, req.ProjectIDs, amounts)
	if err != nil {
		writeServiceError(w, r, h.logger, "batch allocate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": out})
}

// GetProject returns a project's allocation.
// GET /api/pool/projects/{id}
func (h *PoolHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	a, err := h.pool.GetProjectAllocation(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get project allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project_id":      a.ProjectID,
		"total_allocated": a.TotalAllocated,
		"total_released":  a.TotalReleased,
		"pending":         a.Pending(),
		"updated_at":      a.UpdatedAt,
	})
}

// GetRelease returns the release made for a milestone.
// GET /api/pool/releases/{milestone_id}
func (h *PoolHandler) GetRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := h.pool.GetMilestoneRelease(r.Context(), pathParam(r, "milestone_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get release", err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type releaseRequest struct {
	MilestoneID string `json:"milestone_id"`
	Amount      string `json:"amount"`
}

// Release pays part of a project's allocation to its owner for an achieved
// milestone. A failed payout answers 502 with the recorded release.
// POST /api/pool/projects/{id}/release
func (h *PoolHandler) Release(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, "amount", req.Amount)
	if !ok {
		return
	}
	rel, t, err := h.pool.ReleaseOnMilestone(r.Context(), who, pathParam(r, "id"), req.MilestoneID, amount)
	if err != nil {
		if t.ID != "" {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "release": rel, "transfer": t})
			return
		}
		writeServiceError(w, r, h.logger, "release", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"release": rel, "transfer": t})
}

type grantRequest struct {
	MarketID uint64 `json:"market_id"`
}

// Grant distributes a project's tokens to the winners of a market.
// POST /api/pool/projects/{id}/grants
func (h *PoolHandler) Grant(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	g, err := h.pool.GrantTokenAllocations(r.Context(), who, pathParam(r, "id"), req.MarketID)
	if err != nil {
		writeServiceError(w, r, h.logger, "grant tokens", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// GetGrant returns a project's token grant.
// GET /api/pool/projects/{id}/tokens
func (h *PoolHandler) GetGrant(w http.ResponseWriter, r *http.Request) {
	g, err := h.pool.GetTokenAllocation(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get token grant", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetUserGrant returns one beneficiary's share of a project's tokens.
// GET /api/pool/projects/{id}/tokens/{addr}
func (h *PoolHandler) GetUserGrant(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	a, err := h.pool.GetUserProjectAllocation(r.Context(), pathParam(r, "id"), user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get user token allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetUserTokens returns every token allocation a user holds.
// GET /api/users/{addr}/tokens
func (h *PoolHandler) GetUserTokens(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r, "addr")
	if !ok {
		return
	}
	out, err := h.pool.GetUserTokenAllocations(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, h.logger, "get user tokens", err)
		return
	}
	if out == nil {
		out = []service.UserTokenAllocation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"allocations": out})
}
