package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// PoolAdmin is the funding pool's authority surface.
type PoolAdmin interface {
	Pause(ctx context.Context, caller common.Address) error
	Unpause(ctx context.Context, caller common.Address) error
	EmergencyWithdraw(ctx context.Context, caller, to common.Address) (domain.Transfer, error)
	SetMarketEngine(ctx context.Context, caller, engine common.Address) error
}

// EngineAdmin is the market engine's parameter surface.
type EngineAdmin interface {
	SetMinBet(ctx context.Context, caller common.Address, minBet decimal.Decimal) error
	SetFeeBps(ctx context.Context, caller common.Address, bps int64) error
	GetEngineAccount(ctx context.Context) (domain.EngineAccount, error)
}

// EngineBinder rebinds the principal trusted to report outcomes.
type EngineBinder interface {
	SetMarketEngine(ctx context.Context, caller, engine common.Address) error
}

// TransferDesk lists and re-sends outbound transfers.
type TransferDesk interface {
	Redispatch(ctx context.Context, caller common.Address, id string) (domain.Transfer, error)
	GetTransfer(ctx context.Context, id string) (domain.Transfer, error)
	ListTransfers(ctx context.Context, status domain.TransferStatus) ([]domain.Transfer, error)
}

// AdminHandler serves authority-only endpoints. Authorization itself is
// enforced by the services; the audit log is gated here.
type AdminHandler struct {
	pool       PoolAdmin
	engine     EngineAdmin
	reputation EngineBinder
	transfers  TransferDesk
	audit      domain.AuditStore
	archives   domain.ArchiveCatalog // nil when s3 is disabled
	authority  common.Address
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	pool PoolAdmin,
	engine EngineAdmin,
	reputation EngineBinder,
	transfers TransferDesk,
	audit domain.AuditStore,
	archives domain.ArchiveCatalog,
	authority common.Address,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		pool:       pool,
		engine:     engine,
		reputation: reputation,
		transfers:  transfers,
		audit:      audit,
		archives:   archives,
		authority:  authority,
		logger:     logHandler(logger, "admin"),
	}
}

// Pause halts pool mutations.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Unpause resumes pool mutations.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *AdminHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var err error
	if paused {
		err = h.pool.Pause(r.Context(), who)
	} else {
		err = h.pool.Unpause(r.Context(), who)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "set paused", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": paused})
}

type emergencyRequest struct {
	To string `json:"to"`
}

// EmergencyWithdraw drains the paused pool to an address.
// POST /api/admin/emergency-withdraw
func (h *AdminHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req emergencyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddress(w, "to", req.To)
	if !ok {
		return
	}
	t, err := h.pool.EmergencyWithdraw(r.Context(), who, to)
	if err != nil {
		if t.ID != "" {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "transfer": t})
			return
		}
		writeServiceError(w, r, h.logger, "emergency withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type paramsRequest struct {
	MinBet       *string `json:"min_bet"`
	FeeBps       *int64  `json:"fee_bps"`
	MarketEngine *string `json:"market_engine"`
}

// UpdateParams changes engine parameters and rebinds the market engine
// principal. Every field is parsed before any is applied; they are then
// applied in order and the first failure stops the rest.
// PUT /api/admin/params
func (h *AdminHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req paramsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		minBet decimal.Decimal
		engine common.Address
	)
	if req.MinBet != nil {
		if minBet, ok = parseAmount(w, "min_bet", *req.MinBet); !ok {
			return
		}
	}
	if req.MarketEngine != nil {
		if engine, ok = parseAddress(w, "market_engine", *req.MarketEngine); !ok {
			return
		}
	}

	ctx := r.Context()
	if req.MinBet != nil {
		if err := h.engine.SetMinBet(ctx, who, minBet); err != nil {
			writeServiceError(w, r, h.logger, "set min bet", err)
			return
		}
	}
	if req.FeeBps != nil {
		if err := h.engine.SetFeeBps(ctx, who, *req.FeeBps); err != nil {
			writeServiceError(w, r, h.logger, "set fee", err)
			return
		}
	}
	if req.MarketEngine != nil {
		if err := h.pool.SetMarketEngine(ctx, who, engine); err != nil {
			writeServiceError(w, r, h.logger, "rebind pool market engine", err)
			return
		}
		if err := h.reputation.SetMarketEngine(ctx, who, engine); err != nil {
			writeServiceError(w, r, h.logger, "rebind reputation market engine", err)
			return
		}
	}

	acct, err := h.engine.GetEngineAccount(ctx)
	if err != nil {
		writeServiceError(w, r, h.logger, "get engine", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListTransfers lists transfers, optionally by status.
// GET /api/transfers?status=failed
func (h *AdminHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	status := domain.TransferStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.TransferPending, domain.TransferSending, domain.TransferSent, domain.TransferFailed:
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	ts, err := h.transfers.ListTransfers(r.Context(), status)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transfers", err)
		return
	}
	if ts == nil {
		ts = []domain.Transfer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": ts})
}

// GetTransfer returns a transfer.
// GET /api/transfers/{id}
func (h *AdminHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.transfers.GetTransfer(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Redispatch re-sends a failed or stranded transfer.
// POST /api/admin/transfers/{id}/redispatch
func (h *AdminHandler) Redispatch(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	t, err := h.transfers.Redispatch(r.Context(), who, pathParam(r, "id"))
	if err != nil {
		if t.ID != "" {
			writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "transfer": t})
			return
		}
		writeServiceError(w, r, h.logger, "redispatch", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListAudit returns audit entries, newest first. Authority only.
// GET /api/admin/audit?since=RFC3339&event=pool.&limit=50
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if !h.isAuthority(w, r) {
		return
	}
	opts := parseListOpts(r)
	opts.EventPrefix = r.URL.Query().Get("event")
	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		opts.Since = &since
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListArchives lists the monthly archive files of one kind. Authority only.
// GET /api/admin/archives/{kind}
func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if !h.isAuthority(w, r) || !h.archivesEnabled(w) {
		return
	}
	files, err := h.archives.ListArchives(r.Context(), pathParam(r, "kind"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// DownloadArchive streams one monthly archive file as JSONL. Authority only.
// GET /api/admin/archives/{kind}/{month}
func (h *AdminHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	if !h.isAuthority(w, r) || !h.archivesEnabled(w) {
		return
	}
	kind, month := pathParam(r, "kind"), pathParam(r, "month")
	body, err := h.archives.OpenArchive(r.Context(), kind, month)
	if err != nil {
		writeServiceError(w, r, h.logger, "open archive", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+kind+"-"+month+`.jsonl"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive download interrupted",
			slog.String("kind", kind),
			slog.String("month", month),
			slog.String("error", err.Error()),
		)
	}
}

// isAuthority writes 401 unless the signed caller is the authority.
func (h *AdminHandler) isAuthority(w http.ResponseWriter, r *http.Request) bool {
	who, ok := caller(w, r)
	if !ok {
		return false
	}
	if who != h.authority {
		writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
		return false
	}
	return true
}

func (h *AdminHandler) archivesEnabled(w http.ResponseWriter) bool {
	if h.archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive storage is not configured")
		return false
	}
	return true
}
