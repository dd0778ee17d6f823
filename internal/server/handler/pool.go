package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/crypto"
	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/service"
)

// PoolService is the subset of the pool service the pool handler needs.
type PoolService interface {
	CreatePool(ctx context.Context, req service.CreatePoolRequest) (domain.PoolSnapshot, error)
	Get(ctx context.Context, addr common.Address) (domain.PoolSnapshot, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.PoolSummary, error)
	TryAdvance(ctx context.Context, addr common.Address) (domain.PoolState, error)
	History(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// PoolHandler serves pool creation, listing, snapshots and reports.
type PoolHandler struct {
	pools   PoolService
	reports domain.ReportArchiver
	chainID int64
	logger  *slog.Logger
}

// NewPoolHandler creates a PoolHandler. reports may be nil, in which case the
// report endpoint answers 404.
func NewPoolHandler(pools PoolService, reports domain.ReportArchiver, chainID int64, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:   pools,
		reports: reports,
		chainID: chainID,
		logger:  logHandler(logger, "pool"),
	}
}

type listPoolsResponse struct {
	Pools  []domain.PoolSummary `json:"pools"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListPools returns pool summaries, most recently updated first.
// GET /api/pools?state=claim&limit=50&offset=0
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pools, err := h.pools.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list pools", err)
		return
	}
	if pools == nil {
		pools = []domain.PoolSummary{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools, Limit: opts.Limit, Offset: opts.Offset})
}

// CreatePool deploys a pool.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePoolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.pools.CreatePool(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// GetPool returns the full snapshot of one pool.
// GET /api/pools/{address}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := h.pools.Get(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type historyResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// History returns the audit trail of a pool, oldest first with order=asc.
// GET /api/pools/{address}/audit?since=...&until=...&order=asc
func (h *PoolHandler) History(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch r.URL.Query().Get("order") {
	case "", "desc":
	case "asc":
		opts.Ascending = true
	default:
		writeError(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}
	entries, err := h.pools.History(r.Context(), addr, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "pool history", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries, Limit: opts.Limit, Offset: opts.Offset})
}

// Advance applies every lifecycle transition whose condition holds.
// POST /api/pools/{address}/advance
func (h *PoolHandler) Advance(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.pools.TryAdvance(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "advance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

type reportResponse struct {
	domain.SettlementReport
	Verified bool `json:"verified"`
}

// GetReport loads the archived settlement report and checks its signature.
// GET /api/pools/{address}/report
func (h *PoolHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "report archive not configured")
		return
	}
	report, err := h.reports.Load(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "load report", err)
		return
	}
	verr := crypto.VerifyReport(h.chainID, report)
	if verr != nil {
		h.logger.WarnContext(r.Context(), "report signature rejected",
			slog.String("pool", addr.Hex()),
			slog.String("signer", report.Signer.Hex()),
			slog.String("error", verr.Error()),
		)
	}
	writeJSON(w, http.StatusOK, reportResponse{SettlementReport: report, Verified: verr == nil})
}
