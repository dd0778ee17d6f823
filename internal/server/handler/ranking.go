package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// RankingService is the subset of the pool service the ranking handler
// needs. Submissions are open to anyone.
type RankingService interface {
	RegisterPoints(ctx context.Context, addr common.Address, tokenID uint64, targetIndex, duplicateOffset int) (bool, error)
	RegisterAll(ctx context.Context, addr common.Address, candidates []domain.RankCandidate) (int, error)
	Plan(ctx context.Context, addr common.Address) ([]domain.RankCandidate, error)
}

// RankingHandler serves ranking submissions and the insertion plan.
type RankingHandler struct {
	ranking RankingService
	logger  *slog.Logger
}

func NewRankingHandler(ranking RankingService, logger *slog.Logger) *RankingHandler {
	return &RankingHandler{ranking: ranking, logger: logHandler(logger, "ranking")}
}

// Register submits one insertion. A valid submission that changes nothing
// answers 200 with inserted=false.
// POST /api/pools/{address}/ranking
func (h *RankingHandler) Register(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req domain.RankCandidate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inserted, err := h.ranking.RegisterPoints(r.Context(), addr, req.TokenID, req.TargetIndex, req.DuplicateOffset)
	if err != nil {
		writeServiceError(w, r, h.logger, "register points", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": inserted})
}

type registerAllRequest struct {
	Candidates []domain.RankCandidate `json:"candidates"`
}

// RegisterAll submits a batch; entries already placed or superseded are
// skipped.
// POST /api/pools/{address}/ranking/batch
func (h *RankingHandler) RegisterAll(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req registerAllRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.ranking.RegisterAll(r.Context(), addr, req.Candidates)
	if err != nil {
		writeServiceError(w, r, h.logger, "register all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inserted": n})
}

// Plan returns the insertions that would bring the ranking up to date.
// GET /api/pools/{address}/ranking/plan
func (h *RankingHandler) Plan(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := h.ranking.Plan(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, "plan", err)
		return
	}
	if plan == nil {
		plan = []domain.RankCandidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": plan})
}
