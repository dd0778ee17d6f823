package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementService is the subset of the pool service behind prize and fee
// payouts. Every payout call is permissionless; value only ever moves to the
// account the pool owes it to.
type SettlementService interface {
	ClaimRewards(ctx context.Context, addr common.Address, rankIndex, first, last int) (*big.Int, error)
	ReimbursePlayer(ctx context.Context, addr common.Address, tokenID uint64) (*big.Int, error)
	DistributeRemainingPrizes(ctx context.Context, addr common.Address) (*big.Int, error)
	WithdrawOwed(ctx context.Context, addr, account common.Address) (*big.Int, error)
	DistributeFeeRewards(ctx context.Context, addr common.Address) error
	DistributeSurplus(ctx context.Context, addr common.Address) (*big.Int, error)
	ExecuteCreatorRewards(ctx context.Context, addr common.Address) (*big.Int, error)
	ExecuteProtocolRewards(ctx context.Context, addr common.Address) (*big.Int, error)
}

// SettlementHandler serves claims, reimbursements and fee payouts.
type SettlementHandler struct {
	svc    SettlementService
	logger *slog.Logger
}

func NewSettlementHandler(svc SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{svc: svc, logger: logHandler(logger, "settlement")}
}

type claimRequest struct {
	RankIndex int `json:"rank_index"`
	First     int `json:"first"`
	Last      int `json:"last"`
}

// Claim pays the prize of one ranking entry. first and last bound its tie
// group.
// POST /api/pools/{address}/claims
func (h *SettlementHandler) Claim(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.svc.ClaimRewards(r.Context(), addr, req.RankIndex, req.First, req.Last)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

// Reimburse refunds one bet of a pool without winners.
// POST /api/pools/{address}/bets/{token}/reimburse
func (h *SettlementHandler) Reimburse(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := tokenParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.svc.ReimbursePlayer(r.Context(), addr, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "reimburse", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

// DistributeRemaining spreads unfilled prize slots over the last tie group.
// POST /api/pools/{address}/remaining
func (h *SettlementHandler) DistributeRemaining(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "distribute remaining", h.svc.DistributeRemainingPrizes)
}

type withdrawRequest struct {
	Account common.Address `json:"account"`
}

// Withdraw pays out credit a failed push left for the account.
// POST /api/pools/{address}/withdraw
func (h *SettlementHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := h.svc.WithdrawOwed(r.Context(), addr, req.Account)
	if err != nil {
		writeServiceError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}

// DistributeFees credits the fee pool to the creator and the treasury.
// POST /api/pools/{address}/fees/distribute
func (h *SettlementHandler) DistributeFees(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.DistributeFeeRewards(r.Context(), addr); err != nil {
		writeServiceError(w, r, h.logger, "distribute fees", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"distributed": true})
}

// DistributeSurplus credits manager funds outside the fee pool.
// POST /api/pools/{address}/fees/surplus
func (h *SettlementHandler) DistributeSurplus(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "distribute surplus", h.svc.DistributeSurplus)
}

// ExecuteCreator releases the creator's credited rewards.
// POST /api/pools/{address}/fees/creator
func (h *SettlementHandler) ExecuteCreator(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "execute creator rewards", h.svc.ExecuteCreatorRewards)
}

// ExecuteProtocol releases the treasury's credited rewards.
// POST /api/pools/{address}/fees/protocol
func (h *SettlementHandler) ExecuteProtocol(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, "execute protocol rewards", h.svc.ExecuteProtocolRewards)
}

func (h *SettlementHandler) amountOp(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address) (*big.Int, error)) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := fn(r.Context(), addr)
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": amount})
}
