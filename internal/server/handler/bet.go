package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// BetService is the subset of the pool service the bet handler needs.
type BetService interface {
	PlaceBet(ctx context.Context, addr, owner common.Address, predictions []common.Hash, payment *big.Int, referrer common.Address) (uint64, error)
	Score(ctx context.Context, addr common.Address, tokenID uint64) (uint32, error)
	TransferBet(ctx context.Context, addr common.Address, tokenID uint64, from, to common.Address) error
	Fund(ctx context.Context, addr, from common.Address, amount *big.Int) error
	FundManager(ctx context.Context, addr, from common.Address, amount *big.Int) error
}

// BetHandler serves betting, bet transfers and pool funding.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logHandler(logger, "bet")}
}

type placeBetRequest struct {
	Owner       common.Address `json:"owner"`
	Predictions []common.Hash  `json:"predictions"`
	Payment     *big.Int       `json:"payment"`
	Referrer    common.Address `json:"referrer"`
}

// PlaceBet mints a bet token for the owner.
// POST /api/pools/{address}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req placeBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Owner == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "owner required")
		return
	}
	id, err := h.bets.PlaceBet(r.Context(), addr, req.Owner, req.Predictions, req.Payment, req.Referrer)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token_id": id})
}

// Score returns the number of correct predictions of a bet.
// GET /api/pools/{address}/bets/{token}/score
func (h *BetHandler) Score(w http.ResponseWriter, r *http.Request) {
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
	score, err := h.bets.Score(r.Context(), addr, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "score", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "score": score})
}

type transferRequest struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
}

// Transfer moves a bet token to a new owner.
// POST /api/pools/{address}/bets/{token}/transfer
func (h *BetHandler) Transfer(w http.ResponseWriter, r *http.Request) {
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
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.bets.TransferBet(r.Context(), addr, id, req.From, req.To); err != nil {
		writeServiceError(w, r, h.logger, "transfer bet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "owner": req.To})
}

type fundRequest struct {
	From   common.Address `json:"from"`
	Amount *big.Int       `json:"amount"`
}

// Fund adds value to the prize pool.
// POST /api/pools/{address}/fund
func (h *BetHandler) Fund(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, "fund", h.bets.Fund)
}

// FundManager adds value to the fee manager outside the fee pool.
// POST /api/pools/{address}/manager/fund
func (h *BetHandler) FundManager(w http.ResponseWriter, r *http.Request) {
	h.fund(w, r, "fund manager", h.bets.FundManager)
}

func (h *BetHandler) fund(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, common.Address, *big.Int) error) {
	addr, err := poolParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req fundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == nil {
		writeServiceError(w, r, h.logger, op, domain.ErrInvalidAmount)
		return
	}
	if err := fn(r.Context(), addr, req.From, req.Amount); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"funded": req.Amount})
}
