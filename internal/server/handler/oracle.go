package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// OracleService resolves questions on behalf of the operator.
type OracleService interface {
	Resolve(ctx context.Context, questionID, answer common.Hash) ([]common.Address, error)
}

// OracleHandler serves the operator answer feed.
type OracleHandler struct {
	oracle OracleService
	logger *slog.Logger
}

func NewOracleHandler(oracle OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: oracle, logger: logHandler(logger, "oracle")}
}

type resolveRequest struct {
	QuestionID common.Hash `json:"question_id"`
	Answer     common.Hash `json:"answer"`
}

// Resolve finalizes a question and advances the pools asking it.
// POST /api/oracle/answers
func (h *OracleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.QuestionID == (common.Hash{}) {
		writeError(w, http.StatusBadRequest, "question_id required")
		return
	}
	advanced, err := h.oracle.Resolve(r.Context(), req.QuestionID, req.Answer)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve", err)
		return
	}
	if advanced == nil {
		advanced = []common.Address{}
	}
	h.logger.InfoContext(r.Context(), "answer recorded",
		slog.String("question", req.QuestionID.Hex()),
		slog.Int("advanced", len(advanced)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"advanced": advanced})
}
