package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Pool creation.
	ErrQuestionsNotSorted  = errors.New("questions not sorted by id")
	ErrInvalidPrizeWeights = errors.New("prize weights must sum to 10000")
	ErrInvalidFees         = errors.New("fee bps exceed 10000")
	ErrInvalidPoolParams   = errors.New("invalid pool parameters")
	ErrInvalidState        = errors.New("invalid pool state")

	// State gates.
	ErrBettingClosed      = errors.New("betting closed")
	ErrFundingClosed      = errors.New("funding closed")
	ErrResultsUnavailable = errors.New("results unavailable")
	ErrSubmissionClosed   = errors.New("submission period over")
	ErrClaimWindowNotOpen = errors.New("claim window not open")

	// Ranking invariants.
	ErrUnknownToken        = errors.New("unknown token")
	ErrNotAWinner          = errors.New("token has no points")
	ErrAlreadyRegistered   = errors.New("token already registered")
	ErrInvalidRankingIndex = errors.New("invalid ranking index")

	// Caller input.
	ErrPredictionLengthMismatch = errors.New("prediction length mismatch")
	ErrWrongPaymentAmount       = errors.New("wrong payment amount")
	ErrInvalidAmount            = errors.New("amount must be positive")

	// Payouts.
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrInvalidTieRange = errors.New("invalid tie range")
	ErrWinnersExist    = errors.New("winners exist")
	ErrNoVacantPrizes  = errors.New("no vacant prizes")
	ErrNoWinners       = errors.New("no winners")
	ErrNoPrize         = errors.New("rank carries no prize")
	ErrTransferFailed  = errors.New("transfer failed")
)

// ErrorClass groups failures by how a caller should react to them.
type ErrorClass string

const (
	ClassStateGate  ErrorClass = "state_gate" // wrong lifecycle phase; re-check state
	ClassInvariant  ErrorClass = "invariant"  // stale ranking submission; recompute and resubmit
	ClassInput      ErrorClass = "input"      // fix the request
	ClassIdempotent ErrorClass = "idempotent" // already done; treat as success
	ClassNotFound   ErrorClass = "not_found"
	ClassInternal   ErrorClass = "internal"
)

// Classify maps an error onto its class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBettingClosed), errors.Is(err, ErrFundingClosed),
		errors.Is(err, ErrResultsUnavailable), errors.Is(err, ErrSubmissionClosed),
		errors.Is(err, ErrClaimWindowNotOpen), errors.Is(err, ErrWinnersExist),
		errors.Is(err, ErrNoVacantPrizes), errors.Is(err, ErrNoWinners),
		errors.Is(err, ErrInvalidState):
		return ClassStateGate
	case errors.Is(err, ErrInvalidRankingIndex), errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrNotAWinner):
		return ClassInvariant
	case errors.Is(err, ErrAlreadyClaimed):
		return ClassIdempotent
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnknownToken):
		return ClassNotFound
	case errors.Is(err, ErrPredictionLengthMismatch), errors.Is(err, ErrWrongPaymentAmount),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTieRange),
		errors.Is(err, ErrNoPrize), errors.Is(err, ErrQuestionsNotSorted),
		errors.Is(err, ErrInvalidPrizeWeights), errors.Is(err, ErrInvalidFees),
		errors.Is(err, ErrInvalidPoolParams), errors.Is(err, ErrAlreadyExists):
		return ClassInput
	default:
		return ClassInternal
	}
}
