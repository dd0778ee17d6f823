// Package pool implements the ranking-and-settlement engine of one
// prediction pool: bets, the verified-insertion ranking ledger, the prize
// schedule and the fee manager, driven by a forward-only state machine.
//
// A Pool is not safe for concurrent use. Callers serialize operations per
// pool; every operation runs to completion before the next starts.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// Deps are the collaborators a pool calls out to.
type Deps struct {
	Oracle  domain.Oracle
	Custody domain.TokenCustody
	Payer   domain.Payer
	Now     func() time.Time
}

// Pool is the aggregate that owns every piece of per-pool state.
type Pool struct {
	params    domain.PoolParams
	questions *QuestionSet
	bets      *BetLedger
	ranking   *RankingLedger
	prizes    *PrizeSchedule
	fees      *FeeManager

	state           domain.PoolState
	balance         *big.Int
	split           *domain.FeeSplit
	submissionStart time.Time
	remainingDone   bool
	owed            map[common.Address]*big.Int

	oracle  domain.Oracle
	custody domain.TokenCustody
	payer   domain.Payer
	now     func() time.Time

	pending []domain.Event
}

// ManagerAddress is the fee manager account of a pool.
func ManagerAddress(pool common.Address) common.Address {
	return crypto.CreateAddress(pool, 0)
}

// New validates params and creates a pool in the Open state. Question ids
// are derived here; the questions must already be in ascending id order.
func New(params domain.PoolParams, deps Deps) (*Pool, error) {
	if params.Price == nil || params.Price.Sign() <= 0 {
		return nil, fmt.Errorf("pool: price must be positive: %w", domain.ErrInvalidPoolParams)
	}
	if params.ClosingTime.IsZero() {
		return nil, fmt.Errorf("pool: closing time required: %w", domain.ErrInvalidPoolParams)
	}
	if params.SubmissionTimeout < 0 {
		return nil, fmt.Errorf("pool: negative submission timeout: %w", domain.ErrInvalidPoolParams)
	}
	if int(params.CreatorFeeBps)+int(params.ProtocolFeeBps) > BasisPoints {
		return nil, fmt.Errorf("pool: fees %d+%d bps: %w", params.CreatorFeeBps, params.ProtocolFeeBps, domain.ErrInvalidFees)
	}
	if deps.Oracle == nil || deps.Custody == nil || deps.Payer == nil {
		return nil, fmt.Errorf("pool: missing collaborator: %w", domain.ErrInvalidPoolParams)
	}
	questions, err := NewQuestionSet(params.Questions, params.Arbitration, params.Address)
	if err != nil {
		return nil, err
	}
	prizes, err := NewPrizeSchedule(params.PrizeWeights)
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	params.Questions = questions.Questions()
	params.PrizeWeights = prizes.Weights()
	params.Price = new(big.Int).Set(params.Price)
	params.Manager = ManagerAddress(params.Address)

	return &Pool{
		params:    params,
		questions: questions,
		bets:      &BetLedger{},
		ranking:   NewRankingLedger(),
		prizes:    prizes,
		fees:      newFeeManager(params.Manager, params.Creator, params.Treasury, params.CreatorFeeBps, params.ProtocolFeeBps),
		state:     domain.StateOpen,
		balance:   new(big.Int),
		owed:      make(map[common.Address]*big.Int),
		oracle:    deps.Oracle,
		custody:   deps.Custody,
		payer:     deps.Payer,
		now:       deps.Now,
	}, nil
}

func (p *Pool) Address() common.Address   { return p.params.Address }
func (p *Pool) Params() domain.PoolParams { return p.params }
func (p *Pool) State() domain.PoolState   { return p.state }
func (p *Pool) Ranking() *RankingLedger   { return p.ranking }
func (p *Pool) Prizes() *PrizeSchedule    { return p.prizes }
func (p *Pool) Fees() *FeeManager         { return p.fees }
func (p *Pool) Balance() *big.Int         { return new(big.Int).Set(p.balance) }

// TotalBets is the number of bets ever placed, burned ones included.
func (p *Pool) TotalBets() int { return p.bets.Len() }

// TotalPrize is zero until results are available.
func (p *Pool) TotalPrize() *big.Int {
	if p.split == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.split.TotalPrize)
}

// TakeEvents returns the events emitted since the last call.
func (p *Pool) TakeEvents() []domain.Event {
	out := p.pending
	p.pending = nil
	return out
}

func (p *Pool) emit(ev domain.Event) {
	ev.Pool = p.params.Address
	ev.At = p.now()
	p.pending = append(p.pending, ev)
}

// TryAdvance moves the pool through every transition whose predicate holds
// and returns the resulting state. Any caller may invoke it.
func (p *Pool) TryAdvance(ctx context.Context) (domain.PoolState, error) {
	if err := p.advance(ctx); err != nil {
		return p.state, err
	}
	return p.state, nil
}

func (p *Pool) advance(ctx context.Context) error {
	for {
		moved, err := p.step(ctx)
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
	}
}

func (p *Pool) step(ctx context.Context) (bool, error) {
	now := p.now()
	switch p.state {
	case domain.StateOpen:
		if !now.Before(p.params.ClosingTime) {
			p.setState(domain.StateAwaitingResults)
			return true, nil
		}
		ok, err := p.questions.Finalized(ctx, p.oracle)
		if err != nil || !ok {
			return false, err
		}
		p.setState(domain.StateAwaitingResults)
		return true, nil
	case domain.StateAwaitingResults:
		ok, err := p.questions.Finalized(ctx, p.oracle)
		if err != nil || !ok {
			return false, err
		}
		return true, p.enterSubmission(ctx, now)
	case domain.StateSubmission:
		if now.Before(p.submissionStart.Add(p.params.SubmissionTimeout)) {
			return false, nil
		}
		p.setState(domain.StateClaim)
		return true, nil
	default:
		return false, nil
	}
}

// enterSubmission computes the fee split exactly once and hands the fee
// pool to the manager.
func (p *Pool) enterSubmission(ctx context.Context, now time.Time) error {
	split := ComputeSplit(p.balance, p.params.CreatorFeeBps, p.params.ProtocolFeeBps)
	if split.FeePool.Sign() > 0 {
		if err := p.payer.Send(ctx, p.params.Address, p.params.Manager, split.FeePool); err != nil {
			return fmt.Errorf("pool: move fee pool: %w", err)
		}
	}
	p.balance.Sub(p.balance, split.FeePool)
	p.fees.receiveFeePool(split.FeePool)
	p.split = &split
	p.submissionStart = now
	p.emit(domain.Event{Type: domain.EventFeesComputed, Amount: new(big.Int).Set(split.TotalPrize)})
	p.setState(domain.StateSubmission)
	return nil
}

func (p *Pool) setState(s domain.PoolState) {
	p.state = s
	st := s
	p.emit(domain.Event{Type: domain.EventStateChanged, State: &st})
}

// PlaceBet stores predictions under the next token id, minted to owner.
// A non-zero referrer is recorded as an attribution event.
func (p *Pool) PlaceBet(ctx context.Context, owner common.Address, predictions []common.Hash, payment *big.Int, referrer common.Address) (uint64, error) {
	if err := p.advance(ctx); err != nil {
		return 0, err
	}
	if p.state != domain.StateOpen {
		return 0, domain.ErrBettingClosed
	}
	if len(predictions) != p.questions.Len() {
		return 0, fmt.Errorf("pool: %d predictions for %d questions: %w",
			len(predictions), p.questions.Len(), domain.ErrPredictionLengthMismatch)
	}
	if payment == nil || payment.Cmp(p.params.Price) != 0 {
		return 0, domain.ErrWrongPaymentAmount
	}

	if err := p.payer.Collect(ctx, owner, p.params.Address, payment); err != nil {
		return 0, fmt.Errorf("pool: collect bet payment: %w", err)
	}
	want := p.bets.NextID()
	id, err := p.custody.Mint(ctx, owner)
	if err == nil && id != want {
		err = fmt.Errorf("custody minted %d, want %d: %w", id, want, domain.ErrInvalidState)
	}
	if err != nil {
		if refundErr := p.payer.Send(ctx, p.params.Address, owner, payment); refundErr != nil {
			return 0, fmt.Errorf("pool: mint: %w (refund: %v)", err, refundErr)
		}
		return 0, fmt.Errorf("pool: mint: %w", err)
	}

	p.bets.add(domain.Bet{
		TokenID:     id,
		Bettor:      owner,
		Predictions: append([]common.Hash(nil), predictions...),
	})
	p.balance.Add(p.balance, payment)

	tid := id
	p.emit(domain.Event{Type: domain.EventBetPlaced, TokenID: &tid, Account: owner, Amount: new(big.Int).Set(payment)})
	if referrer != (common.Address{}) {
		p.emit(domain.Event{Type: domain.EventAttribution, TokenID: &tid, Account: referrer})
	}
	return id, nil
}

// Fund adds value to the gross pool. Accepted until results are available.
func (p *Pool) Fund(ctx context.Context, from common.Address, amount *big.Int) error {
	if err := p.advance(ctx); err != nil {
		return err
	}
	if p.state != domain.StateOpen && p.state != domain.StateAwaitingResults {
		return domain.ErrFundingClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := p.payer.Collect(ctx, from, p.params.Address, amount); err != nil {
		return fmt.Errorf("pool: collect funding: %w", err)
	}
	p.balance.Add(p.balance, amount)
	p.emit(domain.Event{Type: domain.EventFunded, Account: from, Amount: new(big.Int).Set(amount)})
	return nil
}

// Score counts the matching predictions of tokenID. It fails with
// ErrResultsUnavailable until every question is finalized.
func (p *Pool) Score(ctx context.Context, tokenID uint64) (uint32, error) {
	bet, err := p.bets.Get(tokenID)
	if err != nil {
		return 0, err
	}
	answers, err := p.questions.Answers(ctx, p.oracle)
	if err != nil {
		return 0, err
	}
	return Score(bet.Predictions, answers), nil
}

// Scores returns the score of every bet, indexed by token id.
func (p *Pool) Scores(ctx context.Context) ([]uint32, error) {
	answers, err := p.questions.Answers(ctx, p.oracle)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, p.bets.Len())
	for i, b := range p.bets.bets {
		out[i] = Score(b.Predictions, answers)
	}
	return out, nil
}

// RegisterPoints verifies and applies one ranking insertion. It returns
// false with a nil error when the submission was a no-op.
func (p *Pool) RegisterPoints(ctx context.Context, tokenID uint64, targetIndex, duplicateOffset int) (bool, error) {
	if err := p.advance(ctx); err != nil {
		return false, err
	}
	if err := p.submissionOpen(); err != nil {
		return false, err
	}
	return p.registerPoints(ctx, tokenID, targetIndex, duplicateOffset)
}

func (p *Pool) submissionOpen() error {
	switch p.state {
	case domain.StateSubmission:
		return nil
	case domain.StateClaim:
		return domain.ErrSubmissionClosed
	default:
		return domain.ErrResultsUnavailable
	}
}

func (p *Pool) registerPoints(ctx context.Context, tokenID uint64, targetIndex, duplicateOffset int) (bool, error) {
	if !p.bets.Exists(tokenID) {
		return false, domain.ErrUnknownToken
	}
	score, err := p.Score(ctx, tokenID)
	if err != nil {
		return false, err
	}
	inserted, err := p.ranking.Insert(tokenID, score, targetIndex, duplicateOffset)
	if err != nil || !inserted {
		return false, err
	}
	tid, idx := tokenID, targetIndex+duplicateOffset
	p.emit(domain.Event{Type: domain.EventRankingUpdated, TokenID: &tid, RankIndex: &idx, Score: score})
	return true, nil
}

// RegisterAll applies candidates in order and returns how many were
// inserted. Stale or already placed candidates are skipped; the first
// zero-score candidate ends the batch.
func (p *Pool) RegisterAll(ctx context.Context, candidates []domain.RankCandidate) (int, error) {
	if err := p.advance(ctx); err != nil {
		return 0, err
	}
	if err := p.submissionOpen(); err != nil {
		return 0, err
	}
	for _, c := range candidates {
		if !p.bets.Exists(c.TokenID) {
			return 0, fmt.Errorf("pool: candidate %d: %w", c.TokenID, domain.ErrUnknownToken)
		}
	}
	scores, err := p.Scores(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range candidates {
		if scores[c.TokenID] == 0 {
			break
		}
		ok, err := p.registerPoints(ctx, c.TokenID, c.TargetIndex, c.DuplicateOffset)
		switch {
		case err == nil:
			if ok {
				n++
			}
		case isSkippable(err):
		default:
			return n, err
		}
	}
	return n, nil
}

func isSkippable(err error) bool {
	return errors.Is(err, domain.ErrAlreadyRegistered) || errors.Is(err, domain.ErrInvalidRankingIndex)
}

// Plan computes the insertions that bring the ranking up to date.
func (p *Pool) Plan(ctx context.Context) ([]domain.RankCandidate, error) {
	scores, err := p.Scores(ctx)
	if err != nil {
		return nil, err
	}
	return PlanRanking(p.ranking.Entries(), scores), nil
}
