package pool

import (
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// Snapshot captures the full pool state for persistence and indexers.
func (p *Pool) Snapshot() domain.PoolSnapshot {
	answers := p.questions.cachedAnswers()

	bets := make([]domain.BetView, p.bets.Len())
	for i, b := range p.bets.bets {
		b.Predictions = slices.Clone(b.Predictions)
		v := domain.BetView{Bet: b, Owner: b.Bettor, Burned: p.bets.burned[i]}
		if answers != nil {
			s := Score(b.Predictions, answers)
			v.Score = &s
		}
		bets[i] = v
	}

	var owed []domain.OwedCredit
	for acct, amt := range p.owed {
		owed = append(owed, domain.OwedCredit{Account: acct, Amount: new(big.Int).Set(amt)})
	}
	slices.SortFunc(owed, func(a, b domain.OwedCredit) int { return a.Account.Cmp(b.Account) })

	snap := domain.PoolSnapshot{
		PoolParams:           p.params,
		State:                p.state,
		Balance:              new(big.Int).Set(p.balance),
		Answers:              answers,
		FeeLedger:            p.fees.Ledger(),
		Bets:                 bets,
		Ranking:              p.ranking.Entries(),
		RemainingDistributed: p.remainingDone,
		Owed:                 owed,
		UpdatedAt:            p.now().UTC(),
	}
	snap.Questions = p.questions.Questions()
	snap.PrizeWeights = p.prizes.Weights()
	if p.split != nil {
		split := domain.FeeSplit{
			GrossPool:  new(big.Int).Set(p.split.GrossPool),
			TotalPrize: new(big.Int).Set(p.split.TotalPrize),
			FeePool:    new(big.Int).Set(p.split.FeePool),
		}
		snap.Fees = &split
		start := p.submissionStart
		snap.SubmissionStart = &start
	}
	return snap
}

// Restore rebuilds a pool from a snapshot. The snapshot's owners reflect the
// custody state at the time it was taken; restoring custody is the caller's
// concern.
func Restore(snap domain.PoolSnapshot, deps Deps) (*Pool, error) {
	p, err := New(snap.PoolParams, deps)
	if err != nil {
		return nil, fmt.Errorf("pool: restore %s: %w", snap.Address.Hex(), err)
	}
	if err := p.questions.restoreAnswers(snap.Answers); err != nil {
		return nil, err
	}

	for i, v := range snap.Bets {
		if v.TokenID != uint64(i) {
			return nil, fmt.Errorf("pool: restore bet %d has id %d: %w", i, v.TokenID, domain.ErrInvalidState)
		}
		b := v.Bet
		b.Predictions = slices.Clone(b.Predictions)
		p.bets.add(b)
		if v.Burned {
			p.bets.markBurned(b.TokenID)
		}
	}

	ranking, err := restoreRanking(snap.Ranking)
	if err != nil {
		return nil, fmt.Errorf("pool: restore ranking: %w", err)
	}
	for _, e := range snap.Ranking {
		if e.TokenID >= uint64(p.bets.Len()) {
			return nil, fmt.Errorf("pool: restore ranked token %d: %w", e.TokenID, domain.ErrUnknownToken)
		}
	}
	p.ranking = ranking

	p.state = snap.State
	p.balance = cloneOrZero(snap.Balance)
	p.remainingDone = snap.RemainingDistributed
	if snap.Fees != nil {
		p.split = &domain.FeeSplit{
			GrossPool:  cloneOrZero(snap.Fees.GrossPool),
			TotalPrize: cloneOrZero(snap.Fees.TotalPrize),
			FeePool:    cloneOrZero(snap.Fees.FeePool),
		}
		if snap.SubmissionStart != nil {
			p.submissionStart = *snap.SubmissionStart
		}
	}
	if p.state >= domain.StateSubmission && p.split == nil {
		return nil, fmt.Errorf("pool: restore %s without fee split: %w", p.state, domain.ErrInvalidState)
	}
	p.fees.restore(snap.FeeLedger, p.split != nil)
	for _, o := range snap.Owed {
		p.owed[o.Account] = cloneOrZero(o.Amount)
	}
	return p, nil
}

// Owners lists the owner recorded for every bet, for custody restoration.
func Owners(snap domain.PoolSnapshot) (owners []common.Address, burned []bool) {
	owners = make([]common.Address, len(snap.Bets))
	burned = make([]bool, len(snap.Bets))
	for i, v := range snap.Bets {
		owners[i] = v.Owner
		burned[i] = v.Burned
	}
	return owners, burned
}

// Deadline is when the current phase ends on time alone, or zero when the
// phase waits on the oracle.
func (p *Pool) Deadline() time.Time {
	switch p.state {
	case domain.StateOpen:
		return p.params.ClosingTime
	case domain.StateSubmission:
		return p.submissionStart.Add(p.params.SubmissionTimeout)
	default:
		return time.Time{}
	}
}
