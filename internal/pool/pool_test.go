package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

var weights631 = []uint16{6000, 3000, 1000}

func TestNewValidatesParams(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	deps := h.deps()

	tests := []struct {
		name    string
		mutate  func(p *domain.PoolParams)
		wantErr error
	}{
		{name: "zero price", mutate: func(p *domain.PoolParams) { p.Price = big.NewInt(0) }, wantErr: domain.ErrInvalidPoolParams},
		{name: "fees over 100%", mutate: func(p *domain.PoolParams) { p.CreatorFeeBps, p.ProtocolFeeBps = 6000, 4001 }, wantErr: domain.ErrInvalidFees},
		{name: "weights short", mutate: func(p *domain.PoolParams) { p.PrizeWeights = []uint16{6000, 3000} }, wantErr: domain.ErrInvalidPrizeWeights},
		{name: "no weights", mutate: func(p *domain.PoolParams) { p.PrizeWeights = nil }, wantErr: domain.ErrInvalidPrizeWeights},
		{name: "no questions", mutate: func(p *domain.PoolParams) { p.Questions = nil }, wantErr: domain.ErrInvalidPoolParams},
		{name: "unsorted questions", mutate: func(p *domain.PoolParams) {
			p.Questions[0], p.Questions[1] = p.Questions[1], p.Questions[0]
		}, wantErr: domain.ErrQuestionsNotSorted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams(3, weights631, 0, 0)
			tt.mutate(&params)
			_, err := New(params, deps)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestQuestionIDDependsOnPoolAndArbitration(t *testing.T) {
	params := testParams(1, weights631, 0, 0)
	q := params.Questions[0]
	id := QuestionID(q, params.Arbitration, poolAddr)
	assert.Equal(t, q.ID, id)

	other := params.Arbitration
	other.MinBond = big.NewInt(2e15)
	assert.NotEqual(t, id, QuestionID(q, other, poolAddr))
	assert.NotEqual(t, id, QuestionID(q, params.Arbitration, common.HexToAddress("0x01")))
	q.Text += "?"
	assert.NotEqual(t, id, QuestionID(q, params.Arbitration, poolAddr))
}

func TestPlaceBet(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	referrer := common.HexToAddress("0xee")

	id, err := h.pool.PlaceBet(h.ctx, player(0), h.predictions(1), big.NewInt(100), referrer)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
	assert.Equal(t, uint64(1), h.bet(player(1), 2))

	events := h.pool.TakeEvents()
	require.Len(t, eventsOf(events, domain.EventBetPlaced), 2)
	attr := eventsOf(events, domain.EventAttribution)
	require.Len(t, attr, 1)
	assert.Equal(t, referrer, attr[0].Account)

	_, err = h.pool.PlaceBet(h.ctx, player(2), h.predictions(1)[:2], big.NewInt(100), common.Address{})
	require.ErrorIs(t, err, domain.ErrPredictionLengthMismatch)
	_, err = h.pool.PlaceBet(h.ctx, player(2), h.predictions(1), big.NewInt(99), common.Address{})
	require.ErrorIs(t, err, domain.ErrWrongPaymentAmount)

	assert.Equal(t, int64(200), h.pool.Balance().Int64())
	assert.Equal(t, int64(200), h.ledger.BalanceOf(poolAddr).Int64())

	h.now = h.pool.Params().ClosingTime
	_, err = h.pool.PlaceBet(h.ctx, player(2), h.predictions(1), big.NewInt(100), common.Address{})
	require.ErrorIs(t, err, domain.ErrBettingClosed)
	assert.Equal(t, domain.StateAwaitingResults, h.pool.State())
}

// failingPayer rejects the next failCollects collections.
type failingPayer struct {
	domain.Payer
	failCollects int
}

func (p *failingPayer) Collect(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if p.failCollects > 0 {
		p.failCollects--
		return errors.New("payment rejected")
	}
	return p.Payer.Collect(ctx, from, to, amount)
}

// failingCustody rejects the next failMints mints.
type failingCustody struct {
	domain.TokenCustody
	failMints int
}

func (c *failingCustody) Mint(ctx context.Context, owner common.Address) (uint64, error) {
	if c.failMints > 0 {
		c.failMints--
		return 0, errors.New("mint rejected")
	}
	return c.TokenCustody.Mint(ctx, owner)
}

func TestFailedPaymentKeepsTokenIDsDense(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	payer := &failingPayer{Payer: h.ledger, failCollects: 1}
	deps := h.deps()
	deps.Payer = payer
	p, err := New(testParams(3, weights631, 0, 0), deps)
	require.NoError(t, err)

	_, err = p.PlaceBet(h.ctx, player(0), h.predictions(1), big.NewInt(100), common.Address{})
	require.Error(t, err)
	assert.Zero(t, p.TotalBets())

	for i := range 3 {
		id, err := p.PlaceBet(h.ctx, player(i), h.predictions(1), big.NewInt(100), common.Address{})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), id)
		owner, err := h.custody.OwnerOf(h.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, player(i), owner)
	}
	assert.Equal(t, int64(300), p.Balance().Int64())
	assert.Equal(t, int64(300), h.ledger.BalanceOf(poolAddr).Int64())
}

func TestFailedMintRefundsPayment(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	deps := h.deps()
	deps.Custody = &failingCustody{TokenCustody: h.custody, failMints: 1}
	p, err := New(testParams(3, weights631, 0, 0), deps)
	require.NoError(t, err)

	_, err = p.PlaceBet(h.ctx, player(0), h.predictions(1), big.NewInt(100), common.Address{})
	require.Error(t, err)
	assert.Zero(t, p.TotalBets())
	assert.Equal(t, int64(100), h.ledger.BalanceOf(player(0)).Int64())
	assert.Zero(t, h.ledger.BalanceOf(poolAddr).Sign())

	id, err := p.PlaceBet(h.ctx, player(1), h.predictions(1), big.NewInt(100), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)
	assert.Equal(t, int64(100), p.Balance().Int64())
}

func TestBettingClosesWhenResultsArriveEarly(t *testing.T) {
	h := newHarness(t, 2, weights631, 0, 0)
	h.bet(player(0), 1)
	h.resolveAll()

	_, err := h.pool.PlaceBet(h.ctx, player(1), h.predictions(1), big.NewInt(100), common.Address{})
	require.ErrorIs(t, err, domain.ErrBettingClosed)
	assert.Equal(t, domain.StateSubmission, h.pool.State())
}

func TestScoreRequiresResults(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	id := h.bet(player(0), 2)

	_, err := h.pool.Score(h.ctx, id)
	require.ErrorIs(t, err, domain.ErrResultsUnavailable)
	_, err = h.pool.Score(h.ctx, 9)
	require.ErrorIs(t, err, domain.ErrUnknownToken)

	h.toSubmission()
	score, err := h.pool.Score(h.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), score)
}

func TestStateMachine(t *testing.T) {
	h := newHarness(t, 2, weights631, 0, 0)

	state, err := h.pool.TryAdvance(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateOpen, state)

	h.now = h.pool.Params().ClosingTime
	state, err = h.pool.TryAdvance(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingResults, state)

	require.NoError(t, h.pool.Fund(h.ctx, player(9), big.NewInt(50)))

	q := h.pool.Params().Questions
	require.NoError(t, h.oracle.Resolve(h.ctx, q[0].ID, answer(0)))
	state, err = h.pool.TryAdvance(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingResults, state, "one question still open")

	_, err = h.pool.RegisterPoints(h.ctx, 0, 0, 0)
	require.ErrorIs(t, err, domain.ErrResultsUnavailable)
	_, err = h.pool.ClaimRewards(h.ctx, 0, 0, 0)
	require.ErrorIs(t, err, domain.ErrClaimWindowNotOpen)

	require.NoError(t, h.oracle.Resolve(h.ctx, q[1].ID, answer(1)))
	state, err = h.pool.TryAdvance(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSubmission, state)
	assert.Equal(t, int64(50), h.pool.TotalPrize().Int64())

	require.ErrorIs(t, h.pool.Fund(h.ctx, player(9), big.NewInt(1)), domain.ErrFundingClosed)

	h.now = h.now.Add(59 * time.Minute)
	state, _ = h.pool.TryAdvance(h.ctx)
	assert.Equal(t, domain.StateSubmission, state)

	h.now = h.now.Add(time.Minute)
	state, _ = h.pool.TryAdvance(h.ctx)
	assert.Equal(t, domain.StateClaim, state)

	_, err = h.pool.RegisterPoints(h.ctx, 0, 0, 0)
	require.ErrorIs(t, err, domain.ErrSubmissionClosed)

	changes := eventsOf(h.pool.TakeEvents(), domain.EventStateChanged)
	require.Len(t, changes, 3)
	assert.Equal(t, domain.StateClaim, *changes[2].State)
	require.Len(t, eventsOf(h.pool.TakeEvents(), domain.EventStateChanged), 0)
}

func TestRegisterPointsPreconditions(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	zero := h.bet(player(0), 0)
	two := h.bet(player(1), 2)
	three := h.bet(player(2), 3)
	h.toSubmission()
	h.pool.TakeEvents()

	_, err := h.pool.RegisterPoints(h.ctx, 42, 0, 0)
	require.ErrorIs(t, err, domain.ErrUnknownToken)

	for _, idx := range [][2]int{{0, 0}, {1, 0}, {0, 1}, {5, 5}} {
		_, err = h.pool.RegisterPoints(h.ctx, zero, idx[0], idx[1])
		require.ErrorIs(t, err, domain.ErrNotAWinner)
	}

	h.register(two, 0, 0)
	_, err = h.pool.RegisterPoints(h.ctx, two, 1, 0)
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	h.register(three, 0, 0)
	assert.Equal(t, []domain.RankEntry{{TokenID: three, Score: 3}, {TokenID: two, Score: 2}}, h.pool.Ranking().Entries())

	events := h.pool.TakeEvents()
	require.Len(t, eventsOf(events, domain.EventRankingUpdated), 2)
}

func TestRegisterPointsNoOpEmitsNothing(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	three := h.bet(player(0), 3)
	one := h.bet(player(1), 1)
	h.toSubmission()
	h.register(three, 0, 0)
	h.pool.TakeEvents()

	ok, err := h.pool.RegisterPoints(h.ctx, one, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, h.pool.TakeEvents())
	assert.Equal(t, 1, h.pool.Ranking().Len())
}

// Three questions, price 100, scores [2,3,2,1,0], weights [6000,3000,1000].
func TestScenarioTieGroupSharesWeights(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	ids := make([]uint64, 5)
	for i, s := range []int{2, 3, 2, 1, 0} {
		ids[i] = h.bet(player(i), s)
	}
	h.toSubmission()
	total := h.pool.TotalPrize()
	require.Equal(t, int64(500), total.Int64())

	h.register(ids[1], 0, 0)
	h.register(ids[0], 1, 0)
	h.register(ids[2], 1, 1)
	h.register(ids[3], 3, 0)
	h.toClaim()

	paid, err := h.pool.ClaimRewards(h.ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(300), paid.Int64())

	_, err = h.pool.ClaimRewards(h.ctx, 1, 1, 1)
	require.ErrorIs(t, err, domain.ErrInvalidTieRange)
	_, err = h.pool.ClaimRewards(h.ctx, 1, 0, 2)
	require.ErrorIs(t, err, domain.ErrInvalidTieRange)

	for _, idx := range []int{1, 2} {
		paid, err = h.pool.ClaimRewards(h.ctx, idx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(500*4000/20000), paid.Int64())
	}
	_, err = h.pool.ClaimRewards(h.ctx, 1, 1, 2)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = h.pool.ClaimRewards(h.ctx, 3, 3, 3)
	require.ErrorIs(t, err, domain.ErrNoPrize)

	_, err = h.pool.DistributeRemainingPrizes(h.ctx)
	require.ErrorIs(t, err, domain.ErrNoVacantPrizes)
	_, err = h.pool.ReimbursePlayer(h.ctx, ids[4])
	require.ErrorIs(t, err, domain.ErrWinnersExist)

	assert.Equal(t, int64(300), h.ledger.BalanceOf(player(1)).Int64())
	assert.Equal(t, int64(100), h.ledger.BalanceOf(player(0)).Int64())
	assert.Equal(t, int64(100), h.ledger.BalanceOf(player(2)).Int64())
	assert.Zero(t, h.pool.Balance().Sign())
	assert.False(t, h.pool.Settled(), "fee rewards not yet distributed")
	require.NoError(t, h.pool.DistributeFeeRewards(h.ctx))
	assert.True(t, h.pool.Settled())
}

func TestScenarioReimbursementWhenNobodyScores(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	for i := range 3 {
		h.bet(player(i), 0)
	}
	require.NoError(t, h.pool.Fund(h.ctx, player(9), big.NewInt(1)))
	h.toSubmission()
	h.toClaim()

	_, err := h.pool.DistributeRemainingPrizes(h.ctx)
	require.ErrorIs(t, err, domain.ErrNoWinners)

	sum := new(big.Int)
	for i := range 3 {
		paid, err := h.pool.ReimbursePlayer(h.ctx, uint64(i))
		require.NoError(t, err)
		assert.Equal(t, int64(100), paid.Int64())
		sum.Add(sum, paid)

		_, err = h.pool.ReimbursePlayer(h.ctx, uint64(i))
		require.ErrorIs(t, err, domain.ErrUnknownToken)
		_, err = h.custody.OwnerOf(h.ctx, uint64(i))
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	remainder := new(big.Int).Sub(h.pool.TotalPrize(), sum)
	assert.Equal(t, int64(1), remainder.Int64())
	require.NoError(t, h.pool.DistributeFeeRewards(h.ctx))
	assert.True(t, h.pool.Settled())
}

func TestScenarioVacantSlotsGoToLastGroup(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	winner := h.bet(player(0), 2)
	h.bet(player(1), 0)
	h.toSubmission()
	h.register(winner, 0, 0)
	h.toClaim()

	total := h.pool.TotalPrize()
	require.Equal(t, int64(200), total.Int64())

	paid, err := h.pool.ClaimRewards(h.ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(120), paid.Int64())

	rest, err := h.pool.DistributeRemainingPrizes(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(80), rest.Int64())

	_, err = h.pool.DistributeRemainingPrizes(h.ctx)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, int64(200), h.ledger.BalanceOf(player(0)).Int64())
}

func TestDistributeRemainingSplitsAcrossLastTieGroup(t *testing.T) {
	h := newHarness(t, 2, []uint16{5000, 2000, 2000, 1000}, 0, 0)
	top := h.bet(player(0), 2)
	a := h.bet(player(1), 1)
	b := h.bet(player(2), 1)
	h.bet(player(3), 0)
	h.toSubmission()
	h.register(top, 0, 0)
	h.register(a, 1, 0)
	h.register(b, 1, 1)
	h.toClaim()

	// total 400; vacant slot 3 carries 1000 bps split over two members.
	rest, err := h.pool.DistributeRemainingPrizes(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), rest.Int64())
	assert.Equal(t, int64(20), h.ledger.BalanceOf(player(1)).Int64())
	assert.Equal(t, int64(20), h.ledger.BalanceOf(player(2)).Int64())
	assert.Zero(t, h.ledger.BalanceOf(player(0)).Sign())
}

// Every prize, remaining-prize and reimbursement payout sums to at most the
// prize pool and to exactly the prize pool, minus rounding, once all are made.
func TestConservation(t *testing.T) {
	cases := [][]int{
		{2, 3, 2, 1, 0},
		{1, 1, 1, 1},
		{3, 3, 3, 3, 3, 3},
		{3},
		{0, 0},
	}
	for _, scores := range cases {
		h := newHarness(t, 3, weights631, 250, 250)
		for i, s := range scores {
			h.bet(player(i), s)
		}
		h.toSubmission()
		plan, err := h.pool.Plan(h.ctx)
		require.NoError(t, err)
		_, err = h.pool.RegisterAll(h.ctx, plan)
		require.NoError(t, err)
		h.toClaim()

		paid := new(big.Int)
		r := h.pool.Ranking()
		for i := 0; i < r.Len(); i++ {
			first, last := r.TieGroup(i)
			amt, err := h.pool.ClaimRewards(h.ctx, i, first, last)
			if err != nil {
				require.ErrorIs(t, err, domain.ErrNoPrize)
				continue
			}
			paid.Add(paid, amt)
		}
		if r.Len() == 0 {
			for id := range scores {
				amt, err := h.pool.ReimbursePlayer(h.ctx, uint64(id))
				require.NoError(t, err)
				paid.Add(paid, amt)
			}
		} else if amt, err := h.pool.DistributeRemainingPrizes(h.ctx); err == nil {
			paid.Add(paid, amt)
		}

		total := h.pool.TotalPrize()
		require.LessOrEqual(t, paid.Cmp(total), 0)
		slack := new(big.Int).Sub(total, paid)
		assert.Less(t, slack.Int64(), int64(len(scores)+1), "scores %v", scores)
	}
}

func TestFailedPushIsOwed(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	winner := h.bet(player(0), 3)
	h.toSubmission()
	h.register(winner, 0, 0)
	h.toClaim()
	h.pool.TakeEvents()

	h.ledger.Block(player(0))
	paid, err := h.pool.ClaimRewards(h.ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(60), paid.Int64())
	assert.Equal(t, int64(60), h.pool.Owed(player(0)).Int64())
	require.Len(t, eventsOf(h.pool.TakeEvents(), domain.EventTransferDeferred), 1)

	_, err = h.pool.ClaimRewards(h.ctx, 0, 0, 0)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = h.pool.WithdrawOwed(h.ctx, player(0))
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, int64(60), h.pool.Owed(player(0)).Int64())

	h.ledger.Unblock(player(0))
	got, err := h.pool.WithdrawOwed(h.ctx, player(0))
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Int64())
	got, err = h.pool.WithdrawOwed(h.ctx, player(0))
	require.NoError(t, err)
	assert.Zero(t, got.Sign())
	assert.Equal(t, int64(60), h.ledger.BalanceOf(player(0)).Int64())
}

func TestRegisterAllSkipsStaleAndStopsAtZero(t *testing.T) {
	h := newHarness(t, 3, weights631, 0, 0)
	ids := make([]uint64, 5)
	for i, s := range []int{2, 3, 2, 1, 0} {
		ids[i] = h.bet(player(i), s)
	}
	h.toSubmission()

	plan, err := h.pool.Plan(h.ctx)
	require.NoError(t, err)
	require.Len(t, plan, 4)

	// Someone else lands the leader first; its candidate becomes stale.
	h.register(ids[1], 0, 0)

	candidates := append(plan, domain.RankCandidate{TokenID: ids[4]}, domain.RankCandidate{TokenID: ids[3], TargetIndex: 0})
	n, err := h.pool.RegisterAll(h.ctx, candidates)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 4, h.pool.Ranking().Len())

	n, err = h.pool.RegisterAll(h.ctx, plan)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.pool.RegisterAll(h.ctx, []domain.RankCandidate{{TokenID: 99}})
	require.ErrorIs(t, err, domain.ErrUnknownToken)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	h := newHarness(t, 3, weights631, 100, 200)
	ids := make([]uint64, 4)
	for i, s := range []int{2, 3, 2, 0} {
		ids[i] = h.bet(player(i), s)
	}
	h.toSubmission()
	h.register(ids[1], 0, 0)
	h.register(ids[0], 1, 0)
	h.toClaim()
	_, err := h.pool.ClaimRewards(h.ctx, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, h.pool.DistributeFeeRewards(h.ctx))

	snap := h.pool.Snapshot()
	require.NotNil(t, snap.Fees)
	require.Len(t, snap.Answers, 3)
	require.NotNil(t, snap.Bets[1].Score)
	assert.Equal(t, uint32(3), *snap.Bets[1].Score)
	assert.True(t, snap.Ranking[0].Claimed)

	restored, err := Restore(snap, h.deps())
	require.NoError(t, err)
	assert.Equal(t, snap, restored.Snapshot())

	_, err = restored.ClaimRewards(h.ctx, 0, 0, 0)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	require.ErrorIs(t, restored.DistributeFeeRewards(h.ctx), domain.ErrAlreadyClaimed)
	_, err = restored.RegisterPoints(h.ctx, ids[2], 1, 1)
	require.ErrorIs(t, err, domain.ErrSubmissionClosed)
}
