package pool

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

func (p *Pool) claimOpen(ctx context.Context) error {
	if err := p.advance(ctx); err != nil {
		return err
	}
	if p.state != domain.StateClaim {
		return domain.ErrClaimWindowNotOpen
	}
	return nil
}

// ClaimRewards pays the ranked token at rankIndex its share of the weights
// spanned by its tie group [first, last].
func (p *Pool) ClaimRewards(ctx context.Context, rankIndex, first, last int) (*big.Int, error) {
	if err := p.claimOpen(ctx); err != nil {
		return nil, err
	}
	if !p.ranking.ValidTieRange(rankIndex, first, last) {
		return nil, domain.ErrInvalidTieRange
	}
	entry := p.ranking.At(rankIndex)
	if entry.Claimed {
		return nil, domain.ErrAlreadyClaimed
	}
	share := p.prizes.TieShare(p.split.TotalPrize, first, last)
	if share.Sign() == 0 {
		return nil, domain.ErrNoPrize
	}
	owner, err := p.custody.OwnerOf(ctx, entry.TokenID)
	if err != nil {
		return nil, fmt.Errorf("pool: owner of %d: %w", entry.TokenID, err)
	}

	p.ranking.markClaimed(rankIndex)
	p.bets.markClaimed(entry.TokenID)

	tid, idx := entry.TokenID, rankIndex
	p.emit(domain.Event{Type: domain.EventPrizePaid, TokenID: &tid, RankIndex: &idx, Score: entry.Score, Account: owner, Amount: new(big.Int).Set(share)})
	p.pay(ctx, owner, share)
	return share, nil
}

// ReimbursePlayer refunds a token its even share of the prize pool when no
// token was ever ranked, burning the token.
func (p *Pool) ReimbursePlayer(ctx context.Context, tokenID uint64) (*big.Int, error) {
	if err := p.claimOpen(ctx); err != nil {
		return nil, err
	}
	if p.ranking.Len() > 0 {
		return nil, domain.ErrWinnersExist
	}
	if !p.bets.Exists(tokenID) {
		return nil, domain.ErrUnknownToken
	}
	owner, err := p.custody.OwnerOf(ctx, tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownToken
		}
		return nil, fmt.Errorf("pool: owner of %d: %w", tokenID, err)
	}
	amount := new(big.Int).Quo(p.split.TotalPrize, big.NewInt(int64(p.bets.Len())))

	if err := p.custody.Burn(ctx, tokenID); err != nil {
		return nil, fmt.Errorf("pool: burn %d: %w", tokenID, err)
	}
	p.bets.markBurned(tokenID)
	p.bets.markClaimed(tokenID)

	tid := tokenID
	p.emit(domain.Event{Type: domain.EventPlayerReimbursed, TokenID: &tid, Account: owner, Amount: new(big.Int).Set(amount)})
	p.pay(ctx, owner, amount)
	return amount, nil
}

// DistributeRemainingPrizes spreads the weight of every unfilled prize slot
// over the last ranked tie group. It succeeds once.
func (p *Pool) DistributeRemainingPrizes(ctx context.Context) (*big.Int, error) {
	if err := p.claimOpen(ctx); err != nil {
		return nil, err
	}
	if p.remainingDone {
		return nil, domain.ErrAlreadyClaimed
	}
	k := p.ranking.Len()
	if k >= p.prizes.Slots() {
		return nil, domain.ErrNoVacantPrizes
	}
	if k == 0 {
		return nil, domain.ErrNoWinners
	}
	first, last := p.ranking.TieGroup(k - 1)
	share := shareOf(p.split.TotalPrize, p.prizes.VacantWeight(k), last-first+1)

	type payout struct {
		tokenID uint64
		index   int
		owner   common.Address
	}
	payouts := make([]payout, 0, last-first+1)
	for i := first; i <= last; i++ {
		e := p.ranking.At(i)
		owner, err := p.custody.OwnerOf(ctx, e.TokenID)
		if err != nil {
			return nil, fmt.Errorf("pool: owner of %d: %w", e.TokenID, err)
		}
		payouts = append(payouts, payout{tokenID: e.TokenID, index: i, owner: owner})
	}

	p.remainingDone = true
	total := new(big.Int)
	for _, po := range payouts {
		tid, idx := po.tokenID, po.index
		p.emit(domain.Event{Type: domain.EventRemainingDistributed, TokenID: &tid, RankIndex: &idx, Account: po.owner, Amount: new(big.Int).Set(share)})
		p.pay(ctx, po.owner, share)
		total.Add(total, share)
	}
	return total, nil
}

// pay pushes amount to to. A failed transfer is credited to the account's
// owed balance instead of failing the payout.
func (p *Pool) pay(ctx context.Context, to common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	if err := p.payer.Send(ctx, p.params.Address, to, amount); err != nil {
		cur, ok := p.owed[to]
		if !ok {
			cur = new(big.Int)
			p.owed[to] = cur
		}
		cur.Add(cur, amount)
		p.emit(domain.Event{Type: domain.EventTransferDeferred, Account: to, Amount: new(big.Int).Set(amount)})
		return
	}
	p.balance.Sub(p.balance, amount)
}

// Owed returns the deferred balance of account.
func (p *Pool) Owed(account common.Address) *big.Int {
	if v, ok := p.owed[account]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// WithdrawOwed sends account its deferred balance. It returns zero once
// drained; on failure the balance stays owed.
func (p *Pool) WithdrawOwed(ctx context.Context, account common.Address) (*big.Int, error) {
	amount, ok := p.owed[account]
	if !ok || amount.Sign() == 0 {
		return new(big.Int), nil
	}
	delete(p.owed, account)
	if err := p.payer.Send(ctx, p.params.Address, account, amount); err != nil {
		p.owed[account] = amount
		return nil, fmt.Errorf("pool: withdraw owed to %s: %w: %w", account.Hex(), domain.ErrTransferFailed, err)
	}
	p.balance.Sub(p.balance, amount)
	p.emit(domain.Event{Type: domain.EventOwedWithdrawn, Account: account, Amount: new(big.Int).Set(amount)})
	return new(big.Int).Set(amount), nil
}

// FundManager sends value to the fee manager outside the fee pool.
func (p *Pool) FundManager(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	if err := p.payer.Collect(ctx, from, p.params.Manager, amount); err != nil {
		return fmt.Errorf("pool: collect manager funding: %w", err)
	}
	p.fees.fund(amount)
	p.emit(domain.Event{Type: domain.EventManagerFunded, Account: from, Amount: new(big.Int).Set(amount)})
	return nil
}

// DistributeFeeRewards credits the fee pool to creator and protocol.
func (p *Pool) DistributeFeeRewards(ctx context.Context) error {
	if err := p.advance(ctx); err != nil {
		return err
	}
	creator, protocol, err := p.fees.DistributeRewards()
	if err != nil {
		return err
	}
	p.emit(domain.Event{Type: domain.EventFeeRewards, Account: p.params.Creator, Amount: creator})
	p.emit(domain.Event{Type: domain.EventFeeRewards, Account: p.params.Treasury, Amount: protocol})
	return nil
}

// DistributeSurplus credits manager funds outside the fee pool evenly.
func (p *Pool) DistributeSurplus(ctx context.Context) (*big.Int, error) {
	creator, protocol := p.fees.DistributeSurplus()
	total := new(big.Int).Add(creator, protocol)
	if total.Sign() > 0 {
		p.emit(domain.Event{Type: domain.EventSurplusDistributed, Account: p.params.Creator, Amount: creator})
		p.emit(domain.Event{Type: domain.EventSurplusDistributed, Account: p.params.Treasury, Amount: protocol})
	}
	return total, nil
}

// ExecuteCreatorRewards releases the creator's credited rewards.
func (p *Pool) ExecuteCreatorRewards(ctx context.Context) (*big.Int, error) {
	amount, err := p.fees.ExecuteCreatorRewards(ctx, p.payer)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		p.emit(domain.Event{Type: domain.EventCreatorPaid, Account: p.params.Creator, Amount: new(big.Int).Set(amount)})
	}
	return amount, nil
}

// ExecuteProtocolRewards releases the protocol's credited rewards.
func (p *Pool) ExecuteProtocolRewards(ctx context.Context) (*big.Int, error) {
	amount, err := p.fees.ExecuteProtocolRewards(ctx, p.payer)
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		p.emit(domain.Event{Type: domain.EventProtocolPaid, Account: p.params.Treasury, Amount: new(big.Int).Set(amount)})
	}
	return amount, nil
}

// Settled reports whether every prize, reimbursement and fee payout that can
// be made has been made.
func (p *Pool) Settled() bool {
	if p.state != domain.StateClaim {
		return false
	}
	l := p.fees.ledger
	if !l.RewardsDistributed || l.CreatorReward.Cmp(l.CreatorPaid) != 0 || l.ProtocolReward.Cmp(l.ProtocolPaid) != 0 {
		return false
	}
	if len(p.owed) > 0 {
		return false
	}
	k := p.ranking.Len()
	if k == 0 {
		return !slices.Contains(p.bets.burned, false)
	}
	for i := 0; i < k; i++ {
		e := p.ranking.At(i)
		if e.Claimed {
			continue
		}
		first, last := p.ranking.TieGroup(i)
		if p.prizes.TieShare(p.split.TotalPrize, first, last).Sign() > 0 {
			return false
		}
	}
	return k >= p.prizes.Slots() || p.remainingDone
}
