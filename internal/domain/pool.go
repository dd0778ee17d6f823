package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState is the lifecycle phase of a pool. Transitions only move forward.
type PoolState uint8

const (
	StateOpen            PoolState = iota // accepting bets
	StateAwaitingResults                  // betting closed, oracle not finalized
	StateSubmission                       // results available, ranking insertions accepted
	StateClaim                            // ranking frozen, payouts accepted
)

var poolStateNames = [...]string{"open", "awaiting_results", "submission", "claim"}

func (s PoolState) String() string {
	if int(s) < len(poolStateNames) {
		return poolStateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText encodes the state by name.
func (s PoolState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *PoolState) UnmarshalText(text []byte) error {
	for i, name := range poolStateNames {
		if name == string(text) {
			*s = PoolState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pool state %q", string(text))
}

// Arbitration holds the oracle parameters every question of a pool is asked with.
type Arbitration struct {
	Arbitrator common.Address `json:"arbitrator"`
	Timeout    uint32         `json:"timeout"`
	MinBond    *big.Int       `json:"min_bond"`
	Resolver   common.Address `json:"resolver"`
}

// Question is an oracle-resolvable question bound to a pool at creation.
// ID is derived from the content and the arbitration parameters.
type Question struct {
	TemplateID  uint32      `json:"template_id"`
	Text        string      `json:"text"`
	OpeningTime uint32      `json:"opening_time"`
	ID          common.Hash `json:"id"`
}

// Bet is one player's prediction vector, held under a dense token id.
type Bet struct {
	TokenID     uint64         `json:"token_id"`
	Bettor      common.Address `json:"bettor"`
	Predictions []common.Hash  `json:"predictions"`
	Claimed     bool           `json:"claimed"`
}

// RankEntry is one slot of the ranking ledger.
type RankEntry struct {
	TokenID uint64 `json:"token_id"`
	Score   uint32 `json:"score"`
	Claimed bool   `json:"claimed"`
}

// RankCandidate is one externally computed ranking insertion.
type RankCandidate struct {
	TokenID         uint64 `json:"token_id"`
	TargetIndex     int    `json:"target_index"`
	DuplicateOffset int    `json:"duplicate_offset"`
}

// FeeSplit is computed once, when results first become available.
type FeeSplit struct {
	GrossPool  *big.Int `json:"gross_pool"`
	TotalPrize *big.Int `json:"total_prize"`
	FeePool    *big.Int `json:"fee_pool"`
}

// FeeLedger holds the fee manager's counters. CreatorReward and ProtocolReward
// are cumulative credits; the Paid counters track what has been released.
type FeeLedger struct {
	Balance            *big.Int `json:"balance"`
	FeePool            *big.Int `json:"fee_pool"`
	CreatorReward      *big.Int `json:"creator_reward"`
	ProtocolReward     *big.Int `json:"protocol_reward"`
	CreatorPaid        *big.Int `json:"creator_paid"`
	ProtocolPaid       *big.Int `json:"protocol_paid"`
	RewardsDistributed bool     `json:"rewards_distributed"`
}

// BetView is a bet together with its custody state and, when results are
// available, its score.
type BetView struct {
	Bet
	Owner  common.Address `json:"owner"`
	Burned bool           `json:"burned"`
	Score  *uint32        `json:"score,omitempty"`
}

// OwedCredit is value a failed push payment left for the account to withdraw.
type OwedCredit struct {
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

// PoolParams are the immutable parameters of a pool.
type PoolParams struct {
	Address           common.Address `json:"address"`
	Name              string         `json:"name"`
	Creator           common.Address `json:"creator"`
	Treasury          common.Address `json:"treasury"`
	Manager           common.Address `json:"manager"`
	Price             *big.Int       `json:"price"`
	CreatorFeeBps     uint16         `json:"creator_fee_bps"`
	ProtocolFeeBps    uint16         `json:"protocol_fee_bps"`
	ClosingTime       time.Time      `json:"closing_time"`
	SubmissionTimeout time.Duration  `json:"submission_timeout"`
	PrizeWeights      []uint16       `json:"prize_weights"`
	Arbitration       Arbitration    `json:"arbitration"`
	Questions         []Question     `json:"questions"`
}

// PoolSnapshot is the full persisted state of a pool. It is what indexers and
// settlement tooling read to decide which calls to submit next.
type PoolSnapshot struct {
	PoolParams
	State                PoolState     `json:"state"`
	SubmissionStart      *time.Time    `json:"submission_start,omitempty"`
	Balance              *big.Int      `json:"balance"`
	Answers              []common.Hash `json:"answers,omitempty"`
	Fees                 *FeeSplit     `json:"fees,omitempty"`
	FeeLedger            FeeLedger     `json:"fee_ledger"`
	Bets                 []BetView     `json:"bets"`
	Ranking              []RankEntry   `json:"ranking"`
	RemainingDistributed bool          `json:"remaining_distributed"`
	Owed                 []OwedCredit  `json:"owed,omitempty"`
	Payouts              []Payout      `json:"payouts,omitempty"`
	ReportPath           string        `json:"report_path,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// TotalPrize returns the prize pool, or zero before results are available.
func (s PoolSnapshot) TotalPrize() *big.Int {
	if s.Fees == nil || s.Fees.TotalPrize == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.Fees.TotalPrize)
}

// PoolSummary is the list view of a pool.
type PoolSummary struct {
	Address     common.Address `json:"address"`
	Name        string         `json:"name"`
	State       PoolState      `json:"state"`
	Bets        int            `json:"bets"`
	Ranked      int            `json:"ranked"`
	TotalPrize  *big.Int       `json:"total_prize"`
	ClosingTime time.Time      `json:"closing_time"`
}

// Summary condenses the snapshot for listings.
func (s PoolSnapshot) Summary() PoolSummary {
	return PoolSummary{
		Address:     s.Address,
		Name:        s.Name,
		State:       s.State,
		Bets:        len(s.Bets),
		Ranked:      len(s.Ranking),
		TotalPrize:  s.TotalPrize(),
		ClosingTime: s.ClosingTime,
	}
}
