package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a pool state change.
type EventType string

const (
	EventPoolCreated          EventType = "pool_created"
	EventBetPlaced            EventType = "bet_placed"
	EventAttribution          EventType = "attribution"
	EventFunded               EventType = "funded"
	EventStateChanged         EventType = "state_changed"
	EventFeesComputed         EventType = "fees_computed"
	EventRankingUpdated       EventType = "ranking_updated"
	EventPrizePaid            EventType = "prize_paid"
	EventPlayerReimbursed     EventType = "player_reimbursed"
	EventRemainingDistributed EventType = "remaining_prizes_distributed"
	EventTransferDeferred     EventType = "transfer_deferred"
	EventOwedWithdrawn        EventType = "owed_withdrawn"
	EventManagerFunded        EventType = "manager_funded"
	EventFeeRewards           EventType = "fee_rewards_distributed"
	EventSurplusDistributed   EventType = "surplus_distributed"
	EventCreatorPaid          EventType = "creator_paid"
	EventProtocolPaid         EventType = "protocol_paid"
)

// Event is emitted for every pool state change. A ranking submission that
// turns out to be a no-op emits nothing.
type Event struct {
	ID        string         `json:"id"`
	Pool      common.Address `json:"pool"`
	Type      EventType      `json:"type"`
	TokenID   *uint64        `json:"token_id,omitempty"`
	RankIndex *int           `json:"rank_index,omitempty"`
	Score     uint32         `json:"score,omitempty"`
	Account   common.Address `json:"account,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	State     *PoolState     `json:"state,omitempty"`
	At        time.Time      `json:"at"`
}
