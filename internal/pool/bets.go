package pool

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// BetLedger stores prediction vectors under dense token ids.
type BetLedger struct {
	bets   []domain.Bet
	burned []bool
}

func (l *BetLedger) Len() int { return len(l.bets) }

// NextID is the token id the next bet receives.
func (l *BetLedger) NextID() uint64 { return uint64(len(l.bets)) }

func (l *BetLedger) add(b domain.Bet) {
	l.bets = append(l.bets, b)
	l.burned = append(l.burned, false)
}

// Get returns the bet for tokenID, or ErrUnknownToken.
func (l *BetLedger) Get(tokenID uint64) (domain.Bet, error) {
	if tokenID >= uint64(len(l.bets)) {
		return domain.Bet{}, domain.ErrUnknownToken
	}
	return l.bets[tokenID], nil
}

// Exists reports whether tokenID names a placed, unburned bet.
func (l *BetLedger) Exists(tokenID uint64) bool {
	return tokenID < uint64(len(l.bets)) && !l.burned[tokenID]
}

func (l *BetLedger) markClaimed(tokenID uint64) { l.bets[tokenID].Claimed = true }

func (l *BetLedger) markBurned(tokenID uint64) { l.burned[tokenID] = true }

// Score counts the predictions that match answers.
func Score(predictions, answers []common.Hash) uint32 {
	var n uint32
	for i, p := range predictions {
		if i < len(answers) && p == answers[i] {
			n++
		}
	}
	return n
}
