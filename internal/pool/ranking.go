package pool

import (
	"slices"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// RankingLedger is the leaderboard of a pool: entries in non-increasing
// score order, each token at most once, every score above zero. Entries are
// never sorted here; each insertion names its slot and is only verified
// against its neighbours.
type RankingLedger struct {
	entries []domain.RankEntry
	members map[uint64]struct{}
}

func NewRankingLedger() *RankingLedger {
	return &RankingLedger{members: make(map[uint64]struct{})}
}

func (r *RankingLedger) Len() int { return len(r.entries) }

// At returns the entry at index i.
func (r *RankingLedger) At(i int) domain.RankEntry { return r.entries[i] }

// Contains reports whether tokenID is already ranked.
func (r *RankingLedger) Contains(tokenID uint64) bool {
	_, ok := r.members[tokenID]
	return ok
}

// Entries returns a copy of the ledger.
func (r *RankingLedger) Entries() []domain.RankEntry {
	return slices.Clone(r.entries)
}

// Insert places (tokenID, score) at targetIndex+duplicateOffset. It returns
// false with a nil error when the entry at targetIndex outranks the
// candidate; nothing changes in that case.
//
// targetIndex must be the first slot whose score is not above the
// candidate's and duplicateOffset the number of entries already tied with
// it, so the candidate lands directly after its tie group.
func (r *RankingLedger) Insert(tokenID uint64, score uint32, targetIndex, duplicateOffset int) (bool, error) {
	if score == 0 {
		return false, domain.ErrNotAWinner
	}
	if r.Contains(tokenID) {
		return false, domain.ErrAlreadyRegistered
	}
	k := len(r.entries)
	if targetIndex < 0 || targetIndex > k {
		return false, domain.ErrInvalidRankingIndex
	}
	if targetIndex < k && r.entries[targetIndex].Score > score {
		return false, nil
	}
	if targetIndex > 0 && r.entries[targetIndex-1].Score <= score {
		return false, domain.ErrInvalidRankingIndex
	}
	if duplicateOffset < 0 || duplicateOffset > k-targetIndex {
		return false, domain.ErrInvalidRankingIndex
	}
	insertAt := targetIndex + duplicateOffset
	if insertAt > targetIndex && r.entries[insertAt-1].Score != score {
		return false, domain.ErrInvalidRankingIndex
	}
	if insertAt < k && r.entries[insertAt].Score >= score {
		return false, domain.ErrInvalidRankingIndex
	}

	r.entries = slices.Insert(r.entries, insertAt, domain.RankEntry{TokenID: tokenID, Score: score})
	r.members[tokenID] = struct{}{}
	return true, nil
}

// TieGroup returns the bounds of the maximal run of equal scores containing i.
func (r *RankingLedger) TieGroup(i int) (first, last int) {
	s := r.entries[i].Score
	first, last = i, i
	for first > 0 && r.entries[first-1].Score == s {
		first--
	}
	for last < len(r.entries)-1 && r.entries[last+1].Score == s {
		last++
	}
	return first, last
}

// ValidTieRange reports whether [first, last] is a whole tie group that
// contains rankIndex.
func (r *RankingLedger) ValidTieRange(rankIndex, first, last int) bool {
	if first < 0 || last >= len(r.entries) || first > last {
		return false
	}
	if rankIndex < first || rankIndex > last {
		return false
	}
	f, l := r.TieGroup(first)
	return f == first && l == last
}

func (r *RankingLedger) markClaimed(i int) { r.entries[i].Claimed = true }

// restoreRanking rebuilds a ledger from persisted entries, rejecting any
// sequence that breaks ordering, uniqueness or positivity.
func restoreRanking(entries []domain.RankEntry) (*RankingLedger, error) {
	r := NewRankingLedger()
	for i, e := range entries {
		if e.Score == 0 || r.Contains(e.TokenID) {
			return nil, domain.ErrInvalidRankingIndex
		}
		if i > 0 && entries[i-1].Score < e.Score {
			return nil, domain.ErrInvalidRankingIndex
		}
		r.members[e.TokenID] = struct{}{}
	}
	r.entries = slices.Clone(entries)
	return r, nil
}
