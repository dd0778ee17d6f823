package pool

import (
	"cmp"
	"slices"
	"sort"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// PlanRanking computes, off-ledger, the insertions that bring ranking up to
// date with scores (indexed by token id). Applied in order, every candidate
// is valid against the ledger as left by the ones before it.
func PlanRanking(ranking []domain.RankEntry, scores []uint32) []domain.RankCandidate {
	ranked := make(map[uint64]struct{}, len(ranking))
	for _, e := range ranking {
		ranked[e.TokenID] = struct{}{}
	}

	type pending struct {
		tokenID uint64
		score   uint32
	}
	var todo []pending
	for id, s := range scores {
		if s == 0 {
			continue
		}
		if _, ok := ranked[uint64(id)]; ok {
			continue
		}
		todo = append(todo, pending{tokenID: uint64(id), score: s})
	}
	slices.SortFunc(todo, func(a, b pending) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.tokenID, b.tokenID)
	})

	sim := slices.Clone(ranking)
	out := make([]domain.RankCandidate, 0, len(todo))
	for _, c := range todo {
		target, dup := Slot(sim, c.score)
		sim = slices.Insert(sim, target+dup, domain.RankEntry{TokenID: c.tokenID, Score: c.score})
		out = append(out, domain.RankCandidate{TokenID: c.tokenID, TargetIndex: target, DuplicateOffset: dup})
	}
	return out
}

// Slot returns the target index and duplicate offset a token with score
// must name to be inserted into ranking.
func Slot(ranking []domain.RankEntry, score uint32) (targetIndex, duplicateOffset int) {
	targetIndex = sort.Search(len(ranking), func(i int) bool { return ranking[i].Score <= score })
	end := sort.Search(len(ranking), func(i int) bool { return ranking[i].Score < score })
	return targetIndex, end - targetIndex
}
