package pool

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

func ledgerWith(t *testing.T, scores ...uint32) *RankingLedger {
	t.Helper()
	r := NewRankingLedger()
	for i, s := range scores {
		target, dup := Slot(r.entries, s)
		ok, err := r.Insert(uint64(100+i), s, target, dup)
		require.NoError(t, err)
		require.True(t, ok)
	}
	return r
}

func scoresOf(r *RankingLedger) []uint32 {
	out := make([]uint32, r.Len())
	for i, e := range r.entries {
		out[i] = e.Score
	}
	return out
}

func TestRankingInsertPositions(t *testing.T) {
	tests := []struct {
		name    string
		score   uint32
		target  int
		dup     int
		want    bool
		wantErr error
	}{
		{name: "new leader", score: 6, target: 0, dup: 0, want: true},
		{name: "between groups", score: 4, target: 1, dup: 0, want: true},
		{name: "end of tie group", score: 3, target: 1, dup: 2, want: true},
		{name: "after last", score: 1, target: 3, dup: 1, want: true},
		{name: "below all", score: 0, target: 4, dup: 0, wantErr: domain.ErrNotAWinner},
		{name: "occupant outranks", score: 3, target: 0, dup: 0, want: false},
		{name: "occupant outranks with offset", score: 2, target: 2, dup: 5, want: false},
		{name: "inside tie group", score: 3, target: 1, dup: 1, wantErr: domain.ErrInvalidRankingIndex},
		{name: "offset past group", score: 3, target: 1, dup: 3, wantErr: domain.ErrInvalidRankingIndex},
		{name: "target not group start", score: 3, target: 2, dup: 1, wantErr: domain.ErrInvalidRankingIndex},
		{name: "before tie of one", score: 1, target: 3, dup: 0, wantErr: domain.ErrInvalidRankingIndex},
		{name: "target past end", score: 1, target: 5, dup: 0, wantErr: domain.ErrInvalidRankingIndex},
		{name: "negative target", score: 9, target: -1, dup: 0, wantErr: domain.ErrInvalidRankingIndex},
		{name: "negative offset", score: 4, target: 1, dup: -1, wantErr: domain.ErrInvalidRankingIndex},
		{name: "gap above", score: 2, target: 4, dup: 0, wantErr: domain.ErrInvalidRankingIndex},
		{name: "overflowing offset", score: 2, target: 3, dup: math.MaxInt, wantErr: domain.ErrInvalidRankingIndex},
		{name: "overflowing offset at leader", score: 6, target: 0, dup: math.MaxInt, wantErr: domain.ErrInvalidRankingIndex},
		{name: "minimum offset", score: 4, target: 1, dup: math.MinInt, wantErr: domain.ErrInvalidRankingIndex},
		{name: "overflowing target", score: 1, target: math.MaxInt, dup: math.MaxInt, wantErr: domain.ErrInvalidRankingIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ledgerWith(t, 5, 3, 3, 1)
			before := scoresOf(r)

			ok, err := r.Insert(1, tt.score, tt.target, tt.dup)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, scoresOf(r))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if !ok {
				assert.Equal(t, before, scoresOf(r))
				return
			}
			assert.True(t, r.Contains(1))
			assert.Equal(t, tt.target+tt.dup, slices.IndexFunc(r.entries, func(e domain.RankEntry) bool { return e.TokenID == 1 }))
			assert.True(t, slices.IsSortedFunc(scoresOf(r), func(a, b uint32) int { return int(b) - int(a) }))
		})
	}
}

func TestRankingRejectsDuplicateToken(t *testing.T) {
	r := ledgerWith(t, 4)
	_, err := r.Insert(100, 4, 1, 0)
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestRankingTieGroups(t *testing.T) {
	r := ledgerWith(t, 5, 3, 3, 3, 1)

	first, last := r.TieGroup(2)
	assert.Equal(t, 1, first)
	assert.Equal(t, 3, last)

	assert.True(t, r.ValidTieRange(2, 1, 3))
	assert.True(t, r.ValidTieRange(0, 0, 0))
	assert.False(t, r.ValidTieRange(2, 1, 2), "range must be maximal")
	assert.False(t, r.ValidTieRange(0, 0, 1), "range must be homogeneous")
	assert.False(t, r.ValidTieRange(4, 1, 3), "range must contain the index")
	assert.False(t, r.ValidTieRange(4, 4, 5))
	assert.False(t, r.ValidTieRange(1, 3, 1))
}

// Adversarial submission order: random tokens with random slot guesses,
// some correct. The ledger must stay sorted and duplicate free after every
// call, and correct submissions must eventually rank every scorer.
func TestRankingInvariantUnderRandomSubmissions(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7919))
		n := 5 + rng.IntN(40)
		scores := make([]uint32, n)
		for i := range scores {
			scores[i] = uint32(rng.IntN(6))
		}

		r := NewRankingLedger()
		for step := 0; step < n*20; step++ {
			id := uint64(rng.IntN(n))
			var target, dup int
			if rng.IntN(3) == 0 {
				target, dup = Slot(r.entries, scores[id])
			} else {
				target, dup = rng.IntN(r.Len()+2)-1, randomOffset(rng)
			}
			_, err := r.Insert(id, scores[id], target, dup)
			if scores[id] == 0 {
				require.ErrorIs(t, err, domain.ErrNotAWinner)
			}
			requireRankingInvariant(t, r)
		}

		for id, s := range scores {
			if s == 0 || r.Contains(uint64(id)) {
				continue
			}
			target, dup := Slot(r.entries, s)
			ok, err := r.Insert(uint64(id), s, target, dup)
			require.NoError(t, err)
			require.True(t, ok)
			requireRankingInvariant(t, r)
		}

		var want []uint32
		for _, s := range scores {
			if s > 0 {
				want = append(want, s)
			}
		}
		slices.SortFunc(want, func(a, b uint32) int { return int(b) - int(a) })
		assert.Equal(t, want, scoresOf(r), "seed %d", seed)
	}
}

// randomOffset mostly guesses near the right slot and sometimes sends an
// extreme value.
func randomOffset(rng *rand.Rand) int {
	switch rng.IntN(8) {
	case 0:
		return math.MaxInt
	case 1:
		return math.MinInt
	case 2:
		return math.MaxInt - rng.IntN(3)
	case 3:
		return rng.IntN(1 << 20)
	default:
		return rng.IntN(4) - 1
	}
}

func requireRankingInvariant(t *testing.T, r *RankingLedger) {
	t.Helper()
	seen := make(map[uint64]bool, r.Len())
	for i, e := range r.entries {
		require.NotZero(t, e.Score)
		require.False(t, seen[e.TokenID], "token %d ranked twice", e.TokenID)
		seen[e.TokenID] = true
		if i > 0 {
			require.GreaterOrEqual(t, r.entries[i-1].Score, e.Score)
		}
	}
	require.Len(t, r.members, r.Len())
}

func TestRestoreRankingRejectsBrokenSequences(t *testing.T) {
	_, err := restoreRanking([]domain.RankEntry{{TokenID: 1, Score: 1}, {TokenID: 2, Score: 2}})
	require.ErrorIs(t, err, domain.ErrInvalidRankingIndex)
	_, err = restoreRanking([]domain.RankEntry{{TokenID: 1, Score: 2}, {TokenID: 1, Score: 2}})
	require.ErrorIs(t, err, domain.ErrInvalidRankingIndex)
	_, err = restoreRanking([]domain.RankEntry{{TokenID: 1, Score: 0}})
	require.ErrorIs(t, err, domain.ErrInvalidRankingIndex)

	r, err := restoreRanking([]domain.RankEntry{{TokenID: 3, Score: 2, Claimed: true}, {TokenID: 1, Score: 2}})
	require.NoError(t, err)
	assert.True(t, r.Contains(3))
	assert.True(t, r.At(0).Claimed)
}
