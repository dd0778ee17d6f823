package pool

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/custody"
	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/ledger"
	"github.com/alanyoungcy/rankpool/internal/oracle"
)

var (
	poolAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	creator  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000d0")
	wrong    = common.HexToHash("0xdead")
	base     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	pool    *Pool
	oracle  *oracle.Memory
	custody *custody.Registry
	ledger  *ledger.Ledger
	now     time.Time
}

func player(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func answer(i int) common.Hash {
	return common.BigToHash(big.NewInt(int64(i + 1)))
}

func testParams(questions int, weights []uint16, creatorBps, protocolBps uint16) domain.PoolParams {
	arb := domain.Arbitration{
		Arbitrator: common.HexToAddress("0xa0"),
		Timeout:    86400,
		MinBond:    big.NewInt(1e15),
		Resolver:   common.HexToAddress("0xb0"),
	}
	qs := make([]domain.Question, questions)
	for i := range qs {
		qs[i] = domain.Question{TemplateID: 2, Text: "match " + string(rune('A'+i)), OpeningTime: uint32(base.Unix())}
	}
	return domain.PoolParams{
		Address:           poolAddr,
		Name:              "test pool",
		Creator:           creator,
		Treasury:          treasury,
		Price:             big.NewInt(100),
		CreatorFeeBps:     creatorBps,
		ProtocolFeeBps:    protocolBps,
		ClosingTime:       base.Add(time.Hour),
		SubmissionTimeout: time.Hour,
		PrizeWeights:      weights,
		Arbitration:       arb,
		Questions:         SortQuestions(qs, arb, poolAddr),
	}
}

func newHarness(t *testing.T, questions int, weights []uint16, creatorBps, protocolBps uint16) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		oracle:  oracle.NewMemory(),
		custody: custody.New(),
		ledger:  ledger.New(),
		now:     base,
	}
	p, err := New(testParams(questions, weights, creatorBps, protocolBps), h.deps())
	require.NoError(t, err)
	h.pool = p
	return h
}

func (h *harness) deps() Deps {
	return Deps{Oracle: h.oracle, Custody: h.custody, Payer: h.ledger, Now: func() time.Time { return h.now }}
}

// predictions returns a vector matching the first score answers.
func (h *harness) predictions(score int) []common.Hash {
	out := make([]common.Hash, h.pool.questions.Len())
	for i := range out {
		if i < score {
			out[i] = answer(i)
		} else {
			out[i] = wrong
		}
	}
	return out
}

func (h *harness) bet(owner common.Address, score int) uint64 {
	h.t.Helper()
	id, err := h.pool.PlaceBet(h.ctx, owner, h.predictions(score), big.NewInt(100), common.Address{})
	require.NoError(h.t, err)
	return id
}

func (h *harness) resolveAll() {
	h.t.Helper()
	for i, q := range h.pool.Params().Questions {
		require.NoError(h.t, h.oracle.Resolve(h.ctx, q.ID, answer(i)))
	}
}

func (h *harness) toSubmission() {
	h.t.Helper()
	h.now = h.pool.Params().ClosingTime.Add(time.Second)
	h.resolveAll()
	state, err := h.pool.TryAdvance(h.ctx)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.StateSubmission, state)
}

func (h *harness) toClaim() {
	h.t.Helper()
	h.now = h.now.Add(h.pool.Params().SubmissionTimeout)
	state, err := h.pool.TryAdvance(h.ctx)
	require.NoError(h.t, err)
	require.Equal(h.t, domain.StateClaim, state)
}

func (h *harness) register(tokenID uint64, target, dup int) {
	h.t.Helper()
	ok, err := h.pool.RegisterPoints(h.ctx, tokenID, target, dup)
	require.NoError(h.t, err)
	require.True(h.t, ok)
}

func eventsOf(events []domain.Event, typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
