package metrics

import (
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

func TestRecordEvents(t *testing.T) {
	m := New(2)
	claim := domain.StateClaim
	m.RecordEvents([]domain.Event{
		{Type: domain.EventBetPlaced, Amount: big.NewInt(150)},
		{Type: domain.EventBetPlaced, Amount: big.NewInt(150)},
		{Type: domain.EventPrizePaid, Amount: big.NewInt(250)},
		{Type: domain.EventTransferDeferred},
		{Type: domain.EventStateChanged, State: &claim},
		{Type: domain.EventRankingUpdated},
	})
	m.RecordSubmission("noop")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BetsTotal))
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.BetVolume), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Payouts.WithLabelValues("prize_paid")))
	assert.InDelta(t, 2.5, testutil.ToFloat64(m.PayoutVolume.WithLabelValues("prize_paid")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransferDeferred))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("claim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RankingSubmissions.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RankingSubmissions.WithLabelValues("noop")))
}

func TestRecordOperationClassifiesErrors(t *testing.T) {
	m := New(18)
	m.RecordOperation("place_bet", time.Now(), nil)
	m.RecordOperation("place_bet", time.Now(), domain.ErrBettingClosed)
	m.RecordOperation("place_bet", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("place_bet", "state_gate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationErrors.WithLabelValues("place_bet", "internal")))
}

func TestSetPoolStatesAndHandler(t *testing.T) {
	m := New(18)
	m.SetPoolStates(map[domain.PoolState]int{domain.StateOpen: 3})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Pools.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Pools.WithLabelValues("claim")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rankpool_pools"))
}
