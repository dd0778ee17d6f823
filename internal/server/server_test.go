package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rankpool/internal/crypto"
	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/ledger"
	"github.com/alanyoungcy/rankpool/internal/metrics"
	"github.com/alanyoungcy/rankpool/internal/oracle"
	"github.com/alanyoungcy/rankpool/internal/server/handler"
	"github.com/alanyoungcy/rankpool/internal/service"
	pebblestore "github.com/alanyoungcy/rankpool/internal/store/pebble"
)

const apiKey = "operator-key"

type memReports struct {
	mu      sync.Mutex
	reports map[common.Address]domain.SettlementReport
}

func (m *memReports) Archive(_ context.Context, r domain.SettlementReport) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.Pool] = r
	return "reports/" + r.Pool.Hex() + ".json", nil
}

func (m *memReports) Load(_ context.Context, addr common.Address) (domain.SettlementReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[addr]
	if !ok {
		return domain.SettlementReport{}, domain.ErrNotFound
	}
	return r, nil
}

type testAPI struct {
	t       *testing.T
	handler http.Handler
	ledger  *ledger.Ledger
	reports *memReports
	metrics *metrics.PoolMetrics

	mu  sync.Mutex
	now time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store, err := pebblestore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &testAPI{
		t:       t,
		ledger:  ledger.New(),
		reports: &memReports{reports: make(map[common.Address]domain.SettlementReport)},
		metrics: metrics.New(0),
		now:     time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	svc := service.NewPoolService(service.Protocol{
		Factory:                  common.HexToAddress("0xfa"),
		Treasury:                 common.HexToAddress("0xd0"),
		MaxCreatorFeeBps:         1000,
		DefaultSubmissionTimeout: time.Hour,
	}, service.Deps{
		Oracle:  oracle.NewMemory(),
		Payer:   api.ledger,
		Store:   store,
		Answers: store,
		Audit:   store,
		Metrics: api.metrics,
		Now:     api.clock,
	}, logger)

	srv := NewServer(Config{APIKey: apiKey, RateLimitRPS: 1000, RateBurst: 1000}, Handlers{
		Health:     handler.NewHealthHandler(map[string]handler.Pinger{"store": pingFunc(func(context.Context) error { return nil })}, logger),
		Pools:      handler.NewPoolHandler(svc, api.reports, 1, logger),
		Bets:       handler.NewBetHandler(svc, logger),
		Ranking:    handler.NewRankingHandler(svc, logger),
		Settlement: handler.NewSettlementHandler(svc, logger),
		Oracle:     handler.NewOracleHandler(svc, logger),
	}, Options{Metrics: api.metrics}, logger)
	api.handler = srv.Handler()
	return api
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func (a *testAPI) clock() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

func (a *testAPI) advance(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = a.now.Add(d)
}

// do sends a request and decodes the JSON response into out when non-nil.
func (a *testAPI) do(method, path string, body any, operator bool, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if operator {
		r.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, r)
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type apiError struct {
	Error string            `json:"error"`
	Class domain.ErrorClass `json:"class"`
}

func createRequest() service.CreatePoolRequest {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return service.CreatePoolRequest{
		Name:          "league day",
		Creator:       common.HexToAddress("0xc0"),
		Price:         big.NewInt(1000),
		CreatorFeeBps: 0,
		ClosingTime:   start.Add(time.Hour),
		PrizeWeights:  []uint16{10000},
		Arbitration:   domain.Arbitration{Arbitrator: common.HexToAddress("0xa0"), Timeout: 60, MinBond: big.NewInt(1)},
		Questions: []domain.Question{
			{TemplateID: 2, Text: "home or away", OpeningTime: uint32(start.Unix())},
			{TemplateID: 2, Text: "over or under", OpeningTime: uint32(start.Unix())},
		},
	}
}

func answerFor(i int) common.Hash { return common.BigToHash(big.NewInt(int64(100 + i))) }

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	var body map[string]any
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/health", nil, false, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestPoolLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/pools", createRequest(), false, nil))

	var snap domain.PoolSnapshot
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/pools", createRequest(), true, &snap))
	base := "/api/pools/" + snap.Address.Hex()

	predictions := [][]common.Hash{
		{answerFor(0), answerFor(1)},
		{answerFor(0), common.HexToHash("0xbad")},
	}
	for i, p := range predictions {
		var placed map[string]uint64
		bet := map[string]any{"owner": common.BigToAddress(big.NewInt(int64(0x500 + i))), "predictions": p, "payment": 1000}
		require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/bets", bet, true, &placed))
		assert.Equal(t, uint64(i), placed["token_id"])
	}

	var apiErr apiError
	bad := map[string]any{"owner": common.HexToAddress("0x501"), "predictions": predictions[0], "payment": 5}
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodPost, base+"/bets", bad, true, &apiErr))
	assert.Equal(t, domain.ClassInput, apiErr.Class)

	var list struct {
		Pools []domain.PoolSummary `json:"pools"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/pools?state=open", nil, false, &list))
	require.Len(t, list.Pools, 1)
	assert.Equal(t, 2, list.Pools[0].Bets)

	submit := domain.RankCandidate{TokenID: 0}
	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, base+"/ranking", submit, false, &apiErr))
	assert.Equal(t, domain.ClassStateGate, apiErr.Class)

	for i, q := range snap.Questions {
		resolve := map[string]common.Hash{"question_id": q.ID, "answer": answerFor(i)}
		assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/api/oracle/answers", resolve, false, nil))
		require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/api/oracle/answers", resolve, true, nil))
	}

	var score map[string]uint64
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/bets/1/score", nil, false, &score))
	assert.Equal(t, uint64(1), score["score"])

	var inserted map[string]bool
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/ranking", submit, false, &inserted))
	assert.True(t, inserted["inserted"])

	stale := domain.RankCandidate{TokenID: 1, TargetIndex: 5}
	assert.Equal(t, http.StatusUnprocessableEntity, api.do(http.MethodPost, base+"/ranking", stale, false, &apiErr))
	assert.Equal(t, domain.ClassInvariant, apiErr.Class)

	var plan struct {
		Candidates []domain.RankCandidate `json:"candidates"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/ranking/plan", nil, false, &plan))
	require.Len(t, plan.Candidates, 1)
	var batch map[string]int
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/ranking/batch", plan, false, &batch))
	assert.Equal(t, 1, batch["inserted"])

	api.advance(2 * time.Hour)
	claim := map[string]int{"rank_index": 0, "first": 0, "last": 0}
	var paid map[string]*big.Int
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, base+"/claims", claim, false, &paid))
	assert.Equal(t, int64(2000), paid["amount"].Int64())
	assert.Equal(t, int64(2000), api.ledger.BalanceOf(common.BigToAddress(big.NewInt(0x500))).Int64())

	assert.Equal(t, http.StatusConflict, api.do(http.MethodPost, base+"/claims", claim, false, &apiErr))
	assert.Equal(t, domain.ClassIdempotent, apiErr.Class)

	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/pools/"+common.HexToAddress("0x99").Hex(), nil, false, &apiErr))
	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, "/api/pools/nope", nil, false, nil))
}

func TestPoolHistoryOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	var first, second domain.PoolSnapshot
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/pools", createRequest(), true, &first))
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/pools", createRequest(), true, &second))
	base := "/api/pools/" + first.Address.Hex()

	bet := map[string]any{"owner": common.HexToAddress("0x500"), "predictions": []common.Hash{answerFor(0), answerFor(1)}, "payment": 1000}
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, base+"/bets", bet, true, nil))

	var history struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/audit?order=asc", nil, false, &history))
	require.NotEmpty(t, history.Entries)
	assert.Equal(t, string(domain.EventPoolCreated), history.Entries[0].Event)
	assert.Equal(t, string(domain.EventBetPlaced), history.Entries[len(history.Entries)-1].Event)
	for i, e := range history.Entries {
		assert.Equal(t, first.Address, e.Pool)
		if i > 0 {
			assert.Greater(t, e.ID, history.Entries[i-1].ID)
		}
	}

	require.Equal(t, http.StatusOK, api.do(http.MethodGet, base+"/audit", nil, false, &history))
	assert.Equal(t, string(domain.EventBetPlaced), history.Entries[0].Event)

	assert.Equal(t, http.StatusBadRequest, api.do(http.MethodGet, base+"/audit?order=sideways", nil, false, nil))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/api/pools/"+common.HexToAddress("0x99").Hex()+"/audit", nil, false, nil))
}

func TestGetReportVerifiesSignature(t *testing.T) {
	api := newTestAPI(t)
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", 1)
	require.NoError(t, err)

	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	report := domain.SettlementReport{
		Pool:        addr,
		Name:        "archived",
		State:       domain.StateClaim,
		GrossPool:   big.NewInt(3000),
		TotalPrize:  big.NewInt(3000),
		FeePool:     new(big.Int),
		Ranking:     []domain.RankEntry{{TokenID: 0, Score: 2, Claimed: true}},
		GeneratedAt: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	sig, err := signer.SignReport(&report)
	require.NoError(t, err)
	report.Signature = sig
	_, err = api.reports.Archive(context.Background(), report)
	require.NoError(t, err)

	var got struct {
		domain.SettlementReport
		Verified bool `json:"verified"`
	}
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/pools/"+addr.Hex()+"/report", nil, false, &got))
	assert.True(t, got.Verified)
	assert.Equal(t, signer.Address(), got.Signer)

	report.TotalPrize = big.NewInt(1)
	_, err = api.reports.Archive(context.Background(), report)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/pools/"+addr.Hex()+"/report", nil, false, &got))
	assert.False(t, got.Verified)

	missing := "/api/pools/" + common.HexToAddress("0xbb").Hex() + "/report"
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, missing, nil, false, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.do(http.MethodGet, "/api/health", nil, false, nil)

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /api/health"`)
}
