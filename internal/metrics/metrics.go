// Package metrics exposes Prometheus metrics for the pool engine.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rankpool/internal/domain"
)

// PoolMetrics owns a private registry so tests can build as many as they like.
type PoolMetrics struct {
	registry *prometheus.Registry
	decimals int32

	// Betting
	BetsTotal   prometheus.Counter
	BetVolume   prometheus.Counter
	FundedTotal prometheus.Counter

	// Ranking
	RankingSubmissions *prometheus.CounterVec

	// Settlement
	Payouts          *prometheus.CounterVec
	PayoutVolume     *prometheus.CounterVec
	TransferDeferred prometheus.Counter

	// Lifecycle
	Pools       *prometheus.GaugeVec
	Transitions *prometheus.CounterVec

	// Operations
	OperationDuration *prometheus.HistogramVec
	OperationErrors   *prometheus.CounterVec
	KeeperRuns        *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// New builds the metric set. decimals converts base-unit amounts into the
// float values exported for volume counters.
func New(decimals int) *PoolMetrics {
	m := &PoolMetrics{
		registry: prometheus.NewRegistry(),
		decimals: int32(decimals),

		BetsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankpool_bets_total",
			Help: "Total number of bets placed",
		}),
		BetVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankpool_bet_volume",
			Help: "Total value collected from bets",
		}),
		FundedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankpool_funded_volume",
			Help: "Total value donated to pools outside of bets",
		}),
		RankingSubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_ranking_submissions_total",
				Help: "Ranking submissions by outcome",
			},
			[]string{"result"},
		),
		Payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_payouts_total",
				Help: "Value transfers out of pools by kind",
			},
			[]string{"kind"},
		),
		PayoutVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_payout_volume",
				Help: "Value paid out of pools by kind",
			},
			[]string{"kind"},
		),
		TransferDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rankpool_transfers_deferred_total",
			Help: "Prize transfers that failed and were credited for withdrawal",
		}),
		Pools: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rankpool_pools",
				Help: "Pools currently in each state",
			},
			[]string{"state"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_state_transitions_total",
				Help: "Pool state transitions by target state",
			},
			[]string{"state"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rankpool_operation_duration_seconds",
				Help:    "Latency of pool operations",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op"},
		),
		OperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_operation_errors_total",
				Help: "Failed pool operations by error class",
			},
			[]string{"op", "class"},
		),
		KeeperRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_keeper_runs_total",
				Help: "Keeper sweeps by outcome",
			},
			[]string{"result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankpool_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "code"},
		),
	}
	m.registerAll()
	return m
}

func (m *PoolMetrics) registerAll() {
	m.registry.MustRegister(
		m.BetsTotal,
		m.BetVolume,
		m.FundedTotal,
		m.RankingSubmissions,
		m.Payouts,
		m.PayoutVolume,
		m.TransferDeferred,
		m.Pools,
		m.Transitions,
		m.OperationDuration,
		m.OperationErrors,
		m.KeeperRuns,
		m.HTTPRequests,
	)
}

func (m *PoolMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *PoolMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvents updates counters from the events one pool operation emitted.
func (m *PoolMetrics) RecordEvents(events []domain.Event) {
	for _, ev := range events {
		switch ev.Type {
		case domain.EventBetPlaced:
			m.BetsTotal.Inc()
			m.BetVolume.Add(m.Amount(ev.Amount))
		case domain.EventFunded:
			m.FundedTotal.Add(m.Amount(ev.Amount))
		case domain.EventRankingUpdated:
			m.RankingSubmissions.WithLabelValues("inserted").Inc()
		case domain.EventPrizePaid, domain.EventPlayerReimbursed, domain.EventRemainingDistributed,
			domain.EventOwedWithdrawn, domain.EventCreatorPaid, domain.EventProtocolPaid:
			m.Payouts.WithLabelValues(string(ev.Type)).Inc()
			m.PayoutVolume.WithLabelValues(string(ev.Type)).Add(m.Amount(ev.Amount))
		case domain.EventTransferDeferred:
			m.TransferDeferred.Inc()
		case domain.EventStateChanged:
			if ev.State != nil {
				m.Transitions.WithLabelValues(ev.State.String()).Inc()
			}
		}
	}
}

// RecordSubmission counts a ranking submission that emitted no insertion.
func (m *PoolMetrics) RecordSubmission(result string) {
	m.RankingSubmissions.WithLabelValues(result).Inc()
}

// RecordOperation observes latency and, on failure, the error class.
func (m *PoolMetrics) RecordOperation(op string, started time.Time, err error) {
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.OperationErrors.WithLabelValues(op, string(domain.Classify(err))).Inc()
	}
}

func (m *PoolMetrics) RecordKeeperRun(result string) {
	m.KeeperRuns.WithLabelValues(result).Inc()
}

func (m *PoolMetrics) RecordHTTPRequest(method, route string, code int) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// SetPoolStates replaces the per-state pool gauge.
func (m *PoolMetrics) SetPoolStates(counts map[domain.PoolState]int) {
	for _, s := range []domain.PoolState{domain.StateOpen, domain.StateAwaitingResults, domain.StateSubmission, domain.StateClaim} {
		m.Pools.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

// Amount converts a base-unit amount to a float in display units.
func (m *PoolMetrics) Amount(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -m.decimals).InexactFloat64()
}
