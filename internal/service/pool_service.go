// Package service hosts every pool of this node. PoolService serializes
// operations per pool and, after each mutation, persists the snapshot and
// fans the emitted events out to the cache, bus, audit log, metrics and
// notifier. Keeper drives pools through their lifecycle in the background.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/rankpool/internal/custody"
	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/metrics"
	"github.com/alanyoungcy/rankpool/internal/pool"
)

// Oracle is the answer source pools read, plus the operator entry points.
type Oracle interface {
	domain.Oracle
	Resolve(ctx context.Context, questionID, answer common.Hash) error
	Load(answers map[common.Hash]common.Hash)
}

// Crediter is implemented by value hosts that need balances re-seeded when
// pools are restored.
type Crediter interface {
	Credit(addr common.Address, amount *big.Int)
}

// Notifier receives the events of every committed operation.
type Notifier interface {
	PoolEvents(ctx context.Context, snap domain.PoolSnapshot, events []domain.Event) error
	Settled(ctx context.Context, report domain.SettlementReport, path string) error
}

// Protocol holds the settings shared by every pool this node creates.
type Protocol struct {
	Factory                  common.Address
	Treasury                 common.Address
	ProtocolFeeBps           uint16
	MaxCreatorFeeBps         uint16
	DefaultSubmissionTimeout time.Duration
}

// Deps are the PoolService collaborators. Store, Answers, Oracle and Payer
// are required; the rest may be nil.
type Deps struct {
	Oracle   Oracle
	Payer    domain.Payer
	Store    domain.PoolStore
	Answers  domain.AnswerStore
	Audit    domain.AuditStore
	Cache    domain.PoolCache
	Bus      domain.EventBus
	Metrics  *metrics.PoolMetrics
	Notifier Notifier
	Now      func() time.Time
}

type managed struct {
	mu         sync.Mutex
	pool       *pool.Pool
	custody    *custody.Registry
	payouts    []domain.Payout
	reportPath string
}

// PoolService owns the in-memory pools of this node. It is the only writer
// of their snapshots.
type PoolService struct {
	protocol Protocol
	deps     Deps
	logger   *slog.Logger

	mu    sync.RWMutex
	pools map[common.Address]*managed
	nonce uint64
}

func NewPoolService(protocol Protocol, deps Deps, logger *slog.Logger) *PoolService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &PoolService{
		protocol: protocol,
		deps:     deps,
		logger:   logger.With(slog.String("component", "pool_service")),
		pools:    make(map[common.Address]*managed),
	}
}

// CreatePoolRequest describes a new pool. Questions may come in any order;
// they are sorted by their derived id once the pool address is known.
type CreatePoolRequest struct {
	Name              string             `json:"name"`
	Creator           common.Address     `json:"creator"`
	Price             *big.Int           `json:"price"`
	CreatorFeeBps     uint16             `json:"creator_fee_bps"`
	ClosingTime       time.Time          `json:"closing_time"`
	SubmissionTimeout time.Duration      `json:"submission_timeout"`
	PrizeWeights      []uint16           `json:"prize_weights"`
	Arbitration       domain.Arbitration `json:"arbitration"`
	Questions         []domain.Question  `json:"questions"`
}

// Load restores answers and every persisted pool. Call once before serving.
func (s *PoolService) Load(ctx context.Context) error {
	answers, err := s.deps.Answers.ListAnswers(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: load answers: %w", err)
	}
	s.deps.Oracle.Load(answers)

	snaps, err := s.deps.Store.ListPools(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("pool_service: load pools: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		m, err := s.restore(snap)
		if err != nil {
			return err
		}
		s.pools[snap.Address] = m
	}
	s.nonce = uint64(len(s.pools))
	s.logger.InfoContext(ctx, "pools restored",
		slog.Int("pools", len(snaps)),
		slog.Int("answers", len(answers)),
	)
	return nil
}

func (s *PoolService) restore(snap domain.PoolSnapshot) (*managed, error) {
	reg, err := custody.Restore(pool.Owners(snap))
	if err != nil {
		return nil, fmt.Errorf("pool_service: restore custody %s: %w", snap.Address.Hex(), err)
	}
	p, err := pool.Restore(snap, s.poolDeps(reg))
	if err != nil {
		return nil, fmt.Errorf("pool_service: restore %s: %w", snap.Address.Hex(), err)
	}
	if c, ok := s.deps.Payer.(Crediter); ok {
		c.Credit(snap.Address, p.Balance())
		c.Credit(snap.Manager, p.Fees().Ledger().Balance)
	}
	return &managed{
		pool:       p,
		custody:    reg,
		payouts:    slices.Clone(snap.Payouts),
		reportPath: snap.ReportPath,
	}, nil
}

func (s *PoolService) poolDeps(reg *custody.Registry) pool.Deps {
	return pool.Deps{
		Oracle:  s.deps.Oracle,
		Custody: reg,
		Payer:   s.deps.Payer,
		Now:     s.deps.Now,
	}
}

// CreatePool deploys a pool at the next factory address.
func (s *PoolService) CreatePool(ctx context.Context, req CreatePoolRequest) (domain.PoolSnapshot, error) {
	if req.CreatorFeeBps > s.protocol.MaxCreatorFeeBps {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: creator fee %d bps above %d: %w",
			req.CreatorFeeBps, s.protocol.MaxCreatorFeeBps, domain.ErrInvalidFees)
	}
	if req.Creator == (common.Address{}) {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: creator required: %w", domain.ErrInvalidPoolParams)
	}
	timeout := req.SubmissionTimeout
	if timeout == 0 {
		timeout = s.protocol.DefaultSubmissionTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	addr := crypto.CreateAddress(s.protocol.Factory, s.nonce)
	if _, ok := s.pools[addr]; ok {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: pool %s: %w", addr.Hex(), domain.ErrAlreadyExists)
	}
	params := domain.PoolParams{
		Address:           addr,
		Name:              req.Name,
		Creator:           req.Creator,
		Treasury:          s.protocol.Treasury,
		Price:             req.Price,
		CreatorFeeBps:     req.CreatorFeeBps,
		ProtocolFeeBps:    s.protocol.ProtocolFeeBps,
		ClosingTime:       req.ClosingTime,
		SubmissionTimeout: timeout,
		PrizeWeights:      req.PrizeWeights,
		Arbitration:       req.Arbitration,
		Questions:         pool.SortQuestions(req.Questions, req.Arbitration, addr),
	}
	reg := custody.New()
	p, err := pool.New(params, s.poolDeps(reg))
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: create: %w", err)
	}

	m := &managed{pool: p, custody: reg}
	events := []domain.Event{{Pool: addr, Type: domain.EventPoolCreated, Account: req.Creator, At: s.deps.Now().UTC()}}
	snap, err := s.commit(ctx, m, events)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	s.pools[addr] = m
	s.nonce++

	s.logger.InfoContext(ctx, "pool created",
		slog.String("pool", addr.Hex()),
		slog.String("name", req.Name),
		slog.Int("questions", len(params.Questions)),
		slog.Int("prize_slots", len(params.PrizeWeights)),
	)
	return snap, nil
}

func (s *PoolService) lookup(addr common.Address) (*managed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.pools[addr]
	if !ok {
		return nil, fmt.Errorf("pool_service: pool %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return m, nil
}

// Addresses lists the pools hosted here.
func (s *PoolService) Addresses() []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.SortedFunc(maps.Keys(s.pools), func(a, b common.Address) int { return a.Cmp(b) })
}

// Get returns the current snapshot. Pools hosted elsewhere are served from
// the cache, then the store.
func (s *PoolService) Get(ctx context.Context, addr common.Address) (domain.PoolSnapshot, error) {
	if m, err := s.lookup(addr); err == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return s.snapshot(m), nil
	}
	if s.deps.Cache != nil {
		if snap, err := s.deps.Cache.Get(ctx, addr); err == nil {
			return snap, nil
		}
	}
	snap, err := s.deps.Store.GetPool(ctx, addr)
	if err != nil {
		return domain.PoolSnapshot{}, fmt.Errorf("pool_service: get %s: %w", addr.Hex(), err)
	}
	return snap, nil
}

func (s *PoolService) List(ctx context.Context, opts domain.ListOpts) ([]domain.PoolSummary, error) {
	snaps, err := s.deps.Store.ListPools(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list: %w", err)
	}
	out := make([]domain.PoolSummary, len(snaps))
	for i, snap := range snaps {
		out[i] = snap.Summary()
	}
	return out, nil
}

// History returns the audit entries of one pool. Without an audit store it
// returns nothing.
func (s *PoolService) History(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.Get(ctx, addr); err != nil {
		return nil, err
	}
	if s.deps.Audit == nil {
		return nil, nil
	}
	opts.Pool = &addr
	entries, err := s.deps.Audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: history %s: %w", addr.Hex(), err)
	}
	return entries, nil
}

// StateCounts tallies hosted pools by state for the pools gauge.
func (s *PoolService) StateCounts() map[domain.PoolState]int {
	counts := make(map[domain.PoolState]int)
	for _, addr := range s.Addresses() {
		m, err := s.lookup(addr)
		if err != nil {
			continue
		}
		m.mu.Lock()
		counts[m.pool.State()]++
		m.mu.Unlock()
	}
	return counts
}

// view runs fn under the pool's lock without committing.
func (s *PoolService) view(addr common.Address, fn func(m *managed) error) error {
	m, err := s.lookup(addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

// mutate runs fn under the pool's lock and commits whatever events it left
// behind, including the implicit state advance of an operation that failed.
func (s *PoolService) mutate(ctx context.Context, addr common.Address, op string, fn func(m *managed) error) error {
	started := time.Now()
	m, err := s.lookup(addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	opErr := fn(m)
	if events := m.pool.TakeEvents(); len(events) > 0 {
		if _, err := s.commit(ctx, m, events); err != nil && opErr == nil {
			opErr = err
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordOperation(op, started, opErr)
	}
	if opErr != nil {
		s.logger.DebugContext(ctx, "operation rejected",
			slog.String("op", op),
			slog.String("pool", addr.Hex()),
			slog.String("class", string(domain.Classify(opErr))),
			slog.String("error", opErr.Error()),
		)
	}
	return opErr
}

func (s *PoolService) snapshot(m *managed) domain.PoolSnapshot {
	snap := m.pool.Snapshot()
	owners, _ := m.custody.Owners()
	for i := range snap.Bets {
		if i < len(owners) {
			snap.Bets[i].Owner = owners[i]
		}
	}
	snap.Payouts = slices.Clone(m.payouts)
	snap.ReportPath = m.reportPath
	return snap
}

// commit persists the pool and fans out events. Only the store write can
// fail the operation; the other sinks are best effort.
func (s *PoolService) commit(ctx context.Context, m *managed, events []domain.Event) (domain.PoolSnapshot, error) {
	for i := range events {
		events[i].ID = uuid.NewString()
		if p, ok := payoutOf(events[i]); ok {
			m.payouts = append(m.payouts, p)
		}
	}
	snap := s.snapshot(m)
	addr := snap.Address

	if err := s.deps.Store.SavePool(ctx, snap); err != nil {
		return snap, fmt.Errorf("pool_service: save %s: %w", addr.Hex(), err)
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, snap); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("pool", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordEvents(events)
	}
	if s.deps.Notifier != nil {
		go s.notify(context.WithoutCancel(ctx), snap, events)
	}
	return snap, nil
}

func (s *PoolService) notify(ctx context.Context, snap domain.PoolSnapshot, events []domain.Event) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.deps.Notifier.PoolEvents(ctx, snap, events); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("pool", snap.Address.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PoolService) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if s.deps.Bus != nil {
		if err := s.deps.Bus.Publish(ctx, domain.PoolChannel(ev.Pool), payload); err != nil {
			s.logger.WarnContext(ctx, "publish event failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.deps.Bus.StreamAppend(ctx, domain.PoolStream(ev.Pool), payload); err != nil {
			s.logger.WarnContext(ctx, "stream append failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.deps.Audit != nil {
		var detail map[string]any
		_ = json.Unmarshal(payload, &detail)
		if err := s.deps.Audit.Log(ctx, string(ev.Type), detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// payoutOf records value credited to an account. Deferred transfers are
// still payouts; the later withdrawal is not counted again.
func payoutOf(ev domain.Event) (domain.Payout, bool) {
	switch ev.Type {
	case domain.EventPrizePaid, domain.EventPlayerReimbursed, domain.EventRemainingDistributed,
		domain.EventCreatorPaid, domain.EventProtocolPaid:
	default:
		return domain.Payout{}, false
	}
	p := domain.Payout{Kind: ev.Type, Account: ev.Account}
	if ev.TokenID != nil {
		tid := *ev.TokenID
		p.TokenID = &tid
	}
	if ev.Amount != nil {
		p.Amount = new(big.Int).Set(ev.Amount)
	}
	return p, true
}

// isBenign reports errors the keeper treats as "nothing to do".
func isBenign(err error) bool {
	return errors.Is(err, domain.ErrAlreadyClaimed) || errors.Is(err, domain.ErrNoPrize) ||
		errors.Is(err, domain.ErrNoVacantPrizes) || errors.Is(err, domain.ErrNoWinners)
}
