package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/metrics"
)

const leaderLock = "keeper:leader"

// KeeperConfig tunes the sweep loop.
type KeeperConfig struct {
	Interval       time.Duration
	LockTTL        time.Duration
	MaxConcurrency int
}

// Keeper periodically pushes every pool forward: it advances state, submits
// the planned ranking, pays out prizes and fees, and archives the report of
// settled pools. Every call is isolated; a failure is logged and retried on
// the next sweep.
type Keeper struct {
	svc      *PoolService
	cfg      KeeperConfig
	locks    domain.LockManager
	signer   ReportSigner
	archiver domain.ReportArchiver
	metrics  *metrics.PoolMetrics
	logger   *slog.Logger
}

// NewKeeper builds a keeper. locks, signer, archiver and m may be nil; report
// archiving needs both signer and archiver.
func NewKeeper(svc *PoolService, cfg KeeperConfig, locks domain.LockManager, signer ReportSigner, archiver domain.ReportArchiver, m *metrics.PoolMetrics, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Keeper{
		svc:      svc,
		cfg:      cfg,
		locks:    locks,
		signer:   signer,
		archiver: archiver,
		metrics:  m,
		logger:   logger.With(slog.String("component", "keeper")),
	}
}

// Run sweeps on every tick until ctx ends.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.Sweep(ctx)
		}
	}
}

// Sweep visits every pool once. With a lock manager only the replica holding
// the leader lock sweeps.
func (k *Keeper) Sweep(ctx context.Context) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, leaderLock, k.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			k.record("follower")
			return
		}
		if err != nil {
			k.logger.ErrorContext(ctx, "acquire leader lock failed", slog.String("error", err.Error()))
			k.record("error")
			return
		}
		defer unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.cfg.MaxConcurrency)
	for _, addr := range k.svc.Addresses() {
		g.Go(func() error {
			k.sweepPool(gctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	if k.metrics != nil {
		k.metrics.SetPoolStates(k.svc.StateCounts())
	}
	k.record("ok")
}

func (k *Keeper) record(result string) {
	if k.metrics != nil {
		k.metrics.RecordKeeperRun(result)
	}
}

func (k *Keeper) sweepPool(ctx context.Context, addr common.Address) {
	state, err := k.svc.TryAdvance(ctx, addr)
	if err != nil {
		k.warn(ctx, "advance", addr, err)
		return
	}
	switch state {
	case domain.StateSubmission:
		n, err := k.svc.SubmitPlan(ctx, addr)
		if err != nil {
			k.warn(ctx, "submit plan", addr, err)
			return
		}
		if n > 0 {
			k.logger.InfoContext(ctx, "ranking submitted",
				slog.String("pool", addr.Hex()),
				slog.Int("inserted", n),
			)
		}
	case domain.StateClaim:
		k.settle(ctx, addr)
	}
}

// settle makes every payout the pool still owes.
func (k *Keeper) settle(ctx context.Context, addr common.Address) {
	snap, err := k.svc.Get(ctx, addr)
	if err != nil {
		k.warn(ctx, "load snapshot", addr, err)
		return
	}
	if snap.ReportPath != "" {
		return
	}

	if len(snap.Ranking) == 0 {
		for _, b := range snap.Bets {
			if b.Burned {
				continue
			}
			if _, err := k.svc.ReimbursePlayer(ctx, addr, b.TokenID); err != nil && !isBenign(err) {
				k.warn(ctx, "reimburse", addr, err)
			}
		}
	} else {
		for i, e := range snap.Ranking {
			if e.Claimed {
				continue
			}
			first, last := tieGroup(snap.Ranking, i)
			if _, err := k.svc.ClaimRewards(ctx, addr, i, first, last); err != nil && !isBenign(err) {
				k.warn(ctx, "claim", addr, err)
			}
		}
		if !snap.RemainingDistributed {
			if _, err := k.svc.DistributeRemainingPrizes(ctx, addr); err != nil && !isBenign(err) {
				k.warn(ctx, "distribute remaining", addr, err)
			}
		}
	}

	if !snap.FeeLedger.RewardsDistributed {
		if err := k.svc.DistributeFeeRewards(ctx, addr); err != nil && !isBenign(err) {
			k.warn(ctx, "distribute fee rewards", addr, err)
		}
	}
	if _, err := k.svc.DistributeSurplus(ctx, addr); err != nil {
		k.warn(ctx, "distribute surplus", addr, err)
	}
	if _, err := k.svc.ExecuteCreatorRewards(ctx, addr); err != nil {
		k.warn(ctx, "execute creator rewards", addr, err)
	}
	if _, err := k.svc.ExecuteProtocolRewards(ctx, addr); err != nil {
		k.warn(ctx, "execute protocol rewards", addr, err)
	}

	// Refresh: deferred credits may have been created above.
	if snap, err = k.svc.Get(ctx, addr); err != nil {
		k.warn(ctx, "reload snapshot", addr, err)
		return
	}
	for _, o := range snap.Owed {
		if _, err := k.svc.WithdrawOwed(ctx, addr, o.Account); err != nil {
			k.warn(ctx, "withdraw owed", addr, err)
		}
	}

	if k.signer == nil || k.archiver == nil {
		return
	}
	if settled, err := k.svc.Settled(addr); err != nil || !settled {
		return
	}
	if _, err := k.svc.ArchiveReport(ctx, addr, k.signer, k.archiver); err != nil {
		k.warn(ctx, "archive report", addr, err)
	}
}

func (k *Keeper) warn(ctx context.Context, step string, addr common.Address, err error) {
	k.logger.WarnContext(ctx, "keeper step failed",
		slog.String("step", step),
		slog.String("pool", addr.Hex()),
		slog.String("class", string(domain.Classify(err))),
		slog.String("error", err.Error()),
	)
}

// tieGroup is the maximal run of equal scores around index i.
func tieGroup(entries []domain.RankEntry, i int) (first, last int) {
	first, last = i, i
	for first > 0 && entries[first-1].Score == entries[i].Score {
		first--
	}
	for last+1 < len(entries) && entries[last+1].Score == entries[i].Score {
		last++
	}
	return first, last
}
