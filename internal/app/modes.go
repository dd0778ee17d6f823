package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/ledger"
	"github.com/alanyoungcy/rankpool/internal/oracle"
	"github.com/alanyoungcy/rankpool/internal/server"
	"github.com/alanyoungcy/rankpool/internal/server/handler"
	"github.com/alanyoungcy/rankpool/internal/server/ws"
	"github.com/alanyoungcy/rankpool/internal/service"
)

const shutdownTimeout = 5 * time.Second

// node is the pool service of this process together with the value host and
// oracle it settles against.
type node struct {
	svc    *service.PoolService
	ledger *ledger.Ledger
	oracle *oracle.Memory
}

func (a *App) buildNode(ctx context.Context, deps *Dependencies) (*node, error) {
	n := &node{ledger: ledger.New(), oracle: oracle.NewMemory()}

	serviceDeps := service.Deps{
		Oracle:  n.oracle,
		Payer:   n.ledger,
		Store:   deps.PoolStore,
		Answers: deps.AnswerStore,
		Audit:   deps.AuditStore,
		Cache:   deps.PoolCache,
		Bus:     deps.EventBus,
		Metrics: deps.Metrics,
	}
	if deps.Notifier != nil {
		serviceDeps.Notifier = deps.Notifier
	}

	p := a.cfg.Protocol
	n.svc = service.NewPoolService(service.Protocol{
		Factory:                  a.cfg.FactoryAddress(),
		Treasury:                 a.cfg.TreasuryAddress(),
		ProtocolFeeBps:           uint16(p.ProtocolFeeBps),
		MaxCreatorFeeBps:         uint16(p.MaxCreatorFeeBps),
		DefaultSubmissionTimeout: p.DefaultSubmissionTimeout.Duration,
	}, serviceDeps, a.logger)

	if err := n.svc.Load(ctx); err != nil {
		return nil, fmt.Errorf("app: restore pools: %w", err)
	}
	a.logger.InfoContext(ctx, "pools restored", slog.Int("count", len(n.svc.Addresses())))
	return n, nil
}

// FullMode serves the API and runs the settlement keeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, n *node) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps, n)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, n)
	}
	return g.Wait()
}

// ServerMode serves the API only. Settlement happens through the
// permissionless endpoints.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, n *node) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, n)
	return g.Wait()
}

// KeeperMode runs the settlement keeper headless. When metrics are enabled a
// small listener exposes them with the health check.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies, n *node) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps, n)

	if deps.Metrics != nil {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/health", handler.NewHealthHandler(deps.HealthChecks, a.logger).HealthCheck)
		mux.Handle("GET "+a.cfg.Metrics.Path, deps.Metrics.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.InfoContext(ctx, "metrics listener starting", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, n *node) {
	var (
		signer   service.ReportSigner
		archiver domain.ReportArchiver
	)
	if deps.Signer != nil {
		signer = deps.Signer
	}
	if deps.Archiver != nil && a.cfg.Keeper.ArchiveReports {
		archiver = deps.Archiver
	}

	keeper := service.NewKeeper(n.svc, service.KeeperConfig{
		Interval:       a.cfg.Keeper.Interval.Duration,
		LockTTL:        a.cfg.Keeper.LockTTL.Duration,
		MaxConcurrency: a.cfg.Keeper.MaxConcurrency,
	}, deps.LockManager, signer, archiver, deps.Metrics, a.logger)

	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, n *node) {
	var reports domain.ReportArchiver
	if deps.Archiver != nil {
		reports = deps.Archiver
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Pools:      handler.NewPoolHandler(n.svc, reports, a.cfg.Protocol.ChainID, a.logger),
		Bets:       handler.NewBetHandler(n.svc, a.logger),
		Ranking:    handler.NewRankingHandler(n.svc, a.logger),
		Settlement: handler.NewSettlementHandler(n.svc, a.logger),
		Oracle:     handler.NewOracleHandler(n.svc, a.logger),
	}

	opts := server.Options{Limiter: deps.RateLimiter}
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics
	}

	// The hub relays pool events published on the Redis bus.
	if deps.EventBus != nil {
		hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: a.startedAt,
		})
		opts.Hub = hub
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if a.cfg.Operator.APIKey == "" {
		a.logger.WarnContext(ctx, "operator.api_key is empty; operator routes are unauthenticated")
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Operator.APIKey,
		RateLimitRPS: a.cfg.Server.RateLimitRPS,
		RateBurst:    a.cfg.Server.RateBurst,
		MetricsPath:  a.cfg.Metrics.Path,
	}, handlers, opts, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
