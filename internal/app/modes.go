package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/server"
	"github.com/stockex/marketd/internal/server/handler"
	"github.com/stockex/marketd/internal/server/ws"
	"github.com/stockex/marketd/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// ServeMode runs the full API server: HTTP + WebSocket endpoints, the
// Prometheus scrape handler, and the archive job when configured. It blocks
// until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub bridging the bus to connected clients.
	hub := ws.NewHub(deps.Bus, deps.Metrics, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// HTTP server.
	probes := map[string]handler.Pinger{}
	if deps.PgClient != nil {
		probes["postgres"] = deps.PgClient
	}
	if deps.RedisClient != nil {
		probes["redis"] = deps.RedisClient
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		TradeRateLimit:  a.cfg.Server.TradeRateLimit,
		TradeRateWindow: a.cfg.Server.TradeRateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(probes, a.logger),
		Exchange: handler.NewExchangeHandler(deps.Market, a.logger),
		Metrics:  deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Archive job: exports old trades to S3 and prunes them from Postgres.
	if a.cfg.Archive.Enabled && deps.Archiver != nil && deps.Locks != nil {
		job := service.NewArchiveJob(
			deps.Archiver,
			deps.TradeStore,
			deps.Locks,
			deps.Bus,
			deps.Notifier,
			a.cfg.Archive.RetentionDays,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return job.Run(ctx)
		})
	}

	return g.Wait()
}

// simInterval paces the scripted trading loop.
const simInterval = 2 * time.Second

// SimMode exercises the exchange core in process with no external backends:
// the genesis issuer approves the market and alternates buys and sells until
// the context is cancelled. Useful for smoke-testing a build and for demo
// runs.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	issuer, err := domain.ParseAccount(a.cfg.Market.Genesis.Issuer)
	if err != nil {
		return err
	}

	// One standing approval per asset covers the whole run.
	deps.Market.Approve(ctx, issuer, domain.AssetFiat, domain.Units(100_000))
	deps.Market.Approve(ctx, issuer, domain.AssetStock, domain.Units(10_000_000))

	ticker := time.NewTicker(simInterval)
	defer ticker.Stop()

	buyTurn := true
	step := uint64(1)
	for {
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "sim mode stopped",
				slog.Int64("trades", int64(deps.Engine.Log().Len())),
			)
			return ctx.Err()
		case <-ticker.C:
			amount := domain.Units(step%50 + 1)
			var rec domain.TradeRecord
			var tradeErr error
			if buyTurn {
				rec, tradeErr = deps.Market.Buy(ctx, issuer, amount)
			} else {
				// Sell back what a buy of this size produced.
				stock := domain.Units((step%50 + 1) * a.cfg.Market.Rate)
				rec, tradeErr = deps.Market.Sell(ctx, issuer, stock)
			}
			if tradeErr != nil {
				a.logger.WarnContext(ctx, "sim trade rejected",
					slog.Bool("buy", buyTurn),
					slog.String("error", tradeErr.Error()),
				)
			} else {
				fiat, stock := deps.Market.Balances(ctx, issuer)
				a.logger.InfoContext(ctx, "sim trade executed",
					slog.Int64("trade_id", rec.ID),
					slog.String("direction", string(rec.Direction)),
					slog.String("issuer_fiat", domain.FormatAmount(fiat)),
					slog.String("issuer_stock", domain.FormatAmount(stock)),
				)
			}
			buyTurn = !buyTurn
			step++
		}
	}
}
