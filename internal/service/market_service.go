// Package service composes the exchange engine with the durable and
// observable sides of the system: trade persistence, the balance cache, the
// signal bus, operator notifications, and metrics.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/exchange"
	"github.com/stockex/marketd/internal/history"
	"github.com/stockex/marketd/internal/metrics"
	"github.com/stockex/marketd/internal/notify"
)

// MarketService is the application-facing API over the exchange engine. The
// engine commit is authoritative: once Buy or Sell returns a record, the
// trade happened. Persistence, cache refresh, event publication, and
// notifications run after the commit and their failures are logged, never
// surfaced as trade failures.
type MarketService struct {
	engine  *exchange.Engine
	history *history.Reconstructor

	trades   domain.TradeStore   // optional
	cache    domain.BalanceCache // optional
	bus      domain.SignalBus    // optional
	notifier *notify.Notifier    // optional
	metrics  *metrics.Collector  // optional

	logger *slog.Logger
}

// MarketServiceDeps carries the optional post-commit collaborators. Any nil
// field simply disables that concern.
type MarketServiceDeps struct {
	Trades   domain.TradeStore
	Cache    domain.BalanceCache
	Bus      domain.SignalBus
	Notifier *notify.Notifier
	Metrics  *metrics.Collector
}

// NewMarketService creates a MarketService around an engine.
func NewMarketService(engine *exchange.Engine, deps MarketServiceDeps, logger *slog.Logger) *MarketService {
	return &MarketService{
		engine:   engine,
		history:  history.New(engine.Log()),
		trades:   deps.Trades,
		cache:    deps.Cache,
		bus:      deps.Bus,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   logger.With(slog.String("component", "market_service")),
	}
}

// Rate returns the fixed conversion rate in stock units per fiat unit.
func (s *MarketService) Rate() uint64 {
	return s.engine.Rate()
}

// Market returns the liquidity pool account.
func (s *MarketService) Market() domain.Account {
	return s.engine.Market()
}

// Balances returns an account's fiat and stock balances. It serves from the
// balance cache when a fresh snapshot exists, falling back to the engine and
// repopulating the cache on a miss.
func (s *MarketService) Balances(ctx context.Context, account domain.Account) (fiat, stock *uint256.Int) {
	if s.cache != nil {
		f, st, err := s.cache.GetBalances(ctx, account)
		if err == nil {
			return f, st
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "balance cache read failed",
				slog.String("account", account.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	fiat, stock = s.engine.Balances(account)
	s.refreshBalanceCache(ctx, account, fiat, stock)
	return fiat, stock
}

// Allowances returns the caps the account has granted the market for both
// assets.
func (s *MarketService) Allowances(account domain.Account) (fiat, stock *uint256.Int) {
	return s.engine.Allowance(account, domain.AssetFiat), s.engine.Allowance(account, domain.AssetStock)
}

// Approve grants the market a spending cap over owner's asset balance,
// overwriting any previous cap.
func (s *MarketService) Approve(ctx context.Context, owner domain.Account, asset domain.AssetClass, amount *uint256.Int) {
	s.engine.Approve(owner, asset, amount)
	s.logger.InfoContext(ctx, "allowance approved",
		slog.String("owner", owner.Hex()),
		slog.String("asset", string(asset)),
		slog.String("amount", domain.FormatAmount(amount)),
	)
}

// Buy executes a fiat-for-stock trade and runs the post-commit pipeline.
func (s *MarketService) Buy(ctx context.Context, account domain.Account, amountFiat *uint256.Int) (domain.TradeRecord, error) {
	start := time.Now()

	rec, err := s.engine.Buy(account, amountFiat)
	if err != nil {
		s.recordRejection(ctx, domain.Buy, account, err)
		return domain.TradeRecord{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordTrade(domain.Buy, time.Since(start))
	}
	s.postCommit(ctx, rec)
	return rec, nil
}

// Sell executes a stock-for-fiat trade and runs the post-commit pipeline.
func (s *MarketService) Sell(ctx context.Context, account domain.Account, amountStock *uint256.Int) (domain.TradeRecord, error) {
	start := time.Now()

	rec, err := s.engine.Sell(account, amountStock)
	if err != nil {
		s.recordRejection(ctx, domain.Sell, account, err)
		return domain.TradeRecord{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordTrade(domain.Sell, time.Since(start))
	}
	s.postCommit(ctx, rec)
	return rec, nil
}

// History returns the account's trades, most recent first.
func (s *MarketService) History(account domain.Account) []domain.TradeRecord {
	return s.history.HistoryFor(account)
}

// recordRejection logs and counts a failed trade under a stable reason label.
func (s *MarketService) recordRejection(ctx context.Context, dir domain.TradeDirection, account domain.Account, err error) {
	reason := rejectionReason(err)
	s.logger.InfoContext(ctx, "trade rejected",
		slog.String("direction", string(dir)),
		slog.String("account", account.Hex()),
		slog.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.RecordRejection(reason)
	}
}

// postCommit persists the committed trade, refreshes caches, publishes the
// trade and balance events, updates liquidity gauges, and notifies
// operators. Every step tolerates failure independently.
func (s *MarketService) postCommit(ctx context.Context, rec domain.TradeRecord) {
	s.logger.InfoContext(ctx, "trade executed",
		slog.Int64("trade_id", rec.ID),
		slog.String("direction", string(rec.Direction)),
		slog.String("account", rec.Account.Hex()),
		slog.String("amount_stock", domain.FormatAmount(rec.AmountStock)),
		slog.String("amount_fiat", domain.FormatAmount(rec.AmountFiat)),
	)

	if s.trades != nil {
		if err := s.trades.Insert(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "trade persist failed",
				slog.Int64("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	fiat, stock := s.engine.Balances(rec.Account)
	s.refreshBalanceCache(ctx, rec.Account, fiat, stock)

	marketFiat, marketStock := s.engine.Balances(s.engine.Market())
	s.refreshBalanceCache(ctx, s.engine.Market(), marketFiat, marketStock)

	if s.metrics != nil {
		s.metrics.SetMarketLiquidity(domain.AssetFiat, marketFiat)
		s.metrics.SetMarketLiquidity(domain.AssetStock, marketStock)
	}

	s.publishTradeEvent(ctx, rec)
	s.publishBalanceUpdate(ctx, rec.Account, fiat, stock)
	s.publishBalanceUpdate(ctx, s.engine.Market(), marketFiat, marketStock)

	if s.notifier != nil {
		title := fmt.Sprintf("Trade #%d %s", rec.ID, rec.Direction)
		message := fmt.Sprintf("account %s swapped %s %s for %s %s",
			rec.Account.Hex(),
			tradeGive(rec), tradeGiveAsset(rec),
			tradeTake(rec), tradeTakeAsset(rec),
		)
		if err := s.notifier.Notify(ctx, domain.EventTradeExecuted, title, message); err != nil {
			s.logger.WarnContext(ctx, "trade notification failed",
				slog.Int64("trade_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *MarketService) refreshBalanceCache(ctx context.Context, account domain.Account, fiat, stock *uint256.Int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetBalances(ctx, account, fiat, stock); err != nil {
		s.logger.WarnContext(ctx, "balance cache refresh failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// publishTradeEvent emits TokensPurchased or TokensSold on the trades
// channel, matching the event shape trade history consumers expect.
func (s *MarketService) publishTradeEvent(ctx context.Context, rec domain.TradeRecord) {
	if s.bus == nil {
		return
	}

	ts := rec.Timestamp.UTC().Format(time.RFC3339Nano)
	var event any
	switch rec.Direction {
	case domain.Buy:
		event = domain.TokensPurchased{
			Event:         "TokensPurchased",
			Buyer:         rec.Account.Hex(),
			AmountOfStock: domain.FormatAmount(rec.AmountStock),
			AmountOfFiat:  domain.FormatAmount(rec.AmountFiat),
			TradeID:       rec.ID,
			Timestamp:     ts,
		}
	case domain.Sell:
		event = domain.TokensSold{
			Event:         "TokensSold",
			Seller:        rec.Account.Hex(),
			AmountOfStock: domain.FormatAmount(rec.AmountStock),
			AmountOfFiat:  domain.FormatAmount(rec.AmountFiat),
			TradeID:       rec.ID,
			Timestamp:     ts,
		}
	default:
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "trade event marshal failed",
			slog.Int64("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelTrades, payload); err != nil {
		s.logger.WarnContext(ctx, "trade event publish failed",
			slog.Int64("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publishBalanceUpdate(ctx context.Context, account domain.Account, fiat, stock *uint256.Int) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.BalanceUpdate{
		Account: account.Hex(),
		Fiat:    domain.FormatAmount(fiat),
		Stock:   domain.FormatAmount(stock),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "balance update marshal failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelBalances, payload); err != nil {
		s.logger.WarnContext(ctx, "balance update publish failed",
			slog.String("account", account.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// rejectionReason maps a trade error onto a small, stable label set used for
// metrics and logs.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, domain.ErrAllowanceExceeded):
		return "allowance_exceeded"
	case errors.Is(err, domain.ErrAmountOverflow):
		return "overflow"
	default:
		return "other"
	}
}

func tradeGive(rec domain.TradeRecord) string {
	if rec.Direction == domain.Buy {
		return domain.FormatAmount(rec.AmountFiat)
	}
	return domain.FormatAmount(rec.AmountStock)
}

func tradeGiveAsset(rec domain.TradeRecord) string {
	if rec.Direction == domain.Buy {
		return string(domain.AssetFiat)
	}
	return string(domain.AssetStock)
}

func tradeTake(rec domain.TradeRecord) string {
	if rec.Direction == domain.Buy {
		return domain.FormatAmount(rec.AmountStock)
	}
	return domain.FormatAmount(rec.AmountFiat)
}

func tradeTakeAsset(rec domain.TradeRecord) string {
	if rec.Direction == domain.Buy {
		return string(domain.AssetStock)
	}
	return string(domain.AssetFiat)
}
