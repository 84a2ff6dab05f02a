package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockex/marketd/internal/allowance"
	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/eventlog"
	"github.com/stockex/marketd/internal/exchange"
	"github.com/stockex/marketd/internal/ledger"
	"github.com/stockex/marketd/internal/service"
)

var (
	issuer   = domain.Account{0x01}
	market   = domain.Account{0x02}
	accountX = domain.Account{0x0A}
)

// ---------------------------------------------------------------------------
// In-memory fakes for the post-commit collaborators.
// ---------------------------------------------------------------------------

type fakeTradeStore struct {
	inserted  []domain.TradeRecord
	insertErr error
}

func (s *fakeTradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeTradeStore) ListByAccount(ctx context.Context, account domain.Account, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *fakeTradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *fakeTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeTradeStore) Count(ctx context.Context) (int64, error) {
	return int64(len(s.inserted)), nil
}

type cachedBalance struct {
	fiat, stock *uint256.Int
}

type fakeBalanceCache struct {
	snapshots map[domain.Account]cachedBalance
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{snapshots: make(map[domain.Account]cachedBalance)}
}

func (c *fakeBalanceCache) SetBalances(ctx context.Context, account domain.Account, fiat, stock *uint256.Int) error {
	c.snapshots[account] = cachedBalance{
		fiat:  new(uint256.Int).Set(fiat),
		stock: new(uint256.Int).Set(stock),
	}
	return nil
}

func (c *fakeBalanceCache) GetBalances(ctx context.Context, account domain.Account) (*uint256.Int, *uint256.Int, error) {
	snap, ok := c.snapshots[account]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	return snap.fiat, snap.stock, nil
}

type publishedMsg struct {
	channel string
	payload []byte
}

type fakeBus struct {
	published []publishedMsg
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.published = append(b.published, publishedMsg{channel: channel, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBus) onChannel(channel string) []publishedMsg {
	var out []publishedMsg
	for _, m := range b.published {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

// ---------------------------------------------------------------------------

type fixture struct {
	svc    *service.MarketService
	store  *fakeTradeStore
	cache  *fakeBalanceCache
	bus    *fakeBus
	engine *exchange.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	l := ledger.New()
	require.NoError(t, l.Issue(issuer, domain.AssetFiat, domain.Units(1_000_000)))
	require.NoError(t, l.Issue(issuer, domain.AssetStock, domain.Units(1_000_000)))
	require.NoError(t, l.Transfer(issuer, market, domain.AssetFiat, domain.Units(700_000)))
	require.NoError(t, l.Transfer(issuer, market, domain.AssetStock, domain.Units(800_000)))
	require.NoError(t, l.Transfer(issuer, accountX, domain.AssetFiat, domain.Units(300_000)))

	engine, err := exchange.New(l, allowance.New(), eventlog.New(), market, 100)
	require.NoError(t, err)

	store := &fakeTradeStore{}
	cache := newFakeBalanceCache()
	bus := &fakeBus{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewMarketService(engine, service.MarketServiceDeps{
		Trades: store,
		Cache:  cache,
		Bus:    bus,
	}, logger)

	return &fixture{svc: svc, store: store, cache: cache, bus: bus, engine: engine}
}

func TestBuyPostCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("persists the trade and publishes events", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Approve(ctx, accountX, domain.AssetFiat, domain.Units(1_000))

		rec, err := f.svc.Buy(ctx, accountX, domain.Units(1_000))
		require.NoError(t, err)

		// Durable copy.
		require.Len(t, f.store.inserted, 1)
		assert.Equal(t, rec.ID, f.store.inserted[0].ID)

		// Trade event with the legacy field names.
		trades := f.bus.onChannel(domain.ChannelTrades)
		require.Len(t, trades, 1)

		var evt domain.TokensPurchased
		require.NoError(t, json.Unmarshal(trades[0].payload, &evt))
		assert.Equal(t, "TokensPurchased", evt.Event)
		assert.Equal(t, accountX.Hex(), evt.Buyer)
		assert.Equal(t, domain.FormatAmount(domain.Units(100_000)), evt.AmountOfStock)
		assert.Equal(t, domain.FormatAmount(domain.Units(1_000)), evt.AmountOfFiat)
		assert.Equal(t, rec.ID, evt.TradeID)

		// Balance snapshots for the trader and the market.
		balances := f.bus.onChannel(domain.ChannelBalances)
		assert.Len(t, balances, 2)

		// Cache refreshed for both parties.
		fiat, stock, err := f.cache.GetBalances(ctx, accountX)
		require.NoError(t, err)
		assert.Equal(t, domain.Units(299_000), fiat)
		assert.Equal(t, domain.Units(100_000), stock)

		_, _, err = f.cache.GetBalances(ctx, market)
		assert.NoError(t, err)
	})

	t.Run("sell publishes TokensSold", func(t *testing.T) {
		f := newFixture(t)
		f.svc.Approve(ctx, accountX, domain.AssetFiat, domain.Units(1_000))
		_, err := f.svc.Buy(ctx, accountX, domain.Units(1_000))
		require.NoError(t, err)

		f.svc.Approve(ctx, accountX, domain.AssetStock, domain.Units(50_000))
		rec, err := f.svc.Sell(ctx, accountX, domain.Units(50_000))
		require.NoError(t, err)

		trades := f.bus.onChannel(domain.ChannelTrades)
		require.Len(t, trades, 2)

		var evt domain.TokensSold
		require.NoError(t, json.Unmarshal(trades[1].payload, &evt))
		assert.Equal(t, "TokensSold", evt.Event)
		assert.Equal(t, accountX.Hex(), evt.Seller)
		assert.Equal(t, rec.ID, evt.TradeID)
	})

	t.Run("rejection persists and publishes nothing", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Buy(ctx, accountX, domain.Units(10))
		assert.ErrorIs(t, err, domain.ErrAllowanceExceeded)

		assert.Empty(t, f.store.inserted)
		assert.Empty(t, f.bus.published)
	})

	t.Run("store failure does not fail the trade", func(t *testing.T) {
		f := newFixture(t)
		f.store.insertErr = errors.New("connection refused")
		f.svc.Approve(ctx, accountX, domain.AssetFiat, domain.Units(10))

		_, err := f.svc.Buy(ctx, accountX, domain.Units(10))
		assert.NoError(t, err)

		// The trade still committed and the events still went out.
		assert.Len(t, f.bus.onChannel(domain.ChannelTrades), 1)
	})
}

func TestBalances(t *testing.T) {
	ctx := context.Background()

	t.Run("serves from the cache when fresh", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.cache.SetBalances(ctx, accountX, domain.Units(42), domain.Units(7)))

		fiat, stock := f.svc.Balances(ctx, accountX)
		assert.Equal(t, domain.Units(42), fiat)
		assert.Equal(t, domain.Units(7), stock)
	})

	t.Run("falls back to the engine and repopulates on a miss", func(t *testing.T) {
		f := newFixture(t)

		fiat, stock := f.svc.Balances(ctx, accountX)
		assert.Equal(t, domain.Units(300_000), fiat)
		assert.True(t, stock.IsZero())

		cachedFiat, _, err := f.cache.GetBalances(ctx, accountX)
		require.NoError(t, err)
		assert.Equal(t, domain.Units(300_000), cachedFiat)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.Approve(ctx, accountX, domain.AssetFiat, domain.Units(100))
	for i := 0; i < 3; i++ {
		_, err := f.svc.Buy(ctx, accountX, domain.Units(10))
		require.NoError(t, err)
	}

	got := f.svc.History(accountX)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, int64(3), got[0].ID)
	assert.Empty(t, f.svc.History(issuer))
}
