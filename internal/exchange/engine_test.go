package exchange_test

import (
	"sync"
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
)

var (
	issuer   = domain.Account{0x01}
	market   = domain.Account{0x02}
	accountX = domain.Account{0x0A}
)

// fixture mirrors the provisioned genesis: one million of each token issued,
// the market funded with 700,000 fiat and 800,000 stock, account X holding
// 300,000 fiat, at a rate of 100 stock per fiat.
type fixture struct {
	ledger *ledger.Ledger
	guard  *allowance.Guard
	log    *eventlog.Log
	engine *exchange.Engine
}

func newFixture(t *testing.T, opts ...exchange.Option) *fixture {
	t.Helper()

	l := ledger.New()
	require.NoError(t, l.Issue(issuer, domain.AssetFiat, domain.Units(1_000_000)))
	require.NoError(t, l.Issue(issuer, domain.AssetStock, domain.Units(1_000_000)))
	require.NoError(t, l.Transfer(issuer, market, domain.AssetFiat, domain.Units(700_000)))
	require.NoError(t, l.Transfer(issuer, market, domain.AssetStock, domain.Units(800_000)))
	require.NoError(t, l.Transfer(issuer, accountX, domain.AssetFiat, domain.Units(300_000)))

	g := allowance.New()
	log := eventlog.New()

	e, err := exchange.New(l, g, log, market, 100, opts...)
	require.NoError(t, err)

	return &fixture{ledger: l, guard: g, log: log, engine: e}
}

// assertBalances checks both balances of an account in whole tokens.
func (f *fixture) assertBalances(t *testing.T, account domain.Account, fiat, stock uint64) {
	t.Helper()
	gotFiat, gotStock := f.engine.Balances(account)
	assert.Equal(t, domain.Units(fiat), gotFiat, "fiat balance")
	assert.Equal(t, domain.Units(stock), gotStock, "stock balance")
}

// assertConservation checks that balances across the three accounts sum to
// the issued supply of each asset.
func (f *fixture) assertConservation(t *testing.T) {
	t.Helper()
	for _, asset := range []domain.AssetClass{domain.AssetFiat, domain.AssetStock} {
		sum := uint256.NewInt(0)
		for _, acct := range []domain.Account{issuer, market, accountX} {
			sum.Add(sum, f.engine.BalanceOf(acct, asset))
		}
		assert.Equal(t, f.engine.TotalSupply(asset), sum, "supply conservation for %s", asset)
	}
}

func TestNew(t *testing.T) {
	t.Run("rejects zero rate", func(t *testing.T) {
		_, err := exchange.New(ledger.New(), allowance.New(), eventlog.New(), market, 0)
		assert.Error(t, err)
	})

	t.Run("rejects zero market account", func(t *testing.T) {
		_, err := exchange.New(ledger.New(), allowance.New(), eventlog.New(), domain.Account{}, 100)
		assert.ErrorIs(t, err, domain.ErrInvalidAccount)
	})
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)

	// X approves 1,000 fiat, then buys 1,000 fiat worth of stock.
	f.engine.Approve(accountX, domain.AssetFiat, domain.Units(1_000))
	rec, err := f.engine.Buy(accountX, domain.Units(1_000))
	require.NoError(t, err)

	assert.Equal(t, domain.Buy, rec.Direction)
	assert.Equal(t, domain.Units(1_000), rec.AmountFiat)
	assert.Equal(t, domain.Units(100_000), rec.AmountStock)
	assert.Equal(t, int64(1), rec.ID)

	f.assertBalances(t, accountX, 299_000, 100_000)
	f.assertBalances(t, market, 701_000, 700_000)
	assert.True(t, f.engine.Allowance(accountX, domain.AssetFiat).IsZero(), "allowance fully consumed")
	f.assertConservation(t)

	// X approves 50,000 stock, then sells 50,000 stock back.
	f.engine.Approve(accountX, domain.AssetStock, domain.Units(50_000))
	rec, err = f.engine.Sell(accountX, domain.Units(50_000))
	require.NoError(t, err)

	assert.Equal(t, domain.Sell, rec.Direction)
	assert.Equal(t, domain.Units(500), rec.AmountFiat)
	assert.Equal(t, int64(2), rec.ID)

	f.assertBalances(t, accountX, 299_500, 50_000)
	f.assertConservation(t)

	// A buy with no remaining fiat allowance fails with AllowanceExceeded
	// and changes nothing, even though funds and liquidity would also be
	// short.
	_, err = f.engine.Buy(accountX, domain.Units(1_000_000))
	assert.ErrorIs(t, err, domain.ErrAllowanceExceeded)

	f.assertBalances(t, accountX, 299_500, 50_000)
	f.assertBalances(t, market, 700_500, 750_000)
	assert.Equal(t, 2, f.log.Len())
}

func TestBuy(t *testing.T) {
	t.Run("stock leg is exact multiplication", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(10_000))

		for _, fiat := range []*uint256.Int{
			uint256.NewInt(1), // one base unit
			uint256.NewInt(37),
			domain.Units(1),
			domain.Units(123),
		} {
			rec, err := f.engine.Buy(accountX, fiat)
			require.NoError(t, err)

			want := new(uint256.Int).Mul(fiat, uint256.NewInt(100))
			assert.Equal(t, want, rec.AmountStock)
		}
		f.assertConservation(t)
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Buy(accountX, uint256.NewInt(0))
		assert.ErrorIs(t, err, domain.ErrZeroAmount)

		_, err = f.engine.Buy(accountX, nil)
		assert.ErrorIs(t, err, domain.ErrZeroAmount)
	})

	t.Run("rejects stock leg overflow", func(t *testing.T) {
		f := newFixture(t)
		huge := new(uint256.Int).SetAllOne()

		_, err := f.engine.Buy(accountX, huge)
		assert.ErrorIs(t, err, domain.ErrAmountOverflow)
		assert.Equal(t, 0, f.log.Len())
	})

	t.Run("rejects without allowance and leaves state untouched", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Buy(accountX, domain.Units(10))
		assert.ErrorIs(t, err, domain.ErrAllowanceExceeded)

		f.assertBalances(t, accountX, 300_000, 0)
		f.assertBalances(t, market, 700_000, 800_000)
		assert.Equal(t, 0, f.log.Len())
	})

	t.Run("rejects insufficient funds without touching allowance", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(500_000))

		_, err := f.engine.Buy(accountX, domain.Units(400_000))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		assert.Equal(t, domain.Units(500_000), f.engine.Allowance(accountX, domain.AssetFiat))
		f.assertBalances(t, accountX, 300_000, 0)
	})

	t.Run("rejects when market lacks stock", func(t *testing.T) {
		f := newFixture(t)
		// 8,001 fiat would need 800,100 stock; the market holds 800,000.
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(10_000))

		_, err := f.engine.Buy(accountX, domain.Units(8_001))
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

		f.assertBalances(t, accountX, 300_000, 0)
		f.assertBalances(t, market, 700_000, 800_000)
	})
}

func TestSell(t *testing.T) {
	// seedStock gives X stock to sell: approve and buy first.
	seedStock := func(t *testing.T, f *fixture, fiat uint64) {
		t.Helper()
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(fiat))
		_, err := f.engine.Buy(accountX, domain.Units(fiat))
		require.NoError(t, err)
	}

	t.Run("fiat leg is floor division with dust to the market", func(t *testing.T) {
		f := newFixture(t)
		seedStock(t, f, 1_000) // X now holds 100,000 stock

		// 150 base units of stock at rate 100 pay out 1 base unit of fiat;
		// the full 150 is still debited, so 50 base units of value accrue
		// to the market.
		sellAmount := uint256.NewInt(150)
		f.engine.Approve(accountX, domain.AssetStock, sellAmount)

		stockBefore := f.engine.BalanceOf(accountX, domain.AssetStock)
		fiatBefore := f.engine.BalanceOf(accountX, domain.AssetFiat)

		rec, err := f.engine.Sell(accountX, sellAmount)
		require.NoError(t, err)

		assert.Equal(t, uint256.NewInt(1), rec.AmountFiat)
		assert.Equal(t, sellAmount, rec.AmountStock)

		wantStock := new(uint256.Int).Sub(stockBefore, sellAmount)
		wantFiat := new(uint256.Int).Add(fiatBefore, uint256.NewInt(1))
		gotFiat, gotStock := f.engine.Balances(accountX)
		assert.Equal(t, wantStock, gotStock, "full stock amount debited")
		assert.Equal(t, wantFiat, gotFiat, "floored fiat credited")

		f.assertConservation(t)
	})

	t.Run("sub-rate amount pays zero fiat and still debits stock", func(t *testing.T) {
		f := newFixture(t)
		seedStock(t, f, 1_000)

		sellAmount := uint256.NewInt(99)
		f.engine.Approve(accountX, domain.AssetStock, sellAmount)

		rec, err := f.engine.Sell(accountX, sellAmount)
		require.NoError(t, err)
		assert.True(t, rec.AmountFiat.IsZero())
		f.assertConservation(t)
	})

	t.Run("rejects zero amount", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.Sell(accountX, uint256.NewInt(0))
		assert.ErrorIs(t, err, domain.ErrZeroAmount)
	})

	t.Run("rejects without allowance", func(t *testing.T) {
		f := newFixture(t)
		seedStock(t, f, 1_000)

		_, err := f.engine.Sell(accountX, domain.Units(10))
		assert.ErrorIs(t, err, domain.ErrAllowanceExceeded)
		f.assertBalances(t, accountX, 299_000, 100_000)
	})

	t.Run("rejects insufficient stock", func(t *testing.T) {
		f := newFixture(t)
		seedStock(t, f, 1_000)
		f.engine.Approve(accountX, domain.AssetStock, domain.Units(1_000_000))

		_, err := f.engine.Sell(accountX, domain.Units(100_001))
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		f.assertBalances(t, accountX, 299_000, 100_000)
	})

	t.Run("rejects when market lacks fiat", func(t *testing.T) {
		// A market funded with stock but almost no fiat cannot pay out.
		l := ledger.New()
		require.NoError(t, l.Issue(issuer, domain.AssetFiat, domain.Units(1_000)))
		require.NoError(t, l.Issue(issuer, domain.AssetStock, domain.Units(1_000)))
		require.NoError(t, l.Transfer(issuer, market, domain.AssetFiat, uint256.NewInt(1)))
		require.NoError(t, l.Transfer(issuer, accountX, domain.AssetStock, domain.Units(500)))

		g := allowance.New()
		e, err := exchange.New(l, g, eventlog.New(), market, 100)
		require.NoError(t, err)

		e.Approve(accountX, domain.AssetStock, domain.Units(500))
		_, err = e.Sell(accountX, domain.Units(200)) // needs 2 fiat, market holds 1 base unit
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)

		assert.Equal(t, domain.Units(500), e.BalanceOf(accountX, domain.AssetStock))
		assert.Equal(t, domain.Units(500), e.Allowance(accountX, domain.AssetStock))
	})
}

func TestApprove(t *testing.T) {
	t.Run("overwrites any previous cap", func(t *testing.T) {
		f := newFixture(t)

		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(1_000))
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(3))

		assert.Equal(t, domain.Units(3), f.engine.Allowance(accountX, domain.AssetFiat))
	})

	t.Run("re-approval mid-stream replaces rather than stacks", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(100))

		_, err := f.engine.Buy(accountX, domain.Units(60))
		require.NoError(t, err)
		assert.Equal(t, domain.Units(40), f.engine.Allowance(accountX, domain.AssetFiat))

		// The new approval replaces the remaining 40 outright.
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(100))
		assert.Equal(t, domain.Units(100), f.engine.Allowance(accountX, domain.AssetFiat))
	})
}

func TestTimestamps(t *testing.T) {
	t.Run("records carry the injected clock's time in UTC", func(t *testing.T) {
		frozen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
		f := newFixture(t, exchange.WithClock(func() time.Time { return frozen }))

		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(10))
		rec, err := f.engine.Buy(accountX, domain.Units(10))
		require.NoError(t, err)

		assert.Equal(t, frozen, rec.Timestamp)
	})
}

func TestConcurrentTrades(t *testing.T) {
	t.Run("parallel buys and sells preserve conservation", func(t *testing.T) {
		f := newFixture(t)

		// A standing allowance large enough for every trade in the run.
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(1_000_000))
		f.engine.Approve(accountX, domain.AssetStock, domain.Units(100_000_000))

		const workers = 8
		const tradesPerWorker = 25

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < tradesPerWorker; i++ {
					if i%2 == 0 {
						_, _ = f.engine.Buy(accountX, domain.Units(1))
					} else {
						_, _ = f.engine.Sell(accountX, domain.Units(100))
					}
				}
			}()
		}
		wg.Wait()

		f.assertConservation(t)

		// Every committed record got a unique sequence id.
		seen := make(map[int64]bool)
		for _, rec := range f.log.All() {
			assert.False(t, seen[rec.ID])
			seen[rec.ID] = true
		}
	})
}

func TestRecordIsolation(t *testing.T) {
	t.Run("mutating the buy input leaves the log entry intact", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(1_000))

		amount := domain.Units(1_000)
		_, err := f.engine.Buy(accountX, amount)
		require.NoError(t, err)

		amount.Clear()
		logged := f.log.ByAccount(accountX)
		require.Len(t, logged, 1)
		assert.Equal(t, domain.Units(1_000), logged[0].AmountFiat)
		assert.Equal(t, domain.Units(100_000), logged[0].AmountStock)
	})

	t.Run("mutating the sell input leaves the log entry intact", func(t *testing.T) {
		f := newFixture(t)
		f.engine.Approve(accountX, domain.AssetFiat, domain.Units(1_000))
		_, err := f.engine.Buy(accountX, domain.Units(1_000))
		require.NoError(t, err)

		f.engine.Approve(accountX, domain.AssetStock, domain.Units(50_000))
		stock := domain.Units(50_000)
		_, err = f.engine.Sell(accountX, stock)
		require.NoError(t, err)

		stock.Clear()
		logged := f.log.ByAccount(accountX)
		require.Len(t, logged, 2)
		assert.Equal(t, domain.Units(50_000), logged[1].AmountStock)
		assert.Equal(t, domain.Units(500), logged[1].AmountFiat)
	})
}
