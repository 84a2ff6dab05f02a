// Package exchange implements the market engine: fixed-rate conversion
// between the fiat and stock tokens with atomic two-leg settlement.
//
// All state-mutating calls run under a single write lock covering the
// ledger, the allowance guard, and the event log together, reproducing the
// strictly serial execution of the reference system. Two concurrent trades
// against the same account or the same liquidity pool are linearized; a
// balance check is never separated from its balance mutation. Read-only
// queries share a read lock and may observe any point in that serial order.
package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/stockex/marketd/internal/allowance"
	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/eventlog"
	"github.com/stockex/marketd/internal/ledger"
)

// Engine orchestrates the ledger, allowance guard, and event log. It owns no
// persistent state of its own.
type Engine struct {
	mu         sync.RWMutex
	ledger     *ledger.Ledger
	allowances *allowance.Guard
	log        *eventlog.Log

	market domain.Account
	rate   *uint256.Int
	rate64 uint64

	now func() time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock replaces the trade timestamp source. Tests use it to force
// timestamp ties.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine trading through the given market account at a fixed
// rate of `rate` stock units per fiat unit. The rate is configuration; it
// never changes after construction.
func New(l *ledger.Ledger, g *allowance.Guard, log *eventlog.Log, market domain.Account, rate uint64, opts ...Option) (*Engine, error) {
	if rate == 0 {
		return nil, fmt.Errorf("exchange: rate must be positive")
	}
	if market == (domain.Account{}) {
		return nil, fmt.Errorf("exchange: market account: %w", domain.ErrInvalidAccount)
	}
	e := &Engine{
		ledger:     l,
		allowances: g,
		log:        log,
		market:     market,
		rate:       uint256.NewInt(rate),
		rate64:     rate,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rate returns the number of stock units obtained per fiat unit.
func (e *Engine) Rate() uint64 {
	return e.rate64
}

// Market returns the account holding the liquidity pool.
func (e *Engine) Market() domain.Account {
	return e.market
}

// Log exposes the event log for the history reconstructor. The log is
// internally synchronized, so readers never block trading.
func (e *Engine) Log() *eventlog.Log {
	return e.log
}

// BalanceOf returns account's balance in asset. Reads run concurrently and
// may serve a snapshot consistent with some serial order of trades.
func (e *Engine) BalanceOf(account domain.Account, asset domain.AssetClass) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(account, asset)
}

// Balances returns both balances of account captured atomically.
func (e *Engine) Balances(account domain.Account) (fiat, stock *uint256.Int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.BalanceOf(account, domain.AssetFiat), e.ledger.BalanceOf(account, domain.AssetStock)
}

// TotalSupply returns the issued supply of asset.
func (e *Engine) TotalSupply(asset domain.AssetClass) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.TotalSupply(asset)
}

// Allowance returns the remaining cap owner has granted the market in asset.
func (e *Engine) Allowance(owner domain.Account, asset domain.AssetClass) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.allowances.Allowance(owner, e.market, asset)
}

// Approve grants the market a spending cap over owner's asset balance,
// overwriting any previous cap. It never fails.
func (e *Engine) Approve(owner domain.Account, asset domain.AssetClass, amount *uint256.Int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowances.Approve(owner, e.market, asset, amount)
}

// Buy converts amountFiat of account's fiat into stock at the fixed rate.
// The stock leg is exact: amountStock = amountFiat * rate with no rounding.
// On success the committed trade record is returned; on any rejection no
// state changes.
func (e *Engine) Buy(account domain.Account, amountFiat *uint256.Int) (domain.TradeRecord, error) {
	if amountFiat == nil || amountFiat.IsZero() {
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", domain.ErrZeroAmount)
	}
	amountStock, overflow := new(uint256.Int).MulOverflow(amountFiat, e.rate)
	if overflow {
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", domain.ErrAmountOverflow)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Allowance is gated first, before funds and liquidity, matching the
	// approve-then-spend protocol the callers drive.
	if e.allowances.Allowance(account, e.market, domain.AssetFiat).Lt(amountFiat) {
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", domain.ErrAllowanceExceeded)
	}
	if e.ledger.BalanceOf(account, domain.AssetFiat).Lt(amountFiat) {
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", domain.ErrInsufficientFunds)
	}
	if e.ledger.BalanceOf(e.market, domain.AssetStock).Lt(amountStock) {
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", domain.ErrInsufficientLiquidity)
	}
	if err := e.allowances.Spend(account, e.market, domain.AssetFiat, amountFiat); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", err)
	}

	if err := e.settle(account, domain.AssetFiat, amountFiat, amountStock); err != nil {
		e.allowances.Refund(account, e.market, domain.AssetFiat, amountFiat)
		return domain.TradeRecord{}, fmt.Errorf("exchange: buy: %w", err)
	}

	// The caller keeps ownership of amountFiat; copy both legs so a later
	// mutation of the input cannot rewrite the appended record.
	rec := e.log.Append(domain.TradeRecord{
		Account:     account,
		Direction:   domain.Buy,
		AmountStock: amountStock,
		AmountFiat:  new(uint256.Int).Set(amountFiat),
		Timestamp:   e.now().UTC(),
	})
	return rec, nil
}

// Sell converts amountStock of account's stock into fiat. The fiat leg is
// floor(amountStock / rate): integer division truncates toward zero, and the
// full amountStock is still debited, so sub-rate dust accrues to the market
// rather than remaining with the seller. This truncation direction is a
// deliberate, tested policy.
func (e *Engine) Sell(account domain.Account, amountStock *uint256.Int) (domain.TradeRecord, error) {
	if amountStock == nil || amountStock.IsZero() {
		return domain.TradeRecord{}, fmt.Errorf("exchange: sell: %w", domain.ErrZeroAmount)
	}
	amountFiat := new(uint256.Int).Div(amountStock, e.rate)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.allowances.Allowance(account, e.market, domain.AssetStock).Lt(amountStock) {
		return domain.TradeRecord{}, fmt.Errorf("exchange: sell: %w", domain.ErrAllowanceExceeded)
	}
	if e.ledger.BalanceOf(account, domain.AssetStock).Lt(amountStock) {
		return domain.TradeRecord{}, fmt.Errorf("exchange: sell: %w", domain.ErrInsufficientFunds)
	}
	if e.ledger.BalanceOf(e.market, domain.AssetFiat).Lt(amountFiat) {
		return domain.TradeRecord{}, fmt.Errorf("exchange: sell: %w", domain.ErrInsufficientLiquidity)
	}
	if err := e.allowances.Spend(account, e.market, domain.AssetStock, amountStock); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("exchange: sell: %w", err)
	}

	if err := e.settle(account, domain.AssetStock, amountStock, amountFiat); err != nil {
		e.allowances.Refund(account, e.market, domain.AssetStock, amountStock)
		return domain.TradeRecord{}, fmt.Errorf("exchange: sell: %w", err)
	}

	rec := e.log.Append(domain.TradeRecord{
		Account:     account,
		Direction:   domain.Sell,
		AmountStock: new(uint256.Int).Set(amountStock),
		AmountFiat:  amountFiat,
		Timestamp:   e.now().UTC(),
	})
	return rec, nil
}

// settle moves the two legs of a trade: `give` of giveAsset from the account
// to the market, then `take` of the counter asset back. Both balances were
// verified under the lock we still hold, so the transfers cannot fail in a
// correctly configured engine; if one does, the first leg is compensated so
// no partial swap is ever observable.
func (e *Engine) settle(account domain.Account, giveAsset domain.AssetClass, give, take *uint256.Int) error {
	if err := e.ledger.Transfer(account, e.market, giveAsset, give); err != nil {
		return err
	}
	if err := e.ledger.Transfer(e.market, account, giveAsset.Counter(), take); err != nil {
		// Compensate leg one. The debit just succeeded, so the market holds
		// at least `give` and this cannot fail.
		_ = e.ledger.Transfer(e.market, account, giveAsset, give)
		return err
	}
	return nil
}
