// Package ledger holds per-account balances for the two asset classes and
// the total issued supply of each. The sum of all balances for an asset
// always equals its issued supply; Transfer can neither create nor destroy
// value.
//
// The ledger is deliberately not synchronized. It belongs to the exchange
// engine's single mutual-exclusion domain together with the allowance table
// and the event log, so independent locking here would only reopen the
// check-then-act window the engine exists to close.
package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/stockex/marketd/internal/domain"
)

// Ledger owns all balance state. Accounts exist implicitly once they hold a
// nonzero balance; there is no create/destroy lifecycle.
type Ledger struct {
	balances map[domain.Account]map[domain.AssetClass]*uint256.Int
	supply   map[domain.AssetClass]*uint256.Int
}

// New returns an empty ledger with zero issued supply.
func New() *Ledger {
	return &Ledger{
		balances: make(map[domain.Account]map[domain.AssetClass]*uint256.Int),
		supply: map[domain.AssetClass]*uint256.Int{
			domain.AssetFiat:  uint256.NewInt(0),
			domain.AssetStock: uint256.NewInt(0),
		},
	}
}

// BalanceOf returns the balance of account in asset. It never fails; unknown
// accounts hold zero. The returned value is a copy.
func (l *Ledger) BalanceOf(account domain.Account, asset domain.AssetClass) *uint256.Int {
	if assets, ok := l.balances[account]; ok {
		if b, ok := assets[asset]; ok {
			return new(uint256.Int).Set(b)
		}
	}
	return uint256.NewInt(0)
}

// TotalSupply returns the issued supply of asset. The conservation invariant
// keeps this equal to the sum of all account balances at all times.
func (l *Ledger) TotalSupply(asset domain.AssetClass) *uint256.Int {
	if s, ok := l.supply[asset]; ok {
		return new(uint256.Int).Set(s)
	}
	return uint256.NewInt(0)
}

// Issue creates amount new units of asset and credits them to account,
// raising the recorded supply. It is a genesis-time operation used only by
// the application wiring; trades never mint.
func (l *Ledger) Issue(account domain.Account, asset domain.AssetClass, amount *uint256.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("ledger: issue: %w", domain.ErrInvalidAsset)
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(l.supply[asset], amount)
	if overflow {
		return fmt.Errorf("ledger: issue %s: %w", asset, domain.ErrAmountOverflow)
	}
	l.supply[asset] = newSupply
	l.credit(account, asset, amount)
	return nil
}

// Transfer debits from and credits to by amount. It fails with
// ErrInsufficientBalance when from holds less than amount, leaving state
// untouched. A zero amount succeeds without mutating anything.
func (l *Ledger) Transfer(from, to domain.Account, asset domain.AssetClass, amount *uint256.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("ledger: transfer: %w", domain.ErrInvalidAsset)
	}
	if amount == nil || amount.IsZero() {
		return nil
	}

	fromBal := l.balanceRef(from, asset)
	if fromBal.Lt(amount) {
		return fmt.Errorf("ledger: transfer %s from %s: %w", asset, from.Hex(), domain.ErrInsufficientBalance)
	}

	fromBal.Sub(fromBal, amount)
	l.credit(to, asset, amount)
	return nil
}

// balanceRef returns the mutable balance entry for (account, asset),
// creating it lazily.
func (l *Ledger) balanceRef(account domain.Account, asset domain.AssetClass) *uint256.Int {
	assets, ok := l.balances[account]
	if !ok {
		assets = make(map[domain.AssetClass]*uint256.Int, 2)
		l.balances[account] = assets
	}
	b, ok := assets[asset]
	if !ok {
		b = uint256.NewInt(0)
		assets[asset] = b
	}
	return b
}

func (l *Ledger) credit(account domain.Account, asset domain.AssetClass, amount *uint256.Int) {
	b := l.balanceRef(account, asset)
	// Cannot overflow: every credit is covered by supply, which Issue keeps
	// within 256 bits.
	b.Add(b, amount)
}
