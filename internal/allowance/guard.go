// Package allowance tracks per-(owner, spender, asset) spending caps and
// enforces the approve-before-spend protocol the front end drives.
//
// Like the ledger, the guard carries no lock of its own; it is mutated only
// inside the exchange engine's write-side critical section.
package allowance

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/stockex/marketd/internal/domain"
)

type key struct {
	owner   domain.Account
	spender domain.Account
	asset   domain.AssetClass
}

// Guard owns all allowance state.
type Guard struct {
	caps map[key]*uint256.Int
}

// New returns an empty guard; every allowance starts at zero.
func New() *Guard {
	return &Guard{caps: make(map[key]*uint256.Int)}
}

// Approve sets the cap to amount, unconditionally overwriting any previous
// value. Overwrite-not-stack is the classic allowance semantics the UI is
// written against: a re-approval racing a pending spend replaces the cap
// rather than adding to it. It never fails.
func (g *Guard) Approve(owner, spender domain.Account, asset domain.AssetClass, amount *uint256.Int) {
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	g.caps[key{owner, spender, asset}] = new(uint256.Int).Set(amount)
}

// Allowance returns the remaining cap, zero for unknown triples. The
// returned value is a copy.
func (g *Guard) Allowance(owner, spender domain.Account, asset domain.AssetClass) *uint256.Int {
	if c, ok := g.caps[key{owner, spender, asset}]; ok {
		return new(uint256.Int).Set(c)
	}
	return uint256.NewInt(0)
}

// Spend decrements the cap by amount. A spend exceeding the cap is rejected
// in full with ErrAllowanceExceeded; there are no partial spends. Spend moves
// no balances; the caller still performs the ledger transfer.
func (g *Guard) Spend(owner, spender domain.Account, asset domain.AssetClass, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	c, ok := g.caps[key{owner, spender, asset}]
	if !ok || c.Lt(amount) {
		return fmt.Errorf("allowance: spend %s of %s: %w", asset, owner.Hex(), domain.ErrAllowanceExceeded)
	}
	c.Sub(c, amount)
	return nil
}

// Refund restores amount to the cap after a failed trade leg. It exists only
// so the engine can roll a spend back; it is not an approval and must never
// be reachable from the external interface.
func (g *Guard) Refund(owner, spender domain.Account, asset domain.AssetClass, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	k := key{owner, spender, asset}
	c, ok := g.caps[k]
	if !ok {
		c = uint256.NewInt(0)
		g.caps[k] = c
	}
	c.Add(c, amount)
}
