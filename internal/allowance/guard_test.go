package allowance

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockex/marketd/internal/domain"
)

var (
	owner   = domain.Account{0x01}
	spender = domain.Account{0x02}
)

func TestApprove(t *testing.T) {
	t.Run("sets the cap", func(t *testing.T) {
		g := New()

		g.Approve(owner, spender, domain.AssetFiat, domain.Units(1_000))
		assert.Equal(t, domain.Units(1_000), g.Allowance(owner, spender, domain.AssetFiat))
	})

	t.Run("overwrites, never stacks", func(t *testing.T) {
		g := New()

		g.Approve(owner, spender, domain.AssetFiat, domain.Units(1_000))
		g.Approve(owner, spender, domain.AssetFiat, domain.Units(5))
		assert.Equal(t, domain.Units(5), g.Allowance(owner, spender, domain.AssetFiat))
	})

	t.Run("zero approval revokes", func(t *testing.T) {
		g := New()

		g.Approve(owner, spender, domain.AssetFiat, domain.Units(1_000))
		g.Approve(owner, spender, domain.AssetFiat, uint256.NewInt(0))
		assert.True(t, g.Allowance(owner, spender, domain.AssetFiat).IsZero())
	})

	t.Run("caps are per asset", func(t *testing.T) {
		g := New()

		g.Approve(owner, spender, domain.AssetFiat, domain.Units(7))
		assert.True(t, g.Allowance(owner, spender, domain.AssetStock).IsZero())
	})

	t.Run("copies the input amount", func(t *testing.T) {
		g := New()
		amount := domain.Units(3)

		g.Approve(owner, spender, domain.AssetFiat, amount)
		amount.Clear()
		assert.Equal(t, domain.Units(3), g.Allowance(owner, spender, domain.AssetFiat))
	})
}

func TestSpend(t *testing.T) {
	t.Run("decrements the cap", func(t *testing.T) {
		g := New()
		g.Approve(owner, spender, domain.AssetFiat, domain.Units(100))

		require.NoError(t, g.Spend(owner, spender, domain.AssetFiat, domain.Units(60)))
		assert.Equal(t, domain.Units(40), g.Allowance(owner, spender, domain.AssetFiat))
	})

	t.Run("rejects spends above the cap in full", func(t *testing.T) {
		g := New()
		g.Approve(owner, spender, domain.AssetFiat, domain.Units(100))

		err := g.Spend(owner, spender, domain.AssetFiat, domain.Units(101))
		assert.ErrorIs(t, err, domain.ErrAllowanceExceeded)
		// No partial spend.
		assert.Equal(t, domain.Units(100), g.Allowance(owner, spender, domain.AssetFiat))
	})

	t.Run("rejects spends with no approval", func(t *testing.T) {
		g := New()

		err := g.Spend(owner, spender, domain.AssetFiat, uint256.NewInt(1))
		assert.ErrorIs(t, err, domain.ErrAllowanceExceeded)
	})

	t.Run("zero spend always succeeds", func(t *testing.T) {
		g := New()
		assert.NoError(t, g.Spend(owner, spender, domain.AssetFiat, uint256.NewInt(0)))
	})
}

func TestRefund(t *testing.T) {
	t.Run("restores a rolled-back spend", func(t *testing.T) {
		g := New()
		g.Approve(owner, spender, domain.AssetStock, domain.Units(50))

		require.NoError(t, g.Spend(owner, spender, domain.AssetStock, domain.Units(50)))
		g.Refund(owner, spender, domain.AssetStock, domain.Units(50))

		assert.Equal(t, domain.Units(50), g.Allowance(owner, spender, domain.AssetStock))
	})
}
