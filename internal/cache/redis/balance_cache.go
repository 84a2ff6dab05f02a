package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/stockex/marketd/internal/domain"
)

// BalanceCache implements domain.BalanceCache using Redis hashes. Each
// account's snapshot lives at key "bal:{address}" with fields "fiat" and
// "stock" holding base-unit decimal strings. Both fields are written in one
// HSET so a reader never sees one leg of a trade without the other, and the
// TTL bounds how far a polling read may lag the ledger.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBalanceCache creates a BalanceCache with the given snapshot TTL. A zero
// TTL disables expiry, which is only sensible in tests.
func NewBalanceCache(c *Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{rdb: c.Underlying(), ttl: ttl}
}

func balanceKey(account domain.Account) string {
	return "bal:" + account.Hex()
}

// SetBalances stores the latest balance snapshot for an account.
func (bc *BalanceCache) SetBalances(ctx context.Context, account domain.Account, fiat, stock *uint256.Int) error {
	key := balanceKey(account)
	fields := map[string]interface{}{
		"fiat":  domain.FormatAmount(fiat),
		"stock": domain.FormatAmount(stock),
	}

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if bc.ttl > 0 {
		pipe.Expire(ctx, key, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set balances %s: %w", account.Hex(), err)
	}
	return nil
}

// GetBalances retrieves the cached snapshot for an account. It returns
// domain.ErrNotFound when no snapshot exists or it has expired.
func (bc *BalanceCache) GetBalances(ctx context.Context, account domain.Account) (*uint256.Int, *uint256.Int, error) {
	vals, err := bc.rdb.HGetAll(ctx, balanceKey(account)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: get balances %s: %w", account.Hex(), err)
	}
	if len(vals) == 0 {
		return nil, nil, domain.ErrNotFound
	}

	fiatStr, ok := vals["fiat"]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	stockStr, ok := vals["stock"]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}

	fiat, err := domain.ParseAmount(fiatStr)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: parse cached fiat %s: %w", account.Hex(), err)
	}
	stock, err := domain.ParseAmount(stockStr)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: parse cached stock %s: %w", account.Hex(), err)
	}
	return fiat, stock, nil
}

// Compile-time interface check.
var _ domain.BalanceCache = (*BalanceCache)(nil)
