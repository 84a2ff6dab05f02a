package domain

import (
	"context"
	"io"
	"time"

	"github.com/holiman/uint256"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// TradeStore persists completed trades. The in-memory event log inside the
// engine is the authoritative record; the store is the durable copy written
// after commit, serving audits, restarts, and archival.
type TradeStore interface {
	// Insert persists a committed trade. Re-inserting an id that already
	// exists is a no-op, so post-commit persistence can be retried safely.
	Insert(ctx context.Context, rec TradeRecord) error
	ListByAccount(ctx context.Context, account Account, opts ListOpts) ([]TradeRecord, error)
	// ListBefore returns all trades with a timestamp strictly before the
	// cutoff, oldest first. Used by the archiver.
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	// DeleteBefore prunes archived trades and returns the number deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// BalanceCache holds short-lived balance snapshots serving the front end's
// polling reads. A snapshot may lag the ledger but is always internally
// consistent (both assets captured under the same engine read lock).
type BalanceCache interface {
	SetBalances(ctx context.Context, account Account, fiat, stock *uint256.Int) error
	// GetBalances returns ErrNotFound when no snapshot exists or it expired.
	GetBalances(ctx context.Context, account Account) (fiat, stock *uint256.Int, err error)
}

// SignalBus is the pub/sub fabric carrying trade and balance events to the
// WebSocket hub and other observers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a channel of raw payloads. It is closed when the
	// context is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter throttles trade submissions per caller.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the given
	// sliding window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion for background jobs that
// must not run on two replicas at once (the trade archiver).
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld when another party
	// holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
