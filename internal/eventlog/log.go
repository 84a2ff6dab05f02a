// Package eventlog keeps the append-only, time-ordered record of completed
// trades. Entries are never mutated or deleted; durability is layered on top
// by the postgres store and the S3 archiver, which copy committed records
// out of the log after the fact.
package eventlog

import (
	"sync"

	"github.com/stockex/marketd/internal/domain"
)

// Log is an in-memory append-only sequence of trade records. Appends are
// serialized by the exchange engine; the log carries its own small mutex so
// that history reads and archival scans can run concurrently with trading
// and observe a consistent snapshot.
type Log struct {
	mu      sync.Mutex
	records []domain.TradeRecord
	nextID  int64
}

// New returns an empty log. The first record is assigned id 1.
func New() *Log {
	return &Log{
		records: make([]domain.TradeRecord, 0, 1024),
		nextID:  1,
	}
}

// Append stamps rec with the next sequence id, appends it, and returns the
// stamped record. It always succeeds.
func (l *Log) Append(rec domain.TradeRecord) domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.ID = l.nextID
	l.nextID++
	l.records = append(l.records, rec)
	return rec
}

// ByAccount returns all records for account in insertion order. The result
// is a copy; callers may iterate or re-iterate it freely.
func (l *Log) ByAccount(account domain.Account) []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.TradeRecord, 0, 8)
	for _, rec := range l.records {
		if rec.Account == account {
			out = append(out, rec)
		}
	}
	return out
}

// All returns a copy of every record in insertion order.
func (l *Log) All() []domain.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]domain.TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
