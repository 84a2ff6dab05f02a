// Package history reconstructs an account's transaction history from the
// event log, the way the front end's history tab merges purchase and sale
// events into one newest-first table.
package history

import (
	"sort"

	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/eventlog"
)

// Reconstructor produces ordered per-account trade views. It holds no state
// beyond the log reference; every call reflects the log at call time.
type Reconstructor struct {
	log *eventlog.Log
}

// New creates a Reconstructor over the given log.
func New(log *eventlog.Log) *Reconstructor {
	return &Reconstructor{log: log}
}

// HistoryFor returns every trade of account sorted by timestamp descending,
// ties broken by sequence id descending, so equal-timestamp trades keep a
// stable newest-first order. An account with no trades yields an empty
// slice, not an error.
func (r *Reconstructor) HistoryFor(account domain.Account) []domain.TradeRecord {
	records := r.log.ByAccount(account)

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].ID > records[j].ID
	})
	return records
}
