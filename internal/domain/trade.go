package domain

import (
	"encoding/json"
	"time"

	"github.com/holiman/uint256"
)

// TradeDirection distinguishes buys from sells, from the account's point of
// view (a buy converts fiat into stock).
type TradeDirection string

const (
	Buy  TradeDirection = "buy"
	Sell TradeDirection = "sell"
)

// Valid reports whether d is a known direction.
func (d TradeDirection) Valid() bool {
	return d == Buy || d == Sell
}

// TradeRecord is one completed swap. Records are immutable once appended to
// the event log. ID is a monotonically increasing sequence number assigned by
// the log and is the authoritative total order, independent of timestamp ties.
type TradeRecord struct {
	ID          int64
	Account     Account
	Direction   TradeDirection
	AmountStock *uint256.Int
	AmountFiat  *uint256.Int
	Timestamp   time.Time
}

// tradeRecordJSON is the wire/archive shape of a TradeRecord. Amounts travel
// as 18-decimal fixed-point strings.
type tradeRecordJSON struct {
	ID          int64     `json:"id"`
	Account     string    `json:"account"`
	Direction   string    `json:"direction"`
	AmountStock string    `json:"amount_stock"`
	AmountFiat  string    `json:"amount_fiat"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarshalJSON renders the record with decimal-string amounts.
func (r TradeRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(tradeRecordJSON{
		ID:          r.ID,
		Account:     r.Account.Hex(),
		Direction:   string(r.Direction),
		AmountStock: FormatAmount(r.AmountStock),
		AmountFiat:  FormatAmount(r.AmountFiat),
		Timestamp:   r.Timestamp.UTC(),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON; it is used when reading
// archived JSONL back.
func (r *TradeRecord) UnmarshalJSON(data []byte) error {
	var w tradeRecordJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	acct, err := ParseAccount(w.Account)
	if err != nil {
		return err
	}
	stock, err := ParseAmount(w.AmountStock)
	if err != nil {
		return err
	}
	fiat, err := ParseAmount(w.AmountFiat)
	if err != nil {
		return err
	}
	*r = TradeRecord{
		ID:          w.ID,
		Account:     acct,
		Direction:   TradeDirection(w.Direction),
		AmountStock: stock,
		AmountFiat:  fiat,
		Timestamp:   w.Timestamp,
	}
	return nil
}
