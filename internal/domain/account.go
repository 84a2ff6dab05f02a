// Package domain defines the core types of the exchange: accounts, asset
// classes, fixed-point amounts, trade records, and the interfaces implemented
// by the storage, cache, and blob adapters.
package domain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Account identifies a balance-holding party. It reuses the 20-byte hex
// address format the web front end already passes around, so account ids
// survive a round trip through the UI unchanged.
type Account = common.Address

// ParseAccount parses a hex account id ("0x" prefix optional). It returns
// ErrInvalidAccount for malformed input and for the zero address, which is
// never a valid party to a trade.
func ParseAccount(s string) (Account, error) {
	if !common.IsHexAddress(s) {
		return Account{}, fmt.Errorf("domain: parse account %q: %w", s, ErrInvalidAccount)
	}
	acct := common.HexToAddress(s)
	if acct == (Account{}) {
		return Account{}, fmt.Errorf("domain: parse account %q: %w", s, ErrInvalidAccount)
	}
	return acct, nil
}
