package domain

import "fmt"

// AssetClass names one of the two traded assets. The exchange only ever
// swaps between the fiat-pegged token and the stock-pegged token.
type AssetClass string

const (
	// AssetFiat is the pricing currency (the digital dollar).
	AssetFiat AssetClass = "USDX"

	// AssetStock is the traded security token.
	AssetStock AssetClass = "TSTK"
)

// Valid reports whether a is one of the two known asset classes.
func (a AssetClass) Valid() bool {
	return a == AssetFiat || a == AssetStock
}

// Counter returns the other asset of the pair.
func (a AssetClass) Counter() AssetClass {
	if a == AssetFiat {
		return AssetStock
	}
	return AssetFiat
}

// ParseAsset parses an asset symbol as it appears on the wire.
func ParseAsset(s string) (AssetClass, error) {
	a := AssetClass(s)
	if !a.Valid() {
		return "", fmt.Errorf("domain: parse asset %q: %w", s, ErrInvalidAsset)
	}
	return a, nil
}
