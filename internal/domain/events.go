package domain

// Signal bus channels consumed by the WebSocket hub and any external
// observer.
const (
	// ChannelTrades carries TokensPurchased / TokensSold events.
	ChannelTrades = "trades"

	// ChannelBalances carries BalanceUpdate snapshots after each trade.
	ChannelBalances = "balances"
)

// Event type names used for notification filtering.
const (
	EventTradeExecuted   = "trade.executed"
	EventArchiveComplete = "archive.complete"
)

// TokensPurchased is emitted on every successful buy. Field names match the
// event shape the transaction-history view was written against.
type TokensPurchased struct {
	Event         string `json:"event"` // always "TokensPurchased"
	Buyer         string `json:"buyer"`
	AmountOfStock string `json:"amountOfStock"`
	AmountOfFiat  string `json:"amountOfFiat"`
	TradeID       int64  `json:"tradeId"`
	Timestamp     string `json:"timestamp"`
}

// TokensSold is emitted on every successful sell.
type TokensSold struct {
	Event         string `json:"event"` // always "TokensSold"
	Seller        string `json:"seller"`
	AmountOfStock string `json:"amountOfStock"`
	AmountOfFiat  string `json:"amountOfFiat"`
	TradeID       int64  `json:"tradeId"`
	Timestamp     string `json:"timestamp"`
}

// BalanceUpdate is the per-account snapshot published after a trade settles,
// so polling clients and the WS hub see both legs move together.
type BalanceUpdate struct {
	Account string `json:"account"`
	Fiat    string `json:"fiat"`
	Stock   string `json:"stock"`
}
