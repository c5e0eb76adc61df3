package models

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEvent is the record published for every confirmed swap. Amounts are
// decimal strings in the token's smallest unit so they survive JSON intact.
type TradeEvent struct {
	TxHash      string    `json:"tx_hash"`
	Timestamp   time.Time `json:"timestamp"`
	Cycle       int       `json:"cycle"`
	Side        Side      `json:"side"`
	Pair        string    `json:"pair"` // pair contract address
	TokenIn     string    `json:"token_in"`
	TokenOut    string    `json:"token_out"`
	AmountIn    string    `json:"amount_in"`
	AmountOut   string    `json:"amount_out"`
	QuotedOut   string    `json:"quoted_out"`
	MinOut      string    `json:"min_out"`
	GasUsed     uint64    `json:"gas_used"`
	BlockNumber uint64    `json:"block_number"`
	Dex         string    `json:"dex"`
}

// PhaseEvent describes one trading loop transition.
type PhaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Cycle     int       `json:"cycle"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
}
