package server

import (
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/flags"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK bool `json:"ok"`
}

// StateResponse is the loop snapshot plus its terminating error, if any,
// and the operator pause when one is configured.
type StateResponse struct {
	swapengine.CycleState
	Error string       `json:"error,omitempty"`
	Pause *flags.Pause `json:"pause,omitempty"`
}

// TradesResponse lists recent trades, newest first.
type TradesResponse struct {
	Items []*models.TradeEvent `json:"items"`
}

// QuoteResponse is a live price for one leg with its slippage bound.
// Amounts are decimal strings in the smallest token unit.
type QuoteResponse struct {
	Side      models.Side `json:"side"`
	Mode      string      `json:"mode"` // ExactIn or ExactOut
	Path      []string    `json:"path"`
	AmountIn  string      `json:"amount_in"`
	AmountOut string      `json:"amount_out"`
	Bound     string      `json:"bound"`
	BoundKind string      `json:"bound_kind"` // min_out or max_in
	QuotedAt  time.Time   `json:"quoted_at"`
}

// PauseRequest holds new buys. Duration is a Go duration ("15m"); empty
// pauses until resumed.
type PauseRequest struct {
	Reason   string `json:"reason"`
	By       string `json:"by"`
	Duration string `json:"duration"`
}

// PauseHistoryResponse lists pause changes, newest first.
type PauseHistoryResponse struct {
	Items []*flags.Pause `json:"items"`
}

// StreamMessage is one websocket frame: a state snapshot on connect, then
// phase transitions and trades as they happen.
type StreamMessage struct {
	Type  string                 `json:"type"` // state, phase or trade
	State *swapengine.CycleState `json:"state,omitempty"`
	Phase *models.PhaseEvent     `json:"phase,omitempty"`
	Trade *models.TradeEvent     `json:"trade,omitempty"`
}
