package storage

import (
	"context"
	"io"

	"github.com/aman-zulfiqar/pair-sniper/internal/models"
)

// TradeSink receives every confirmed trade. Sinks are best-effort: the
// executor logs a failing sink and moves on.
type TradeSink interface {
	// Name labels the sink in logs and metrics
	Name() string

	// RecordTrade persists or forwards one trade
	RecordTrade(ctx context.Context, trade *models.TradeEvent) error
}

// TradeCache keeps a bounded window of recent trades for the status API.
type TradeCache interface {
	TradeSink

	// GetRecentTrades returns up to limit trades, newest first
	GetRecentTrades(ctx context.Context, limit int64) ([]*models.TradeEvent, error)

	// PublishPhase announces a loop transition on the phase channel
	PublishPhase(ctx context.Context, ev *models.PhaseEvent) error

	// Ping checks if the cache is reachable
	Ping(ctx context.Context) error

	io.Closer
}

// TradeStore is durable trade history.
type TradeStore interface {
	TradeSink

	// ListTrades returns trades for one cycle, oldest first
	ListTrades(ctx context.Context, cycle int) ([]*models.TradeEvent, error)

	// Ping checks if the store is reachable
	Ping(ctx context.Context) error

	io.Closer
}
