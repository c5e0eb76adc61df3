package postgres

import (
	"context"
	"fmt"

	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/storage"
	"github.com/jackc/pgx/v5"
)

// TradeStore is the durable trade journal.
type TradeStore struct {
	pool *Pool
}

func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ storage.TradeStore = (*TradeStore)(nil)

func (s *TradeStore) Name() string { return "postgres" }

// RecordTrade inserts the trade. Recording the same tx twice is a no-op.
func (s *TradeStore) RecordTrade(ctx context.Context, t *models.TradeEvent) error {
	query := `
		INSERT INTO trades (
			tx_hash, cycle, side, pair, token_in, token_out,
			amount_in, amount_out, quoted_out, min_out,
			gas_used, block_number, dex, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TxHash,
		t.Cycle,
		string(t.Side),
		t.Pair,
		t.TokenIn,
		t.TokenOut,
		t.AmountIn,
		t.AmountOut,
		t.QuotedOut,
		t.MinOut,
		int64(t.GasUsed),
		int64(t.BlockNumber),
		t.Dex,
		t.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *TradeStore) ListTrades(ctx context.Context, cycle int) ([]*models.TradeEvent, error) {
	query := `
		SELECT tx_hash, cycle, side, pair, token_in, token_out,
			amount_in::text, amount_out::text, quoted_out::text, min_out::text,
			gas_used, block_number, dex, executed_at
		FROM trades
		WHERE cycle = $1
		ORDER BY executed_at, id
	`

	rows, err := s.pool.Query(ctx, query, cycle)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	out, err := pgx.CollectRows(rows, scanTrade)
	if err != nil {
		return nil, fmt.Errorf("scan trades: %w", err)
	}
	return out, nil
}

func scanTrade(row pgx.CollectableRow) (*models.TradeEvent, error) {
	var (
		t        models.TradeEvent
		side     string
		gasUsed  int64
		blockNum int64
	)
	err := row.Scan(
		&t.TxHash, &t.Cycle, &side, &t.Pair, &t.TokenIn, &t.TokenOut,
		&t.AmountIn, &t.AmountOut, &t.QuotedOut, &t.MinOut,
		&gasUsed, &blockNum, &t.Dex, &t.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	t.Side = models.Side(side)
	t.GasUsed = uint64(gasUsed)
	t.BlockNumber = uint64(blockNum)
	return &t, nil
}

func (s *TradeStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *TradeStore) Close() error {
	s.pool.Close()
	return nil
}
