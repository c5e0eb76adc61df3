package cache

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/sirupsen/logrus"
)

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseStore appends trades to an analytics table.
type ClickHouseStore struct {
	conn driver.Conn
}

const createTradesTable = `
CREATE TABLE IF NOT EXISTS trades (
	tx_hash      String,
	timestamp    DateTime64(3),
	cycle        UInt32,
	side         LowCardinality(String),
	pair         String,
	token_in     String,
	token_out    String,
	amount_in    UInt256,
	amount_out   UInt256,
	quoted_out   UInt256,
	min_out      UInt256,
	gas_used     UInt64,
	block_number UInt64,
	dex          LowCardinality(String)
) ENGINE = MergeTree ORDER BY (timestamp, tx_hash)`

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig, logger *logrus.Logger) (*ClickHouseStore, error) {
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, createTradesTable); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create trades table: %w", err)
	}

	if logger != nil {
		logger.WithField("addr", cfg.Addr).Info("connected to ClickHouse")
	}
	return &ClickHouseStore{conn: conn}, nil
}

func (c *ClickHouseStore) Name() string { return "clickhouse" }

// RecordTrade inserts one trade. Amount strings are parsed by the server
// into UInt256.
func (c *ClickHouseStore) RecordTrade(ctx context.Context, t *models.TradeEvent) error {
	query := `
		INSERT INTO trades (
			tx_hash, timestamp, cycle, side, pair, token_in, token_out,
			amount_in, amount_out, quoted_out, min_out, gas_used, block_number, dex
		) VALUES (?, ?, ?, ?, ?, ?, ?, toUInt256(?), toUInt256(?), toUInt256(?), toUInt256(?), ?, ?, ?)
	`

	err := c.conn.Exec(ctx, query,
		t.TxHash,
		t.Timestamp,
		uint32(t.Cycle),
		string(t.Side),
		t.Pair,
		t.TokenIn,
		t.TokenOut,
		t.AmountIn,
		t.AmountOut,
		t.QuotedOut,
		t.MinOut,
		t.GasUsed,
		t.BlockNumber,
		t.Dex,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (c *ClickHouseStore) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
