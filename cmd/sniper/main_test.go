package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	logger, _ := test.NewNullLogger()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"clean finish", nil, 0},
		{"operator stop", context.Canceled, 0},
		{"stop while awaiting liquidity", fmt.Errorf("awaiting: %w", context.Canceled), 0},
		{"buy failed", fmt.Errorf("%w: buy 0xabc: nonce too low", swapengine.ErrExecutionFailed), 1},
		{"stop during confirmation", fmt.Errorf("%w: buy 0xabc: %w", swapengine.ErrExecutionFailed, context.Canceled), 1},
		{"init failure", errors.New("failed to connect to node"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err, logger))
		})
	}
}

func TestSimulatedBuyFailureExitsNonZero(t *testing.T) {
	logger, _ := test.NewNullLogger()

	cfg := &config.Config{
		ConfirmTimeout:   time.Second,
		MetricsNamespace: "sniper_test",
		Trading: config.TradingConfig{
			TradeAmount:         ether(1, 10),
			SlippageDenominator: 20,
			GasLimit:            500000,
			MinLiquidity:        ether(1, 1),
			TradeInterval:       time.Minute,
			WalletMin:           ether(1, 10),
			Mode:                config.ModeSingle,
			QuoteIsNative:       true,
			PollInterval:        time.Millisecond,
			MaxPollInterval:     time.Millisecond,
			DeadlineWindow:      5 * time.Minute,
		},
	}
	sim := newSimulation(cfg, logger)
	sim.AddLiquidity(cfg.Trading.QuoteToken, cfg.Trading.BaseToken, ether(100, 1), ether(10_000_000, 1))
	sim.FailNextSubmit(errors.New("insufficient funds for gas"))

	engine, err := swapengine.NewEngine(context.Background(), swapengine.EngineConfig{
		Config:   cfg,
		Exchange: sim,
		Dex:      constants.DexSimulated,
		Metrics:  metrics.New("sniper_test"),
		Logger:   logger,
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)
	defer engine.Close()

	final, err := engine.Run(context.Background())
	require.ErrorIs(t, err, swapengine.ErrExecutionFailed)
	assert.Equal(t, swapengine.Terminated, final.Phase)
	assert.Nil(t, final.LastSell)
	assert.Equal(t, 1, exitCode(err, logger))

	// nothing was bought, so nothing is held
	held, err := sim.BalanceOf(context.Background(), cfg.Trading.BaseToken, cfg.Trading.Recipient)
	require.NoError(t, err)
	assert.Equal(t, 0, held.Sign())
}
