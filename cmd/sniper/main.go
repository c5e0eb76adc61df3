package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/amm"
	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/aman-zulfiqar/pair-sniper/internal/server"
	"github.com/aman-zulfiqar/pair-sniper/internal/storage"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Debugf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

func main() {
	mode := flag.String("mode", "", "single | continuous (overrides LOOP_MODE)")
	simulate := flag.Bool("simulate", false, "trade against an in-memory exchange instead of the node")
	apiAddr := flag.String("api", "", "status API address (overrides API_ADDR, empty disables)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	loadEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if *mode != "" {
		m := config.Mode(strings.ToLower(*mode))
		if m != config.ModeSingle && m != config.ModeContinuous {
			fmt.Fprintf(os.Stderr, "invalid -mode %q (use single|continuous)\n", *mode)
			os.Exit(2)
		}
		cfg.Trading.Mode = m
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}

	os.Exit(exitCode(run(cfg, *simulate, logger), logger))
}

// exitCode maps the run result to the process status: 0 for a clean finish
// or an operator stop, 1 for everything else. A swap interrupted by the stop
// is still an execution failure.
func exitCode(err error, logger *logrus.Logger) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, swapengine.ErrExecutionFailed):
		logger.WithError(err).Error("swap failed")
		return 1
	case errors.Is(err, context.Canceled):
		logger.Info("stopped by signal")
		return 0
	default:
		logger.WithError(err).Error("sniper failed")
		return 1
	}
}

func run(cfg *config.Config, simulate bool, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown (Ctrl+C, SIGTERM)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	m := metrics.New(cfg.MetricsNamespace)

	var hub *server.Hub
	ec := swapengine.EngineConfig{Config: cfg, Metrics: m, Logger: logger}
	if cfg.APIAddr != "" {
		hub = server.NewHub(logger)
		ec.Sinks = []storage.TradeSink{hub}
		ec.Observers = []swapengine.TransitionFunc{hub.OnTransition}
	}

	if simulate {
		sim := newSimulation(cfg, logger)
		ec.Exchange = sim
		ec.Dex = constants.DexSimulated
		go addLiquidityLater(ctx, sim, cfg.Trading, 5*time.Second, logger)
	}

	engine, err := swapengine.NewEngine(ctx, ec)
	if err != nil {
		return fmt.Errorf("failed to init sniper: %w", err)
	}
	defer engine.Close()

	if cfg.APIAddr != "" {
		h := &server.Handlers{
			Loop:    engine.Loop(),
			Quotes:  &server.QuoteSource{Quoter: engine.Quotes(), Trading: engine.Trading()},
			Hub:     hub,
			DevMode: cfg.DevMode,
			Logger:  logger,
		}
		if c := engine.Cache(); c != nil {
			h.Cache = c
		}
		if p := engine.Flags(); p != nil {
			h.Pause = p
		}
		srv, err := server.NewServer(server.ServerDeps{
			Handlers: h,
			Metrics:  m,
			Config:   server.ServerConfig{Addr: cfg.APIAddr, DevMode: cfg.DevMode, APIKey: cfg.APIKey},
		})
		if err != nil {
			return fmt.Errorf("failed to create http server: %w", err)
		}
		go func() {
			logger.WithField("addr", cfg.APIAddr).Info("api server starting")
			if err := srv.Start(); err != nil {
				logger.WithError(err).Error("api server failed")
			}
		}()
		defer func() {
			_ = srv.Shutdown(context.Background())
		}()
	}

	final, err := engine.Run(ctx)
	fields := logrus.Fields{"cycle": final.Cycle, "reason": final.Reason}
	if final.LastSell != nil {
		fields["last_sell_out"] = config.FormatUnits(final.LastSell.AmountOut, 18)
	}
	if final.Position != nil && final.Position.Sign() > 0 {
		fields["unsold_position"] = final.Position.String()
	}
	logger.WithFields(fields).Info("sniper finished")
	return err
}

// newSimulation builds an in-memory exchange holding the trader's native
// balance and fills in the addresses a simulated run can do without.
func newSimulation(cfg *config.Config, logger *logrus.Logger) *amm.Sim {
	t := &cfg.Trading
	if t.QuoteToken == (common.Address{}) {
		t.QuoteToken = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	}
	if t.BaseToken == (common.Address{}) {
		t.BaseToken = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	}
	if t.Recipient == (common.Address{}) {
		t.Recipient = common.HexToAddress("0x00000000000000000000000000000000000051a1")
	}
	if t.TradeAmount == nil || t.TradeAmount.Sign() == 0 {
		t.TradeAmount = ether(1, 10) // 0.1
	}

	sim := amm.NewSim(amm.SimConfig{
		Fee:    amm.Fee{Numerator: constants.DefaultFeeNumerator, Denominator: constants.DefaultFeeDenominator},
		Router: cfg.RouterAddress,
		Trader: t.Recipient,
	})
	balance := new(big.Int).Mul(t.TradeAmount, big.NewInt(10))
	if t.WalletMin != nil {
		balance.Add(balance, t.WalletMin)
	}
	sim.SetNativeBalance(t.Recipient, balance)

	logger.WithFields(logrus.Fields{
		"trader":  t.Recipient.Hex(),
		"balance": config.FormatUnits(balance, 18),
	}).Warn("simulation mode, no transactions reach the chain")
	return sim
}

// addLiquidityLater plays the token launch: after delay the pair appears with
// at least twice the liquidity threshold, deep enough for the trade size that
// the round trip stays inside the slippage bound.
func addLiquidityLater(ctx context.Context, sim *amm.Sim, t config.TradingConfig, delay time.Duration, logger *logrus.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	quote := new(big.Int).Mul(t.MinLiquidity, big.NewInt(2))
	if deep := new(big.Int).Mul(t.TradeAmount, big.NewInt(1000)); deep.Cmp(quote) > 0 {
		quote = deep
	}
	base := new(big.Int).Mul(quote, big.NewInt(100_000))
	pair := sim.AddLiquidity(t.QuoteToken, t.BaseToken, quote, base)
	logger.WithFields(logrus.Fields{
		"pair":  pair.Hex(),
		"quote": config.FormatUnits(quote, 18),
	}).Info("simulated liquidity added")
}

func ether(n, div int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
	return v.Div(v, big.NewInt(div))
}
