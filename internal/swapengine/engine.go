package swapengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/cache"
	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/aman-zulfiqar/pair-sniper/internal/flags"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/storage"
	"github.com/aman-zulfiqar/pair-sniper/internal/storage/postgres"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Engine is the main orchestrator: it owns the exchange connection, the
// optional stores and the trading loop.
type Engine struct {
	cfg      config.Config
	exchange Exchange
	quotes   *QuoteService
	loop     *TradingLoop
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	redisCache *cache.RedisCache
	flagStore  *flags.Store
	clickhouse *cache.ClickHouseStore
	pgPool     *postgres.Pool
	journal    *postgres.TradeStore
}

// EngineConfig holds what NewEngine needs beyond the loaded configuration.
type EngineConfig struct {
	Config *config.Config

	// Exchange replaces the dialed chain client, e.g. with an amm.Sim.
	// The engine closes it.
	Exchange Exchange
	Dex      string

	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
	Sinks     []storage.TradeSink // in addition to the configured stores
	Observers []TransitionFunc

	Sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates an engine with all dependencies. On error everything
// opened so far is closed again.
func NewEngine(ctx context.Context, ec EngineConfig) (_ *Engine, err error) {
	if ec.Config == nil {
		return nil, fmt.Errorf("engine needs a configuration")
	}
	if ec.Logger == nil {
		ec.Logger = logrus.StandardLogger()
	}
	if ec.Metrics == nil {
		ec.Metrics = metrics.New(ec.Config.MetricsNamespace)
	}

	e := &Engine{
		cfg:      *ec.Config,
		exchange: ec.Exchange,
		metrics:  ec.Metrics,
		logger:   ec.Logger,
	}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	// 1. Initialize the exchange and the signing wallet
	dex := ec.Dex
	if e.exchange == nil {
		if err := e.cfg.Validate(); err != nil {
			return nil, err
		}
		client, err := e.dial(ctx)
		if err != nil {
			return nil, err
		}
		e.exchange = client
		if dex == "" {
			dex = constants.DexUniswapV2
		}
	}

	// 2. Initialize Redis: trade cache, phase feed and the operator pause
	var pauser Pauser
	sinks := make([]storage.TradeSink, 0, len(ec.Sinks)+3)
	observers := append([]TransitionFunc(nil), ec.Observers...)
	if e.cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: e.cfg.RedisAddr}, e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		e.redisCache = rc
		sinks = append(sinks, rc)
		observers = append(observers, e.publishPhase)

		store, err := flags.NewStore(rc.Client())
		if err != nil {
			return nil, fmt.Errorf("failed to create pause store: %w", err)
		}
		e.flagStore = store
		pauser = store
	}

	// 3. Initialize ClickHouse
	if e.cfg.ClickHouseAddr != "" && e.cfg.ClickHouseDatabase != "" {
		ch, err := cache.NewClickHouseStore(ctx, cache.ClickHouseConfig{
			Addr:     e.cfg.ClickHouseAddr,
			Database: e.cfg.ClickHouseDatabase,
			Username: e.cfg.ClickHouseUsername,
			Password: e.cfg.ClickHousePassword,
		}, e.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		e.clickhouse = ch
		sinks = append(sinks, ch)
	}

	// 4. Initialize the Postgres trade journal
	if e.cfg.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, e.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		e.pgPool = pool
		if err := pool.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate Postgres: %w", err)
		}
		e.journal = postgres.NewTradeStore(pool)
		sinks = append(sinks, e.journal)
	}
	sinks = append(sinks, ec.Sinks...)

	// 5. Create the pipeline
	e.quotes = NewQuoteService(e.exchange, e.metrics)
	executor := NewSwapExecutor(ExecutorConfig{
		Submitter:      e.exchange,
		Trading:        e.cfg.Trading,
		ConfirmTimeout: e.cfg.ConfirmTimeout,
		ExplorerTxURL:  e.cfg.ExplorerTxURL,
		Dex:            dex,
		Sinks:          sinks,
		Metrics:        e.metrics,
		Logger:         e.logger,
	})

	// 6. Create the trading loop
	loop, err := NewTradingLoop(LoopConfig{
		Trading:   e.cfg.Trading,
		Monitor:   NewLiquidityMonitor(e.exchange),
		Quotes:    e.quotes,
		Executor:  executor,
		Accounts:  e.exchange,
		Pauser:    pauser,
		Metrics:   e.metrics,
		Logger:    e.logger,
		Observers: observers,
		Sleep:     ec.Sleep,
	})
	if err != nil {
		return nil, err
	}
	e.loop = loop

	e.logger.WithFields(logrus.Fields{
		"recipient":  e.cfg.Trading.Recipient.Hex(),
		"redis":      e.redisCache != nil,
		"clickhouse": e.clickhouse != nil,
		"postgres":   e.journal != nil,
		"sinks":      len(sinks),
	}).Info("swap engine ready")

	return e, nil
}

func (e *Engine) dial(ctx context.Context) (*chain.Client, error) {
	w, err := chain.NewWallet(chain.WalletConfig{
		PrivateKey: e.cfg.WalletPrivateKey,
		Mnemonic:   e.cfg.WalletMnemonic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	t := &e.cfg.Trading
	switch {
	case t.Recipient == w.Address():
	case t.Recipient == (common.Address{}):
		t.Recipient = w.Address()
	default:
		return nil, fmt.Errorf("YOUR_ADDRESS %s does not match the wallet %s", t.Recipient.Hex(), w.Address().Hex())
	}

	client, err := chain.Dial(ctx, chain.ClientConfig{
		URL:          e.cfg.RPCURL,
		Factory:      e.cfg.FactoryAddress,
		Router:       e.cfg.RouterAddress,
		ChainID:      e.cfg.ChainID,
		Timeout:      e.cfg.RPCTimeout,
		MaxRetries:   e.cfg.MaxRetries,
		RetryBackoff: e.cfg.RetryBackoff,
		RateLimit:    e.cfg.RPCRateLimit,
		RateBurst:    e.cfg.RPCRateBurst,
		Wallet:       w,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node: %w", err)
	}
	return client, nil
}

// publishPhase mirrors transitions to Redis. Failures only cost the feed.
func (e *Engine) publishPhase(ev models.PhaseEvent, _ CycleState) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.redisCache.PublishPhase(ctx, &ev); err != nil {
		e.logger.WithError(err).Warn("failed to publish phase")
		e.metrics.RecordSinkError(e.redisCache.Name())
	}
}

// Run drives the trading loop until it terminates.
func (e *Engine) Run(ctx context.Context) (CycleState, error) {
	return e.loop.Run(ctx)
}

func (e *Engine) Loop() *TradingLoop                 { return e.loop }
func (e *Engine) Quotes() *QuoteService              { return e.quotes }
func (e *Engine) Metrics() *metrics.Metrics          { return e.metrics }
func (e *Engine) Trading() config.TradingConfig      { return e.cfg.Trading }
func (e *Engine) Cache() *cache.RedisCache           { return e.redisCache }
func (e *Engine) Flags() *flags.Store                { return e.flagStore }
func (e *Engine) Journal() *postgres.TradeStore      { return e.journal }
func (e *Engine) ClickHouse() *cache.ClickHouseStore { return e.clickhouse }

// Close cleans up all resources.
func (e *Engine) Close() error {
	var errs []error

	if e.exchange != nil {
		if err := e.exchange.Close(); err != nil {
			errs = append(errs, fmt.Errorf("exchange close: %w", err))
		}
	}

	if e.redisCache != nil {
		if err := e.redisCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if e.clickhouse != nil {
		if err := e.clickhouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse close: %w", err))
		}
	}

	if e.pgPool != nil {
		e.pgPool.Close()
	}

	return errors.Join(errs...)
}
