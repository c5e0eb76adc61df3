package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/aman-zulfiqar/pair-sniper/internal/cache"
	"github.com/aman-zulfiqar/pair-sniper/internal/chain"
	"github.com/aman-zulfiqar/pair-sniper/internal/config"
	"github.com/aman-zulfiqar/pair-sniper/internal/flags"
	"github.com/aman-zulfiqar/pair-sniper/internal/metrics"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/server"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// env bootstrap function
func loadEnv(logger *logrus.Logger) {
	// Get the project root directory (where go.mod is)
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "../..")
	envPath := filepath.Join(projectRoot, ".env")

	if err := godotenv.Load(envPath); err != nil {
		logger.Warnf("no .env file found at %s, using system environment variables", envPath)
	} else {
		logger.Infof("loaded .env from %s", envPath)
	}
}

// main runs the operator API next to a sniper running elsewhere. It reads
// recent trades from Redis, pauses and resumes the sniper, relays the Redis
// feeds to websocket clients and prices quotes with a read-only node
// connection.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logger.SetLevel(logrus.InfoLevel)

	// load .env BEFORE anything reads os.Getenv
	loadEnv(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required")
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = ":8090"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	tradeCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: cfg.RedisAddr}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer tradeCache.Close()

	pauseStore, err := flags.NewStore(tradeCache.Client())
	if err != nil {
		logger.WithError(err).Fatal("failed to create pause store")
	}

	// Relay the sniper's Redis feeds to websocket clients
	hub := server.NewHub(logger)
	sub := cache.NewSubscriber(tradeCache.Client(), logger)
	go func() {
		err := sub.Run(ctx, cache.Handlers{
			Trade: func(t *models.TradeEvent) { _ = hub.RecordTrade(ctx, t) },
			Phase: func(ev *models.PhaseEvent) { hub.OnTransition(*ev, swapengine.CycleState{}) },
		})
		if err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("redis feed stopped")
		}
	}()

	h := &server.Handlers{
		Cache:   tradeCache,
		Pause:   pauseStore,
		Hub:     hub,
		DevMode: cfg.DevMode,
		Logger:  logger,
	}

	// Quotes need only reads, so no wallet
	if cfg.RPCURL != "" && cfg.Trading.Validate() == nil {
		client, err := chain.Dial(ctx, chain.ClientConfig{
			URL:          cfg.RPCURL,
			Factory:      cfg.FactoryAddress,
			Router:       cfg.RouterAddress,
			ChainID:      cfg.ChainID,
			Timeout:      cfg.RPCTimeout,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
			RateLimit:    cfg.RPCRateLimit,
			RateBurst:    cfg.RPCRateBurst,
			Logger:       logger,
		})
		if err != nil {
			logger.WithError(err).Warn("quotes disabled: node unreachable")
		} else {
			defer client.Close()
			m := metrics.New(cfg.MetricsNamespace)
			h.Quotes = &server.QuoteSource{Quoter: swapengine.NewQuoteService(client, m), Trading: cfg.Trading}
		}
	}

	srv, err := server.NewServer(server.ServerDeps{
		Handlers: h,
		Config: server.ServerConfig{
			Addr:    cfg.APIAddr,
			DevMode: cfg.DevMode,
			APIKey:  cfg.APIKey,
		},
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create http server")
	}

	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		_ = srv.Shutdown(context.Background())
	}()

	logger.WithField("addr", cfg.APIAddr).Info("api server starting")
	if err := srv.Start(); err != nil {
		logger.WithError(err).Error("api server failed")
		return
	}

	if err := srv.WaitClosed(context.Background()); err != nil {
		logger.WithError(err).Warn("shutdown incomplete")
	}
}
