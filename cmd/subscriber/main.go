package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/aman-zulfiqar/pair-sniper/internal/cache"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// subscriber tails the sniper's Redis feeds: every confirmed trade and every
// trading loop transition.
func main() {
	addr := flag.String("redis", "localhost:6379", "redis address")
	flag.Parse()
	if v := os.Getenv("REDIS_ADDR"); v != "" && *addr == "localhost:6379" {
		*addr = v
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: *addr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}

	sub := cache.NewSubscriber(client, logger)
	err := sub.Run(ctx, cache.Handlers{
		Trade: func(t *models.TradeEvent) {
			logger.WithFields(logrus.Fields{
				"cycle":      t.Cycle,
				"side":       t.Side,
				"amount_in":  t.AmountIn,
				"amount_out": t.AmountOut,
				"min_out":    t.MinOut,
				"tx":         t.TxHash,
			}).Info("trade")
		},
		Phase: func(ev *models.PhaseEvent) {
			logger.WithFields(logrus.Fields{
				"cycle":  ev.Cycle,
				"from":   ev.From,
				"to":     ev.To,
				"reason": ev.Reason,
			}).Info("phase")
		},
	})
	if err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("subscriber failed")
	}
	logger.Info("subscriber stopped")
}
