package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache keeps the recent trade window and fans trade and phase events
// out over pub/sub.
type RedisCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *logrus.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheFromClient(client, logger), nil
}

func NewRedisCacheFromClient(client *redis.Client, logger *logrus.Logger) *RedisCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisCache{client: client, logger: logger}
}

// Client exposes the connection so the flag store can share it.
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

func (r *RedisCache) Name() string { return "redis" }

// RecordTrade pushes the trade onto the recent list, trims it and publishes
// it in one round trip.
func (r *RedisCache) RecordTrade(ctx context.Context, trade *models.TradeEvent) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("marshal trade: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, constants.RedisKeyRecentTrades, data)
	pipe.LTrim(ctx, constants.RedisKeyRecentTrades, 0, constants.MaxRecentTrades-1)
	pipe.Publish(ctx, constants.PubSubChannelTrades, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

func (r *RedisCache) GetRecentTrades(ctx context.Context, limit int64) ([]*models.TradeEvent, error) {
	if limit <= 0 {
		return []*models.TradeEvent{}, nil
	}

	vals, err := r.client.LRange(ctx, constants.RedisKeyRecentTrades, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get recent trades: %w", err)
	}

	out := make([]*models.TradeEvent, 0, len(vals))
	for _, v := range vals {
		var t models.TradeEvent
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			r.logger.WithError(err).Warn("skipping malformed trade in recent list")
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

// PublishPhase stores the latest transition and publishes it.
func (r *RedisCache) PublishPhase(ctx context.Context, ev *models.PhaseEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal phase: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, constants.RedisKeyStatePrefix+"phase", data, 0)
	pipe.Publish(ctx, constants.PubSubChannelPhase, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish phase: %w", err)
	}
	return nil
}

// LastPhase returns the most recent stored transition, nil when none.
func (r *RedisCache) LastPhase(ctx context.Context) (*models.PhaseEvent, error) {
	val, err := r.client.Get(ctx, constants.RedisKeyStatePrefix+"phase").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last phase: %w", err)
	}

	var ev models.PhaseEvent
	if err := json.Unmarshal([]byte(val), &ev); err != nil {
		return nil, fmt.Errorf("unmarshal phase: %w", err)
	}
	return &ev, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
