package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/redis/go-redis/v9"
)

const defaultActor = "operator"

// Store keeps the sniper's pause record in Redis: the current record under
// one key and every change, newest first, in a capped list.
type Store struct {
	client     redis.Cmdable
	key        string
	historyKey string
	now        func() time.Time
}

func NewStore(client redis.Cmdable) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &Store{
		client:     client,
		key:        constants.RedisKeyPause,
		historyKey: constants.RedisKeyPauseHistory,
		now:        time.Now,
	}, nil
}

// Pause holds new buys. A timed pause also expires in Redis so a stale
// record cannot outlive it.
func (s *Store) Pause(ctx context.Context, req PauseRequest) (*Pause, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Pause{
		Paused:    true,
		Reason:    strings.TrimSpace(req.Reason),
		By:        actor(req.By),
		UpdatedAt: now,
	}
	if req.For > 0 {
		until := now.Add(req.For)
		p.Until = &until
	}

	if err := s.write(ctx, p, req.For); err != nil {
		return nil, fmt.Errorf("pause: %w", err)
	}
	return p, nil
}

// Resume lifts the pause. The record stays so the state shows who resumed.
func (s *Store) Resume(ctx context.Context, by string) (*Pause, error) {
	p := &Pause{
		Paused:    false,
		By:        actor(by),
		UpdatedAt: s.now().UTC(),
	}
	if err := s.write(ctx, p, 0); err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	return p, nil
}

// Status returns the current record. Without one, or once a timed pause
// has run out, trading is not paused.
func (s *Store) Status(ctx context.Context) (*Pause, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return &Pause{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pause: %w", err)
	}

	var p Pause
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, fmt.Errorf("unmarshal pause: %w", err)
	}
	if p.Paused && !p.Active(s.now()) {
		p.Paused = false
	}
	return &p, nil
}

// History returns up to limit changes, newest first.
func (s *Store) History(ctx context.Context, limit int64) ([]*Pause, error) {
	if limit <= 0 || limit > constants.MaxPauseHistory {
		limit = constants.MaxPauseHistory
	}

	vals, err := s.client.LRange(ctx, s.historyKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("pause history: %w", err)
	}

	out := make([]*Pause, 0, len(vals))
	for _, v := range vals {
		var p Pause
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) write(ctx context.Context, p *Pause, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pause: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, b, ttl)
	pipe.LPush(ctx, s.historyKey, b)
	pipe.LTrim(ctx, s.historyKey, 0, constants.MaxPauseHistory-1)
	_, err = pipe.Exec(ctx)
	return err
}

func actor(by string) string {
	by = strings.TrimSpace(by)
	if by == "" {
		return defaultActor
	}
	return by
}
