package cache

import (
	"context"
	"encoding/json"

	"github.com/aman-zulfiqar/pair-sniper/internal/constants"
	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Subscriber consumes the live trade and phase channels.
type Subscriber struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewSubscriber(client *redis.Client, logger *logrus.Logger) *Subscriber {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Subscriber{client: client, logger: logger}
}

// Handlers receive decoded messages. Either may be nil.
type Handlers struct {
	Trade func(*models.TradeEvent)
	Phase func(*models.PhaseEvent)
}

// Run subscribes to both channels and dispatches until ctx is done.
func (s *Subscriber) Run(ctx context.Context, h Handlers) error {
	ps := s.client.Subscribe(ctx, constants.PubSubChannelTrades, constants.PubSubChannelPhase)
	defer ps.Close()

	// wait for the subscription confirmation so no message is missed
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	s.logger.WithField("channels", []string{constants.PubSubChannelTrades, constants.PubSubChannelPhase}).Info("subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(msg, h)
		}
	}
}

func (s *Subscriber) dispatch(msg *redis.Message, h Handlers) {
	switch msg.Channel {
	case constants.PubSubChannelTrades:
		if h.Trade == nil {
			return
		}
		var t models.TradeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &t); err != nil {
			s.logger.WithError(err).Warn("error unmarshaling trade")
			return
		}
		h.Trade(&t)
	case constants.PubSubChannelPhase:
		if h.Phase == nil {
			return
		}
		var ev models.PhaseEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.logger.WithError(err).Warn("error unmarshaling phase event")
			return
		}
		h.Phase(&ev)
	}
}
