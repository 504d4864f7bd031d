package changestream

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"academia-backend/internal/models"
)

// RedisStream subscribes to the per-user pub/sub channel fed by
// RedisPublisher.
type RedisStream struct {
	client *redis.Client
}

func NewRedisStream(client *redis.Client) *RedisStream {
	return &RedisStream{client: client}
}

func (s *RedisStream) Subscribe(ctx context.Context, filter Filter) (Channel, error) {
	if err := filter.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	name := RedisChannelName(filter.UserID)
	pubsub := s.client.Subscribe(ctx, name)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Annotatef(err, "subscribing to %s", name)
	}
	msgs := pubsub.Channel()

	ch := newChannel()
	ch.run(filter,
		func(ctx context.Context) ([]byte, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case msg, ok := <-msgs:
				if !ok {
					return nil, errors.Errorf("redis channel %s closed", name)
				}
				return []byte(msg.Payload), nil
			}
		},
		func() {
			pubsub.Close()
		},
	)
	logger.Debugf("user %s: subscribed to %s", filter.UserID, name)
	return ch, nil
}

// RedisPublisher publishes changes on the owner's pub/sub channel.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev models.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Annotate(err, "encoding change")
	}
	if err := p.client.Publish(ctx, RedisChannelName(ev.UserID), data).Err(); err != nil {
		return errors.Annotatef(err, "publishing %s change", ev.Table)
	}
	return nil
}
