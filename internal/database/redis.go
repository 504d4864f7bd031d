package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients separates command traffic from pub/sub subscriptions, which
// hold their connections for as long as a page stays open.
type RedisClients struct {
	Client *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	// One subscription per open page; size the pool for it.
	pubsubOpt := *opt
	pubsubOpt.PoolSize = 10 * opt.PoolSize
	if pubsubOpt.PoolSize == 0 {
		pubsubOpt.PoolSize = 100
	}
	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Client: client,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Close() {
	r.Client.Close()
	r.PubSub.Close()
}
