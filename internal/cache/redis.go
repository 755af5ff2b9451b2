// Package cache holds the redis side of the service: the match-action queue
// the historian drains, and a read-through cache in front of the user store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jason-s-yu/gameroom/internal/config"
	"github.com/jason-s-yu/gameroom/internal/models"
)

const pingTimeout = 5 * time.Second

// Connect builds a client from cfg and pings it.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Pusher is the list command the publisher needs.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Publisher appends match actions to the historian queue.
type Publisher struct {
	rdb   Pusher
	queue string
}

// NewPublisher publishes onto the named list.
func NewPublisher(rdb Pusher, queue string) *Publisher {
	return &Publisher{rdb: rdb, queue: queue}
}

// PublishMatchAction serializes the action to JSON and pushes it onto the queue.
func (p *Publisher) PublishMatchAction(ctx context.Context, action models.MatchAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("failed to marshal match action: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}
