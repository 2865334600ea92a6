// Package redis consumes raw flow records from a Redis list queue fed
// by the upstream collectors.
package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis flow consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Queue        string
	BlockTimeout time.Duration
}

// Consumer pops raw flow payloads off the collector queue.
type Consumer struct {
	client       *redis.Client
	queue        string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for the flow queue.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("redis queue is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		queue:        cfg.Queue,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop pops one raw flow payload from the queue. A nil payload with nil
// error means the block timeout elapsed with nothing to read.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Backlog reports the current queue depth.
func (c *Consumer) Backlog(ctx context.Context) (int64, error) {
	return c.client.LLen(ctx, c.queue).Result()
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
