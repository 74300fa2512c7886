package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayQueueKey = "relay:replay_requests"

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// ReplayRequest asks the replay worker to re-drive dead letter
// entries for one source back through the sink.
type ReplayRequest struct {
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// Client wraps Redis operations for the replay queue.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PushReplayRequest enqueues a replay request.
func (c *Client) PushReplayRequest(ctx context.Context, source string) error {
	req := ReplayRequest{Source: source, RequestedAt: time.Now().UTC()}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal replay request: %w", err)
	}
	if err := c.rdb.LPush(ctx, replayQueueKey, data).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// PopReplayRequest pops the oldest pending replay request. found is
// false when the queue is empty.
func (c *Client) PopReplayRequest(ctx context.Context) (ReplayRequest, bool, error) {
	var req ReplayRequest

	val, err := c.rdb.RPop(ctx, replayQueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return req, false, nil
	}
	if err != nil {
		return req, false, fmt.Errorf("rpop failed: %w", err)
	}

	if err := json.Unmarshal([]byte(val), &req); err != nil {
		return req, false, fmt.Errorf("invalid replay request: %w", err)
	}
	return req, true, nil
}

// QueueDepth returns the number of pending replay requests.
func (c *Client) QueueDepth(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, replayQueueKey).Result()
}
