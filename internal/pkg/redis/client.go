package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/TimeChat/config"
)

const presencePrefix = "timechat:presence:"

// PresenceStore records which users hold at least one live socket. Entries
// carry a TTL so a crashed instance cannot leave users online forever.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, ttl time.Duration) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error)
}

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{client: rdb}, nil
}

// Wrap builds a Client over an existing connection.
func Wrap(rdb *redis.Client) *Client {
	return &Client{client: rdb}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Client) SetOnline(ctx context.Context, userID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, presencePrefix+userID, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set user %s online: %w", userID, err)
	}
	return nil
}

func (c *Client) SetOffline(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, presencePrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to remove user %s online status: %w", userID, err)
	}
	return nil
}

func (c *Client) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, presencePrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check if user %s is online: %w", userID, err)
	}
	return n > 0, nil
}

// OnlineAmong checks many users in one round trip.
func (c *Client) OnlineAmong(ctx context.Context, userIDs []string) (map[string]bool, error) {
	online := make(map[string]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}

	pipe := c.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.Exists(ctx, presencePrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check presence: %w", err)
	}
	for i, id := range userIDs {
		online[id] = cmds[i].Val() > 0
	}
	return online, nil
}
