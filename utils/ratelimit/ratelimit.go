package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/TimeChat/config"
)

// Rule is a request budget over a window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter decides whether one more request under key fits the rule.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
}

// Endpoint names used as rate limit scopes.
const (
	EndpointRegister = "register"
	EndpointLogin    = "login"
	EndpointMessage  = "message"
	EndpointInvite   = "invite"
	EndpointAPI      = "api"
)

// RuleFor returns the per-minute rule configured for an endpoint scope.
// Unknown scopes fall back to 100 requests per minute.
func RuleFor(endpoint string, cfg *config.RateLimitConfig) Rule {
	limit := 100
	switch endpoint {
	case EndpointRegister:
		limit = cfg.RegisterPerMinute
	case EndpointLogin:
		limit = cfg.LoginPerMinute
	case EndpointMessage:
		limit = cfg.MessagePerMinute
	case EndpointInvite:
		limit = cfg.InvitePerMinute
	case EndpointAPI:
		limit = cfg.APIPerMinute
	}
	return Rule{Limit: limit, Window: time.Minute}
}

// RedisLimiter is a fixed-window counter shared by every instance through
// Redis INCRBY + EXPIRE.
type RedisLimiter struct {
	redisClient *redis.Client
	logger      *zap.Logger
	failOpen    bool // allow requests when Redis is unavailable
}

func NewRedisLimiter(redisClient *redis.Client, logger *zap.Logger, failOpen bool) *RedisLimiter {
	return &RedisLimiter{
		redisClient: redisClient,
		logger:      logger,
		failOpen:    failOpen,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	return l.AllowN(ctx, key, 1, rule)
}

// AllowN consumes n units of the current window.
func (l *RedisLimiter) AllowN(ctx context.Context, key string, n int, rule Rule) (bool, error) {
	bucketKey := bucketKey(key, time.Now(), rule.Window)

	pipe := l.redisClient.Pipeline()
	incrCmd := pipe.IncrBy(ctx, bucketKey, int64(n))
	pipe.Expire(ctx, bucketKey, rule.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			l.logger.Warn("rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err),
			)
			return true, nil
		}
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := incrCmd.Val()
	allowed := count <= int64(rule.Limit)
	if !allowed {
		l.logger.Warn("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("limit", rule.Limit),
			zap.Duration("window", rule.Window),
		)
	}
	return allowed, nil
}

// Remaining returns how many requests are left in the current window.
func (l *RedisLimiter) Remaining(ctx context.Context, key string, rule Rule) (int, error) {
	count, err := l.redisClient.Get(ctx, bucketKey(key, time.Now(), rule.Window)).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get remaining requests: %w", err)
	}
	return max(rule.Limit-count, 0), nil
}

// Reset clears the current window for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string, rule Rule) error {
	if err := l.redisClient.Del(ctx, bucketKey(key, time.Now(), rule.Window)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for key %s: %w", key, err)
	}
	return nil
}

func bucketKey(key string, now time.Time, window time.Duration) string {
	secs := max(int64(window.Seconds()), 1)
	return fmt.Sprintf("ratelimit:%s:%d", key, now.Unix()/secs)
}

// LocalLimiter keeps one token bucket per key in process memory. It serves
// single-instance deployments without Redis.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	idle    time.Duration
	now     func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter drops buckets unused for longer than idle on each sweep.
func NewLocalLimiter(idle time.Duration) *LocalLimiter {
	return &LocalLimiter{
		buckets: make(map[string]*localBucket),
		idle:    idle,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 {
		return false, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		every := rule.Window / time.Duration(rule.Limit)
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(every), rule.Limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// Sweep removes idle buckets and returns how many were dropped.
func (l *LocalLimiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			n++
		}
	}
	return n
}
