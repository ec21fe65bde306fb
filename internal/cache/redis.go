package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/mesh-intelligence/easel/internal/metrics"
	"github.com/mesh-intelligence/easel/pkg/types"
)

// DefaultTTL bounds how long a metadata entry may outlive a missed
// invalidation.
const DefaultTTL = 10 * time.Minute

// breakerFailures is the run of consecutive Redis failures that opens the
// breaker.
const breakerFailures = 5

// Redis caches metadata as JSON strings under easel:metadata:<owner>:<canvas>.
// Calls go through a circuit breaker so an unreachable Redis costs one fast
// failure per call instead of a dial timeout.
type Redis struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	prefix  string
	ttl     time.Duration
}

var _ types.MetadataCache = (*Redis)(nil)

// NewRedis connects to redisURL and checks it answers.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "metadata cache: parse redis url")
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "metadata cache: connect to redis")
	}
	return NewRedisWithClient(client), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "metadata-cache",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("metadata cache: breaker state changed")
			},
		}),
		prefix: "easel:metadata:",
		ttl:    DefaultTTL,
	}
}

// WithTTL returns c with entries expiring after ttl.
func (c *Redis) WithTTL(ttl time.Duration) *Redis {
	c.ttl = ttl
	return c
}

func (c *Redis) key(owner, canvasID string) string {
	return c.prefix + owner + ":" + canvasID
}

// Get returns the cached metadata, or (nil, nil) on a miss.
func (c *Redis) Get(ctx context.Context, owner, canvasID string) (*types.ConversationMetadata, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		raw, err := c.client.Get(ctx, c.key(owner, canvasID)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		metrics.CacheResults.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "metadata cache: get")
	}
	raw, _ := v.([]byte)
	if raw == nil {
		metrics.CacheResults.WithLabelValues("miss").Inc()
		return nil, nil
	}

	var md types.ConversationMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		metrics.CacheResults.WithLabelValues("error").Inc()
		return nil, errors.Wrap(err, "metadata cache: decode")
	}
	metrics.CacheResults.WithLabelValues("hit").Inc()
	return &md, nil
}

// Set stores md until the TTL elapses or it is invalidated.
func (c *Redis) Set(ctx context.Context, md *types.ConversationMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "metadata cache: encode")
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, c.key(md.UserID, md.CanvasID), raw, c.ttl).Err()
	})
	return errors.Wrap(err, "metadata cache: set")
}

// Invalidate drops the entry for (owner, canvasID).
func (c *Redis) Invalidate(ctx context.Context, owner, canvasID string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, c.key(owner, canvasID)).Err()
	})
	return errors.Wrap(err, "metadata cache: invalidate")
}

// Ping checks that Redis answers.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.client.Close()
}
