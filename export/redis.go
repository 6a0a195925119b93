package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sig-0/p2pquotes/storage/types"
)

var ErrNoSummary = errors.New("no run summary exported")

const (
	DefaultRedisPrefix  = "p2pquotes"
	DefaultRedisTTL     = 24 * time.Hour
	DefaultRedisHistory = 100
)

// Redis publishes the latest run summary, and a bounded history, to Redis
type Redis struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	history int64
}

type RedisOption func(r *Redis)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithTTL sets the expiry of the latest summary
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithHistory sets how many past summaries are kept
func WithHistory(n int64) RedisOption {
	return func(r *Redis) {
		r.history = n
	}
}

// NewRedis creates a new Redis exporter
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  DefaultRedisPrefix,
		ttl:     DefaultRedisTTL,
		history: DefaultRedisHistory,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Redis) latestKey() string {
	return r.prefix + ":summary:latest"
}

func (r *Redis) historyKey() string {
	return r.prefix + ":summary:history"
}

func (r *Redis) ladderKey(token types.Currency, side types.Side) string {
	return fmt.Sprintf("%s:ladder:%s:%s", r.prefix, token, side)
}

func (r *Redis) Export(ctx context.Context, s *types.RunSummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("unable to encode run summary: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.latestKey(), payload, r.ttl)
		pipe.LPush(ctx, r.historyKey(), payload)
		pipe.LTrim(ctx, r.historyKey(), 0, r.history-1)

		// The last derived ladder outlives runs that skip the derivation
		if len(s.Ladder) > 0 {
			ladder, err := json.Marshal(s.Ladder)
			if err != nil {
				return fmt.Errorf("unable to encode ladder: %w", err)
			}

			pipe.Set(ctx, r.ladderKey(s.Token, s.Side), ladder, r.ttl)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to publish run summary: %w", err)
	}

	return nil
}

// Latest fetches the last exported run summary
func (r *Redis) Latest(ctx context.Context) (*types.RunSummary, error) {
	raw, err := r.client.Get(ctx, r.latestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSummary
	}

	if err != nil {
		return nil, fmt.Errorf("unable to fetch run summary: %w", err)
	}

	var s types.RunSummary
	if err = json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unable to decode run summary: %w", err)
	}

	return &s, nil
}

// Ladder fetches the last derived ladder for the token and side
func (r *Redis) Ladder(ctx context.Context, token types.Currency, side types.Side) ([]types.LadderEntry, error) {
	raw, err := r.client.Get(ctx, r.ladderKey(token, side)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSummary
	}

	if err != nil {
		return nil, fmt.Errorf("unable to fetch ladder: %w", err)
	}

	var ladder []types.LadderEntry
	if err = json.Unmarshal(raw, &ladder); err != nil {
		return nil, fmt.Errorf("unable to decode ladder: %w", err)
	}

	return ladder, nil
}
