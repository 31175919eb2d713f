// Package database provides the key-value adapter backed by Redis.
// The master stores maintenance state in one numbered logical database
// selected at startup.
package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
)

// Config selects the Redis endpoint and the logical database number.
type Config struct {
	Host     string
	Port     int
	DB       int
	PoolSize int
}

// KV is the key-value adapter. All operations go through the client's
// connection pool; transient connection errors propagate to the caller.
type KV struct {
	client *redis.Client
	log    *logger.Logger
}

// ScoredMember is one member of a sorted set with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// New creates a KV adapter. The logical database is fixed for the life of
// the adapter.
func New(cfg Config, log *logger.Logger) *KV {
	if log == nil {
		log = logger.NewDefault("database")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &KV{client: client, log: log}
}

// NewFromClient wraps an existing client. Used by tests.
func NewFromClient(client *redis.Client, log *logger.Logger) *KV {
	if log == nil {
		log = logger.NewDefault("database")
	}
	return &KV{client: client, log: log}
}

// Ping verifies connectivity.
func (kv *KV) Ping(ctx context.Context) error {
	return kv.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (kv *KV) Close() error {
	return kv.client.Close()
}

// HGet reads one hash field. A missing field or key returns ("", false, nil).
func (kv *KV) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := kv.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// HSet writes field/value pairs on a hash.
func (kv *KV) HSet(ctx context.Context, key string, pairs ...interface{}) error {
	return kv.client.HSet(ctx, key, pairs...).Err()
}

// HGetAll reads a whole hash. A missing key yields an empty map.
func (kv *KV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return kv.client.HGetAll(ctx, key).Result()
}

// HIncrBy atomically increments a hash field and returns the new value.
func (kv *KV) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return kv.client.HIncrBy(ctx, key, field, incr).Result()
}

// SAdd adds members to a set.
func (kv *KV) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return kv.client.SAdd(ctx, key, members...).Err()
}

// SRem removes members from a set.
func (kv *KV) SRem(ctx context.Context, key string, members ...interface{}) error {
	return kv.client.SRem(ctx, key, members...).Err()
}

// SMembers lists a set.
func (kv *KV) SMembers(ctx context.Context, key string) ([]string, error) {
	return kv.client.SMembers(ctx, key).Result()
}

// ZAdd adds a scored member to a sorted set.
func (kv *KV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return kv.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

// ZRem removes members from a sorted set.
func (kv *KV) ZRem(ctx context.Context, key string, members ...interface{}) error {
	return kv.client.ZRem(ctx, key, members...).Err()
}

// ZRange returns members by rank, ascending by score.
func (kv *KV) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return kv.client.ZRange(ctx, key, start, stop).Result()
}

// ZRangeWithScores returns members and scores by rank, ascending by score.
func (kv *KV) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := kv.client.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

// Del removes keys.
func (kv *KV) Del(ctx context.Context, keys ...string) error {
	return kv.client.Del(ctx, keys...).Err()
}

// Keys lists keys matching a glob pattern. Maintenance state is small, so
// the linear scan is acceptable here.
func (kv *KV) Keys(ctx context.Context, pattern string) ([]string, error) {
	return kv.client.Keys(ctx, pattern).Result()
}

// Tx runs fn's queued commands as one MULTI/EXEC transaction with
// all-or-nothing semantics and returns the per-command replies.
func (kv *KV) Tx(ctx context.Context, fn func(pipe redis.Pipeliner) error) ([]redis.Cmder, error) {
	return kv.client.TxPipelined(ctx, fn)
}
