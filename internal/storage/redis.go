package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ratewatch/internal/config"
)

// RedisStore keeps samples as JSON members of a sorted set scored by unix milliseconds.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// OpenRedis connects to redis and verifies the server answers.
func OpenRedis(ctx context.Context, cfg config.RedisConfig, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	store := NewRedisStore(client, cfg.Key, timeout)

	ctx, cancel := context.WithTimeout(ctx, store.timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrUnavailable, err)
	}
	return store, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, key string, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, key: key, timeout: ioTimeout(timeout)}
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// insertIfFree adds ARGV[2] at score ARGV[1] unless that score is already taken.
// Returns 1 when written, 0 when the timestamp exists.
var insertIfFree = redis.NewScript(`
if redis.call('ZCOUNT', KEYS[1], ARGV[1], ARGV[1]) > 0 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// Insert appends one sample; an existing score is a write failure, matching the unique timestamp column of the SQL backends.
func (s *RedisStore) Insert(ctx context.Context, sample Sample) error {
	member, err := json.Marshal(sample)
	if err != nil {
		return writeFailed("encode sample", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	added, err := insertIfFree.Run(ctx, s.client, []string{s.key}, redisScore(sample.Timestamp), member).Int()
	if err != nil {
		return writeFailed("insert sample", err)
	}
	if added == 0 {
		return writeFailed("insert sample", fmt.Errorf("timestamp %s already stored", sample.Timestamp.UTC().Format(time.RFC3339Nano)))
	}
	return nil
}

// InsertMany skips samples whose timestamp is already stored (or repeated in the batch).
// Each sample goes through the same check-and-add script, pipelined.
func (s *RedisStore) InsertMany(ctx context.Context, samples []Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	seen := make(map[int64]struct{}, len(samples))
	pipe := s.client.Pipeline()
	results := make([]*redis.Cmd, 0, len(samples))
	for _, sample := range samples {
		ms := sample.Timestamp.UnixMilli()
		if _, dup := seen[ms]; dup {
			continue
		}
		seen[ms] = struct{}{}

		member, err := json.Marshal(sample)
		if err != nil {
			return 0, writeFailed("encode sample", err)
		}
		results = append(results, insertIfFree.Eval(ctx, pipe, []string{s.key}, redisScore(sample.Timestamp), member))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, writeFailed("insert batch", err)
	}

	var written int64
	for _, res := range results {
		added, err := res.Int()
		if err != nil {
			return written, writeFailed("insert batch", err)
		}
		written += int64(added)
	}
	return written, nil
}

// Latest returns the highest-scored member.
func (s *RedisStore) Latest(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	members, err := s.client.ZRevRange(ctx, s.key, 0, 0).Result()
	if err != nil {
		return Sample{}, fmt.Errorf("latest sample: %w", err)
	}
	if len(members) == 0 {
		return Sample{}, ErrEmpty
	}
	return decodeRedisSample(members[0])
}

// MinMax scans the window and aggregates in process.
func (s *RedisStore) MinMax(ctx context.Context, windowDays int, field Field) (decimal.Decimal, decimal.Decimal, error) {
	if !field.Valid() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("min/max: unknown field %q", field)
	}
	since, err := windowStart(time.Now().UTC(), windowDays)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	samples, err := s.rangeByScore(ctx, redisScore(since), "+inf")
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("min/max %s: %w", field, err)
	}
	if len(samples) == 0 {
		return decimal.Zero, decimal.Zero, ErrEmpty
	}

	minVal, maxVal := samples[0].Value(field), samples[0].Value(field)
	for _, sample := range samples[1:] {
		v := sample.Value(field)
		if v.LessThan(minVal) {
			minVal = v
		}
		if v.GreaterThan(maxVal) {
			maxVal = v
		}
	}
	return minVal, maxVal, nil
}

// ListBetween lists samples within [from, to).
func (s *RedisStore) ListBetween(ctx context.Context, from, to time.Time) ([]Sample, error) {
	samples, err := s.rangeByScore(ctx, redisScore(from), "("+redisScore(to))
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	return samples, nil
}

// ListRecent lists the most recent samples ordered by descending timestamp.
func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]Sample, error) {
	if limit <= 0 {
		return []Sample{}, nil
	}
	members, err := s.client.ZRevRange(ctx, s.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	return decodeRedisSamples(members)
}

// Count returns the cardinality of the sorted set.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

func (s *RedisStore) rangeByScore(ctx context.Context, minScore, maxScore string) ([]Sample, error) {
	members, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{Min: minScore, Max: maxScore}).Result()
	if err != nil {
		return nil, err
	}
	return decodeRedisSamples(members)
}

func redisScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func decodeRedisSample(member string) (Sample, error) {
	var sample Sample
	if err := json.Unmarshal([]byte(member), &sample); err != nil {
		return Sample{}, fmt.Errorf("decode sample: %w", err)
	}
	sample.Timestamp = sample.Timestamp.UTC()
	return sample, nil
}

func decodeRedisSamples(members []string) ([]Sample, error) {
	samples := make([]Sample, 0, len(members))
	for _, member := range members {
		sample, err := decodeRedisSample(member)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

var _ Backend = (*RedisStore)(nil)
