package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/switchboard/internal/config"
)

// admitScript sums every bucket and increments the first one only if the sum
// is below ARGV[1]. It returns {admitted, count1, count2, ...}.
var admitScript = redis.NewScript(`
local total = 0
local counts = {}
for i, k in ipairs(KEYS) do
  local v = tonumber(redis.call('GET', k) or '0')
  counts[i] = v
  total = total + v
end
local admitted = 0
if total < tonumber(ARGV[1]) then
  counts[1] = redis.call('INCR', KEYS[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  admitted = 1
end
table.insert(counts, 1, admitted)
return counts
`)

// RedisStore keeps counters in Redis. Bucket keys for one CounterKey share a
// hash tag so the script touches a single cluster slot.
type RedisStore struct {
	rdb redis.Scripter
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.Scripter) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisClient opens a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Admit implements Store.
func (s *RedisStore) Admit(ctx context.Context, key CounterKey, buckets []int64, max int, ttl time.Duration) (bool, []int, error) {
	raw, err := admitScript.Run(ctx, s.rdb, bucketKeys(key, buckets), max, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, nil, fmt.Errorf("ratelimit: redis admit: %w", err)
	}
	return decodeAdmit(raw, len(buckets))
}

func bucketKeys(key CounterKey, buckets []int64) []string {
	tag := "rl:{" + key.IdentifierType + ":" + key.Identifier + ":" + key.Endpoint + "}:"
	keys := make([]string, len(buckets))
	for i, b := range buckets {
		keys[i] = tag + strconv.FormatInt(b, 10)
	}
	return keys
}

func decodeAdmit(raw []int64, n int) (bool, []int, error) {
	if len(raw) != n+1 {
		return false, nil, fmt.Errorf("ratelimit: redis admit: got %d values, want %d", len(raw), n+1)
	}
	counts := make([]int, n)
	for i := range counts {
		counts[i] = int(raw[i+1])
	}
	return raw[0] == 1, counts, nil
}
