package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// indexTTL bounds the per-user key index; it outlives the longest summary TTL.
	indexTTL = 2 * TTLDefault
	// genTTL bounds an idle generation counter; no summary computation outlives it.
	genTTL = time.Hour
)

// setScript writes a summary and indexes it only while the user's generation is unchanged.
// KEYS: generation, summary, index. ARGV: expected generation, value, ttl ms, index ttl ms.
var setScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (cur or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[3], KEYS[2])
redis.call('PEXPIRE', KEYS[3], ARGV[4])
return 1
`)

// Redis is a Store backed by a shared Redis. Each user has a set indexing its
// summary keys so invalidation never scans the keyspace.
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis { return &Redis{rdb: rdb} }

// DialRedis connects to addr.
func DialRedis(addr string) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}))
}

func indexKey(userID string) string { return userPrefix(userID) + "keys" }

func genKey(userID string) string { return userPrefix(userID) + "gen" }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *Redis) Generation(ctx context.Context, userID string) (uint64, error) {
	v, err := r.rdb.Get(ctx, genKey(userID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, userID string, gen uint64, key string, val []byte, ttl time.Duration) (bool, error) {
	keys := []string{genKey(userID), key, indexKey(userID)}
	n, err := setScript.Run(ctx, r.rdb, keys,
		strconv.FormatUint(gen, 10), val, ttl.Milliseconds(), indexTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InvalidateUser bumps the generation before deleting so a concurrent Set with the
// old generation cannot slip in between.
func (r *Redis) InvalidateUser(ctx context.Context, userID string) error {
	gk := genKey(userID)
	if err := r.rdb.Incr(ctx, gk).Err(); err != nil {
		return err
	}
	if err := r.rdb.Expire(ctx, gk, genTTL).Err(); err != nil {
		return err
	}
	idx := indexKey(userID)
	keys, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return err
	}
	return r.rdb.Del(ctx, append(keys, idx)...).Err()
}

func (r *Redis) HealthPing(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
