package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pattcore/faceit-ai-bot-sub000/internal/xerrors"
)

// incrWindowScript increments a counter and attaches the window expiry in
// the same server-side step when the increment created the key. Returns
// {count, remaining ms}.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	-- key somehow lost its expiry (e.g. manual tampering), restore it so
	-- the counter cannot live forever
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// incrRearmScript increments a counter and unconditionally re-arms its
// expiry, the sliding re-arm semantics violation records need.
var incrRearmScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return n
`)

// RedisStore is the production Store, shared by all service instances.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

type RedisOption func(*RedisStore)

// WithOpTimeout bounds each store round trip. The gate must never block a
// request on a slow Redis for longer than this.
func WithOpTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.opTimeout = d }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		opTimeout: 2 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// unavailable maps any backend failure onto ErrStoreUnavailable so callers
// can apply the fail-open/fail-closed policy without inspecting redis
// internals. redis.Nil is a miss, not a failure, and is handled before this.
func unavailable(err error) error {
	return xerrors.Wrap(errors.Join(ErrStoreUnavailable, err), "redis")
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res, err := incrWindowScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, unavailable(err)
	}
	if len(res) != 2 {
		return 0, 0, unavailable(xerrors.Newf("unexpected script reply of length %d", len(res)))
	}
	n, _ := res[0].(int64)
	ms, _ := res[1].(int64)
	return n, time.Duration(ms) * time.Millisecond, nil
}

func (s *RedisStore) IncrRearm(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := incrRearmScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *RedisStore) GetCount(ctx context.Context, key string) (int64, time.Duration, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, false, unavailable(err)
	}

	n, err := getCmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, unavailable(err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		// -1: no expiry; -2: vanished between GET and PTTL
		return n, NoExpiry, true, nil
	}
	return n, ttl, true, nil
}

func (s *RedisStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if ttl <= 0 {
		ttl = 0 // redis: zero expiration = persist
	}
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) FlagTTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, false, unavailable(err)
	}
	// go-redis passes PTTL's sentinel replies through unscaled
	switch ttl {
	case -2: // missing key
		return 0, false, nil
	case -1: // exists, no expiry
		return NoExpiry, true, nil
	}
	return ttl, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) IndexAdd(ctx context.Context, index, member string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.SAdd(ctx, index, member).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) IndexRemove(ctx context.Context, index, member string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.SRem(ctx, index, member).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) IndexMembers(ctx context.Context, index string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	members, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
