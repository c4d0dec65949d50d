package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	pushRankedScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local rank = tonumber(ARGV[1])
for i = #items, 1, -1 do
  local r = tonumber(string.match(items[i], '^(%-?%d+)|'))
  if r == nil or r >= rank then
    redis.call('LTRIM', KEYS[1], 0, i - 1)
    redis.call('RPUSH', KEYS[1], ARGV[2])
    for j = i + 1, #items do
      redis.call('RPUSH', KEYS[1], items[j])
    end
    return i
  end
end
redis.call('LPUSH', KEYS[1], ARGV[2])
return 0
`)

	transitionScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return {0, ''}
end
for i = 3, #ARGV do
  if ARGV[i] == cur then
    return {1, cur}
  end
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
end
return {2, cur}
`)

	incrWithTTLScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

	releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

	rpushCappedScript = redis.NewScript(`
redis.call('RPUSH', KEYS[1], ARGV[1])
redis.call('LTRIM', KEYS[1], -tonumber(ARGV[2]), -1)
return 1
`)
)

// RedisStore implements Store on go-redis. Multi-step operations run as Lua
// scripts so they are atomic on the server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newCheckedRedisStore(client)
}

// NewRedisStoreFromURL connects using a redis:// URL.
func NewRedisStoreFromURL(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newCheckedRedisStore(redis.NewClient(opts))
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func newCheckedRedisStore(client *redis.Client) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", wrap(err))
	}
	return &RedisStore{client: client}, nil
}

// Client returns the underlying client.
func (s *RedisStore) Client() *redis.Client { return s.client }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err != nil {
		return "", wrap(err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return wrap(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap(s.client.Del(ctx, keys...).Err())
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap(err)
	}
	return n > 0, nil
}

func (s *RedisStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := incrWithTTLScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, wrap(err)
	}
	return v, nil
}

func (s *RedisStore) PushRanked(ctx context.Context, key string, rank int64, value string) error {
	return wrap(pushRankedScript.Run(ctx, s.client, []string{key}, rank, encodeRanked(rank, value)).Err())
}

func (s *RedisStore) PopN(ctx context.Context, key string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	elems, err := s.client.LPopCount(ctx, key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	return stripRanks(elems), nil
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	elems, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return stripRanks(elems), nil
}

func (s *RedisStore) RPushCapped(ctx context.Context, key, value string, max int64) error {
	if max <= 0 {
		return wrap(s.client.RPush(ctx, key, value).Err())
	}
	return wrap(rpushCappedScript.Run(ctx, s.client, []string{key}, value, max).Err())
}

func (s *RedisStore) Transition(ctx context.Context, key, value string, ttl time.Duration, terminal []string) (TransitionResult, string, error) {
	args := make([]interface{}, 0, len(terminal)+2)
	args = append(args, value, ttl.Milliseconds())
	for _, t := range terminal {
		args = append(args, t)
	}
	res, err := transitionScript.Run(ctx, s.client, []string{key}, args...).Slice()
	if err != nil {
		return TransitionMissing, "", wrap(err)
	}
	if len(res) != 2 {
		return TransitionMissing, "", fmt.Errorf("%w: unexpected transition reply %v", ErrUnavailable, res)
	}
	code, _ := res[0].(int64)
	prev, _ := res[1].(string)
	return TransitionResult(code), prev, nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, wrap(err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key, token string) error {
	return wrap(releaseLockScript.Run(ctx, s.client, []string{key}, token).Err())
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return wrap(s.client.Publish(ctx, channel, message).Err())
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := s.client.Subscribe(ctx, channel)
	// Receive blocks until the server confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrap(err)
	}
	sub := &redisSubscription{ps: ps, ch: make(chan string, 64)}
	go sub.pump()
	return sub, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	ps *redis.PubSub
	ch chan string
}

func (r *redisSubscription) pump() {
	defer close(r.ch)
	for msg := range r.ps.Channel() {
		select {
		case r.ch <- msg.Payload:
		default:
			// slow consumer; wake signals coalesce
		}
	}
}

func (r *redisSubscription) C() <-chan string { return r.ch }

func (r *redisSubscription) Close() error { return r.ps.Close() }

var _ Store = (*RedisStore)(nil)
