package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betbot/gokis/kis/types"
)

// redisKV RedisCache 用到的命令子集，*redis.Client 与 *redis.ClusterClient 均满足
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache 多进程共享的缓存
type RedisCache struct {
	client redisKV
	prefix string
	now    func() time.Time
}

// NewRedisCache 键为 <prefix>:<env>
func NewRedisCache(client redisKV, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "kis:token"
	}
	return &RedisCache{client: client, prefix: prefix, now: time.Now}
}

func (c *RedisCache) key(env types.Env) string {
	return c.prefix + ":" + string(env)
}

func (c *RedisCache) Load(ctx context.Context, env types.Env) (*types.AccessToken, error) {
	b, err := c.client.Get(ctx, c.key(env)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return decodeRecord(b)
}

func (c *RedisCache) Save(ctx context.Context, env types.Env, tok *types.AccessToken) error {
	b, err := encodeRecord(tok)
	if err != nil {
		return err
	}
	ttl := tok.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return c.Delete(ctx, env)
	}
	return c.client.Set(ctx, c.key(env), b, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, env types.Env) error {
	return c.client.Del(ctx, c.key(env)).Err()
}
