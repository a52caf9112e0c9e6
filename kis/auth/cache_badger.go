package auth

import (
	"context"
	"time"

	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/secretstore"
)

// BadgerCache 基于加密 Badger 的缓存，条目 TTL 与令牌过期时间一致
type BadgerCache struct {
	store *secretstore.Store
	now   func() time.Time
}

// NewBadgerCache 使用已打开的 secretstore
func NewBadgerCache(store *secretstore.Store) *BadgerCache {
	return &BadgerCache{store: store, now: time.Now}
}

func badgerKey(env types.Env) string {
	return "kis/token/" + string(env)
}

func (c *BadgerCache) Load(_ context.Context, env types.Env) (*types.AccessToken, error) {
	b, ok, err := c.store.GetBytes(badgerKey(env))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCacheMiss
	}
	return decodeRecord(b)
}

func (c *BadgerCache) Save(_ context.Context, env types.Env, tok *types.AccessToken) error {
	b, err := encodeRecord(tok)
	if err != nil {
		return err
	}
	ttl := tok.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return c.store.Delete(badgerKey(env))
	}
	return c.store.SetBytes(badgerKey(env), b, ttl)
}

func (c *BadgerCache) Delete(_ context.Context, env types.Env) error {
	return c.store.Delete(badgerKey(env))
}
