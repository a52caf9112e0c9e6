package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/betbot/gokis/kis/types"
)

// TokenCache 访问令牌持久化缓存，按环境区分
type TokenCache interface {
	// Load 不存在返回 ErrCacheMiss，内容损坏返回 ErrCacheCorrupted
	Load(ctx context.Context, env types.Env) (*types.AccessToken, error)
	Save(ctx context.Context, env types.Env, tok *types.AccessToken) error
	Delete(ctx context.Context, env types.Env) error
}

// cacheRecord 持久化格式
type cacheRecord struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func newRecord(tok *types.AccessToken) cacheRecord {
	return cacheRecord{
		AccessToken: tok.Token,
		TokenType:   tok.TokenType,
		ExpiresIn:   tok.ExpiresIn,
		ExpiresAt:   tok.ExpiresAt,
	}
}

func (r cacheRecord) token() (*types.AccessToken, error) {
	tok := &types.AccessToken{
		Token:     r.AccessToken,
		TokenType: r.TokenType,
		ExpiresIn: r.ExpiresIn,
		IssuedAt:  r.ExpiresAt.Add(-time.Duration(r.ExpiresIn) * time.Second),
		ExpiresAt: r.ExpiresAt,
	}
	if err := tok.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return tok, nil
}

func encodeRecord(tok *types.AccessToken) ([]byte, error) {
	return json.Marshal(newRecord(tok))
}

func decodeRecord(b []byte) (*types.AccessToken, error) {
	var rec cacheRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	}
	return rec.token()
}

// MemoryCache 进程内缓存，不跨重启
type MemoryCache struct {
	mu    sync.Mutex
	items map[types.Env][]byte
}

// NewMemoryCache 创建进程内缓存
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[types.Env][]byte)}
}

func (c *MemoryCache) Load(_ context.Context, env types.Env) (*types.AccessToken, error) {
	c.mu.Lock()
	b, ok := c.items[env]
	c.mu.Unlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	return decodeRecord(b)
}

func (c *MemoryCache) Save(_ context.Context, env types.Env, tok *types.AccessToken) error {
	b, err := encodeRecord(tok)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.items[env] = b
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, env types.Env) error {
	c.mu.Lock()
	delete(c.items, env)
	c.mu.Unlock()
	return nil
}

