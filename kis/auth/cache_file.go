package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/betbot/gokis/kis/types"
	"github.com/betbot/gokis/pkg/persistence"
)

// FileCache 基于 JSON 文件的缓存，每个环境一个文件
type FileCache struct {
	dir string
}

// NewFileCache 在 dir 下保存令牌文件
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

func (c *FileCache) file(env types.Env) *persistence.File[cacheRecord] {
	return persistence.NewFile[cacheRecord](c.dir, persistence.FileName("kis", string(env), "token"))
}

func (c *FileCache) Load(_ context.Context, env types.Env) (*types.AccessToken, error) {
	rec, err := c.file(env).Load()
	switch {
	case errors.Is(err, persistence.ErrNotExists):
		return nil, ErrCacheMiss
	case errors.Is(err, persistence.ErrCorrupted):
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
	case err != nil:
		return nil, err
	}
	return rec.token()
}

func (c *FileCache) Save(_ context.Context, env types.Env, tok *types.AccessToken) error {
	return c.file(env).Save(newRecord(tok))
}

func (c *FileCache) Delete(_ context.Context, env types.Env) error {
	return c.file(env).Delete()
}
