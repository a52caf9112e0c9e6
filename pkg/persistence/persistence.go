// Package persistence 单文件 JSON 存储
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/betbot/gokis/pkg/logger"
)

var (
	// ErrNotExists 文件不存在或为空
	ErrNotExists = errors.New("persistence: 数据不存在")
	// ErrCorrupted 文件内容无法解析
	ErrCorrupted = errors.New("persistence: 数据已损坏")
)

// dirLocks 同一目录的写入在进程内串行
var dirLocks sync.Map

func lockFor(dir string) *sync.Mutex {
	mu, _ := dirLocks.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileName 由若干片段拼出安全文件名
func FileName(parts ...string) string {
	return nameSanitizer.ReplaceAllString(strings.Join(parts, "_"), "_") + ".json"
}

// File 把单个 T 值保存为 JSON 文件，权限 0600
type File[T any] struct {
	path string
}

func NewFile[T any](dir, name string) *File[T] {
	return &File[T]{path: filepath.Join(dir, name)}
}

func (f *File[T]) Path() string { return f.path }

// Save 临时文件 + rename 原子替换
func (f *File[T]) Save(v T) error {
	dir := filepath.Dir(f.path)
	mu := lockFor(dir)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	logger.Debugf("[persistence] 写入 %s", f.path)
	return os.Rename(tmp, f.path)
}

// Load 文件缺失返回 ErrNotExists，解析失败返回包装的 ErrCorrupted
func (f *File[T]) Load() (T, error) {
	var v T
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return v, ErrNotExists
		}
		return v, err
	}
	if len(b) == 0 {
		return v, ErrNotExists
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", ErrCorrupted, f.path, err)
	}
	return v, nil
}

// Delete 不存在时不报错
func (f *File[T]) Delete() error {
	mu := lockFor(filepath.Dir(f.path))
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
