package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/gokis/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有关闭回调并等待完成或 ctx 超时。
// 返回未在超时前完成的回调数。
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	callbacks := append([]namedHandler(nil), m.callbacks...)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return 0
	}
	logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var (
		wg      sync.WaitGroup
		pending sync.Map
	)
	for _, cb := range callbacks {
		wg.Add(1)
		pending.Store(cb.name, struct{}{})
		go func(h namedHandler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				logger.Warnf("关闭回调 %s 失败: %v", h.name, err)
			}
			pending.Delete(h.name)
		}(cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("所有关闭回调已完成")
		return 0
	case <-ctx.Done():
		n := 0
		pending.Range(func(key, _ any) bool {
			logger.Warnf("关闭超时，回调未完成: %v", key)
			n++
			return true
		})
		return n
	}
}
