package ratelimit

import (
	"context"
	"sync"
	"time"
)

// 券商端点分组
const (
	KeyOrder = "kis:order" // 下单/撤单/改单
	KeyQuery = "kis:query" // 账户查询
	KeyQuote = "kis:quote" // 行情查询
)

// RateLimiter 速率限制器接口
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	GetRemaining() int
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 窗口内允许的请求数
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 窗口内的请求时间戳（升序）
	mu         sync.Mutex
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
	}
}

// evict 移除窗口外的请求，调用方持锁
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	sw.evict(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// Wait 等待直到允许请求
func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		waitTime := 10 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > waitTime {
				waitTime = d
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// GetRemaining 获取剩余请求数
func (sw *SlidingWindow) GetRemaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.evict(time.Now())
	return max(0, sw.limit-len(sw.requests))
}

// RateLimitManager 按端点分组的速率限制管理器
type RateLimitManager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

// NewRateLimitManager 按环境初始化默认限速。
// 实盘每秒 20 次，模拟投资每秒 2 次（券商按账户计算）。
func NewRateLimitManager(sandbox bool) *RateLimitManager {
	perSecond := 20
	if sandbox {
		perSecond = 2
	}
	shared := NewSlidingWindow(perSecond, time.Second)
	return &RateLimitManager{
		limiters: map[string]RateLimiter{
			KeyOrder: shared,
			KeyQuery: shared,
			KeyQuote: shared,
		},
		fallback: shared,
	}
}

// Set 覆盖指定端点的限制器
func (rlm *RateLimitManager) Set(endpoint string, limiter RateLimiter) {
	rlm.mu.Lock()
	defer rlm.mu.Unlock()
	rlm.limiters[endpoint] = limiter
}

// GetLimiter 获取指定端点的速率限制器
func (rlm *RateLimitManager) GetLimiter(endpoint string) RateLimiter {
	rlm.mu.RLock()
	defer rlm.mu.RUnlock()
	if limiter, ok := rlm.limiters[endpoint]; ok {
		return limiter
	}
	return rlm.fallback
}

// Wait 等待直到允许请求
func (rlm *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return rlm.GetLimiter(endpoint).Wait(ctx)
}

// Allow 检查是否允许请求
func (rlm *RateLimitManager) Allow(endpoint string) bool {
	return rlm.GetLimiter(endpoint).Allow()
}

// GetRemaining 获取剩余请求数
func (rlm *RateLimitManager) GetRemaining(endpoint string) int {
	return rlm.GetLimiter(endpoint).GetRemaining()
}
