package auth

import (
	"errors"
	"fmt"
)

// RateLimitCode 券商返回的令牌签发频率超限错误码（1 分钟 1 次）
const RateLimitCode = "EGW00133"

var (
	// ErrRateLimited 令牌签发被限流，不可重试
	ErrRateLimited = errors.New("auth: token issuance rate limited")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("auth: token manager closed")
	// ErrInvalidResponse 应答缺少必要字段
	ErrInvalidResponse = errors.New("auth: invalid response")
	// ErrCacheMiss 缓存中没有令牌
	ErrCacheMiss = errors.New("auth: token cache miss")
	// ErrCacheCorrupted 缓存内容无法解析或不满足不变量
	ErrCacheCorrupted = errors.New("auth: token cache corrupted")
)

// RateLimitError 限流错误，errors.Is(err, ErrRateLimited) 成立
type RateLimitError struct {
	Code        string
	Description string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("令牌签发频率超限 [%s]: %s", e.Code, e.Description)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// APIError 认证端点返回的业务错误（非限流的 4xx）
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("认证请求被拒绝 (HTTP %d) [%s]: %s", e.StatusCode, e.Code, e.Description)
}
