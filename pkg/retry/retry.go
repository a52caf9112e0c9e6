// Package retry 封装指数退避重试，供 REST 调用使用。
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy 重试策略
type Policy struct {
	MaxAttempts int           // 总尝试次数（含首次）
	BaseDelay   time.Duration // 首次重试等待
	MaxDelay    time.Duration // 单次等待上限
}

// DefaultPolicy 3 次尝试，2s 起步，上限 10s
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// NotifyFunc 每次失败后、等待前回调；attempt 从 1 开始
type NotifyFunc func(attempt int, err error, next time.Duration)

// Permanent 标记不可重试错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do 执行 op 直到成功、遇到不可重试错误、次数耗尽或 ctx 取消
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), notify NotifyFunc) (T, error) {
	p = p.normalized()
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
	}

	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if notify != nil {
				notify(attempt, err, next)
			}
		}),
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op(ctx)
	}, opts...)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
	}
	return res, err
}
