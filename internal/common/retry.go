package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryableFunc 可以重复执行的操作
type RetryableFunc func() error

type retryConfig struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	retryIf      func(error) bool
	onRetry      func(attempt int, delay time.Duration, err error)
}

// Option 配置 Do
type Option func(*retryConfig)

// WithMaxRetries 首次执行之后最多重试几次，默认 3
func WithMaxRetries(n int) Option {
	return func(c *retryConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithInitialDelay 第一次重试前的等待时间，之后每次翻倍，默认 1s
func WithInitialDelay(d time.Duration) Option {
	return func(c *retryConfig) {
		if d > 0 {
			c.initialDelay = d
		}
	}
}

// WithMaxDelay 单次等待的上限，默认 30s
func WithMaxDelay(d time.Duration) Option {
	return func(c *retryConfig) {
		if d > 0 {
			c.maxDelay = d
		}
	}
}

// WithRetryIf 替换默认的 Retryable 判断
func WithRetryIf(fn func(error) bool) Option {
	return func(c *retryConfig) {
		if fn != nil {
			c.retryIf = fn
		}
	}
}

// WithOnRetry 每次等待前回调，一般用来打日志
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

func defaultRetryConfig() *retryConfig {
	return &retryConfig{
		maxRetries:   3,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		retryIf:      Retryable,
	}
}

// 调用方自己的问题，重试也不会成功
var clientCodes = map[string]bool{
	ErrCodeAccountNotFound:         true,
	ErrCodeInvalidAPIToken:         true,
	ErrCodeServiceNotSupported:     true,
	ErrCodeRepositoryNotFound:      true,
	ErrCodeScorecardNotFound:       true,
	ErrCodeMinimumAccountViolation: true,
	ErrCodeDuplicateAccount:        true,
	ErrCodeInvalidInput:            true,
}

// Retryable 默认的重试判断：context 结束和客户端错误不重试
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return !clientCodes[appErr.Code]
	}
	return true
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 标记为不再重试，Do 会原样返回被包装的错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do 执行 fn，失败时按指数退避重试
// 只用于基础设施（打开缓存数据库、推送 Webhook）；平台 API 的失败会作为“没有数据”缓存下来，不走这里
//
//	err := common.Do(ctx, func() error {
//	    return sqlDB.PingContext(ctx)
//	}, common.WithMaxRetries(5))
func Do(ctx context.Context, fn RetryableFunc, opts ...Option) error {
	if fn == nil {
		return errors.New("retry: fn 不能为空")
	}

	cfg := defaultRetryConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	err := fn()
	for attempt := 1; err != nil; attempt++ {
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if !cfg.retryIf(err) {
			return err
		}
		if attempt > cfg.maxRetries {
			return fmt.Errorf("重试 %d 次后仍然失败: %w", cfg.maxRetries, err)
		}

		delay := backoff(attempt, cfg.initialDelay, cfg.maxDelay)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("第 %d 次重试前被取消: %w", attempt, ctx.Err())
		case <-timer.C:
		}

		err = fn()
	}
	return nil
}

// backoff 第 attempt 次重试前的等待时间: initial * 2^(attempt-1)，不超过 limit
func backoff(attempt int, initial, limit time.Duration) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return min(delay, limit)
}
