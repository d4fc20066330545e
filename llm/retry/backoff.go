package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/BaSui01/imageflow/types"
	"go.uber.org/zap"
)

// Strategy 退避策略
type Strategy int

const (
	// Linear 线性退避：delay = initial * attempt
	Linear Strategy = iota
	// Exponential 指数退避：delay = initial * multiplier^(attempt-1)
	Exponential
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxAttempts  int                                               // 最大尝试次数（含首次，<=1 表示不重试）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Strategy     Strategy                                          // 退避策略
	Multiplier   float64                                           // 指数退避倍增因子
	Jitter       bool                                              // 是否添加随机抖动
	RetryIf      func(err error) bool                              // 可重试判定，nil 时使用 IsTransient
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略
// 下载、结果流读取等网络操作使用少量尝试 + 线性退避
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Strategy:     Linear,
		Multiplier:   2.0,
	}
}

// LinearPolicy 返回指定尝试次数与基数的线性退避策略
func LinearPolicy(attempts int, base time.Duration) *RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.InitialDelay = base
	return p
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func(attempt int) error) error
}

// backoffRetryer 基于退避策略的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.RetryIf == nil {
		p.RetryIf = IsTransient
	}

	return &backoffRetryer{
		policy: p,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
// attempt 从 1 开始，调用方可据此做断点续读
func (r *backoffRetryer) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.calculateDelay(attempt - 1)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return nil
		}

		if !r.policy.RetryIf(lastErr) {
			r.logger.Debug("错误不可重试", zap.Error(lastErr))
			return lastErr
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return fmt.Errorf("failed after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

// calculateDelay 计算第 n 次重试前的延迟
func (r *backoffRetryer) calculateDelay(n int) time.Duration {
	var delay float64
	switch r.policy.Strategy {
	case Exponential:
		delay = float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(n-1))
	default:
		delay = float64(r.policy.InitialDelay) * float64(n)
	}

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// ±25% 抖动
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// IsTransient 默认的可重试判定：
// 被 WrapRetryable 包装的错误可重试；*types.Error 按 Retryable 字段；
// 裸的 context 取消与超时不重试；其余错误视为连接类错误，可重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryableError(err) {
		return true
	}
	if e, ok := types.AsError(err); ok {
		return e.Retryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// RetryableError 可重试的错误类型
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装为可重试错误。
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}
