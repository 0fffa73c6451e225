package service

import (
	"context"
	"sync"
	"time"
)

// LoginAttempt 失败记录
type LoginAttempt struct {
	FailCount   int       // 失败次数
	LastAttempt time.Time // 最后尝试时间
	LockedUntil time.Time // 锁定截止时间
}

// LoginLimiter 管理员密钥校验失败限制，按 IP 计数
type LoginLimiter struct {
	attempts     map[string]*LoginAttempt
	mu           sync.RWMutex
	maxAttempts  int           // 最大尝试次数
	lockDuration time.Duration // 锁定时长
	resetAfter   time.Duration // 无失败多久后重置计数
	now          func() time.Time
}

// NewLoginLimiter 创建限制器，需调用 Run 才会定期清理
func NewLoginLimiter(maxAttempts int, lockDuration, resetAfter time.Duration) *LoginLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &LoginLimiter{
		attempts:     make(map[string]*LoginAttempt),
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		resetAfter:   resetAfter,
		now:          time.Now,
	}
}

// IsLocked 检查是否被锁定
func (ll *LoginLimiter) IsLocked(key string) (bool, time.Duration) {
	ll.mu.RLock()
	defer ll.mu.RUnlock()

	attempt, exists := ll.attempts[key]
	if !exists {
		return false, 0
	}

	now := ll.now()
	if now.Before(attempt.LockedUntil) {
		return true, attempt.LockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure 记录失败，达到上限后锁定
func (ll *LoginLimiter) RecordFailure(key string) (locked bool, remaining time.Duration) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	now := ll.now()
	attempt, exists := ll.attempts[key]
	if !exists {
		attempt = &LoginAttempt{}
		ll.attempts[key] = attempt
	}

	if now.Sub(attempt.LastAttempt) > ll.resetAfter {
		attempt.FailCount = 0
	}

	attempt.FailCount++
	attempt.LastAttempt = now

	if attempt.FailCount >= ll.maxAttempts {
		attempt.LockedUntil = now.Add(ll.lockDuration)
		attempt.FailCount = 0
		return true, ll.lockDuration
	}
	return false, 0
}

// RecordSuccess 清除失败记录
func (ll *LoginLimiter) RecordSuccess(key string) {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	delete(ll.attempts, key)
}

// RemainingAttempts 剩余尝试次数
func (ll *LoginLimiter) RemainingAttempts(key string) int {
	ll.mu.RLock()
	defer ll.mu.RUnlock()

	attempt, exists := ll.attempts[key]
	if !exists || ll.now().Sub(attempt.LastAttempt) > ll.resetAfter {
		return ll.maxAttempts
	}

	remaining := ll.maxAttempts - attempt.FailCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Run 定期清理过期记录，直到 ctx 结束
func (ll *LoginLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ll.cleanup()
		}
	}
}

func (ll *LoginLimiter) cleanup() {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	now := ll.now()
	for key, attempt := range ll.attempts {
		if now.After(attempt.LockedUntil) && now.Sub(attempt.LastAttempt) > ll.resetAfter {
			delete(ll.attempts, key)
		}
	}
}
