package ratelimit

import (
	"context"
	"sync"
	"time"

	"arena/internal/logger"
)

// Limiter 进程级交易所调用节流：任意两次放行之间至少间隔 interval（跨所有账户）。
// 调用方按拿锁顺序排队，不提供优先级。
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	now      func() time.Time
}

// New interval<=0 时不限速。
func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval, now: time.Now}
}

// Acquire 阻塞直到允许下一次调用。锁只保护 next 的推进，等待期间不持锁。
// ctx 取消时已预留的时间槽不会归还。
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil || l.interval <= 0 {
		return nil
	}
	l.mu.Lock()
	now := l.now()
	slot := now
	if l.next.After(now) {
		slot = l.next
	}
	l.next = slot.Add(l.interval)
	l.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}
	logger.Debugf("限速: 等待 %s 后调用交易所（最小间隔 %s）", wait.Round(time.Millisecond), l.interval)
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
