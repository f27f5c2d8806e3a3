package app

import (
	"sync"
	"time"

	"arena/internal/decision"
)

// lastOutcomeCache 缓存每个账户最近一次决策结果，供 Prompt 注入与状态查询。
type lastOutcomeCache struct {
	mu   sync.RWMutex
	data map[int64]decision.Outcome
	ttl  time.Duration
	now  func() time.Time
}

func newLastOutcomeCache(ttl time.Duration) *lastOutcomeCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &lastOutcomeCache{data: make(map[int64]decision.Outcome), ttl: ttl, now: time.Now}
}

// Load 启动时从决策日志回填；只保留较新的记录。
func (c *lastOutcomeCache) Load(records []decision.Outcome) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		if rec.AccountID <= 0 {
			continue
		}
		if cur, ok := c.data[rec.AccountID]; ok && !rec.Time.After(cur.Time) {
			continue
		}
		c.data[rec.AccountID] = rec
	}
}

func (c *lastOutcomeCache) Set(out decision.Outcome) {
	if c == nil || out.AccountID <= 0 {
		return
	}
	c.mu.Lock()
	c.data[out.AccountID] = out
	c.mu.Unlock()
}

// Last 过期记录视为不存在。
func (c *lastOutcomeCache) Last(accountID int64) (decision.Outcome, bool) {
	if c == nil {
		return decision.Outcome{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.data[accountID]
	if !ok {
		return decision.Outcome{}, false
	}
	if c.ttl > 0 && c.now().Sub(out.Time) > c.ttl {
		return decision.Outcome{}, false
	}
	return out, true
}
