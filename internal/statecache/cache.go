package statecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arena/internal/gateway/exchange"
	"arena/internal/logger"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL 余额/持仓快照的有效期。
const DefaultTTL = 5 * time.Second

// Acquirer 进程级限速器。
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Snapshot 某账户一次成功拉取的余额与持仓。
type Snapshot struct {
	AccountID int64
	Balance   exchange.Balance
	Positions []exchange.Position
	BySymbol  map[string]exchange.Position
	FetchedAt time.Time
}

// Position 按符号查找持仓。
func (s Snapshot) Position(symbol string) (exchange.Position, bool) {
	p, ok := s.BySymbol[exchange.NormalizeSymbol(symbol)]
	return p, ok
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Positions = append([]exchange.Position(nil), s.Positions...)
	out.BySymbol = make(map[string]exchange.Position, len(s.BySymbol))
	for k, v := range s.BySymbol {
		out.BySymbol[k] = v
	}
	return out
}

type entry struct {
	snap Snapshot
	ok   bool
	// gen 每次失效/失败自增，用于丢弃失效之前发起的刷新结果
	gen uint64
}

// Cache 账户余额/持仓的 TTL 缓存：
//   - 未过期直接返回，不访问网关
//   - 同账户并发刷新合并为一次网关调用
//   - 刷新失败立即删除旧快照，后续读取必须重新拉取
type Cache struct {
	gw      exchange.Gateway
	limiter Acquirer
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
	group   singleflight.Group

	onRefresh func(Snapshot)
}

// Option 可选参数。
type Option func(*Cache)

// WithClock 测试用时钟。
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout 单次网关拉取超时（含限速等待）。
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithRefreshHook 每次成功写入新快照后回调（用于广播余额/持仓变化）。
func WithRefreshHook(fn func(Snapshot)) Option {
	return func(c *Cache) { c.onRefresh = fn }
}

func New(gw exchange.Gateway, limiter Acquirer, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		gw:      gw,
		limiter: limiter,
		ttl:     ttl,
		timeout: 10 * time.Second,
		now:     time.Now,
		entries: make(map[int64]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrRefresh 返回新鲜快照；过期或缺失时经限速器拉取。
func (c *Cache) GetOrRefresh(ctx context.Context, accountID int64) (Snapshot, error) {
	c.mu.Lock()
	e := c.entryLocked(accountID)
	if e.ok && c.now().Sub(e.snap.FetchedAt) < c.ttl {
		snap := e.snap.clone()
		c.mu.Unlock()
		logger.Debugf("账户 %d 命中余额缓存", accountID)
		return snap, nil
	}
	gen := e.gen
	c.mu.Unlock()

	key := fmt.Sprintf("%d#%d", accountID, gen)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.refresh(ctx, accountID, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot).clone(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Cache) refresh(ctx context.Context, accountID int64, gen uint64) (Snapshot, error) {
	// 合并后的调用不能被首个调用者的取消带走
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	if err := c.limiter.Acquire(fetchCtx); err != nil {
		c.drop(accountID)
		return Snapshot{}, fmt.Errorf("账户 %d 限速等待失败: %w", accountID, err)
	}
	balance, positions, err := c.gw.FetchBalanceAndPositions(fetchCtx, accountID)
	if err != nil {
		c.drop(accountID)
		logger.Warnf("账户 %d 拉取余额/持仓失败，已清除缓存: %v", accountID, err)
		return Snapshot{}, fmt.Errorf("账户 %d 拉取余额/持仓失败: %w", accountID, err)
	}

	snap := Snapshot{
		AccountID: accountID,
		Balance:   balance,
		Positions: append([]exchange.Position(nil), positions...),
		BySymbol:  make(map[string]exchange.Position, len(positions)),
		FetchedAt: c.now(),
	}
	for _, p := range positions {
		sym := exchange.NormalizeSymbol(p.Symbol)
		if agg, ok := snap.BySymbol[sym]; ok {
			agg.Quantity = agg.Quantity.Add(p.Quantity)
			agg.Available = agg.Available.Add(p.Available)
			snap.BySymbol[sym] = agg
			continue
		}
		p.Symbol = sym
		snap.BySymbol[sym] = p
	}

	c.mu.Lock()
	e := c.entryLocked(accountID)
	stored := e.gen == gen
	if stored {
		e.snap = snap
		e.ok = true
	}
	c.mu.Unlock()
	if !stored {
		logger.Debugf("账户 %d 刷新期间缓存已失效，结果不写入", accountID)
	} else if c.onRefresh != nil {
		c.onRefresh(snap.clone())
	}
	return snap, nil
}

// Invalidate 显式删除（如用户强制刷新、下单后）。进行中的旧刷新不会回写。
func (c *Cache) Invalidate(accountID int64) {
	c.drop(accountID)
}

// Peek 只读查看当前条目（不论新旧），不触发刷新。
func (c *Cache) Peek(accountID int64) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[accountID]
	if !ok || !e.ok {
		return Snapshot{}, false
	}
	return e.snap.clone(), true
}

func (c *Cache) drop(accountID int64) {
	c.mu.Lock()
	e := c.entryLocked(accountID)
	e.snap = Snapshot{}
	e.ok = false
	e.gen++
	c.mu.Unlock()
}

func (c *Cache) entryLocked(accountID int64) *entry {
	e, ok := c.entries[accountID]
	if !ok {
		e = &entry{}
		c.entries[accountID] = e
	}
	return e
}
