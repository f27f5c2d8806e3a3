package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"arena/internal/coins"
	"arena/internal/logger"
	"arena/internal/market"
)

// Mode 触发模式。
type Mode string

const (
	ModeRealtime  Mode = "realtime"
	ModeInterval  Mode = "interval"
	ModeTickBatch Mode = "tick_batch"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRealtime, ModeInterval, ModeTickBatch:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("未知触发模式: %q", s)
	}
}

// State 账户触发状态。armed 表示已判定触发、尚未交给执行器。
type State string

const (
	StateIdle     State = "idle"
	StateArmed    State = "armed"
	StateDisabled State = "disabled"
)

// Config 单账户策略。与当前模式无关的字段被忽略。
type Config struct {
	AccountID       int64      `json:"account_id"`
	Mode            Mode       `json:"trigger_mode"`
	IntervalSeconds int        `json:"interval_seconds"`
	TickBatchSize   int        `json:"tick_batch_size"`
	Enabled         bool       `json:"enabled"`
	LastTriggerAt   *time.Time `json:"last_trigger_at,omitempty"`
	Symbols         []string   `json:"symbols,omitempty"`
}

// Validate 检查模式与对应参数。
func (c Config) Validate() error {
	if c.AccountID <= 0 {
		return fmt.Errorf("account_id 非法: %d", c.AccountID)
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Mode == ModeInterval && c.IntervalSeconds <= 0 {
		return fmt.Errorf("账户 %d interval_seconds 必须为正数", c.AccountID)
	}
	if c.Mode == ModeTickBatch && c.TickBatchSize <= 0 {
		return fmt.Errorf("账户 %d tick_batch_size 必须为正数", c.AccountID)
	}
	return nil
}

// Fire 一次触发判定。
type Fire struct {
	AccountID int64
	Mode      Mode
	At        time.Time
	Symbol    string // 定时触发时为空
}

type account struct {
	cfg      Config
	universe coins.Universe
	state    State
	ticks    int
	last     time.Time
	hasLast  bool
}

// Evaluator 多账户触发状态机。只负责判定，不执行任何阻塞操作。
type Evaluator struct {
	mu       sync.Mutex
	accounts map[int64]*account
	now      func() time.Time
}

func NewEvaluator() *Evaluator {
	return &Evaluator{accounts: make(map[int64]*account), now: time.Now}
}

// WithClock 测试用时钟。
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Upsert 新增或更新账户策略，下一次判定即生效。
// 切换模式会清零计数并重置计时；enabled 由 false 变 true 时从当前时刻重新开始。
func (e *Evaluator) Upsert(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	acc, ok := e.accounts[cfg.AccountID]
	if !ok {
		acc = &account{}
		if cfg.LastTriggerAt != nil {
			acc.last, acc.hasLast = *cfg.LastTriggerAt, true
		}
		e.accounts[cfg.AccountID] = acc
	} else {
		prev := acc.cfg
		switch {
		case prev.Mode != cfg.Mode:
			logger.Infof("账户 %d 触发模式 %s -> %s，计数与计时重置", cfg.AccountID, prev.Mode, cfg.Mode)
			acc.ticks = 0
			acc.last, acc.hasLast = now, true
		case !prev.Enabled && cfg.Enabled:
			acc.ticks = 0
			acc.last, acc.hasLast = now, true
		case cfg.LastTriggerAt != nil && (!acc.hasLast || cfg.LastTriggerAt.After(acc.last)):
			acc.last, acc.hasLast = *cfg.LastTriggerAt, true
		}
	}
	cfg.Symbols = coins.Normalize(cfg.Symbols)
	acc.cfg = cfg
	acc.universe = coins.NewUniverse(cfg.Symbols)
	if !cfg.Enabled {
		acc.state = StateDisabled
	} else if acc.state != StateArmed {
		acc.state = StateIdle
	}
	return nil
}

// Remove 账户不再参与判定。
func (e *Evaluator) Remove(accountID int64) {
	e.mu.Lock()
	delete(e.accounts, accountID)
	e.mu.Unlock()
}

// OnTick 处理一条行情：realtime 每条相关 tick 触发，tick_batch 计数满批触发。
func (e *Evaluator) OnTick(t market.PriceTick) []Fire {
	sym := coins.Asset(t.Symbol)
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var fires []Fire
	for _, id := range e.sortedIDsLocked() {
		acc := e.accounts[id]
		if !acc.cfg.Enabled || !acc.universe.Contains(sym) {
			continue
		}
		switch acc.cfg.Mode {
		case ModeRealtime:
			fires = append(fires, acc.arm(now, sym))
		case ModeTickBatch:
			acc.ticks++
			if acc.ticks >= acc.cfg.TickBatchSize {
				acc.ticks = 0
				fires = append(fires, acc.arm(now, sym))
			}
		}
	}
	return fires
}

// OnTimer 定时检查 interval 账户。从未触发过的账户在首次检查时立即触发。
func (e *Evaluator) OnTimer(now time.Time) []Fire {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fires []Fire
	for _, id := range e.sortedIDsLocked() {
		acc := e.accounts[id]
		if !acc.cfg.Enabled || acc.cfg.Mode != ModeInterval {
			continue
		}
		interval := time.Duration(acc.cfg.IntervalSeconds) * time.Second
		if acc.hasLast && now.Sub(acc.last) < interval {
			continue
		}
		fires = append(fires, acc.arm(now, ""))
	}
	return fires
}

// Dispatched 触发已交给执行器（或被跳过），账户回到 idle。
func (e *Evaluator) Dispatched(accountID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if acc, ok := e.accounts[accountID]; ok && acc.state == StateArmed {
		acc.state = StateIdle
	}
}

// State 未知账户返回 disabled。
func (e *Evaluator) State(accountID int64) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.accounts[accountID]
	if !ok {
		return StateDisabled
	}
	return acc.state
}

// Config 返回当前生效的策略（LastTriggerAt 为内存中的最新值）。
func (e *Evaluator) Config(accountID int64) (Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	acc, ok := e.accounts[accountID]
	if !ok {
		return Config{}, false
	}
	cfg := acc.cfg
	cfg.Symbols = append([]string(nil), acc.cfg.Symbols...)
	if acc.hasLast {
		last := acc.last
		cfg.LastTriggerAt = &last
	}
	return cfg, true
}

// Accounts 已注册账户 ID（升序）。
func (e *Evaluator) Accounts() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sortedIDsLocked()
}

func (e *Evaluator) sortedIDsLocked() []int64 {
	ids := make([]int64, 0, len(e.accounts))
	for id := range e.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// arm 先更新 last 再返回触发，避免慢执行期间重复触发。
func (a *account) arm(now time.Time, sym string) Fire {
	a.last, a.hasLast = now, true
	a.state = StateArmed
	return Fire{AccountID: a.cfg.AccountID, Mode: a.cfg.Mode, At: now, Symbol: sym}
}
