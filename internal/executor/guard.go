package executor

import (
	"sync"
	"sync/atomic"
)

// Guard 每个账户一个进行中标记；不排队，抢不到即跳过。
type Guard struct {
	flags sync.Map // accountID -> *atomic.Bool
}

func NewGuard() *Guard { return &Guard{} }

func (g *Guard) flag(accountID int64) *atomic.Bool {
	v, _ := g.flags.LoadOrStore(accountID, &atomic.Bool{})
	return v.(*atomic.Bool)
}

// TryEnter 非阻塞；已有运行中的决策时返回 false。
func (g *Guard) TryEnter(accountID int64) bool {
	return g.flag(accountID).CompareAndSwap(false, true)
}

func (g *Guard) Leave(accountID int64) {
	g.flag(accountID).Store(false)
}

// Active 是否有运行中的决策。
func (g *Guard) Active(accountID int64) bool {
	v, ok := g.flags.Load(accountID)
	return ok && v.(*atomic.Bool).Load()
}
