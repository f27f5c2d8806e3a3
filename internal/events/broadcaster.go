package events

import (
	"sync"
	"sync/atomic"
	"time"

	"arena/internal/logger"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Kind 事件类型。
type Kind string

const (
	KindBalance  Kind = "balance_update"
	KindPosition Kind = "position_update"
	KindTrade    Kind = "trade_update"
	KindDecision Kind = "decision_update"
)

// Event 推送给订阅者的状态变化。Payload 由发布方决定，需可 JSON 序列化。
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	AccountID int64     `json:"account_id"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload"`
}

// New 生成带 ID 与时间戳的事件。
func New(kind Kind, accountID int64, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		AccountID: accountID,
		At:        time.Now().UTC(),
		Payload:   payload,
	}
}

// DefaultBuffer 每个订阅者的缓冲长度。
const DefaultBuffer = 64

type subscriber struct {
	mu sync.Mutex
	ch chan Event
}

// Broadcaster 扇出广播。Publish 从不阻塞：订阅者缓冲满时丢弃其最旧的一条。
type Broadcaster struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	dropped atomic.Uint64
	dropLog rate.Sometimes
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		buffer:  buffer,
		subs:    make(map[uint64]*subscriber),
		dropLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Subscribe 返回只读通道与取消函数；取消后通道关闭。
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			s, ok := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			if ok {
				s.mu.Lock()
				close(s.ch)
				s.mu.Unlock()
			}
		})
	}
}

// Publish 非阻塞投递到所有订阅者。
func (b *Broadcaster) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		b.deliver(sub, ev)
	}
}

func (b *Broadcaster) deliver(sub *subscriber, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	for {
		select {
		case sub.ch <- ev:
			return
		default:
		}
		select {
		case <-sub.ch:
			n := b.dropped.Add(1)
			b.dropLog.Do(func() { logger.Warnf("事件订阅者消费过慢，已丢弃最旧事件 (累计 %d)", n) })
		default:
		}
	}
}

// Dropped 因缓冲溢出丢弃的事件总数。
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Subscribers 当前订阅者数量。
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close 关闭所有订阅通道，之后的 Publish 被忽略。
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.mu.Lock()
		close(sub.ch)
		sub.mu.Unlock()
		delete(b.subs, id)
	}
}
