package market

import (
	"sync"
	"time"

	"arena/internal/coins"

	"github.com/shopspring/decimal"
)

// PriceTick 一次成交价推送。同一币种的 At 单调不减。
type PriceTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// PriceStore 每个币种最近成交价及有限长度历史（内存）。
type PriceStore struct {
	mu      sync.RWMutex
	max     int
	last    map[string]PriceTick
	history map[string][]float64
}

func NewPriceStore(max int) *PriceStore {
	if max <= 0 {
		max = 240
	}
	return &PriceStore{
		max:     max,
		last:    make(map[string]PriceTick),
		history: make(map[string][]float64),
	}
}

// Update 写入一条 tick；乱序（早于已记录时间）或非正价格返回 false。
func (s *PriceStore) Update(t PriceTick) bool {
	sym := coins.Asset(t.Symbol)
	if sym == "" || !t.Price.IsPositive() {
		return false
	}
	t.Symbol = sym
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[sym]; ok && t.At.Before(prev.At) {
		return false
	}
	s.last[sym] = t
	cur := append(s.history[sym], t.Price.InexactFloat64())
	if len(cur) > s.max {
		cur = cur[len(cur)-s.max:]
	}
	s.history[sym] = cur
	return true
}

// Last 最新价。
func (s *PriceStore) Last(symbol string) (PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[coins.Asset(symbol)]
	return t, ok
}

// Prices 所有币种最新价的拷贝。
func (s *PriceStore) Prices() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.last))
	for k, v := range s.last {
		out[k] = v.Price
	}
	return out
}

// History 返回拷贝
func (s *PriceStore) History(symbol string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.history[coins.Asset(symbol)]
	out := make([]float64, len(cur))
	copy(out, cur)
	return out
}
