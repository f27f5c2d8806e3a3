package decision

import (
	"time"

	"arena/internal/market"

	"github.com/shopspring/decimal"
)

// Holding 提供给模型的单币种持仓视图。
type Holding struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Available decimal.Decimal `json:"available"`
	Price     decimal.Decimal `json:"price"`
	Value     decimal.Decimal `json:"value"`
	Portion   decimal.Decimal `json:"portion"`
}

// Request 一次推理调用的账户上下文。
type Request struct {
	AccountID   int64                      `json:"account_id"`
	AccountName string                     `json:"account_name,omitempty"`
	Time        time.Time                  `json:"time"`
	Cash        decimal.Decimal            `json:"cash"`
	Frozen      decimal.Decimal            `json:"frozen"`
	Total       decimal.Decimal            `json:"total"`
	Holdings    []Holding                  `json:"holdings"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	Markets     []market.Summary           `json:"markets,omitempty"`
	Permitted   []string                   `json:"permitted"`
	LastOutcome *Outcome                   `json:"last_outcome,omitempty"`
}

// Portion 当前持仓占比；未持有返回 0。
func (r Request) Portion(symbol string) decimal.Decimal {
	for _, h := range r.Holdings {
		if h.Symbol == symbol {
			return h.Portion
		}
	}
	return decimal.Zero
}
