package exchange

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway 交易所同步客户端的最小能力集：读余额/持仓、下单。
// 限速由调用方负责（先 Acquire 再调用）。
type Gateway interface {
	FetchBalanceAndPositions(ctx context.Context, accountID int64) (Balance, []Position, error)
	SubmitOrder(ctx context.Context, accountID int64, req OrderRequest) (string, error)
}

// Balance 报价币（USDT）资金。
type Balance struct {
	Cash      decimal.Decimal `json:"cash"`
	Frozen    decimal.Decimal `json:"frozen"`
	Currency  string          `json:"currency"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total 可用 + 冻结。
func (b Balance) Total() decimal.Decimal {
	return b.Cash.Add(b.Frozen)
}

// Position 非报价币资产即视为持仓。
type Position struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Available decimal.Decimal `json:"available_quantity"`
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderRequest Symbol 为内部符号（如 BTC），由具体网关映射为交易对。
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Quantity decimal.Decimal
	Price    *decimal.Decimal // 仅 LIMIT 需要
}

// NormalizeSymbol 统一为大写资产名。
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
