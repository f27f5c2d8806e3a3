package executor

import (
	"sort"

	"arena/internal/decision"
	"arena/internal/gateway/exchange"
	"arena/internal/statecache"

	"github.com/shopspring/decimal"
)

// Portfolio 以最新价估值后的账户视图。
type Portfolio struct {
	Cash     decimal.Decimal
	Frozen   decimal.Decimal
	Total    decimal.Decimal
	Holdings []decision.Holding
}

// Holding 未持有时返回零值。
func (p Portfolio) Holding(symbol string) decision.Holding {
	for _, h := range p.Holdings {
		if h.Symbol == symbol {
			return h
		}
	}
	return decision.Holding{Symbol: symbol}
}

// HeldSymbols 数量为正的持仓币种（升序）。
func HeldSymbols(snap statecache.Snapshot) []string {
	out := make([]string, 0, len(snap.BySymbol))
	for sym, pos := range snap.BySymbol {
		if pos.Quantity.IsPositive() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// MissingPrices 没有正价格的持仓币种；非空时无法对账户估值。
func MissingPrices(snap statecache.Snapshot, prices map[string]decimal.Decimal) []string {
	var out []string
	for _, sym := range HeldSymbols(snap) {
		if p, ok := prices[sym]; !ok || !p.IsPositive() {
			out = append(out, sym)
		}
	}
	return out
}

// BuildPortfolio 总价值 = 现金 + 冻结 + Σ 数量 × 最新价。
// 缺价的持仓按 0 计入，决策前需先用 MissingPrices 拦截。
func BuildPortfolio(snap statecache.Snapshot, prices map[string]decimal.Decimal) Portfolio {
	pf := Portfolio{Cash: snap.Balance.Cash, Frozen: snap.Balance.Frozen}
	total := snap.Balance.Total()
	for sym, pos := range snap.BySymbol {
		if !pos.Quantity.IsPositive() {
			continue
		}
		price := prices[sym]
		value := pos.Quantity.Mul(price)
		total = total.Add(value)
		pf.Holdings = append(pf.Holdings, decision.Holding{
			Symbol:    sym,
			Quantity:  pos.Quantity,
			Available: pos.Available,
			Price:     price,
			Value:     value,
		})
	}
	pf.Total = total
	for i := range pf.Holdings {
		if total.IsPositive() {
			pf.Holdings[i].Portion = pf.Holdings[i].Value.Div(total)
		}
	}
	sort.Slice(pf.Holdings, func(i, j int) bool { return pf.Holdings[i].Symbol < pf.Holdings[j].Symbol })
	return pf
}

// SizingRules 交易所数量步长与最小名义价值。
type SizingRules struct {
	StepSizes   map[string]decimal.Decimal
	DefaultStep decimal.Decimal
	MinNotional decimal.Decimal
}

// DefaultSizingRules 未配置步长的币种按 1e-8 处理。
func DefaultSizingRules() SizingRules {
	return SizingRules{
		StepSizes:   map[string]decimal.Decimal{},
		DefaultStep: decimal.New(1, -8),
		MinNotional: decimal.NewFromInt(10),
	}
}

func (r SizingRules) step(symbol string) decimal.Decimal {
	if s, ok := r.StepSizes[symbol]; ok && s.IsPositive() {
		return s
	}
	if r.DefaultStep.IsPositive() {
		return r.DefaultStep
	}
	return decimal.New(1, -8)
}

// Floor 向下取整到步长。
func (r SizingRules) Floor(symbol string, qty decimal.Decimal) decimal.Decimal {
	step := r.step(symbol)
	return qty.Div(step).Floor().Mul(step)
}

// OrderPlan 待提交的市价单。
type OrderPlan struct {
	Side     exchange.Side
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Notional decimal.Decimal
}

// Plan 由目标比例差计算订单；数量取整后为 0 或低于最小名义价值时返回 false。
// 买入受可用现金约束，卖出受可用数量约束。
func (r SizingRules) Plan(side exchange.Side, symbol string, delta decimal.Decimal, pf Portfolio, price decimal.Decimal) (OrderPlan, bool) {
	if !price.IsPositive() || !pf.Total.IsPositive() {
		return OrderPlan{}, false
	}
	var qty decimal.Decimal
	switch side {
	case exchange.SideBuy:
		notional := decimal.Min(delta.Mul(pf.Total), pf.Cash)
		if !notional.IsPositive() {
			return OrderPlan{}, false
		}
		qty = r.Floor(symbol, notional.Div(price))
	case exchange.SideSell:
		notional := delta.Neg().Mul(pf.Total)
		if !notional.IsPositive() {
			return OrderPlan{}, false
		}
		qty = r.Floor(symbol, notional.Div(price))
		available := r.Floor(symbol, pf.Holding(symbol).Available)
		qty = decimal.Min(qty, available)
	default:
		return OrderPlan{}, false
	}
	if !qty.IsPositive() {
		return OrderPlan{}, false
	}
	notional := qty.Mul(price)
	if r.MinNotional.IsPositive() && notional.LessThan(r.MinNotional) {
		return OrderPlan{}, false
	}
	return OrderPlan{Side: side, Symbol: symbol, Quantity: qty, Price: price, Notional: notional}, true
}
