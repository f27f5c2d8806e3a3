package coins

import (
	"context"
	"errors"
	"strings"
)

// QuoteAsset 所有交易对的计价币。
const QuoteAsset = "USDT"

var cashAssets = map[string]struct{}{
	"USDT": {},
	"BUSD": {},
}

// IsCash 报价类稳定币视为现金而非持仓。
func IsCash(asset string) bool {
	_, ok := cashAssets[strings.ToUpper(strings.TrimSpace(asset))]
	return ok
}

// Asset 将 BTC / btcusdt / BTC-USDT 统一为 BTC。
func Asset(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "/", "")
	if len(s) > len(QuoteAsset) && strings.HasSuffix(s, QuoteAsset) {
		s = strings.TrimSuffix(s, QuoteAsset)
	}
	return s
}

// Pair BTC -> BTCUSDT。
func Pair(s string) string {
	a := Asset(s)
	if a == "" {
		return ""
	}
	return a + QuoteAsset
}

// SymbolProvider 币种来源接口
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// 默认实现：静态列表，输出为去重后的资产名。
type DefaultSymbolProvider struct{ symbols []string }

func NewDefaultProvider(symbols []string) *DefaultSymbolProvider {
	return &DefaultSymbolProvider{symbols: symbols}
}

func (p *DefaultSymbolProvider) Name() string { return "default" }

func (p *DefaultSymbolProvider) List(ctx context.Context) ([]string, error) {
	out := Normalize(p.symbols)
	if len(out) == 0 {
		return nil, errors.New("默认币种列表为空")
	}
	return out, nil
}

// Normalize 资产名去重，保持原有顺序，剔除现金类。
func Normalize(symbols []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		a := Asset(s)
		if a == "" || IsCash(a) {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Universe 账户允许交易的币种集合。
type Universe map[string]struct{}

func NewUniverse(symbols []string) Universe {
	u := Universe{}
	for _, s := range Normalize(symbols) {
		u[s] = struct{}{}
	}
	return u
}

// Contains 空集合表示不限制。
func (u Universe) Contains(symbol string) bool {
	if len(u) == 0 {
		return true
	}
	_, ok := u[Asset(symbol)]
	return ok
}
