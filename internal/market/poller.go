package market

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"arena/internal/coins"
	"arena/internal/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type listPricesFunc func(ctx context.Context, pairs []string) ([]*binance.SymbolPrice, error)

// RESTPoller 通过 /api/v3/ticker/price 轮询最新价。
// 既可作为 TickSource（WS 关闭时），也可按需 Quote 本地没有行情的币种。
type RESTPoller struct {
	symbols []string
	every   time.Duration
	list    listPricesFunc
	now     func() time.Time
	errLog  rate.Sometimes
}

func NewRESTPoller(baseURL string, timeout time.Duration, symbols []string, every time.Duration) *RESTPoller {
	c := binance.NewClient("", "")
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	if every <= 0 {
		every = 1500 * time.Millisecond
	}
	return &RESTPoller{
		symbols: coins.Normalize(symbols),
		every:   every,
		list: func(ctx context.Context, pairs []string) ([]*binance.SymbolPrice, error) {
			svc := c.NewListPricesService()
			if len(pairs) == 1 {
				return svc.Symbol(pairs[0]).Do(ctx)
			}
			return svc.Symbols(pairs).Do(ctx)
		},
		now:    time.Now,
		errLog: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// Run 立即拉取一次，之后每 every 拉取一次，直到 ctx 结束。
func (p *RESTPoller) Run(ctx context.Context, h TickHandler) error {
	if len(p.symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	logger.Infof("✓ REST 价格轮询启动: %v (间隔 %s)", p.symbols, p.every)
	ticker := time.NewTicker(p.every)
	defer ticker.Stop()
	for {
		p.poll(ctx, h)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *RESTPoller) poll(ctx context.Context, h TickHandler) {
	quotes, err := p.Quote(ctx, p.symbols)
	if err != nil && ctx.Err() == nil {
		p.errLog.Do(func() { logger.Warnf("REST 价格轮询失败: %v", err) })
	}
	at := p.now()
	for _, sym := range p.symbols {
		if price, ok := quotes[sym]; ok {
			h(PriceTick{Symbol: sym, Price: price, At: at})
		}
	}
}

// Quote 查询一组币种的最新价。批量请求失败（例如含无效交易对）时逐个重试，
// 返回能查到的部分；全部失败才返回错误。
func (p *RESTPoller) Quote(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	syms := coins.Normalize(symbols)
	out := make(map[string]decimal.Decimal, len(syms))
	if len(syms) == 0 {
		return out, nil
	}
	pairs := make([]string, len(syms))
	for i, sym := range syms {
		pairs[i] = coins.Pair(sym)
	}
	res, err := p.list(ctx, pairs)
	if err == nil {
		collectPrices(out, res)
		return out, nil
	}
	if len(pairs) == 1 || ctx.Err() != nil {
		return out, fmt.Errorf("查询价格 %v 失败: %w", syms, err)
	}
	var lastErr error
	for _, pair := range pairs {
		one, err := p.list(ctx, []string{pair})
		if err != nil {
			lastErr = err
			logger.Debugf("查询价格 %s 失败: %v", pair, err)
			continue
		}
		collectPrices(out, one)
	}
	if len(out) == 0 {
		return out, fmt.Errorf("查询价格 %v 失败: %w", syms, lastErr)
	}
	return out, nil
}

func collectPrices(out map[string]decimal.Decimal, res []*binance.SymbolPrice) {
	for _, sp := range res {
		if sp == nil {
			continue
		}
		price, err := decimal.NewFromString(sp.Price)
		if err != nil || !price.IsPositive() {
			logger.Debugf("价格 %s 无效: %q", sp.Symbol, sp.Price)
			continue
		}
		out[coins.Asset(sp.Symbol)] = price
	}
}
