package market

import (
	"context"
	"sync"
	"time"

	"arena/internal/coins"
	"arena/internal/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// TickHandler 由调度器提供；不得阻塞。
type TickHandler func(PriceTick)

type serveFunc func(symbol string, handler binance.WsAggTradeHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error)

// BinanceStream 订阅现货 aggTrade，按币种节流后回调。
// 每个币种一条连接，断线后按 reconnectDelay 重连。
type BinanceStream struct {
	symbols        []string
	minInterval    time.Duration
	reconnectDelay time.Duration
	serve          serveFunc

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	errLog   rate.Sometimes
}

func NewBinanceStream(symbols []string, minInterval time.Duration) *BinanceStream {
	return &BinanceStream{
		symbols:        coins.Normalize(symbols),
		minInterval:    minInterval,
		reconnectDelay: 5 * time.Second,
		serve:          binance.WsAggTradeServe,
		limiters:       make(map[string]*rate.Limiter),
		errLog:         rate.Sometimes{Interval: 30 * time.Second},
	}
}

// Run 阻塞直到 ctx 结束。
func (s *BinanceStream) Run(ctx context.Context, h TickHandler) error {
	if len(s.symbols) == 0 {
		<-ctx.Done()
		return nil
	}
	logger.Infof("✓ 行情订阅启动: %v (节流 %s)", s.symbols, s.minInterval)
	var wg sync.WaitGroup
	for _, sym := range s.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			s.loop(ctx, sym, h)
		}(sym)
	}
	wg.Wait()
	return nil
}

func (s *BinanceStream) loop(ctx context.Context, sym string, h TickHandler) {
	pair := coins.Pair(sym)
	for {
		doneC, stopC, err := s.serve(pair, func(ev *binance.WsAggTradeEvent) {
			s.handle(sym, ev, h)
		}, func(err error) {
			s.errLog.Do(func() { logger.Warnf("行情 %s 推送错误: %v", pair, err) })
		})
		if err != nil {
			logger.Warnf("行情 %s 连接失败: %v", pair, err)
		} else {
			select {
			case <-ctx.Done():
				close(stopC)
				<-doneC
				return
			case <-doneC:
				logger.Warnf("行情 %s 连接断开，%s 后重连", pair, s.reconnectDelay)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *BinanceStream) handle(sym string, ev *binance.WsAggTradeEvent, h TickHandler) {
	if ev == nil {
		return
	}
	if !s.allow(sym) {
		return
	}
	price, err := decimal.NewFromString(ev.Price)
	if err != nil || !price.IsPositive() {
		logger.Debugf("行情 %s 价格无效: %q", sym, ev.Price)
		return
	}
	at := time.UnixMilli(ev.TradeTime)
	if ev.TradeTime <= 0 {
		at = time.Now()
	}
	h(PriceTick{Symbol: sym, Price: price, At: at})
}

func (s *BinanceStream) allow(sym string) bool {
	if s.minInterval <= 0 {
		return true
	}
	s.mu.Lock()
	lim, ok := s.limiters[sym]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.minInterval), 1)
		s.limiters[sym] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}
