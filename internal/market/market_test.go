package market

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(sym, price string, at time.Time) PriceTick {
	return PriceTick{Symbol: sym, Price: decimal.RequireFromString(price), At: at}
}

func TestPriceStoreDropsOutOfOrder(t *testing.T) {
	s := NewPriceStore(3)
	base := time.Unix(1700000000, 0)
	require.True(t, s.Update(tick("btcusdt", "100", base)))
	require.True(t, s.Update(tick("BTC", "101", base.Add(time.Second))))
	assert.False(t, s.Update(tick("BTC", "99", base)))
	assert.False(t, s.Update(tick("BTC", "0", base.Add(2*time.Second))))

	last, ok := s.Last("BTC")
	require.True(t, ok)
	assert.True(t, last.Price.Equal(decimal.NewFromInt(101)))

	s.Update(tick("BTC", "102", base.Add(3*time.Second)))
	s.Update(tick("BTC", "103", base.Add(4*time.Second)))
	assert.Equal(t, []float64{101, 102, 103}, s.History("BTC"))
	assert.Len(t, s.Prices(), 1)
}

func TestSummarize(t *testing.T) {
	empty := Summarize("BTC", nil)
	assert.Equal(t, 0, empty.Samples)
	assert.Equal(t, "unknown", empty.Trend())

	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	s := Summarize("BTC", closes)
	assert.Equal(t, 40, s.Samples)
	assert.Equal(t, 139.0, s.Last)
	assert.Equal(t, 100.0, s.Low)
	assert.Equal(t, 139.0, s.High)
	assert.InDelta(t, 0.39, s.ChangePct, 1e-9)
	assert.Greater(t, s.EMAFast, s.EMASlow)
	assert.Equal(t, "up", s.Trend())
	assert.False(t, math.IsNaN(s.RSI))
	assert.Contains(t, s.String(), "BTC last=139")
}

func TestBinanceStreamThrottlesPerSymbol(t *testing.T) {
	s := NewBinanceStream([]string{"BTC"}, time.Hour)
	var (
		mu    sync.Mutex
		ticks []PriceTick
	)
	served := make(chan string, 1)
	s.serve = func(symbol string, h binance.WsAggTradeHandler, _ binance.ErrHandler) (chan struct{}, chan struct{}, error) {
		served <- symbol
		h(&binance.WsAggTradeEvent{Symbol: symbol, Price: "100.5", TradeTime: 1700000000000})
		h(&binance.WsAggTradeEvent{Symbol: symbol, Price: "101", TradeTime: 1700000000100})
		doneC := make(chan struct{})
		stopC := make(chan struct{})
		go func() {
			<-stopC
			close(doneC)
		}()
		return doneC, stopC, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx, func(pt PriceTick) {
			mu.Lock()
			ticks = append(ticks, pt)
			mu.Unlock()
		})
		close(done)
	}()
	assert.Equal(t, "BTCUSDT", <-served)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ticks, 1)
	assert.Equal(t, "BTC", ticks[0].Symbol)
	assert.True(t, ticks[0].Price.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, int64(1700000000000), ticks[0].At.UnixMilli())
}
