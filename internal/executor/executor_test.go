package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arena/internal/decision"
	"arena/internal/events"
	"arena/internal/gateway/exchange"
	"arena/internal/market"
	"arena/internal/statecache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeGateway struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions []exchange.Position
	fetchErr  error
	orderErr  error
	orders    []exchange.OrderRequest
	fetches   atomic.Int32
}

func (g *fakeGateway) FetchBalanceAndPositions(context.Context, int64) (exchange.Balance, []exchange.Position, error) {
	g.fetches.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return exchange.Balance{}, nil, g.fetchErr
	}
	return exchange.Balance{Cash: g.cash, Currency: "USDT"}, append([]exchange.Position(nil), g.positions...), nil
}

func (g *fakeGateway) SubmitOrder(_ context.Context, _ int64, req exchange.OrderRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return "", g.orderErr
	}
	g.orders = append(g.orders, req)
	return "ord-1", nil
}

func (g *fakeGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

type fakeReasoner struct {
	dec   decision.Decision
	err   error
	delay time.Duration
	calls atomic.Int32
	last  decision.Request
	mu    sync.Mutex
}

func (r *fakeReasoner) Decide(ctx context.Context, req decision.Request) (decision.Decision, error) {
	r.calls.Add(1)
	r.mu.Lock()
	r.last = req
	r.mu.Unlock()
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return decision.Decision{}, ctx.Err()
		}
	}
	return r.dec, r.err
}

type memRecorder struct {
	mu       sync.Mutex
	outcomes []decision.Outcome
	trades   []decision.Trade
}

func (m *memRecorder) RecordOutcome(_ context.Context, out decision.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, out)
	return nil
}

func (m *memRecorder) RecordTrade(_ context.Context, tr decision.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, tr)
	return nil
}

type noLimit struct{}

func (noLimit) Acquire(context.Context) error { return nil }

type fixture struct {
	gw       *fakeGateway
	reasoner *fakeReasoner
	cache    *statecache.Cache
	prices   *market.PriceStore
	rec      *memRecorder
	bus      *events.Broadcaster
	exec     *Executor
}

func newFixture(t *testing.T, dec decision.Decision) *fixture {
	t.Helper()
	f := &fixture{
		gw:       &fakeGateway{cash: d("1000")},
		reasoner: &fakeReasoner{dec: dec},
		prices:   market.NewPriceStore(10),
		rec:      &memRecorder{},
		bus:      events.NewBroadcaster(16),
	}
	f.cache = statecache.New(f.gw, noLimit{}, 5*time.Second)
	f.prices.Update(market.PriceTick{Symbol: "BTC", Price: d("50000"), At: time.Now()})
	rules := DefaultSizingRules()
	rules.StepSizes["BTC"] = d("0.00001")
	f.exec = New(Deps{
		Cache:     f.cache,
		Limiter:   noLimit{},
		Gateway:   f.gw,
		Reasoner:  f.reasoner,
		Prices:    f.prices,
		Recorder:  f.rec,
		Publisher: f.bus,
	}, Options{Rules: rules, DefaultSymbols: []string{"BTC", "ETH"}})
	return f
}

func TestBuyHalfOfCash(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: d("0.5"), Reason: "trend"})
	sub, cancel := f.bus.Subscribe()
	defer cancel()

	out, status := f.exec.Run(context.Background(), 1)
	require.Equal(t, RunCompleted, status)
	assert.True(t, out.Executed)
	assert.Equal(t, "ord-1", out.OrderID)
	assert.Equal(t, decision.OpBuy, out.Operation)
	assert.True(t, out.TotalBalance.Equal(d("1000")))
	assert.True(t, out.PrevPortion.IsZero())

	require.Equal(t, 1, f.gw.orderCount())
	order := f.gw.orders[0]
	assert.Equal(t, exchange.SideBuy, order.Side)
	assert.Equal(t, exchange.OrderTypeMarket, order.Type)
	assert.Equal(t, "BTC", order.Symbol)
	assert.True(t, order.Quantity.Equal(d("0.01")), order.Quantity.String())

	_, cached := f.cache.Peek(1)
	assert.False(t, cached, "cache must be invalidated after an order")

	require.Len(t, f.rec.outcomes, 1)
	require.Len(t, f.rec.trades, 1)
	assert.True(t, f.rec.trades[0].Notional.Equal(d("500")))

	kinds := []events.Kind{(<-sub).Kind, (<-sub).Kind}
	assert.Equal(t, []events.Kind{events.KindTrade, events.KindDecision}, kinds)

	f.reasoner.mu.Lock()
	req := f.reasoner.last
	f.reasoner.mu.Unlock()
	assert.Equal(t, []string{"BTC", "ETH"}, req.Permitted)
	assert.True(t, req.Prices["BTC"].Equal(d("50000")))
	require.Len(t, req.Markets, 2)
}

func TestTargetEqualsCurrentHasNoSideEffects(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: d("0.5")})
	f.gw.cash = d("500")
	f.gw.positions = []exchange.Position{{Symbol: "BTC", Quantity: d("0.01"), Available: d("0.01")}}

	out, _ := f.exec.Run(context.Background(), 1)
	assert.False(t, out.Executed)
	assert.Empty(t, out.Failure)
	assert.True(t, out.PrevPortion.Equal(d("0.5")))
	assert.Equal(t, 0, f.gw.orderCount())
	_, cached := f.cache.Peek(1)
	assert.True(t, cached)
}

func TestHoldDoesNotTrade(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpHold, Reason: "wait"})
	out, _ := f.exec.Run(context.Background(), 1)
	assert.Equal(t, decision.OpHold, out.Operation)
	assert.False(t, out.Executed)
	assert.Empty(t, out.Failure)
	assert.Equal(t, 0, f.gw.orderCount())
}

func TestSellCappedByAvailable(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpSell, Symbol: "BTC", TargetPortion: d("0")})
	f.gw.cash = d("0")
	f.gw.positions = []exchange.Position{{Symbol: "BTC", Quantity: d("0.02"), Available: d("0.015")}}

	out, _ := f.exec.Run(context.Background(), 1)
	require.True(t, out.Executed)
	require.Equal(t, 1, f.gw.orderCount())
	assert.Equal(t, exchange.SideSell, f.gw.orders[0].Side)
	assert.True(t, f.gw.orders[0].Quantity.Equal(d("0.015")))
}

func TestTinyOrderIsNoChange(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: d("0.005")})
	out, _ := f.exec.Run(context.Background(), 1)
	assert.False(t, out.Executed)
	assert.Empty(t, out.Failure)
	assert.Equal(t, 0, f.gw.orderCount())
}

func TestFailuresProduceOutcomes(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newFixture(t, decision.Decision{Operation: decision.OpHold})
		f.gw.fetchErr = exchange.Errorf(exchange.KindNetwork, "account", "timeout")
		out, status := f.exec.Run(context.Background(), 1)
		assert.Equal(t, RunCompleted, status)
		assert.Equal(t, decision.OpNone, out.Operation)
		assert.Equal(t, decision.FailureFetch, out.Failure)
		assert.EqualValues(t, 0, f.reasoner.calls.Load())
		assert.Len(t, f.rec.outcomes, 1)
	})
	t.Run("reasoning", func(t *testing.T) {
		f := newFixture(t, decision.Decision{})
		f.reasoner.err = errors.New("model down")
		out, _ := f.exec.Run(context.Background(), 1)
		assert.Equal(t, decision.FailureReasoning, out.Failure)
		assert.Contains(t, out.Reason, "model down")
		assert.True(t, out.TotalBalance.Equal(d("1000")))
	})
	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, decision.Decision{Operation: decision.OpBuy, Symbol: "DOGE", TargetPortion: d("0.2")})
		out, _ := f.exec.Run(context.Background(), 1)
		assert.Equal(t, decision.FailureValidation, out.Failure)
		assert.Equal(t, decision.OpNone, out.Operation)
	})
	t.Run("direction", func(t *testing.T) {
		f := newFixture(t, decision.Decision{Operation: decision.OpSell, Symbol: "BTC", TargetPortion: d("0.3")})
		out, _ := f.exec.Run(context.Background(), 1)
		assert.Equal(t, decision.FailureValidation, out.Failure)
		assert.Equal(t, 0, f.gw.orderCount())
	})
	t.Run("order", func(t *testing.T) {
		f := newFixture(t, decision.Decision{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: d("0.5")})
		f.gw.orderErr = exchange.Errorf(exchange.KindRejected, "order", "insufficient balance")
		out, _ := f.exec.Run(context.Background(), 1)
		assert.False(t, out.Executed)
		assert.Equal(t, decision.FailureOrder, out.Failure)
		_, cached := f.cache.Peek(1)
		assert.False(t, cached)
		assert.Empty(t, f.rec.trades)
	})
}

func TestAtMostOneRunPerAccount(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpHold})
	var active, maxActive atomic.Int32
	f.exec.Reasoner = reasonerFunc(func(ctx context.Context, req decision.Request) (decision.Decision, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		return decision.Decision{Operation: decision.OpHold}, nil
	})

	var wg sync.WaitGroup
	var completed atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, st := f.exec.Run(context.Background(), 1); st == RunCompleted {
				completed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxActive.Load())
	assert.EqualValues(t, 20, uint64(completed.Load())+f.exec.Skips())
	assert.Greater(t, f.exec.Skips(), uint64(0))
	assert.False(t, f.exec.Guard.Active(1))
}

func TestCancelledCallerDoesNotAbortRun(t *testing.T) {
	f := newFixture(t, decision.Decision{Operation: decision.OpHold})
	f.reasoner.delay = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, status := f.exec.Run(ctx, 1)
	assert.Equal(t, RunCompleted, status)
	assert.Equal(t, decision.OpHold, out.Operation)
	assert.Empty(t, out.Failure)
}

type fakeQuoter struct {
	quotes map[string]decimal.Decimal
	err    error
	asked  []string
}

func (q *fakeQuoter) Quote(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	q.asked = append(q.asked, symbols...)
	if q.err != nil {
		return nil, q.err
	}
	out := map[string]decimal.Decimal{}
	for _, sym := range symbols {
		if p, ok := q.quotes[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

func TestPricingOfHoldingsAndTargets(t *testing.T) {
	cases := []struct {
		name       string
		dec        decision.Decision
		positions  []exchange.Position
		quoter     *fakeQuoter
		failure    decision.Failure
		reasoned   bool
		orders     int
		total      string
		prev       string
		orderQty   string
		orderSide  exchange.Side
		orderSym   string
		askedQuote []string
	}{
		{
			name:      "sell of held asset without tick",
			dec:       decision.Decision{Operation: decision.OpSell, Symbol: "ETH", TargetPortion: d("0"), Reason: "close"},
			positions: []exchange.Position{{Symbol: "ETH", Quantity: d("0.5"), Available: d("0.5")}},
			failure:   decision.FailureFetch,
		},
		{
			name:     "buy of symbol without tick",
			dec:      decision.Decision{Operation: decision.OpBuy, Symbol: "ETH", TargetPortion: d("0.2")},
			failure:  decision.FailureFetch,
			reasoned: true,
			total:    "1000",
		},
		{
			name:     "sell to zero of unheld symbol without tick",
			dec:      decision.Decision{Operation: decision.OpSell, Symbol: "ETH", TargetPortion: d("0")},
			failure:  decision.FailureFetch,
			reasoned: true,
			total:    "1000",
		},
		{
			name:       "held asset priced by quoter",
			dec:        decision.Decision{Operation: decision.OpSell, Symbol: "ETH", TargetPortion: d("0")},
			positions:  []exchange.Position{{Symbol: "ETH", Quantity: d("0.5"), Available: d("0.5")}},
			quoter:     &fakeQuoter{quotes: map[string]decimal.Decimal{"ETH": d("2000")}},
			reasoned:   true,
			orders:     1,
			total:      "2000",
			prev:       "0.5",
			orderQty:   "0.5",
			orderSide:  exchange.SideSell,
			orderSym:   "ETH",
			askedQuote: []string{"ETH"},
		},
		{
			name:      "holding outside permitted symbols counts toward total",
			dec:       decision.Decision{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: d("0.25")},
			positions: []exchange.Position{{Symbol: "SOL", Quantity: d("10"), Available: d("10")}},
			quoter:    &fakeQuoter{quotes: map[string]decimal.Decimal{"SOL": d("100")}},
			reasoned:  true,
			orders:    1,
			total:     "2000",
			prev:      "0",
			// 0.25 * 2000 = 500 -> 0.01 BTC
			orderQty:   "0.01",
			orderSide:  exchange.SideBuy,
			orderSym:   "BTC",
			askedQuote: []string{"ETH", "SOL"},
		},
		{
			name:      "holding outside permitted symbols without price",
			dec:       decision.Decision{Operation: decision.OpBuy, Symbol: "BTC", TargetPortion: d("0.25")},
			positions: []exchange.Position{{Symbol: "SOL", Quantity: d("10"), Available: d("10")}},
			quoter:    &fakeQuoter{err: errors.New("timeout")},
			failure:   decision.FailureFetch,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.dec)
			f.gw.positions = tc.positions
			if tc.quoter != nil {
				f.exec.Quoter = tc.quoter
			}

			out, status := f.exec.Run(context.Background(), 1)
			require.Equal(t, RunCompleted, status)
			assert.Equal(t, tc.failure, out.Failure, out.Reason)
			assert.Equal(t, tc.orders, f.gw.orderCount())
			assert.Equal(t, tc.reasoned, f.reasoner.calls.Load() > 0)
			if tc.failure != decision.FailureNone {
				assert.False(t, out.Executed)
				assert.Contains(t, out.Reason, "最新价格")
			}
			if tc.total != "" {
				assert.True(t, out.TotalBalance.Equal(d(tc.total)), out.TotalBalance.String())
			}
			if tc.prev != "" {
				assert.True(t, out.PrevPortion.Equal(d(tc.prev)), out.PrevPortion.String())
			}
			if tc.orders > 0 {
				order := f.gw.orders[0]
				assert.Equal(t, tc.orderSide, order.Side)
				assert.Equal(t, tc.orderSym, order.Symbol)
				assert.True(t, order.Quantity.Equal(d(tc.orderQty)), order.Quantity.String())
				assert.True(t, out.Executed)
			}
			if tc.askedQuote != nil {
				assert.ElementsMatch(t, tc.askedQuote, tc.quoter.asked)
			}
		})
	}
}

type reasonerFunc func(ctx context.Context, req decision.Request) (decision.Decision, error)

func (f reasonerFunc) Decide(ctx context.Context, req decision.Request) (decision.Decision, error) {
	return f(ctx, req)
}
