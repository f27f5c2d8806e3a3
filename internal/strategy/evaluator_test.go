package strategy

import (
	"testing"
	"time"

	"arena/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

func btcTick() market.PriceTick {
	return market.PriceTick{Symbol: "BTC", Price: decimal.NewFromInt(50000), At: t0}
}

func newEval(now *time.Time) *Evaluator {
	return NewEvaluator().WithClock(func() time.Time { return *now })
}

func TestTickBatchFiresOncePerBatch(t *testing.T) {
	now := t0
	e := newEval(&now)
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeTickBatch, TickBatchSize: 3, Enabled: true}))

	for i := 0; i < 2; i++ {
		assert.Empty(t, e.OnTick(btcTick()))
	}
	fires := e.OnTick(btcTick())
	require.Len(t, fires, 1)
	assert.Equal(t, ModeTickBatch, fires[0].Mode)
	assert.Equal(t, "BTC", fires[0].Symbol)
	assert.Equal(t, StateArmed, e.State(1))
	e.Dispatched(1)
	assert.Equal(t, StateIdle, e.State(1))

	// 计数已清零
	assert.Empty(t, e.OnTick(btcTick()))
	assert.Empty(t, e.OnTick(btcTick()))
}

func TestTickBatchIgnoresIrrelevantSymbols(t *testing.T) {
	now := t0
	e := newEval(&now)
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeTickBatch, TickBatchSize: 1, Enabled: true, Symbols: []string{"ETH"}}))
	assert.Empty(t, e.OnTick(btcTick()))
	assert.Len(t, e.OnTick(market.PriceTick{Symbol: "ETHUSDT", Price: decimal.NewFromInt(3000), At: t0}), 1)
}

func TestRealtimeFiresEveryTick(t *testing.T) {
	now := t0
	e := newEval(&now)
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeRealtime, Enabled: true}))
	require.NoError(t, e.Upsert(Config{AccountID: 2, Mode: ModeRealtime, Enabled: false}))
	for i := 0; i < 3; i++ {
		fires := e.OnTick(btcTick())
		require.Len(t, fires, 1)
		assert.EqualValues(t, 1, fires[0].AccountID)
	}
	assert.Equal(t, StateDisabled, e.State(2))
	assert.Empty(t, e.OnTimer(now.Add(time.Hour)))
}

func TestIntervalMode(t *testing.T) {
	now := t0
	e := newEval(&now)
	last := t0
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeInterval, IntervalSeconds: 5, Enabled: true, LastTriggerAt: &last}))

	assert.Empty(t, e.OnTimer(t0.Add(3*time.Second)))
	assert.Empty(t, e.OnTick(btcTick()))
	fires := e.OnTimer(t0.Add(5 * time.Second))
	require.Len(t, fires, 1)
	assert.Empty(t, e.OnTimer(t0.Add(6*time.Second)))
	assert.Len(t, e.OnTimer(t0.Add(10*time.Second)), 1)

	cfg, ok := e.Config(1)
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), *cfg.LastTriggerAt)
}

func TestIntervalWithoutHistoryFiresImmediately(t *testing.T) {
	now := t0
	e := newEval(&now)
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeInterval, IntervalSeconds: 60, Enabled: true}))
	assert.Len(t, e.OnTimer(t0), 1)
	assert.Empty(t, e.OnTimer(t0.Add(time.Second)))
}

func TestModeChangeResetsCounters(t *testing.T) {
	now := t0
	e := newEval(&now)
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeTickBatch, TickBatchSize: 2, Enabled: true}))
	assert.Empty(t, e.OnTick(btcTick()))

	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeInterval, IntervalSeconds: 5, TickBatchSize: 2, Enabled: true}))
	assert.Empty(t, e.OnTimer(t0.Add(time.Second)), "interval starts from the switch, not from history")
	assert.Len(t, e.OnTimer(t0.Add(5*time.Second)), 1)

	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeTickBatch, TickBatchSize: 2, Enabled: true}))
	assert.Empty(t, e.OnTick(btcTick()), "stale tick count must not survive the round trip")
	assert.Len(t, e.OnTick(btcTick()), 1)
}

func TestEnableStartsFresh(t *testing.T) {
	now := t0
	e := newEval(&now)
	old := t0.Add(-time.Hour)
	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeInterval, IntervalSeconds: 10, Enabled: false, LastTriggerAt: &old}))
	assert.Empty(t, e.OnTimer(t0))

	require.NoError(t, e.Upsert(Config{AccountID: 1, Mode: ModeInterval, IntervalSeconds: 10, Enabled: true, LastTriggerAt: &old}))
	assert.Equal(t, StateIdle, e.State(1))
	assert.Empty(t, e.OnTimer(t0.Add(9*time.Second)))
	assert.Len(t, e.OnTimer(t0.Add(10*time.Second)), 1)
}

func TestUpsertValidation(t *testing.T) {
	e := NewEvaluator()
	assert.Error(t, e.Upsert(Config{AccountID: 1, Mode: "hourly", Enabled: true}))
	assert.Error(t, e.Upsert(Config{AccountID: 1, Mode: ModeInterval, Enabled: true}))
	assert.Error(t, e.Upsert(Config{AccountID: 1, Mode: ModeTickBatch, Enabled: true}))
	assert.Error(t, e.Upsert(Config{Mode: ModeRealtime}))

	require.NoError(t, e.Upsert(Config{AccountID: 4, Mode: ModeRealtime, Enabled: true}))
	assert.Equal(t, []int64{4}, e.Accounts())
	e.Remove(4)
	assert.Empty(t, e.Accounts())
	assert.Equal(t, StateDisabled, e.State(4))
}
