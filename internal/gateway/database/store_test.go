package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arena/internal/decision"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStrategySeedAndUpsert(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.SeedStrategy(ctx, StrategyRecord{AccountID: 1, TriggerMode: "interval", IntervalSeconds: 30, TickBatchSize: 1, Enabled: true}))
	// 已存在时种子不覆盖
	require.NoError(t, s.SeedStrategy(ctx, StrategyRecord{AccountID: 1, TriggerMode: "realtime", IntervalSeconds: 1, TickBatchSize: 1, Enabled: false}))

	at := time.UnixMilli(1700000000123).UTC()
	require.NoError(t, s.SetLastTrigger(ctx, 1, at))

	recs, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "interval", recs[0].TriggerMode)
	assert.Equal(t, 30, recs[0].IntervalSeconds)
	assert.True(t, recs[0].Enabled)
	require.NotNil(t, recs[0].LastTriggerAt)
	assert.True(t, at.Equal(*recs[0].LastTriggerAt))

	require.NoError(t, s.UpsertStrategy(ctx, StrategyRecord{AccountID: 1, TriggerMode: "tick_batch", IntervalSeconds: 30, TickBatchSize: 5, Enabled: true}))
	recs, err = s.ListStrategies(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tick_batch", recs[0].TriggerMode)
	assert.Equal(t, 5, recs[0].TickBatchSize)
	require.NotNil(t, recs[0].LastTriggerAt, "last_trigger_at survives config updates")
}

func TestRecordAndListDecisions(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000).UTC()

	require.NoError(t, s.RecordOutcome(ctx, decision.Outcome{
		AccountID: 2, Time: base, Operation: decision.OpNone, Failure: decision.FailureFetch, Reason: "fetch_failure: timeout",
	}))
	require.NoError(t, s.RecordOutcome(ctx, decision.Outcome{
		AccountID: 2, Time: base.Add(time.Second), Operation: decision.OpBuy, Symbol: "BTC",
		PrevPortion: decimal.Zero, TargetPortion: decimal.RequireFromString("0.5"),
		TotalBalance: decimal.RequireFromString("1000"), Executed: true, OrderID: "42", Reason: "trend",
	}))
	require.NoError(t, s.RecordOutcome(ctx, decision.Outcome{AccountID: 3, Time: base, Operation: decision.OpHold}))

	got, err := s.ListDecisions(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, decision.OpBuy, got[0].Operation)
	assert.True(t, got[0].Executed)
	assert.Equal(t, "42", got[0].OrderID)
	assert.True(t, got[0].TargetPortion.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, decision.FailureFetch, got[1].Failure)
	assert.Empty(t, got[1].Symbol)

	got, err = s.ListDecisions(ctx, 2, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRecordTradeIdempotent(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	tr := decision.Trade{
		ID: "t-1", AccountID: 1, OrderID: "9", Symbol: "ETH", Side: "SELL",
		Quantity: decimal.RequireFromString("0.1"), Price: decimal.RequireFromString("3000"),
		Notional: decimal.RequireFromString("300"), Time: time.Now(),
	}
	require.NoError(t, s.RecordTrade(ctx, tr))
	require.NoError(t, s.RecordTrade(ctx, tr))
	got, err := s.ListTrades(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Notional.Equal(decimal.RequireFromString("300")))
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arena.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ListStrategies(context.Background())
	assert.Error(t, err)
	_, err = Open(" ")
	assert.Error(t, err)
}
