package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/events"
	"arena/internal/executor"
	"arena/internal/gateway/database"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/statecache"
	"arena/internal/strategy"
	livehttp "arena/internal/transport/http/live"
)

// TickSource 行情推送源，阻塞直到 ctx 取消。
type TickSource interface {
	Run(ctx context.Context, h market.TickHandler) error
}

// StrategyStore 策略配置的持久化。
type StrategyStore interface {
	SeedStrategy(ctx context.Context, rec database.StrategyRecord) error
	UpsertStrategy(ctx context.Context, rec database.StrategyRecord) error
	ListStrategies(ctx context.Context) ([]database.StrategyRecord, error)
	SetLastTrigger(ctx context.Context, accountID int64, at time.Time) error
}

// DecisionRunner 单账户决策执行。
type DecisionRunner interface {
	Run(ctx context.Context, accountID int64) (decision.Outcome, executor.RunStatus)
}

// AccountState 余额/持仓缓存。
type AccountState interface {
	GetOrRefresh(ctx context.Context, accountID int64) (statecache.Snapshot, error)
	Invalidate(accountID int64)
}

// LiveService 负责行情驱动、定时触发与决策派发。
type LiveService struct {
	cfg       *config.Config
	accounts  *accountDirectory
	store     StrategyStore
	evaluator *strategy.Evaluator
	prices    *market.PriceStore
	stream    TickSource
	exec      DecisionRunner
	cache     AccountState
	lastOut   *lastOutcomeCache

	timerEvery   time.Duration
	refreshEvery time.Duration
	persistWait  time.Duration

	mu         sync.Mutex
	closing    bool
	inflight   sync.WaitGroup
	strategyMu sync.Mutex
}

// Run 启动调度循环，直到 ctx 取消；返回前等待所有在途决策结束。
func (s *LiveService) Run(ctx context.Context) error {
	if s == nil || s.evaluator == nil || s.exec == nil {
		return fmt.Errorf("live service not initialized")
	}
	if err := s.loadStrategies(ctx, true); err != nil {
		return err
	}
	logger.Infof("✓ 调度器启动，账户数=%d", len(s.evaluator.Accounts()))

	var streams sync.WaitGroup
	if s.stream != nil {
		streams.Add(1)
		go func() {
			defer streams.Done()
			if err := s.stream.Run(ctx, s.onTick); err != nil && ctx.Err() == nil {
				logger.Warnf("行情流退出: %v", err)
			}
		}()
	}

	timer := time.NewTicker(s.timerEvery)
	defer timer.Stop()
	reload := time.NewTicker(s.refreshEvery)
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopDispatch()
			streams.Wait()
			s.inflight.Wait()
			logger.Infof("✓ 调度器已停止")
			return nil
		case now := <-timer.C:
			s.dispatch(ctx, s.evaluator.OnTimer(now))
		case <-reload.C:
			if err := s.loadStrategies(ctx, false); err != nil {
				logger.Warnf("刷新策略失败: %v", err)
			}
		}
	}
}

func (s *LiveService) onTick(t market.PriceTick) {
	if !s.prices.Update(t) {
		return
	}
	s.dispatch(context.Background(), s.evaluator.OnTick(t))
}

func (s *LiveService) stopDispatch() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

// dispatch 每次触发独立 goroutine 执行；关闭后不再派发。
func (s *LiveService) dispatch(ctx context.Context, fires []strategy.Fire) {
	for _, f := range fires {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()

		go s.execute(ctx, f)
		s.evaluator.Dispatched(f.AccountID)
	}
}

func (s *LiveService) execute(ctx context.Context, f strategy.Fire) {
	defer s.inflight.Done()
	if s.store != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistWait)
		if err := s.store.SetLastTrigger(pctx, f.AccountID, f.At); err != nil {
			logger.Warnf("账户 %d 写入 last_trigger_at 失败: %v", f.AccountID, err)
		}
		cancel()
	}
	logger.Debugf("账户 %d 触发(%s) symbol=%s", f.AccountID, f.Mode, f.Symbol)
	out, status := s.exec.Run(ctx, f.AccountID)
	if status == executor.RunSkipped {
		return
	}
	s.lastOut.Set(out)
	if out.Failure != decision.FailureNone {
		logger.Warnf("账户 %d 决策失败: %s", f.AccountID, out.Reason)
		return
	}
	logger.Infof("✓ 账户 %d 决策完成: op=%s symbol=%s target=%s executed=%v",
		f.AccountID, out.Operation, out.Symbol, out.TargetPortion.StringFixed(4), out.Executed)
}

// loadStrategies seed=true 时先把配置文件中的默认策略写入（已存在则忽略）。
func (s *LiveService) loadStrategies(ctx context.Context, seed bool) error {
	s.strategyMu.Lock()
	defer s.strategyMu.Unlock()

	loaded := make(map[int64]bool, len(s.cfg.Accounts))
	if s.store == nil {
		for _, acc := range s.cfg.Accounts {
			if err := s.evaluator.Upsert(defaultStrategy(acc)); err != nil {
				logger.Warnf("账户 %d 策略无效: %v", acc.ID, err)
				continue
			}
			loaded[acc.ID] = true
		}
		s.pruneStrategies(loaded)
		return nil
	}
	if seed {
		for _, acc := range s.cfg.Accounts {
			if err := s.store.SeedStrategy(ctx, strategyRecord(defaultStrategy(acc))); err != nil {
				return err
			}
		}
	}
	recs, err := s.store.ListStrategies(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		acc, ok := s.accounts.accounts[rec.AccountID]
		if !ok {
			continue
		}
		cfg := strategy.Config{
			AccountID:       rec.AccountID,
			Mode:            strategy.Mode(rec.TriggerMode),
			IntervalSeconds: rec.IntervalSeconds,
			TickBatchSize:   rec.TickBatchSize,
			Enabled:         rec.Enabled && acc.Enabled,
			LastTriggerAt:   rec.LastTriggerAt,
			Symbols:         acc.Symbols,
		}
		if err := s.evaluator.Upsert(cfg); err != nil {
			logger.Warnf("账户 %d 策略无效: %v", rec.AccountID, err)
			continue
		}
		loaded[rec.AccountID] = true
	}
	s.pruneStrategies(loaded)
	return nil
}

// pruneStrategies 本轮未加载到有效策略的账户退出判定。
func (s *LiveService) pruneStrategies(loaded map[int64]bool) {
	for _, id := range s.evaluator.Accounts() {
		if loaded[id] {
			continue
		}
		s.evaluator.Remove(id)
		logger.Infof("账户 %d 策略已移除，停止触发", id)
	}
}

func strategyRecord(cfg strategy.Config) database.StrategyRecord {
	return database.StrategyRecord{
		AccountID:       cfg.AccountID,
		TriggerMode:     string(cfg.Mode),
		IntervalSeconds: cfg.IntervalSeconds,
		TickBatchSize:   cfg.TickBatchSize,
		Enabled:         cfg.Enabled,
	}
}

// UpdateStrategy 先落库再生效；未出现的字段沿用当前值。
func (s *LiveService) UpdateStrategy(ctx context.Context, accountID int64, upd livehttp.StrategyUpdate) (strategy.Config, error) {
	acc, ok := s.accounts.accounts[accountID]
	if !ok {
		return strategy.Config{}, livehttp.ErrUnknownAccount
	}
	s.strategyMu.Lock()
	defer s.strategyMu.Unlock()

	cfg, ok := s.evaluator.Config(accountID)
	if !ok {
		cfg = defaultStrategy(acc)
	}
	if upd.TriggerMode != nil {
		cfg.Mode = strategy.Mode(*upd.TriggerMode)
	}
	if upd.IntervalSeconds != nil {
		cfg.IntervalSeconds = *upd.IntervalSeconds
	}
	if upd.TickBatchSize != nil {
		cfg.TickBatchSize = *upd.TickBatchSize
	}
	if upd.Enabled != nil {
		cfg.Enabled = *upd.Enabled
	}
	if err := cfg.Validate(); err != nil {
		return strategy.Config{}, fmt.Errorf("%w: %v", livehttp.ErrInvalidStrategy, err)
	}
	if s.store != nil {
		if err := s.store.UpsertStrategy(ctx, strategyRecord(cfg)); err != nil {
			return strategy.Config{}, err
		}
	}
	cfg.Enabled = cfg.Enabled && acc.Enabled
	cfg.Symbols = acc.Symbols
	if err := s.evaluator.Upsert(cfg); err != nil {
		return strategy.Config{}, fmt.Errorf("%w: %v", livehttp.ErrInvalidStrategy, err)
	}
	logger.Infof("✓ 账户 %d 策略更新: mode=%s enabled=%v", accountID, cfg.Mode, cfg.Enabled)
	out, _ := s.evaluator.Config(accountID)
	return out, nil
}

// Refresh 用户主动刷新：先失效缓存，再重新拉取。
func (s *LiveService) Refresh(ctx context.Context, accountID int64) (livehttp.AccountView, error) {
	if !s.accounts.Known(accountID) {
		return livehttp.AccountView{}, livehttp.ErrUnknownAccount
	}
	s.cache.Invalidate(accountID)
	return s.State(ctx, accountID)
}

func (s *LiveService) State(ctx context.Context, accountID int64) (livehttp.AccountView, error) {
	info, ok := s.accounts.Account(accountID)
	if !ok {
		return livehttp.AccountView{}, livehttp.ErrUnknownAccount
	}
	snap, err := s.cache.GetOrRefresh(ctx, accountID)
	if err != nil {
		return livehttp.AccountView{}, err
	}
	pf := executor.BuildPortfolio(snap, s.prices.Prices())
	view := livehttp.AccountView{
		AccountID:    accountID,
		Name:         info.Name,
		Balance:      snap.Balance,
		Positions:    snap.Positions,
		Total:        pf.Total,
		FetchedAt:    snap.FetchedAt,
		TriggerState: string(s.evaluator.State(accountID)),
	}
	if cfg, ok := s.evaluator.Config(accountID); ok {
		view.TriggerMode = string(cfg.Mode)
		view.LastTrigger = cfg.LastTriggerAt
	}
	if out, ok := s.lastOut.Last(accountID); ok {
		view.LastOutcome = &out
	}
	return view, nil
}

// publishSnapshot 缓存刷新成功后广播余额与持仓。
func publishSnapshot(bus *events.Broadcaster) func(statecache.Snapshot) {
	return func(snap statecache.Snapshot) {
		bus.Publish(events.New(events.KindBalance, snap.AccountID, snap.Balance))
		bus.Publish(events.New(events.KindPosition, snap.AccountID, snap.Positions))
	}
}
