package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"arena/internal/coins"
	"arena/internal/decision"
	"arena/internal/events"
	"arena/internal/gateway/exchange"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/statecache"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reasoner 外部推理调用：账户上下文 -> 决策。
type Reasoner interface {
	Decide(ctx context.Context, req decision.Request) (decision.Decision, error)
}

// Recorder 决策与成交落库。
type Recorder interface {
	RecordOutcome(ctx context.Context, out decision.Outcome) error
	RecordTrade(ctx context.Context, tr decision.Trade) error
}

// Publisher 事件广播。
type Publisher interface {
	Publish(ev events.Event)
}

// StateCache 余额/持仓缓存。
type StateCache interface {
	GetOrRefresh(ctx context.Context, accountID int64) (statecache.Snapshot, error)
	Invalidate(accountID int64)
}

// Limiter 进程级交易所限速。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// PriceSource 最新价与近期价格序列。
type PriceSource interface {
	Last(symbol string) (market.PriceTick, bool)
	History(symbol string) []float64
}

// Quoter 可选：本地无行情的币种按需查询最新价。
type Quoter interface {
	Quote(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// AccountInfo 决策所需的账户静态信息。
type AccountInfo struct {
	ID      int64
	Name    string
	Symbols []string
}

// AccountLookup 返回账户名称与允许交易的币种。
type AccountLookup interface {
	Account(accountID int64) (AccountInfo, bool)
}

// LastOutcomes 可选：提供上一轮结果给提示词。
type LastOutcomes interface {
	Last(accountID int64) (decision.Outcome, bool)
}

// RunStatus Run 的结果类型。
type RunStatus int

const (
	RunCompleted RunStatus = iota
	// RunSkipped 同账户已有运行中的决策，本次触发被丢弃，不产生 Outcome。
	RunSkipped
)

func (s RunStatus) String() string {
	if s == RunSkipped {
		return "skipped"
	}
	return "completed"
}

// Options 各外部调用的超时与数值参数。
type Options struct {
	FetchTimeout   time.Duration
	ReasonTimeout  time.Duration
	OrderTimeout   time.Duration
	PortionEpsilon decimal.Decimal
	Rules          SizingRules
	DefaultSymbols []string
}

func (o *Options) applyDefaults() {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.ReasonTimeout <= 0 {
		o.ReasonTimeout = 30 * time.Second
	}
	if o.OrderTimeout <= 0 {
		o.OrderTimeout = 15 * time.Second
	}
	if !o.PortionEpsilon.IsPositive() {
		o.PortionEpsilon = decimal.New(1, -3)
	}
	if o.Rules.StepSizes == nil {
		o.Rules = DefaultSizingRules()
	}
}

// Deps Executor 的协作者。Recorder/Publisher/Accounts/History 可为空。
type Deps struct {
	Guard     *Guard
	Cache     StateCache
	Limiter   Limiter
	Gateway   exchange.Gateway
	Reasoner  Reasoner
	Prices    PriceSource
	Quoter    Quoter
	Recorder  Recorder
	Publisher Publisher
	Accounts  AccountLookup
	History   LastOutcomes
}

// Executor 编排一次决策：取状态、推理、校验、下单、记录、广播。
type Executor struct {
	Deps
	opts  Options
	skips atomic.Uint64
	now   func() time.Time
}

func New(deps Deps, opts Options) *Executor {
	opts.applyDefaults()
	if deps.Guard == nil {
		deps.Guard = NewGuard()
	}
	return &Executor{Deps: deps, opts: opts, now: time.Now}
}

// Skips 因 Guard 被占用而跳过的触发次数。
func (e *Executor) Skips() uint64 { return e.skips.Load() }

// Run 执行一轮决策。外部 ctx 的取消不会中断进行中的运行，各步骤仅受自身超时约束。
func (e *Executor) Run(ctx context.Context, accountID int64) (decision.Outcome, RunStatus) {
	if !e.Guard.TryEnter(accountID) {
		n := e.skips.Add(1)
		logger.Infof("账户 %d 上一轮决策仍在进行，跳过本次触发 (累计 %d)", accountID, n)
		return decision.Outcome{}, RunSkipped
	}
	base := context.WithoutCancel(ctx)
	out, trade := func() (decision.Outcome, *decision.Trade) {
		defer e.Guard.Leave(accountID)
		out, trade := e.cycle(base, accountID)
		e.record(base, out, trade)
		return out, trade
	}()

	if e.Publisher != nil {
		if trade != nil {
			e.Publisher.Publish(events.New(events.KindTrade, accountID, *trade))
		}
		e.Publisher.Publish(events.New(events.KindDecision, accountID, out))
	}
	return out, RunCompleted
}

func (e *Executor) cycle(ctx context.Context, accountID int64) (decision.Outcome, *decision.Trade) {
	now := e.now()
	info := e.account(accountID)
	universe := coins.NewUniverse(info.Symbols)

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	snap, err := e.Cache.GetOrRefresh(fetchCtx, accountID)
	cancel()
	if err != nil {
		logger.Warnf("账户 %d 获取余额/持仓失败: %v", accountID, err)
		return decision.Failed(accountID, now, decision.FailureFetch, err), nil
	}

	prices := e.resolvePrices(ctx, unionSymbols(info.Symbols, HeldSymbols(snap)))
	if missing := MissingPrices(snap, prices); len(missing) > 0 {
		err := fmt.Errorf("缺少持仓 %v 最新价格，无法估值", missing)
		logger.Warnf("账户 %d %v", accountID, err)
		return decision.Failed(accountID, now, decision.FailureFetch, err), nil
	}
	pf := BuildPortfolio(snap, prices)
	req := decision.Request{
		AccountID:   accountID,
		AccountName: info.Name,
		Time:        now,
		Cash:        pf.Cash,
		Frozen:      pf.Frozen,
		Total:       pf.Total,
		Holdings:    pf.Holdings,
		Prices:      prices,
		Permitted:   info.Symbols,
	}
	if e.Prices != nil {
		for _, sym := range info.Symbols {
			req.Markets = append(req.Markets, market.Summarize(sym, e.Prices.History(sym)))
		}
	}
	if e.History != nil {
		if last, ok := e.History.Last(accountID); ok {
			req.LastOutcome = &last
		}
	}

	reasonCtx, cancel := context.WithTimeout(ctx, e.opts.ReasonTimeout)
	d, err := e.Reasoner.Decide(reasonCtx, req)
	cancel()
	if err != nil {
		logger.Warnf("账户 %d 推理失败: %v", accountID, err)
		return e.withTotal(decision.Failed(accountID, now, decision.FailureReasoning, err), pf), nil
	}
	if err := d.Validate(universe); err != nil {
		logger.Warnf("账户 %d 决策校验失败: %v", accountID, err)
		return e.withTotal(decision.Failed(accountID, now, decision.FailureValidation, err), pf), nil
	}

	out := decision.Outcome{
		AccountID:     accountID,
		Time:          now,
		Reason:        d.Reason,
		Operation:     d.Operation,
		Symbol:        d.Symbol,
		TotalBalance:  pf.Total,
		TargetPortion: d.TargetPortion,
	}
	if d.Symbol != "" {
		out.PrevPortion = pf.Holding(d.Symbol).Portion
	}
	if d.Operation == decision.OpHold {
		logger.Infof("账户 %d 决策 hold: %s", accountID, d.Reason)
		return out, nil
	}

	price, ok := prices[d.Symbol]
	if !ok {
		err := fmt.Errorf("缺少 %s 最新价格", d.Symbol)
		logger.Warnf("账户 %d %v", accountID, err)
		return e.withTotal(decision.Failed(accountID, now, decision.FailureFetch, err), pf), nil
	}

	delta := d.TargetPortion.Sub(out.PrevPortion)
	if delta.Abs().LessThanOrEqual(e.opts.PortionEpsilon) {
		logger.Infof("账户 %d %s 目标比例 %s 与当前 %s 一致，不交易",
			accountID, d.Symbol, d.TargetPortion.StringFixed(4), out.PrevPortion.StringFixed(4))
		return out, nil
	}
	side := exchange.SideBuy
	if d.Operation == decision.OpSell {
		side = exchange.SideSell
	}
	if (side == exchange.SideBuy) != delta.IsPositive() {
		err := fmt.Errorf("%w: %s 与比例变化方向不符 (当前 %s -> 目标 %s)",
			decision.ErrInvalidDecision, d.Operation, out.PrevPortion.StringFixed(4), d.TargetPortion.StringFixed(4))
		logger.Warnf("账户 %d 决策校验失败: %v", accountID, err)
		return e.withTotal(decision.Failed(accountID, now, decision.FailureValidation, err), pf), nil
	}

	plan, ok := e.opts.Rules.Plan(side, d.Symbol, delta, pf, price)
	if !ok {
		logger.Infof("账户 %d %s 下单数量取整后为 0 或低于最小名义价值，不交易", accountID, d.Symbol)
		return out, nil
	}

	orderID, err := e.submit(ctx, accountID, plan)
	// 无论成败都让下一次读取重新拉取交易所状态
	e.Cache.Invalidate(accountID)
	if err != nil {
		logger.Errorf("账户 %d 下单失败 %s %s %s: %v", accountID, plan.Side, plan.Quantity, plan.Symbol, err)
		out.Failure = decision.FailureOrder
		out.Reason = fmt.Sprintf("%s: %v", decision.FailureOrder, err)
		return out, nil
	}
	logger.Infof("✓ 账户 %d 下单成功 %s %s %s @%s 订单号 %s",
		accountID, plan.Side, plan.Quantity, plan.Symbol, plan.Price, orderID)
	out.Executed = true
	out.OrderID = orderID
	trade := &decision.Trade{
		ID:        uuid.NewString(),
		AccountID: accountID,
		OrderID:   orderID,
		Symbol:    plan.Symbol,
		Side:      string(plan.Side),
		Quantity:  plan.Quantity,
		Price:     plan.Price,
		Notional:  plan.Notional,
		Time:      e.now(),
	}
	return out, trade
}

func (e *Executor) submit(ctx context.Context, accountID int64, plan OrderPlan) (string, error) {
	octx, cancel := context.WithTimeout(ctx, e.opts.OrderTimeout)
	defer cancel()
	if err := e.Limiter.Acquire(octx); err != nil {
		return "", fmt.Errorf("限速等待失败: %w", err)
	}
	return e.Gateway.SubmitOrder(octx, accountID, exchange.OrderRequest{
		Symbol:   plan.Symbol,
		Side:     plan.Side,
		Type:     exchange.OrderTypeMarket,
		Quantity: plan.Quantity,
	})
}

func (e *Executor) record(ctx context.Context, out decision.Outcome, trade *decision.Trade) {
	if e.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if trade != nil {
		if err := e.Recorder.RecordTrade(rctx, *trade); err != nil {
			logger.Errorf("账户 %d 写入成交记录失败: %v", out.AccountID, err)
		}
	}
	if err := e.Recorder.RecordOutcome(rctx, out); err != nil {
		logger.Errorf("账户 %d 写入决策记录失败: %v", out.AccountID, err)
	}
}

func (e *Executor) account(accountID int64) AccountInfo {
	info := AccountInfo{ID: accountID}
	if e.Accounts != nil {
		if got, ok := e.Accounts.Account(accountID); ok {
			info = got
		}
	}
	if len(info.Symbols) == 0 {
		info.Symbols = e.opts.DefaultSymbols
	}
	info.Symbols = coins.Normalize(info.Symbols)
	return info
}

// resolvePrices 本地行情优先，缺失的交给 Quoter 补齐；仍缺失的不出现在结果中。
func (e *Executor) resolvePrices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	var missing []string
	for _, sym := range symbols {
		if e.Prices != nil {
			if t, ok := e.Prices.Last(sym); ok && t.Price.IsPositive() {
				out[sym] = t.Price
				continue
			}
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 || e.Quoter == nil {
		return out
	}
	qctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()
	quotes, err := e.Quoter.Quote(qctx, missing)
	if err != nil {
		logger.Warnf("查询 %v 最新价格失败: %v", missing, err)
	}
	for _, sym := range missing {
		if p, ok := quotes[sym]; ok && p.IsPositive() {
			out[sym] = p
		}
	}
	return out
}

func unionSymbols(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range lists {
		for _, sym := range list {
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}

func (e *Executor) withTotal(out decision.Outcome, pf Portfolio) decision.Outcome {
	out.TotalBalance = pf.Total
	return out
}
