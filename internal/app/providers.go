package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arena/internal/coins"
	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/events"
	"arena/internal/executor"
	"arena/internal/gateway/binance"
	"arena/internal/gateway/database"
	"arena/internal/gateway/exchange"
	"arena/internal/gateway/provider"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/ratelimit"
	"arena/internal/statecache"
	"arena/internal/strategy"
	livehttp "arena/internal/transport/http/live"

	"github.com/shopspring/decimal"
)

func provideStore(cfg *config.Config) (*database.Store, error) {
	store, err := database.Open(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	logger.Infof("✓ 数据库已打开 %s", cfg.App.DBPath)
	return store, nil
}

// provideLimiter 进程内唯一的交易所限速器。
func provideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Exchange.RateLimitInterval())
}

func provideBroadcaster() *events.Broadcaster {
	return events.NewBroadcaster(events.DefaultBuffer)
}

func provideGateway(cfg *config.Config) *binance.Gateway {
	return binance.NewFromConfig(cfg)
}

func provideStateCache(cfg *config.Config, gw exchange.Gateway, limiter *ratelimit.Limiter, bus *events.Broadcaster) *statecache.Cache {
	return statecache.New(gw, limiter, cfg.Cache.TTL(),
		statecache.WithFetchTimeout(cfg.Exchange.RequestTimeout()+cfg.Exchange.RateLimitInterval()),
		statecache.WithRefreshHook(publishSnapshot(bus)),
	)
}

func providePriceStore(cfg *config.Config) *market.PriceStore {
	return market.NewPriceStore(cfg.Market.HistorySize)
}

func provideReasoner(cfg *config.Config) *provider.Reasoner {
	client := &provider.OpenAIChatClient{
		BaseURL:      cfg.AI.APIURL,
		APIKey:       cfg.AI.APIKey,
		Model:        cfg.AI.Model,
		Timeout:      cfg.AI.Timeout(),
		MaxRetries:   cfg.AI.MaxRetries,
		ExtraHeaders: cfg.AI.Headers,
	}
	if strings.TrimSpace(cfg.AI.APIURL) == "" {
		logger.Warnf("ai.api_url 未配置，所有决策将以 reasoning_failure 结束")
	}
	return provider.NewReasoner(client, decision.DefaultPromptBuilder{})
}

// provideLastOutcomes 从决策日志回填每个账户的最近一次结果。
func provideLastOutcomes(ctx context.Context, cfg *config.Config, store *database.Store) *lastOutcomeCache {
	cache := newLastOutcomeCache(24 * time.Hour)
	for _, acc := range cfg.Accounts {
		recs, err := store.ListDecisions(ctx, acc.ID, 1)
		if err != nil {
			logger.Warnf("加载账户 %d 最近决策失败: %v", acc.ID, err)
			continue
		}
		cache.Load(recs)
	}
	return cache
}

func provideAccounts(cfg *config.Config) *accountDirectory {
	return newAccountDirectory(cfg)
}

func sizingRules(cfg config.ExchangeConfig) executor.SizingRules {
	rules := executor.DefaultSizingRules()
	for sym, step := range cfg.StepSizes {
		rules.StepSizes[exchange.NormalizeSymbol(sym)] = decimal.NewFromFloat(step)
	}
	rules.MinNotional = decimal.NewFromFloat(cfg.MinNotional)
	return rules
}

func provideExecutor(cfg *config.Config, cache *statecache.Cache, limiter *ratelimit.Limiter, gw exchange.Gateway,
	reasoner *provider.Reasoner, prices *market.PriceStore, quoter *market.RESTPoller, store *database.Store,
	bus *events.Broadcaster, accounts *accountDirectory, last *lastOutcomeCache) *executor.Executor {
	return executor.New(executor.Deps{
		Cache:     cache,
		Limiter:   limiter,
		Gateway:   gw,
		Reasoner:  reasoner,
		Prices:    prices,
		Quoter:    quoter,
		Recorder:  store,
		Publisher: bus,
		Accounts:  accounts,
		History:   last,
	}, executor.Options{
		FetchTimeout:   cfg.Exchange.RequestTimeout() + cfg.Exchange.RateLimitInterval(),
		ReasonTimeout:  cfg.AI.Timeout() * time.Duration(cfg.AI.MaxRetries+1),
		OrderTimeout:   cfg.Scheduler.OrderTimeout(),
		PortionEpsilon: decimal.NewFromFloat(cfg.Scheduler.PortionEpsilon),
		Rules:          sizingRules(cfg.Exchange),
		DefaultSymbols: cfg.Market.Symbols,
	})
}

// marketSymbols 行情订阅与价格轮询覆盖的币种。
type marketSymbols []string

func provideMarketSymbols(ctx context.Context, cfg *config.Config) (marketSymbols, error) {
	symbols := append([]string(nil), cfg.Market.Symbols...)
	for _, acc := range cfg.Accounts {
		symbols = append(symbols, acc.Symbols...)
	}
	var sp coins.SymbolProvider = coins.NewDefaultProvider(symbols)
	syms, err := sp.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取币种列表失败: %w", err)
	}
	logger.Infof("✓ 已加载 %d 个币种: %v", len(syms), syms)
	return marketSymbols(syms), nil
}

// providePricePoller REST 最新价：WS 关闭时作为行情源，同时为缺价币种按需报价。
func providePricePoller(cfg *config.Config, syms marketSymbols) *market.RESTPoller {
	return market.NewRESTPoller(cfg.Exchange.RESTBaseURL, cfg.Exchange.RequestTimeout(), syms, cfg.Market.TickMinInterval())
}

// provideTickSource ws_enabled=false 时退化为 REST 轮询。
func provideTickSource(cfg *config.Config, syms marketSymbols, poller *market.RESTPoller) TickSource {
	if !cfg.Exchange.WSEnabled {
		logger.Infof("行情订阅未启用，改用 REST 轮询（间隔 %s）", cfg.Market.TickMinInterval())
		return poller
	}
	return market.NewBinanceStream(syms, cfg.Market.TickMinInterval())
}

func provideLiveService(cfg *config.Config, accounts *accountDirectory, store *database.Store, prices *market.PriceStore,
	stream TickSource, exec *executor.Executor, cache *statecache.Cache, last *lastOutcomeCache) *LiveService {
	return &LiveService{
		cfg:          cfg,
		accounts:     accounts,
		store:        store,
		evaluator:    strategy.NewEvaluator(),
		prices:       prices,
		stream:       stream,
		exec:         exec,
		cache:        cache,
		lastOut:      last,
		timerEvery:   cfg.Scheduler.TimerResolution(),
		refreshEvery: cfg.Scheduler.StrategyRefresh(),
		persistWait:  5 * time.Second,
	}
}

// provideLiveHTTP http_addr 为空时不启动 HTTP。
func provideLiveHTTP(cfg *config.Config, live *LiveService, store *database.Store, bus *events.Broadcaster) (*livehttp.Server, error) {
	if strings.TrimSpace(cfg.App.HTTPAddr) == "" {
		return nil, nil
	}
	server, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Accounts: live,
		Logs:     store,
		Events:   bus,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 live HTTP 失败: %w", err)
	}
	logger.Infof("✓ Live HTTP 接口监听 %s", server.Addr())
	return server, nil
}

func provideApp(cfg *config.Config, live *LiveService, server *livehttp.Server, store *database.Store, bus *events.Broadcaster) *App {
	return &App{cfg: cfg, live: live, liveHTTP: server, store: store, bus: bus}
}
