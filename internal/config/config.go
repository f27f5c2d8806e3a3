package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// 触发模式取值，需与 strategy 包保持一致。
const (
	TriggerRealtime  = "realtime"
	TriggerInterval  = "interval"
	TriggerTickBatch = "tick_batch"
)

// Config 顶层配置结构体
type Config struct {
	App       AppConfig       `toml:"app"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Cache     CacheConfig     `toml:"cache"`
	Market    MarketConfig    `toml:"market"`
	AI        AIConfig        `toml:"ai"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Accounts  []AccountConfig `toml:"accounts"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LLMLog   string `toml:"llm_log"`   // 可选：模型请求/响应落盘路径
	HTTPAddr string `toml:"http_addr"` // 为空则不启动 HTTP
	DBPath   string `toml:"db_path"`
}

type ExchangeConfig struct {
	RESTBaseURL           string             `toml:"rest_base_url"` // 为空使用官方主网
	WSEnabled             bool               `toml:"ws_enabled"`
	RateLimitIntervalMS   int                `toml:"rate_limit_interval_ms"`
	RequestTimeoutSeconds int                `toml:"request_timeout_seconds"`
	StepSizes             map[string]float64 `toml:"step_sizes"`
	MinNotional           float64            `toml:"min_notional"`
}

type CacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds"`
}

type MarketConfig struct {
	Symbols           []string `toml:"symbols"`
	HistorySize       int      `toml:"history_size"`
	TickMinIntervalMS int      `toml:"tick_min_interval_ms"`
}

type AIConfig struct {
	APIURL         string            `toml:"api_url"` // OpenAI 兼容 BaseURL
	APIKey         string            `toml:"api_key"`
	Model          string            `toml:"model"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	MaxRetries     int               `toml:"max_retries"`
	Headers        map[string]string `toml:"headers"`
}

type SchedulerConfig struct {
	TimerResolutionMS      int     `toml:"timer_resolution_ms"`
	StrategyRefreshSeconds int     `toml:"strategy_refresh_seconds"`
	OrderTimeoutSeconds    int     `toml:"order_timeout_seconds"`
	PortionEpsilon         float64 `toml:"portion_epsilon"`
}

// AccountConfig 描述一个交易账户；Strategy 仅作为首次入库的默认值。
type AccountConfig struct {
	ID        int64          `toml:"id"`
	Name      string         `toml:"name"`
	Enabled   bool           `toml:"enabled"`
	APIKey    string         `toml:"api_key"`
	SecretKey string         `toml:"secret_key"`
	Symbols   []string       `toml:"symbols"`
	Strategy  StrategyConfig `toml:"strategy"`
}

type StrategyConfig struct {
	TriggerMode     string `toml:"trigger_mode"`
	IntervalSeconds int    `toml:"interval_seconds"`
	TickBatchSize   int    `toml:"tick_batch_size"`
	Enabled         *bool  `toml:"enabled"`
}

// Load 读取并解析 TOML 配置文件，并设置缺省值与基本校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析 TOML 内容。
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 TOML 失败: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var defaultStepSizes = map[string]float64{
	"BTC":  0.00001,
	"ETH":  0.0001,
	"SOL":  0.01,
	"BNB":  0.001,
	"XRP":  1,
	"DOGE": 1,
}

// 默认值设置
func applyDefaults(c *Config) {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.DBPath == "" {
		c.App.DBPath = "data/arena.db"
	}
	if c.Exchange.RateLimitIntervalMS <= 0 {
		c.Exchange.RateLimitIntervalMS = 10000
	}
	if c.Exchange.RequestTimeoutSeconds <= 0 {
		c.Exchange.RequestTimeoutSeconds = 10
	}
	if c.Exchange.StepSizes == nil {
		c.Exchange.StepSizes = map[string]float64{}
	}
	for sym, step := range defaultStepSizes {
		if _, ok := c.Exchange.StepSizes[sym]; !ok {
			c.Exchange.StepSizes[sym] = step
		}
	}
	if c.Exchange.MinNotional <= 0 {
		c.Exchange.MinNotional = 10
	}
	// 缓存 TTL 固定 5 秒，仅允许测试环境覆盖
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 5
	}
	if len(c.Market.Symbols) == 0 {
		c.Market.Symbols = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE"}
	}
	if c.Market.HistorySize <= 0 {
		c.Market.HistorySize = 240
	}
	if c.Market.TickMinIntervalMS <= 0 {
		c.Market.TickMinIntervalMS = 1500
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 30
	}
	if c.AI.MaxRetries < 0 {
		c.AI.MaxRetries = 0
	}
	if c.Scheduler.TimerResolutionMS <= 0 {
		c.Scheduler.TimerResolutionMS = 1000
	}
	if c.Scheduler.StrategyRefreshSeconds <= 0 {
		c.Scheduler.StrategyRefreshSeconds = 60
	}
	if c.Scheduler.OrderTimeoutSeconds <= 0 {
		c.Scheduler.OrderTimeoutSeconds = 15
	}
	if c.Scheduler.PortionEpsilon <= 0 {
		c.Scheduler.PortionEpsilon = 0.001
	}
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if strings.TrimSpace(acc.Name) == "" {
			acc.Name = fmt.Sprintf("account-%d", acc.ID)
		}
		if len(acc.Symbols) == 0 {
			acc.Symbols = append([]string(nil), c.Market.Symbols...)
		}
		if acc.Strategy.TriggerMode == "" {
			acc.Strategy.TriggerMode = TriggerRealtime
		}
		if acc.Strategy.IntervalSeconds <= 0 {
			acc.Strategy.IntervalSeconds = 1
		}
		if acc.Strategy.TickBatchSize <= 0 {
			acc.Strategy.TickBatchSize = 1
		}
	}
}

// 基础校验
func validate(c *Config) error {
	seen := map[int64]struct{}{}
	for _, acc := range c.Accounts {
		if acc.ID <= 0 {
			return fmt.Errorf("accounts.id 必须为正整数: %d", acc.ID)
		}
		if _, dup := seen[acc.ID]; dup {
			return fmt.Errorf("accounts.id 重复: %d", acc.ID)
		}
		seen[acc.ID] = struct{}{}
		switch acc.Strategy.TriggerMode {
		case TriggerRealtime, TriggerInterval, TriggerTickBatch:
		default:
			return fmt.Errorf("账户 %d 非法 trigger_mode: %s", acc.ID, acc.Strategy.TriggerMode)
		}
	}
	if c.Scheduler.TimerResolutionMS > 1000 {
		return fmt.Errorf("scheduler.timer_resolution_ms 需 <= 1000（需细于最小 interval）")
	}
	if c.Scheduler.PortionEpsilon >= 1 {
		return fmt.Errorf("scheduler.portion_epsilon 需 < 1")
	}
	for sym, step := range c.Exchange.StepSizes {
		if step <= 0 {
			return fmt.Errorf("exchange.step_sizes.%s 必须为正数", sym)
		}
	}
	return nil
}

// StrategyEnabled 未显式配置时跟随账户开关。
func (a AccountConfig) StrategyEnabled() bool {
	if a.Strategy.Enabled == nil {
		return a.Enabled
	}
	return *a.Strategy.Enabled && a.Enabled
}

func (c ExchangeConfig) RateLimitInterval() time.Duration {
	return time.Duration(c.RateLimitIntervalMS) * time.Millisecond
}

func (c ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c MarketConfig) TickMinInterval() time.Duration {
	return time.Duration(c.TickMinIntervalMS) * time.Millisecond
}

func (c AIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c SchedulerConfig) TimerResolution() time.Duration {
	return time.Duration(c.TimerResolutionMS) * time.Millisecond
}

func (c SchedulerConfig) StrategyRefresh() time.Duration {
	return time.Duration(c.StrategyRefreshSeconds) * time.Second
}

func (c SchedulerConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutSeconds) * time.Second
}
