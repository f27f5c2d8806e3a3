package app

import (
	"arena/internal/coins"
	"arena/internal/config"
	"arena/internal/executor"
	"arena/internal/strategy"
)

// accountDirectory 配置文件中的账户静态信息。
type accountDirectory struct {
	accounts map[int64]config.AccountConfig
}

func newAccountDirectory(cfg *config.Config) *accountDirectory {
	d := &accountDirectory{accounts: make(map[int64]config.AccountConfig, len(cfg.Accounts))}
	for _, acc := range cfg.Accounts {
		d.accounts[acc.ID] = acc
	}
	return d
}

func (d *accountDirectory) Account(accountID int64) (executor.AccountInfo, bool) {
	acc, ok := d.accounts[accountID]
	if !ok {
		return executor.AccountInfo{}, false
	}
	return executor.AccountInfo{ID: acc.ID, Name: acc.Name, Symbols: coins.Normalize(acc.Symbols)}, true
}

func (d *accountDirectory) Known(accountID int64) bool {
	_, ok := d.accounts[accountID]
	return ok
}

// defaultStrategy 配置文件提供的初始策略。
func defaultStrategy(acc config.AccountConfig) strategy.Config {
	return strategy.Config{
		AccountID:       acc.ID,
		Mode:            strategy.Mode(acc.Strategy.TriggerMode),
		IntervalSeconds: acc.Strategy.IntervalSeconds,
		TickBatchSize:   acc.Strategy.TickBatchSize,
		Enabled:         acc.StrategyEnabled(),
		Symbols:         acc.Symbols,
	}
}
