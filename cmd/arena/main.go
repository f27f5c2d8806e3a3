package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arena/internal/app"
	"arena/internal/config"
	"arena/internal/logger"
)

// 入口程序：加载 TOML 配置，构建应用，运行直到 SIGINT/SIGTERM。
func main() {
	// 从环境变量或默认路径读取配置文件路径
	cfgPath := os.Getenv("ARENA_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.toml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，账户数=%d，限速间隔=%s）",
		cfg.App.Env, len(cfg.Accounts), cfg.Exchange.RateLimitInterval())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		logger.Errorf("应用退出: %v", err)
		os.Exit(1)
	}
	logger.Infof("✓ 已退出")
}
