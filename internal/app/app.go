package app

import (
	"context"
	"fmt"

	"arena/internal/config"
	"arena/internal/events"
	"arena/internal/gateway/database"
	"arena/internal/logger"
	livehttp "arena/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动调度与 HTTP。
type App struct {
	cfg      *config.Config
	live     *LiveService
	liveHTTP *livehttp.Server
	store    *database.Store
	bus      *events.Broadcaster
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	if err := logger.SetLLMLog(cfg.App.LLMLog); err != nil {
		return nil, fmt.Errorf("初始化 LLM 日志失败: %w", err)
	}
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动调度与 HTTP，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.live == nil {
		return fmt.Errorf("live service not initialized")
	}
	defer a.Close()
	group, ctx := errgroup.WithContext(ctx)

	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Warnf("Live HTTP 停止: %v", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.live.Run(ctx)
	})

	return group.Wait()
}

// Close 关闭事件广播与存储；可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭数据库失败: %v", err)
		}
	}
}
