package live

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"arena/internal/decision"
	"arena/internal/events"
	"arena/internal/gateway/exchange"
	"arena/internal/logger"
	"arena/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownAccount 账户不在配置中。
	ErrUnknownAccount = errors.New("账户不存在")
	// ErrInvalidStrategy 策略参数校验失败。
	ErrInvalidStrategy = errors.New("策略参数非法")
)

// StrategyUpdate 只覆盖请求中出现的字段。
type StrategyUpdate struct {
	TriggerMode     *string `json:"trigger_mode"`
	IntervalSeconds *int    `json:"interval_seconds"`
	TickBatchSize   *int    `json:"tick_batch_size"`
	Enabled         *bool   `json:"enabled"`
}

// AccountView 账户余额、持仓与触发状态的只读视图。
type AccountView struct {
	AccountID    int64               `json:"account_id"`
	Name         string              `json:"name"`
	Balance      exchange.Balance    `json:"balance"`
	Positions    []exchange.Position `json:"positions"`
	Total        decimal.Decimal     `json:"total_balance"`
	FetchedAt    time.Time           `json:"fetched_at"`
	TriggerMode  string              `json:"trigger_mode,omitempty"`
	TriggerState string              `json:"trigger_state"`
	LastTrigger  *time.Time          `json:"last_trigger_at,omitempty"`
	LastOutcome  *decision.Outcome   `json:"last_outcome,omitempty"`
}

// AccountService 由应用层实现。
type AccountService interface {
	Refresh(ctx context.Context, accountID int64) (AccountView, error)
	State(ctx context.Context, accountID int64) (AccountView, error)
	UpdateStrategy(ctx context.Context, accountID int64, upd StrategyUpdate) (strategy.Config, error)
}

// DecisionLogs 决策与成交历史。
type DecisionLogs interface {
	ListDecisions(ctx context.Context, accountID int64, limit int) ([]decision.Outcome, error)
	ListTrades(ctx context.Context, accountID int64, limit int) ([]decision.Trade, error)
}

// EventSource 事件订阅。
type EventSource interface {
	Subscribe() (<-chan events.Event, func())
}

type ServerConfig struct {
	Addr     string
	Accounts AccountService
	Logs     DecisionLogs
	Events   EventSource
}

// Server 对外暴露刷新、历史查询与事件推送。
type Server struct {
	addr     string
	accounts AccountService
	logs     DecisionLogs
	events   EventSource
	router   *gin.Engine

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(cfg ServerConfig) (*Server, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("http_addr 不能为空")
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("缺少账户服务")
	}
	s := &Server{
		addr:     addr,
		accounts: cfg.Accounts,
		logs:     cfg.Logs,
		events:   cfg.Events,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/accounts/:id/state", s.handleState)
		api.POST("/accounts/:id/refresh", s.handleRefresh)
		api.PUT("/accounts/:id/strategy", s.handleUpdateStrategy)
		api.GET("/accounts/:id/decisions", s.handleDecisions)
		api.GET("/accounts/:id/trades", s.handleTrades)
	}
	if s.events != nil {
		r.GET("/ws", s.handleWS)
	}
	return r
}

// Handler 供测试直接驱动路由。
func (s *Server) Handler() http.Handler { return s.router }

// Addr 实际监听地址（启动前为配置值）。
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Start 阻塞直到 ctx 取消，随后优雅关闭。
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	errC := make(chan error, 1)
	go func() { errC <- srv.Serve(ln) }()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Live HTTP 关闭失败: %v", err)
		}
		<-errC
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

func (s *Server) handleState(c *gin.Context) {
	id, ok := accountParam(c)
	if !ok {
		return
	}
	view, err := s.accounts.State(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleRefresh(c *gin.Context) {
	id, ok := accountParam(c)
	if !ok {
		return
	}
	view, err := s.accounts.Refresh(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleUpdateStrategy(c *gin.Context) {
	id, ok := accountParam(c)
	if !ok {
		return
	}
	var upd StrategyUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("请求体非法: %v", err)})
		return
	}
	cfg, err := s.accounts.UpdateStrategy(c.Request.Context(), id, upd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleDecisions(c *gin.Context) {
	id, ok := accountParam(c)
	if !ok {
		return
	}
	if s.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	items, err := s.logs.ListDecisions(c.Request.Context(), id, limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []decision.Outcome{}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "decisions": items})
}

func (s *Server) handleTrades(c *gin.Context) {
	id, ok := accountParam(c)
	if !ok {
		return
	}
	if s.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "成交记录未启用"})
		return
	}
	items, err := s.logs.ListTrades(c.Request.Context(), id, limitParam(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []decision.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "trades": items})
}

func accountParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id 非法"})
		return 0, false
	}
	return id, true
}

func limitParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownAccount):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidStrategy):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		switch exchange.KindOf(err) {
		case exchange.KindRateLimited:
			status = http.StatusTooManyRequests
		case exchange.KindNetwork, exchange.KindAuth, exchange.KindMalformed, exchange.KindRejected:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
