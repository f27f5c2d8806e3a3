package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"arena/internal/coins"
	"arena/internal/config"
	"arena/internal/gateway/exchange"
	"arena/internal/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway 币安现货 REST，每个账户一套 API Key。调用方负责限速。
type Gateway struct {
	baseURL string
	timeout time.Duration

	mu      sync.RWMutex
	clients map[int64]*binance.Client
}

func New(cfg config.ExchangeConfig) *Gateway {
	return &Gateway{
		baseURL: cfg.RESTBaseURL,
		timeout: cfg.RequestTimeout(),
		clients: make(map[int64]*binance.Client),
	}
}

// NewFromConfig 注册所有配置了密钥的账户。
func NewFromConfig(cfg *config.Config) *Gateway {
	g := New(cfg.Exchange)
	for _, acc := range cfg.Accounts {
		if acc.APIKey == "" || acc.SecretKey == "" {
			logger.Warnf("账户 %d 未配置 API Key，交易所调用将失败", acc.ID)
			continue
		}
		g.Register(acc.ID, acc.APIKey, acc.SecretKey)
	}
	return g
}

// Register 新增或替换账户的客户端。
func (g *Gateway) Register(accountID int64, apiKey, secretKey string) {
	c := binance.NewClient(apiKey, secretKey)
	if g.baseURL != "" {
		c.BaseURL = g.baseURL
	}
	timeout := g.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c.HTTPClient = &http.Client{Timeout: timeout}
	g.mu.Lock()
	g.clients[accountID] = c
	g.mu.Unlock()
}

func (g *Gateway) client(op string, accountID int64) (*binance.Client, error) {
	g.mu.RLock()
	c, ok := g.clients[accountID]
	g.mu.RUnlock()
	if !ok {
		return nil, exchange.Errorf(exchange.KindAuth, op, "账户 %d 未配置 API Key", accountID)
	}
	return c, nil
}

// FetchBalanceAndPositions USDT/BUSD 计入现金，其余非零资产视为持仓。
func (g *Gateway) FetchBalanceAndPositions(ctx context.Context, accountID int64) (exchange.Balance, []exchange.Position, error) {
	const op = "binance.account"
	c, err := g.client(op, accountID)
	if err != nil {
		return exchange.Balance{}, nil, err
	}
	acct, err := c.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, nil, classify(op, err)
	}
	bal := exchange.Balance{Currency: coins.QuoteAsset, UpdatedAt: time.Now().UTC()}
	var positions []exchange.Position
	for _, b := range acct.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return exchange.Balance{}, nil, exchange.Errorf(exchange.KindMalformed, op, "%s free=%q", b.Asset, b.Free)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return exchange.Balance{}, nil, exchange.Errorf(exchange.KindMalformed, op, "%s locked=%q", b.Asset, b.Locked)
		}
		if coins.IsCash(b.Asset) {
			bal.Cash = bal.Cash.Add(free)
			bal.Frozen = bal.Frozen.Add(locked)
			continue
		}
		qty := free.Add(locked)
		if !qty.IsPositive() {
			continue
		}
		positions = append(positions, exchange.Position{
			Symbol:    coins.Asset(b.Asset),
			Quantity:  qty,
			Available: free,
		})
	}
	return bal, positions, nil
}

// SubmitOrder 返回交易所订单号。
func (g *Gateway) SubmitOrder(ctx context.Context, accountID int64, req exchange.OrderRequest) (string, error) {
	const op = "binance.order"
	c, err := g.client(op, accountID)
	if err != nil {
		return "", err
	}
	if !req.Quantity.IsPositive() {
		return "", exchange.Errorf(exchange.KindRejected, op, "数量必须为正: %s", req.Quantity)
	}
	svc := c.NewCreateOrderService().
		Symbol(coins.Pair(req.Symbol)).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(req.Quantity.String()).
		NewClientOrderID("arena-" + uuid.NewString()[:8])
	if req.Type == exchange.OrderTypeLimit {
		if req.Price == nil || !req.Price.IsPositive() {
			return "", exchange.Errorf(exchange.KindRejected, op, "限价单缺少价格")
		}
		svc = svc.TimeInForce(binance.TimeInForceTypeGTC).Price(req.Price.String())
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", classify(op, err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// classify 将 SDK 错误映射到网关错误分类。
func classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2014, -2015, -1022, -2008:
			return exchange.Wrap(exchange.KindAuth, op, err)
		case -1003, -1015:
			return exchange.Wrap(exchange.KindRateLimited, op, err)
		default:
			return exchange.Wrap(exchange.KindRejected, op, err)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return exchange.Wrap(exchange.KindNetwork, op, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return exchange.Wrap(exchange.KindMalformed, op, err)
	}
	return exchange.Wrap(exchange.KindUnknown, op, fmt.Errorf("未分类错误: %w", err))
}
