package decision

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"arena/internal/coins"

	"github.com/shopspring/decimal"
)

// Operation 决策动作。OpNone 只由失败的 Outcome 使用；模型回答 none 时按 hold 处理。
type Operation string

const (
	OpBuy  Operation = "buy"
	OpSell Operation = "sell"
	OpHold Operation = "hold"
	OpNone Operation = "none"
)

// ParseOperation 接受大小写变体；close 视为卖出至 0，none 视为不交易。
func ParseOperation(s string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return OpBuy, true
	case "sell", "close":
		return OpSell, true
	case "hold", "none":
		return OpHold, true
	default:
		return "", false
	}
}

// Decision 模型输出经解析后的结构。TargetPortion 为该币种占账户总价值的目标比例。
type Decision struct {
	Operation     Operation       `json:"operation"`
	Symbol        string          `json:"symbol,omitempty"`
	TargetPortion decimal.Decimal `json:"target_portion"`
	Reason        string          `json:"reason"`
}

// ErrInvalidDecision 模型输出不满足约束。
var ErrInvalidDecision = errors.New("决策不合法")

var one = decimal.NewFromInt(1)

// Validate 检查动作、币种许可与目标比例范围。
func (d Decision) Validate(permitted coins.Universe) error {
	switch d.Operation {
	case OpBuy, OpSell:
		if strings.TrimSpace(d.Symbol) == "" {
			return fmt.Errorf("%w: %s 缺少 symbol", ErrInvalidDecision, d.Operation)
		}
	case OpHold:
	default:
		return fmt.Errorf("%w: 未知动作 %q", ErrInvalidDecision, d.Operation)
	}
	if d.Symbol != "" && !permitted.Contains(d.Symbol) {
		return fmt.Errorf("%w: 币种 %s 不在允许列表", ErrInvalidDecision, d.Symbol)
	}
	if d.Operation != OpHold && (d.TargetPortion.IsNegative() || d.TargetPortion.GreaterThan(one)) {
		return fmt.Errorf("%w: target_portion %s 超出 [0,1]", ErrInvalidDecision, d.TargetPortion)
	}
	return nil
}

// Failure 未执行的原因分类；成功或主动不交易时为空。
type Failure string

const (
	FailureNone       Failure = ""
	FailureFetch      Failure = "fetch_failure"
	FailureReasoning  Failure = "reasoning_failure"
	FailureValidation Failure = "validation_failure"
	FailureOrder      Failure = "order_failure"
)

// Outcome 一次完整决策运行的结果，生成后不再修改。
type Outcome struct {
	AccountID     int64           `json:"account_id"`
	Time          time.Time       `json:"time"`
	Reason        string          `json:"reason"`
	Operation     Operation       `json:"operation"`
	Symbol        string          `json:"symbol,omitempty"`
	PrevPortion   decimal.Decimal `json:"prev_portion"`
	TargetPortion decimal.Decimal `json:"target_portion"`
	TotalBalance  decimal.Decimal `json:"total_balance"`
	Executed      bool            `json:"executed"`
	OrderID       string          `json:"order_id,omitempty"`
	Failure       Failure         `json:"failure,omitempty"`
}

// Failed 构造失败结果。
func Failed(accountID int64, at time.Time, kind Failure, err error) Outcome {
	return Outcome{
		AccountID: accountID,
		Time:      at,
		Operation: OpNone,
		Reason:    fmt.Sprintf("%s: %v", kind, err),
		Failure:   kind,
	}
}

// Trade 一笔成功提交的订单记录。
type Trade struct {
	ID        string          `json:"id"`
	AccountID int64           `json:"account_id"`
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Notional  decimal.Decimal `json:"notional"`
	Time      time.Time       `json:"time"`
}
