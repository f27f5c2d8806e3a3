package market

import (
	"fmt"
	"strings"

	"arena/internal/pkg/format"

	talib "github.com/markcheno/go-talib"
)

const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14
)

// Summary 供提示词使用的近期价格概览。样本不足时对应指标为 0。
type Summary struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	ChangePct float64 `json:"change_pct"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	EMAFast   float64 `json:"ema_fast,omitempty"`
	EMASlow   float64 `json:"ema_slow,omitempty"`
	RSI       float64 `json:"rsi,omitempty"`
	Samples   int     `json:"samples"`
}

// Summarize 基于 tick 序列计算 EMA12/EMA26/RSI14。
func Summarize(symbol string, closes []float64) Summary {
	s := Summary{Symbol: symbol, Samples: len(closes)}
	if len(closes) == 0 {
		return s
	}
	first := closes[0]
	s.Last = closes[len(closes)-1]
	if first != 0 {
		s.ChangePct = (s.Last - first) / first
	}
	s.Low, s.High = format.RangeSummary(closes)
	if len(closes) >= emaFastPeriod {
		s.EMAFast = lastOf(talib.Ema(closes, emaFastPeriod))
	}
	if len(closes) >= emaSlowPeriod {
		s.EMASlow = lastOf(talib.Ema(closes, emaSlowPeriod))
	}
	if len(closes) > rsiPeriod {
		s.RSI = lastOf(talib.Rsi(closes, rsiPeriod))
	}
	return s
}

// Trend 粗略趋势判断：快线高于慢线视为上行。
func (s Summary) Trend() string {
	switch {
	case s.EMAFast == 0 || s.EMASlow == 0:
		return "unknown"
	case s.EMAFast > s.EMASlow:
		return "up"
	case s.EMAFast < s.EMASlow:
		return "down"
	default:
		return "flat"
	}
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s last=%s change=%s range=[%s, %s] samples=%d trend=%s",
		s.Symbol, format.Float(s.Last, 6), format.Percent(s.ChangePct),
		format.Float(s.Low, 6), format.Float(s.High, 6), s.Samples, s.Trend())
	if s.EMAFast != 0 {
		fmt.Fprintf(&b, " ema%d=%s", emaFastPeriod, format.Float(s.EMAFast, 6))
	}
	if s.EMASlow != 0 {
		fmt.Fprintf(&b, " ema%d=%s", emaSlowPeriod, format.Float(s.EMASlow, 6))
	}
	if s.RSI != 0 {
		fmt.Fprintf(&b, " rsi%d=%s", rsiPeriod, format.Float(s.RSI, 2))
	}
	return b.String()
}

func lastOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}
