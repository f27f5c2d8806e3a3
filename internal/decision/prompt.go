package decision

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PromptBuilder 由 Request 生成 system/user 提示词。
type PromptBuilder interface {
	Build(req Request) (system string, user string)
}

const defaultSystemPrompt = `You are a systematic cryptocurrency spot trader managing one account.
Decide at most one rebalance per call. target_portion_of_balance is the desired share of TOTAL account value
held in the chosen symbol after the trade (0.0-1.0). "buy" must raise the current portion, "sell" must lower it,
"hold" leaves the portfolio unchanged. Only trade symbols listed in PERMITTED SYMBOLS.
Respond with ONLY a JSON object.`

const outputFormat = `{
  "operation": "buy" | "sell" | "hold",
  "symbol": "<one of the permitted symbols>",
  "target_portion_of_balance": <float 0.0-1.0>,
  "reason": "<150 characters maximum>"
}`

// DefaultPromptBuilder 账户状态 + 行情概览 + 输出格式。
type DefaultPromptBuilder struct {
	System string
}

func (b DefaultPromptBuilder) Build(req Request) (string, string) {
	system := strings.TrimSpace(b.System)
	if system == "" {
		system = defaultSystemPrompt
	}
	var sb strings.Builder
	sb.WriteString("=== SESSION ===\n")
	name := req.AccountName
	if name == "" {
		name = fmt.Sprintf("account-%d", req.AccountID)
	}
	fmt.Fprintf(&sb, "TRADER: %s\nCURRENT_TIME_UTC: %s\n\n", name, req.Time.UTC().Format(time.RFC3339))

	sb.WriteString("=== ACCOUNT STATE ===\n")
	fmt.Fprintf(&sb, "Available Cash (USDT): %s\n", req.Cash.StringFixed(2))
	fmt.Fprintf(&sb, "Frozen Cash (USDT): %s\n", req.Frozen.StringFixed(2))
	fmt.Fprintf(&sb, "Total Value (USDT): %s\n", req.Total.StringFixed(2))
	sb.WriteString("Positions:\n")
	if len(req.Holdings) == 0 {
		sb.WriteString("- None\n")
	}
	for _, h := range req.Holdings {
		fmt.Fprintf(&sb, "- %s: qty=%s price=%s value=%s portion=%s\n",
			h.Symbol, h.Quantity.String(), h.Price.StringFixed(4),
			h.Value.StringFixed(2), h.Portion.StringFixed(4))
	}

	sb.WriteString("\n=== MARKET SNAPSHOT ===\n")
	syms := make([]string, 0, len(req.Prices))
	for s := range req.Prices {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	for _, s := range syms {
		fmt.Fprintf(&sb, "%s: price=%s\n", s, req.Prices[s].String())
	}
	for _, m := range req.Markets {
		sb.WriteString(m.String())
		sb.WriteByte('\n')
	}
	if len(syms) == 0 && len(req.Markets) == 0 {
		sb.WriteString("No market data available.\n")
	}

	if last := req.LastOutcome; last != nil {
		sb.WriteString("\n=== PREVIOUS DECISION ===\n")
		fmt.Fprintf(&sb, "%s %s target=%s executed=%t reason=%s\n",
			last.Operation, last.Symbol, last.TargetPortion.StringFixed(4), last.Executed, last.Reason)
	}

	fmt.Fprintf(&sb, "\n=== PERMITTED SYMBOLS ===\n%s\n", strings.Join(req.Permitted, ", "))
	sb.WriteString("\n=== OUTPUT FORMAT ===\n")
	sb.WriteString(outputFormat)
	return system, sb.String()
}
