package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"arena/internal/coins"

	"github.com/shopspring/decimal"
)

// ErrNoJSON 输出中没有可解析的 JSON 对象。
var ErrNoJSON = errors.New("未找到 JSON 决策对象")

type rawDecision struct {
	Operation              string           `json:"operation"`
	Symbol                 string           `json:"symbol"`
	TargetPortionOfBalance *decimal.Decimal `json:"target_portion_of_balance"`
	TargetPortion          *decimal.Decimal `json:"target_portion"`
	Reason                 string           `json:"reason"`
	Reasoning              string           `json:"reasoning"`
}

// ParseDecision 从模型原始输出中提取首个 JSON 对象（可带 ```json 代码块）。
func ParseDecision(raw string) (Decision, error) {
	obj, ok := extractJSONObject(stripFence(raw))
	if !ok {
		return Decision{}, ErrNoJSON
	}
	var rd rawDecision
	if err := json.Unmarshal([]byte(obj), &rd); err != nil {
		return Decision{}, fmt.Errorf("解析决策 JSON 失败: %w", err)
	}
	op, ok := ParseOperation(rd.Operation)
	if !ok {
		return Decision{}, fmt.Errorf("%w: 未知动作 %q", ErrInvalidDecision, rd.Operation)
	}
	d := Decision{
		Operation: op,
		Symbol:    coins.Asset(rd.Symbol),
		Reason:    strings.TrimSpace(rd.Reason),
	}
	if d.Reason == "" {
		d.Reason = strings.TrimSpace(rd.Reasoning)
	}
	switch {
	case rd.TargetPortionOfBalance != nil:
		d.TargetPortion = *rd.TargetPortionOfBalance
	case rd.TargetPortion != nil:
		d.TargetPortion = *rd.TargetPortion
	}
	if strings.EqualFold(strings.TrimSpace(rd.Operation), "close") {
		d.TargetPortion = decimal.Zero
	}
	return d, nil
}

func stripFence(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		rest := s[i+len("```json"):]
		if j := strings.Index(rest, "```"); j >= 0 {
			return rest[:j]
		}
		return rest
	}
	return s
}

// extractJSONObject 查找首个配平的 {...}，跳过字符串内的括号。
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	inStr, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	return "", false
}
