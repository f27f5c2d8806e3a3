package jsonutil

import (
	"bytes"
	"encoding/json"
)

// Pretty 缩进 JSON，保留字段顺序与数字原文；非法 JSON 原样返回。
func Pretty(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return string(raw)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
