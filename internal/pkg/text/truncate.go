package text

import (
	"fmt"
	"unicode/utf8"
)

// Truncate 截断到不超过 max 字节，不切断多字节字符，尾部标注原始长度。max<=0 不截断。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...(共%d字节)", s[:cut], len(s))
}
