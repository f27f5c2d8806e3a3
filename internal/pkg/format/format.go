package format

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Percent 0.0123 -> "1.23%"。
func Percent(val float64) string {
	if val == 0 {
		return "0%"
	}
	return Float(val*100, 2) + "%"
}

func Float(val float64, decimals int) string {
	if decimals < 0 {
		decimals = 4
	}
	out := fmt.Sprintf("%.*f", decimals, val)
	if strings.Contains(out, ".") {
		out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	}
	if out == "" || out == "-0" {
		return "0"
	}
	return out
}

func Duration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, d/time.Second)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}

// RangeSummary 返回最低/最高值；空输入返回 0,0。
func RangeSummary(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	low := math.MaxFloat64
	high := -math.MaxFloat64
	for _, v := range vals {
		if v < low {
			low = v
		}
		if v > high {
			high = v
		}
	}
	return low, high
}
