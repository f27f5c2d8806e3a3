package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// 中文说明：
// 轻量日志封装：支持设置全局级别，便于减少刷屏；
// 另提供 LLM 请求/响应的独立落盘（可选）。

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu      sync.RWMutex
	current = LevelInfo

	llmMu   sync.Mutex
	llmFile *os.File
)

func SetLevel(s string) {
	lvl := ParseLevel(s)
	mu.Lock()
	current = lvl
	mu.Unlock()
}

// ParseLevel 未识别的取值回落到 info。
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func enabled(l Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return current <= l
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		log.Printf("[DEBUG] "+format, v...)
	}
}
func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		log.Printf("[INFO] "+format, v...)
	}
}
func Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		log.Printf("[WARN] "+format, v...)
	}
}
func Errorf(format string, v ...any) {
	if enabled(LevelError) {
		log.Printf("[ERROR] "+format, v...)
	}
}

// SetLLMLog 打开 LLM 专用日志文件；path 为空时关闭。
func SetLLMLog(path string) error {
	llmMu.Lock()
	defer llmMu.Unlock()
	if llmFile != nil {
		_ = llmFile.Close()
		llmFile = nil
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开 LLM 日志失败: %w", err)
	}
	llmFile = f
	return nil
}

// LogLLMPayload 记录发往模型的请求体。
func LogLLMPayload(model, body string) {
	writeLLM("request", model, body)
}

// LogLLMResponse 记录模型原始输出。
func LogLLMResponse(model, body string) {
	writeLLM("response", model, body)
}

func writeLLM(kind, model, body string) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if llmFile == nil {
		return
	}
	_, _ = fmt.Fprintf(llmFile, "%s [%s] model=%s\n%s\n\n", time.Now().UTC().Format(time.RFC3339), kind, model, body)
}
