package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arena/internal/logger"
	"arena/internal/pkg/jsonutil"
	"arena/internal/pkg/text"
)

// ChatPayload 一次对话请求。
type ChatPayload struct {
	System     string
	User       string
	MaxTokens  int
	ExpectJSON bool
}

// ErrEmptyChoices 模型返回了 2xx 但没有任何内容。
var ErrEmptyChoices = errors.New("模型返回为空")

// OpenAIChatClient OpenAI 兼容的 chat/completions 客户端。
type OpenAIChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int // 仅对 429/5xx 生效；0 表示不重试
	ExtraHeaders map[string]string
	HTTPClient   *http.Client
}

func (c *OpenAIChatClient) Call(ctx context.Context, payload ChatPayload) (string, error) {
	url := c.chatCompletionsURL()
	bodyBytes, err := buildChatBodyBytes(c.Model, payload)
	if err != nil {
		return "", err
	}
	logger.LogLLMPayload(c.Model, jsonutil.Pretty(bodyBytes))

	httpc := c.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: c.timeout()}
	}
	content, err := c.doChatCompletions(ctx, httpc, url, bodyBytes, max(c.MaxRetries, 0))
	if err != nil {
		return "", err
	}
	logger.LogLLMResponse(c.Model, content)
	return content, nil
}

func (c *OpenAIChatClient) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

func (c *OpenAIChatClient) chatCompletionsURL() string {
	url := strings.TrimRight(c.BaseURL, "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func buildChatBodyBytes(model string, payload ChatPayload) ([]byte, error) {
	messages := make([]map[string]string, 0, 2)
	if payload.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": payload.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": payload.User})

	maxTokens := payload.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": 0.4,
		"max_tokens":  maxTokens,
	}
	if payload.ExpectJSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return json.Marshal(body)
}

func (c *OpenAIChatClient) doChatCompletions(ctx context.Context, httpc *http.Client, url string, body []byte, maxRetries int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[AI] 请求: POST %s headers=%v body=%s", url, c.headersForLog(), text.Truncate(string(body), 512))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		for k, v := range c.headers() {
			req.Header.Set(k, v)
		}
		resp, err := httpc.Do(req)
		if err != nil {
			return "", fmt.Errorf("模型请求失败: %w", err)
		}

		if resp.StatusCode/100 == 2 {
			return decodeChatContent(resp)
		}

		msg := parseError(resp)
		lastErr = fmt.Errorf("模型接口 status=%d: %s", resp.StatusCode, msg)
		if !shouldRetry(resp.StatusCode) || attempt >= maxRetries {
			break
		}
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), attempt)
		logger.Warnf("[AI] %v，%s 后重试 (%d/%d)", lastErr, wait, attempt+1, maxRetries)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", lastErr
}

func decodeChatContent(resp *http.Response) (string, error) {
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[AI] response body close failed: %v", cerr)
		}
	}()
	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("解析模型响应失败: %w", err)
	}
	if len(r.Choices) == 0 || strings.TrimSpace(r.Choices[0].Message.Content) == "" {
		return "", ErrEmptyChoices
	}
	return r.Choices[0].Message.Content, nil
}

func (c *OpenAIChatClient) headers() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		out["Authorization"] = fmt.Sprintf("Bearer %s", c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		out[k] = v
	}
	return out
}

func (c *OpenAIChatClient) headersForLog() map[string]string {
	out := map[string]string{}
	for k, v := range c.headers() {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "auth") || strings.Contains(lk, "key") || strings.Contains(lk, "token") {
			if len(v) > 4 {
				out[k] = "****" + v[len(v)-4:]
			} else {
				out[k] = "****"
			}
			continue
		}
		out[k] = v
	}
	return out
}

func parseError(resp *http.Response) string {
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Debugf("[AI] response body close failed: %v", cerr)
		}
	}()
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&eresp); err == nil && strings.TrimSpace(eresp.Error.Message) != "" {
		return eresp.Error.Message
	}
	return resp.Status
}

func shouldRetry(code int) bool {
	return code == 429 || code == 500 || code == 502 || code == 503 || code == 504
}

func parseRetryAfter(v string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	base := 800 * time.Millisecond
	wait := base << attempt
	if wait > 8*time.Second {
		wait = 8 * time.Second
	}
	return wait
}
