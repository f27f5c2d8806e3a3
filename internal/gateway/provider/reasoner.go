package provider

import (
	"context"
	"fmt"

	"arena/internal/decision"
	"arena/internal/logger"
	"arena/internal/pkg/text"
)

// ChatCaller 发送一次对话并返回文本。
type ChatCaller interface {
	Call(ctx context.Context, payload ChatPayload) (string, error)
}

// Reasoner 组装提示词、调用模型并解析决策 JSON。
type Reasoner struct {
	Client ChatCaller
	Prompt decision.PromptBuilder
}

func NewReasoner(client ChatCaller, prompt decision.PromptBuilder) *Reasoner {
	if prompt == nil {
		prompt = decision.DefaultPromptBuilder{}
	}
	return &Reasoner{Client: client, Prompt: prompt}
}

func (r *Reasoner) Decide(ctx context.Context, req decision.Request) (decision.Decision, error) {
	system, user := r.Prompt.Build(req)
	raw, err := r.Client.Call(ctx, ChatPayload{System: system, User: user, ExpectJSON: true})
	if err != nil {
		return decision.Decision{}, err
	}
	d, err := decision.ParseDecision(raw)
	if err != nil {
		logger.Debugf("[AI] 账户 %d 无法解析的输出: %s", req.AccountID, text.Truncate(raw, 300))
		return decision.Decision{}, fmt.Errorf("模型输出不合法: %w", err)
	}
	return d, nil
}
