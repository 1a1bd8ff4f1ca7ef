// Package provider 封装 OpenAI 兼容的对话补全服务
// 只暴露流式接口：对话服务按增量拉取，天然形成背压
package provider

import (
	"context"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 发送给上游的一条上下文消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 一次流式补全请求
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	TopP        float64
	MaxTokens   int64
}

// Stream 增量文本流
// 用法与 bufio.Scanner 相同：Next 返回 false 后检查 Err
type Stream interface {
	// Next 拉取下一个非空增量，流结束或出错时返回 false
	Next() bool
	// Current 返回最近一次 Next 拉取到的增量文本
	Current() string
	// Err 返回导致流结束的错误，正常结束为 nil
	Err() error
	// Close 关闭上游连接，可重复调用
	Close() error
}

// Provider 流式对话补全服务
type Provider interface {
	// StreamChat 发起流式补全
	// 连接错误可能在此返回，也可能在第一次 Next 时通过 Err 暴露
	StreamChat(ctx context.Context, req *CompletionRequest) (Stream, error)
}
