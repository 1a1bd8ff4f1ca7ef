package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	log "github.com/sirupsen/logrus"

	"jensengpt/internal/config"
)

// OpenAIProvider 基于 openai-go 的实现，兼容任何 OpenAI 风格的 chat/completions 接口
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider 创建 OpenAIProvider 实例
// 重试交给调用方：流一旦开始转发就不能透明重放
func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	options := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey == "" {
		log.Info("provider api key is not set, will try unauthenticated access")
	} else {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		options = append(options, option.WithHTTPClient(newHTTPClient(cfg.Timeout)))
	}

	client := openai.NewClient(options...)
	return &OpenAIProvider{client: &client}
}

// newHTTPClient timeout 只限制建连和等待响应头
// 流式正文可能持续很久，由请求 ctx 负责取消
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// StreamChat 发起流式补全
func (p *OpenAIProvider) StreamChat(ctx context.Context, req *CompletionRequest) (Stream, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("completion request has no messages")
	}

	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(req.Messages),
		Model:    req.Model,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &openAIStream{stream: stream}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// openAIStream 把 SSE 分片适配为文本增量
// 只有角色信息或结束标记的分片不产生增量，直接跳过
type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	current string
	closed  bool
}

func (s *openAIStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			s.current = content
			return true
		}
	}
	s.current = ""
	return false
}

func (s *openAIStream) Current() string {
	return s.current
}

func (s *openAIStream) Err() error {
	return s.stream.Err()
}

func (s *openAIStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}
