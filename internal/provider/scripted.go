package provider

import (
	"context"
	"sync"
)

// Scripted 按预设脚本回放增量的 Provider，用于本地调试和测试
// 记录收到的每个请求，便于断言上游看到的上下文
type Scripted struct {
	Chunks []string // 依次回放的增量
	// OpenErr 非 nil 时 StreamChat 直接失败
	OpenErr error
	// FailAfter >= 0 时，回放 FailAfter 个增量后以 StreamErr 结束
	FailAfter int
	StreamErr error

	mu       sync.Mutex
	requests []CompletionRequest
}

// NewScripted 创建正常结束的脚本 Provider
func NewScripted(chunks ...string) *Scripted {
	return &Scripted{Chunks: chunks, FailAfter: -1}
}

// StreamChat 实现 Provider
func (p *Scripted) StreamChat(ctx context.Context, req *CompletionRequest) (Stream, error) {
	p.mu.Lock()
	copied := *req
	copied.Messages = append([]Message(nil), req.Messages...)
	p.requests = append(p.requests, copied)
	p.mu.Unlock()

	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	return &scriptedStream{ctx: ctx, script: p, pos: -1}, nil
}

// Requests 返回收到的全部请求
func (p *Scripted) Requests() []CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CompletionRequest(nil), p.requests...)
}

// LastRequest 返回最近一次请求，没有时返回 nil
func (p *Scripted) LastRequest() *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

type scriptedStream struct {
	ctx    context.Context
	script *Scripted
	pos    int
	err    error
	closed bool
}

func (s *scriptedStream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	next := s.pos + 1
	if s.script.FailAfter >= 0 && next >= s.script.FailAfter {
		s.err = s.script.StreamErr
		return false
	}
	if next >= len(s.script.Chunks) {
		return false
	}
	s.pos = next
	return true
}

func (s *scriptedStream) Current() string {
	if s.pos < 0 || s.pos >= len(s.script.Chunks) {
		return ""
	}
	return s.script.Chunks[s.pos]
}

func (s *scriptedStream) Err() error {
	return s.err
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
