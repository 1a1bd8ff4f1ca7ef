package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrStreamFailed 服务端在流中返回了错误记录
	ErrStreamFailed = errors.New("对话生成失败")
	// ErrIncompleteStream 流在最终记录之前结束
	ErrIncompleteStream = errors.New("对话流意外结束")
)

// ChatRequest 对话请求
type ChatRequest struct {
	Message         string  `json:"message"`
	ConversationID  *string `json:"conversationId,omitempty"`
	ReasoningMode   bool    `json:"reasoningMode,omitempty"`
	SystemPrompt    *string `json:"systemPrompt,omitempty"`
	ParentMessageID *int64  `json:"parentMessageId,omitempty"`
	BranchID        *string `json:"branchId,omitempty"`
	ModelID         *string `json:"modelId,omitempty"`
}

// StreamRecord 对话流中的一条记录
// 最后一条 IsComplete 为 true；Error 为 true 时表示生成失败
type StreamRecord struct {
	Content        string  `json:"content"`
	IsComplete     bool    `json:"isComplete"`
	ConversationID string  `json:"conversationId"`
	Message        *string `json:"message,omitempty"`
	MessageID      *int64  `json:"messageId,omitempty"`
	BranchID       *string `json:"branchId,omitempty"`
	UserMessageID  *int64  `json:"userMessageId,omitempty"`
	Error          bool    `json:"error,omitempty"`
}

// Chat 发起一轮对话
// onDelta 对每个增量调用一次，返回错误会中止读取并断开连接
// 成功时返回最终记录
func (c *Client) Chat(ctx context.Context, req *ChatRequest, onDelta func(*StreamRecord) error) (*StreamRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, application/json")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	// 流开始前的错误使用统一响应结构
	if resp.StatusCode != http.StatusOK {
		_, err := decodeResponse(resp)
		if err == nil {
			err = &APIError{Status: resp.StatusCode}
		}
		return nil, err
	}

	return ReadStream(resp.Body, onDelta)
}

// ReadStream 逐行解析 NDJSON 对话流，直到最终记录
func ReadStream(r io.Reader, onDelta func(*StreamRecord) error) (*StreamRecord, error) {
	dec := json.NewDecoder(r)
	for {
		var record StreamRecord
		if err := dec.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrIncompleteStream
			}
			return nil, fmt.Errorf("解析对话流失败: %w", err)
		}

		if record.IsComplete {
			if record.Error {
				return &record, ErrStreamFailed
			}
			return &record, nil
		}

		if onDelta != nil {
			if err := onDelta(&record); err != nil {
				return nil, err
			}
		}
	}
}
