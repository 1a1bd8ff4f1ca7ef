// Package client 封装与 JensenGPT 服务端的 HTTP API 交互
// 普通接口使用统一响应结构，对话接口按行解析 NDJSON 流
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client API 客户端
// baseURL: 例如 http://localhost:8080
type Client struct {
	baseURL    string
	httpClient *http.Client

	// 流式对话不设整体超时，由 ctx 控制
	streamClient *http.Client
}

// NewClient 创建 API 客户端
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
}

// BaseURL 返回服务端地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --- 通用响应 ---

// APIResponse 统一响应结构
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务端返回的业务错误
type APIError struct {
	Status  int    // HTTP 状态码
	Code    int    // 业务状态码
	Message string // 提示信息
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API 错误 (%d/%d): %s", e.Status, e.Code, e.Message)
}

// --- 数据结构 ---

// Conversation 会话
type Conversation struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	LearningModeEnabled bool      `json:"learningModeEnabled"`
	ActiveBranchID      *string   `json:"activeBranchId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Branch 分支
type Branch struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ConversationID string    `json:"conversationId"`
	IsActive       int       `json:"isActive"`
	RootMessageID  *int64    `json:"rootMessageId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Active 是否为当前活跃分支
func (b *Branch) Active() bool {
	return b.IsActive == 1
}

// Message 消息
type Message struct {
	ID             int64     `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ConversationID string    `json:"conversationId"`
	BranchID       *string   `json:"branchId"`
	ParentID       *int64    `json:"parentId"`
	Timestamp      time.Time `json:"timestamp"`
	Model          *string   `json:"model,omitempty"`
	Truncated      bool      `json:"truncated,omitempty"`
}

// --- 会话 ---

// Health 检查服务端健康状态
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	var status map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return status, &APIError{Status: resp.StatusCode, Message: status["status"]}
	}
	return status, nil
}

// ListConversations 获取会话列表
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var list []Conversation
	if err := c.call(ctx, http.MethodGet, "/api/conversations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateConversation 创建会话，title 为空时使用默认标题
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	var conv Conversation
	if err := c.call(ctx, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversation 获取会话详情
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation 删除会话
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

// ListMessages 获取会话消息，branchID 非空时只返回该分支
func (c *Client) ListMessages(ctx context.Context, conversationID, branchID string) ([]Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if branchID != "" {
		path += "?branchId=" + url.QueryEscape(branchID)
	}
	var list []Message
	if err := c.call(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- 分支 ---

// ListBranches 获取会话的全部分支
func (c *Client) ListBranches(ctx context.Context, conversationID string) ([]Branch, error) {
	var list []Branch
	if err := c.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/branches", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ActiveBranch 获取活跃分支，没有时返回 nil
func (c *Client) ActiveBranch(ctx context.Context, conversationID string) (*Branch, error) {
	var branch *Branch
	if err := c.call(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(conversationID)+"/branches/active", nil, &branch); err != nil {
		return nil, err
	}
	return branch, nil
}

// ActivateBranch 切换活跃分支
func (c *Client) ActivateBranch(ctx context.Context, branchID string) (*Branch, error) {
	var branch Branch
	if err := c.call(ctx, http.MethodPost, "/api/branches/"+url.PathEscape(branchID)+"/active", nil, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

// --- 通用请求封装 ---

// call 发送请求并把 data 解码到 out，out 为 nil 时忽略 data
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	apiResp, err := decodeResponse(resp)
	if err != nil {
		return err
	}
	if out == nil || len(apiResp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}

// decodeResponse 解析统一响应，业务错误转换为 *APIError
func decodeResponse(resp *http.Response) (*APIResponse, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("无法解析的响应: %s", bytes.TrimSpace(respBody))}
	}
	if apiResp.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{Status: resp.StatusCode, Code: apiResp.Code, Message: apiResp.Message}
	}
	return &apiResp, nil
}
