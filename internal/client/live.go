package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// 心跳间隔
const heartbeatInterval = 30 * time.Second

// Event 服务端推送的实时事件
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// heartbeat 客户端心跳消息
type heartbeat struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// liveURL 将 HTTP 地址转换为 WebSocket 地址
func (c *Client) liveURL(conversationID string) string {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	return wsURL + "/ws/conversations/" + url.PathEscape(conversationID)
}

// Watch 订阅会话的实时事件，阻塞直到 ctx 取消或连接断开
// onEvent 对每个事件调用一次（不含心跳响应）
func (c *Client) Watch(ctx context.Context, conversationID string, onEvent func(*Event)) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.liveURL(conversationID), nil)
	if err != nil {
		// 握手被拒绝时服务端返回统一响应结构
		if resp != nil {
			defer resp.Body.Close()
			if _, apiErr := decodeResponse(resp); apiErr != nil {
				return apiErr
			}
		}
		return fmt.Errorf("连接失败: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	// ctx 取消时发送关闭帧，读循环随后退出
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteJSON(&heartbeat{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var event Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("读取事件失败: %w", err)
		}
		if event.Type == "pong" {
			continue
		}
		onEvent(&event)
	}
}
