// Package websocket 提供会话实时事件推送
// 客户端按会话订阅，服务端在实体变更后推送事件，前端据此刷新而无需轮询
package websocket

import (
	"time"

	"github.com/google/uuid"
)

// MessageType 消息类型常量
// 实体变更事件的类型沿用 service 包中的 Event* 常量
const (
	// 客户端 → 服务端
	TypeHeartbeat = "heartbeat" // 心跳

	// 服务端 → 客户端
	TypeConnected = "connected" // 订阅成功
	TypePong      = "pong"      // 心跳响应
	TypeError     = "error"     // 错误消息
)

// Message WebSocket 消息结构
// 所有消息都使用这个统一的结构
type Message struct {
	Type      string      `json:"type"`                 // 消息类型
	Payload   interface{} `json:"payload"`              // 消息内容
	Timestamp int64       `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string      `json:"message_id,omitempty"` // 消息ID，用于去重
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewEvent 创建带唯一 ID 的事件消息
func NewEvent(eventType string, payload interface{}) *Message {
	msg := NewMessage(eventType, payload)
	msg.MessageID = uuid.NewString()
	return msg
}

// ConnectedPayload 订阅成功 Payload
type ConnectedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload 错误消息 Payload
type ErrorPayload struct {
	Code    int    `json:"code"`    // 错误码
	Message string `json:"message"` // 错误信息
}
