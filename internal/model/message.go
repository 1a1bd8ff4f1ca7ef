package model

import (
	"time"
)

// MessageRole 消息角色常量
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // AI 助手响应
	MessageRoleSystem    = "system"    // 系统消息
)

// ReasoningStep 学习模式下附加在消息上的一步推理
type ReasoningStep struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Message 消息模型
// 对应数据库表 messages
// 通过 ParentID 组成消息树，创建后除推理步骤外不可修改
type Message struct {
	// ID 消息唯一标识，单调递增
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// Role 消息角色: user / assistant / system
	Role string `gorm:"size:20;not null" json:"role"`

	// Content 消息内容
	Content string `gorm:"type:text;not null" json:"content"`

	// ConversationID 所属会话
	ConversationID string `gorm:"size:36;index;not null" json:"conversationId"`

	// BranchID 消息所属分支
	BranchID *string `gorm:"size:36;index" json:"branchId"`

	// ParentID 消息树中的直接前驱，根消息为 nil
	// 总是指向更早创建的消息，因此不会成环
	ParentID *int64 `gorm:"index" json:"parentId"`

	// Timestamp 创建时间
	Timestamp time.Time `gorm:"index" json:"timestamp"`

	// ReasoningSteps 学习模式的推理步骤，可在创建后附加
	ReasoningSteps []ReasoningStep `gorm:"serializer:json;type:text" json:"reasoningSteps,omitempty"`

	// HasReasoningSteps 是否带有推理步骤
	HasReasoningSteps bool `gorm:"default:false" json:"hasReasoningSteps"`

	// Model 生成该消息的模型，仅助手消息有值
	Model *string `gorm:"size:100" json:"model,omitempty"`

	// Truncated 客户端中途断开导致回复不完整
	Truncated bool `gorm:"default:false" json:"truncated,omitempty"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}
