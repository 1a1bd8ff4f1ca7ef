package model

import (
	"time"
)

// 分支活跃状态，沿用前端约定的 0/1
const (
	BranchInactive = 0
	BranchActive   = 1
)

// DefaultBranchName 会话默认分支名称
const DefaultBranchName = "Main"

// Branch 分支模型
// 对应数据库表 branches
// 表示消息树上的一条线性路径，从 RootMessageID 处分叉
type Branch struct {
	// ID 分支唯一标识（UUID）
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Name 分支显示名称
	Name string `gorm:"size:100;not null" json:"name"`

	// ConversationID 所属会话
	ConversationID string `gorm:"size:36;index;not null" json:"conversationId"`

	// IsActive 是否为会话的活跃分支 (0|1)
	// 同一会话最多一个分支为 1
	IsActive int `gorm:"default:0" json:"isActive"`

	// RootMessageID 分叉点消息，会话的原始分支为 nil
	RootMessageID *int64 `json:"rootMessageId"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定表名
func (Branch) TableName() string {
	return "branches"
}

// Active 返回分支是否活跃
func (b *Branch) Active() bool {
	return b.IsActive == BranchActive
}
