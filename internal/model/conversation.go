// Package model 定义了对话核心的数据结构
// 同一套结构同时用于内存存储、MySQL 表映射和 JSON 接口
package model

import (
	"time"
)

// Conversation 会话模型
// 对应数据库表 conversations
// 一个会话包含一棵消息树和若干分支
type Conversation struct {
	// ID 会话唯一标识（UUID）
	ID string `gorm:"primaryKey;size:36" json:"id"`

	// Title 会话标题，未指定时取第一条消息的前若干字符
	Title string `gorm:"size:255;not null" json:"title"`

	// LearningModeEnabled 学习模式开关
	// 开启后前端会为助手消息请求推理步骤
	LearningModeEnabled bool `gorm:"default:false" json:"learningModeEnabled"`

	// ActiveBranchID 当前活跃分支
	// 活跃状态由会话持有，分支上的 IsActive 由它派生
	ActiveBranchID *string `gorm:"size:36" json:"activeBranchId,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}
