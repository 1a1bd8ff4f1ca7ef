package model

import (
	"time"

	"gorm.io/datatypes"
)

// IdeaStatus 想法状态常量
const (
	IdeaStatusDraft  = "draft"
	IdeaStatusActive = "active"
	IdeaStatusDone   = "done"
)

// Thought 思考记录
// 对应数据库表 thoughts
// Extensions、Metrics 是前端自定义的任意 JSON，服务端原样保存
type Thought struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string `gorm:"size:36;index;not null" json:"conversationId"`
	MessageID      *int64 `json:"messageId"`
	Content        string `gorm:"type:text;not null" json:"content"`
	Category       string `gorm:"size:50" json:"category"`

	// Tags 标签，相同标签的思考互为相关
	Tags []string `gorm:"serializer:json;type:text" json:"tags"`

	// RelatedThoughtIDs 显式关联的思考
	RelatedThoughtIDs []int64 `gorm:"serializer:json;type:text" json:"relatedThoughtIds"`

	Extensions datatypes.JSON `json:"extensions,omitempty"`
	Metrics    datatypes.JSON `json:"metrics,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定表名
func (Thought) TableName() string {
	return "thoughts"
}

// HasTag 判断是否带有指定标签
func (t *Thought) HasTag(tag string) bool {
	for _, x := range t.Tags {
		if x == tag {
			return true
		}
	}
	return false
}

// Idea 想法记录
// 对应数据库表 ideas
// 可以由某条思考衍生而来
type Idea struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string         `gorm:"size:36;index;not null" json:"conversationId"`
	ThoughtID      *int64         `json:"thoughtId"`
	Title          string         `gorm:"size:255;not null" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	Status         string         `gorm:"size:20;default:draft" json:"status"`
	Feedback       datatypes.JSON `json:"feedback,omitempty"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定表名
func (Idea) TableName() string {
	return "ideas"
}

// ReasoningExplanation 对某条消息推理过程的解释
// 对应数据库表 reasoning_explanations
type ReasoningExplanation struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversationId"`
	MessageID      int64     `gorm:"index;not null" json:"messageId"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定表名
func (ReasoningExplanation) TableName() string {
	return "reasoning_explanations"
}

// ValidIdeaStatus 判断想法状态是否合法
func ValidIdeaStatus(status string) bool {
	switch status {
	case IdeaStatusDraft, IdeaStatusActive, IdeaStatusDone:
		return true
	}
	return false
}
