package model

import (
	"time"
)

// Bookmark 书签模型
// 对应数据库表 bookmarks
// 指向某条消息的命名快捷方式，生命周期独立于被引用的消息和分支
type Bookmark struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"size:100;not null" json:"name"`
	ConversationID string    `gorm:"size:36;index;not null" json:"conversationId"`
	MessageID      int64     `gorm:"not null" json:"messageId"`
	BranchID       *string   `gorm:"size:36" json:"branchId"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定表名
func (Bookmark) TableName() string {
	return "bookmarks"
}
