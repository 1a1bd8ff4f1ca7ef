// Package repository 提供数据访问层的实现
// Store 接口与后端无关：默认使用进程内存储，也可以切换到 MySQL
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"jensengpt/internal/model"
)

// 数据访问层错误
var (
	ErrNotFound         = errors.New("记录不存在")
	ErrInvalidReference = errors.New("引用的记录不存在")
)

// 实体名称，用于错误信息和 HTTP 层区分业务码
const (
	EntityConversation = "conversation"
	EntityBranch       = "branch"
	EntityMessage      = "message"
	EntityBookmark     = "bookmark"
	EntityThought      = "thought"
	EntityIdea         = "idea"
)

// NotFoundError 目标记录不存在
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v 不存在", e.Entity, e.ID)
}

// Is 使 errors.Is(err, ErrNotFound) 成立
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ReferenceError 写入时引用了不存在（或不属于同一会话）的记录
type ReferenceError struct {
	Entity string      // 被写入的实体
	Field  string      // 引用字段
	ID     interface{} // 引用值
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s.%s 引用的记录 %v 不存在", e.Entity, e.Field, e.ID)
}

// Is 使 errors.Is(err, ErrInvalidReference) 成立
func (e *ReferenceError) Is(target error) bool {
	return target == ErrInvalidReference
}

func notFound(entity string, id interface{}) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// ThoughtUpdate 思考的部分更新，nil 字段保持不变
type ThoughtUpdate struct {
	Content           *string
	Category          *string
	Tags              []string
	RelatedThoughtIDs []int64
	Extensions        []byte
	Metrics           []byte
}

func (u *ThoughtUpdate) apply(t *model.Thought) {
	if u.Content != nil {
		t.Content = *u.Content
	}
	if u.Category != nil {
		t.Category = *u.Category
	}
	if u.Tags != nil {
		t.Tags = append([]string(nil), u.Tags...)
	}
	if u.RelatedThoughtIDs != nil {
		t.RelatedThoughtIDs = append([]int64(nil), u.RelatedThoughtIDs...)
	}
	if u.Extensions != nil {
		t.Extensions = datatypes.JSON(append([]byte(nil), u.Extensions...))
	}
	if u.Metrics != nil {
		t.Metrics = datatypes.JSON(append([]byte(nil), u.Metrics...))
	}
}

// IdeaUpdate 想法的部分更新，nil 字段保持不变
type IdeaUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Feedback    []byte
	Metadata    []byte
}

func (u *IdeaUpdate) apply(idea *model.Idea) {
	if u.Title != nil {
		idea.Title = *u.Title
	}
	if u.Description != nil {
		idea.Description = *u.Description
	}
	if u.Status != nil {
		idea.Status = *u.Status
	}
	if u.Feedback != nil {
		idea.Feedback = datatypes.JSON(append([]byte(nil), u.Feedback...))
	}
	if u.Metadata != nil {
		idea.Metadata = datatypes.JSON(append([]byte(nil), u.Metadata...))
	}
}

// relatedTo 判断 other 是否与 t 相关：被 t 显式关联或共享标签
func relatedTo(t, other *model.Thought) bool {
	if other.ID == t.ID || other.ConversationID != t.ConversationID {
		return false
	}
	for _, id := range t.RelatedThoughtIDs {
		if id == other.ID {
			return true
		}
	}
	for _, tag := range t.Tags {
		if other.HasTag(tag) {
			return true
		}
	}
	return false
}

// Store 实体存储接口
// 所有方法都是临界区：实现必须保证单个方法调用的原子性
// 读取返回副本，调用方修改返回值不会影响存储状态
type Store interface {
	// ==================== 会话 ====================

	// CreateConversation 创建会话，ID 为空时自动生成
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	// CreateConversationWithBranch 原子地创建会话及其活跃的默认分支
	CreateConversationWithBranch(ctx context.Context, conv *model.Conversation, branchName string) (*model.Branch, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// ListConversations 按 UpdatedAt 倒序返回所有会话
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) (*model.Conversation, error)
	ToggleLearningMode(ctx context.Context, id string, enabled bool) (*model.Conversation, error)
	// DeleteConversation 删除会话并级联删除分支、书签、思考和想法，消息保留
	DeleteConversation(ctx context.Context, id string) (bool, error)

	// ==================== 分支 ====================

	// CreateBranch 创建分支
	// activate 为 nil 时仅在会话没有任何分支时设为活跃；为 true 时原子地替换活跃分支
	CreateBranch(ctx context.Context, branch *model.Branch, activate *bool) error
	GetBranch(ctx context.Context, id string) (*model.Branch, error)
	// ListBranches 按创建时间正序返回会话的分支
	ListBranches(ctx context.Context, conversationID string) ([]model.Branch, error)
	// GetActiveBranch 返回会话的活跃分支，没有时返回 (nil, nil)
	GetActiveBranch(ctx context.Context, conversationID string) (*model.Branch, error)
	// EnsureActiveBranch 返回活跃分支，没有时原子地创建一个并激活
	// created 表示本次调用是否新建了分支
	EnsureActiveBranch(ctx context.Context, conversationID, name string) (branch *model.Branch, created bool, err error)
	// SetActiveBranch 激活分支并取消同会话其他分支的活跃状态，重复调用结果相同
	SetActiveBranch(ctx context.Context, id string) (*model.Branch, error)
	UpdateBranchName(ctx context.Context, id, name string) (*model.Branch, error)
	// DeleteBranch 删除分支但保留其消息；删除活跃分支时激活最新的同级分支
	DeleteBranch(ctx context.Context, id string) (bool, error)

	// ==================== 消息 ====================

	// CreateMessage 创建消息，分配单调递增 ID 并设置时间戳
	CreateMessage(ctx context.Context, msg *model.Message) error
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	// ListMessages 按时间正序返回会话的全部消息
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// ListMessagesByBranch 只返回分支标记完全匹配的消息，不包含分叉点之前的祖先
	ListMessagesByBranch(ctx context.Context, conversationID, branchID string) ([]model.Message, error)
	UpdateMessageReasoningSteps(ctx context.Context, id int64, steps []model.ReasoningStep) (*model.Message, error)

	// ==================== 书签 ====================

	CreateBookmark(ctx context.Context, bookmark *model.Bookmark) error
	GetBookmark(ctx context.Context, id int64) (*model.Bookmark, error)
	ListBookmarks(ctx context.Context, conversationID string) ([]model.Bookmark, error)
	UpdateBookmarkName(ctx context.Context, id int64, name string) (*model.Bookmark, error)
	DeleteBookmark(ctx context.Context, id int64) (bool, error)

	// ==================== 思考与想法 ====================

	CreateThought(ctx context.Context, thought *model.Thought) error
	GetThought(ctx context.Context, id int64) (*model.Thought, error)
	ListThoughts(ctx context.Context, conversationID string) ([]model.Thought, error)
	UpdateThought(ctx context.Context, id int64, update *ThoughtUpdate) (*model.Thought, error)
	DeleteThought(ctx context.Context, id int64) (bool, error)
	// RelatedThoughts 返回显式关联或共享标签的同会话思考，不含自身，按 ID 排序
	RelatedThoughts(ctx context.Context, id int64) ([]model.Thought, error)

	CreateIdea(ctx context.Context, idea *model.Idea) error
	GetIdea(ctx context.Context, id int64) (*model.Idea, error)
	ListIdeas(ctx context.Context, conversationID string) ([]model.Idea, error)
	UpdateIdea(ctx context.Context, id int64, update *IdeaUpdate) (*model.Idea, error)
	DeleteIdea(ctx context.Context, id int64) (bool, error)

	// ==================== 推理解释 ====================

	CreateExplanation(ctx context.Context, explanation *model.ReasoningExplanation) error
	ListExplanations(ctx context.Context, messageID int64) ([]model.ReasoningExplanation, error)
}
