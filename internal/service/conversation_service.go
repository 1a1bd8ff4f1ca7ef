package service

import (
	"context"
	"strings"

	"jensengpt/internal/cache"
	"jensengpt/internal/model"
	"jensengpt/internal/repository"
)

// DefaultConversationTitle 未指定标题时的会话名称
const DefaultConversationTitle = "New Conversation"

// ConversationService 会话服务
// 处理会话的增删改查以及会话下消息、分支的读取
type ConversationService struct {
	base
}

// NewConversationService 创建 ConversationService 实例
func NewConversationService(store repository.Store, reads *ReadCache) *ConversationService {
	return &ConversationService{base: newBase(store, reads)}
}

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// UpdateTitleRequest 修改标题请求
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

// LearningModeRequest 学习模式开关请求
type LearningModeRequest struct {
	Enabled bool `json:"enabled"`
}

// List 按最近更新时间倒序返回所有会话
func (s *ConversationService) List(ctx context.Context) ([]model.Conversation, error) {
	return cached(ctx, s.reads, cache.KeyConversations, cache.PoolListing, func() ([]model.Conversation, error) {
		return nonNil(s.store.ListConversations(ctx))
	})
}

// Create 创建会话及其默认活跃分支
func (s *ConversationService) Create(ctx context.Context, req *CreateConversationRequest) (*model.Conversation, error) {
	title := DefaultConversationTitle
	if req != nil && strings.TrimSpace(req.Title) != "" {
		title = strings.TrimSpace(req.Title)
	}

	conv := &model.Conversation{Title: title}
	if _, err := s.store.CreateConversationWithBranch(ctx, conv, model.DefaultBranchName); err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, "", true)
	return conv, nil
}

// Get 获取会话详情
func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	return cached(ctx, s.reads, cache.KeyConversation(id), cache.PoolListing, func() (*model.Conversation, error) {
		return s.store.GetConversation(ctx, id)
	})
}

// UpdateTitle 修改会话标题
func (s *ConversationService) UpdateTitle(ctx context.Context, id string, req *UpdateTitleRequest) (*model.Conversation, error) {
	if req == nil || strings.TrimSpace(req.Title) == "" {
		return nil, invalid("title 不能为空")
	}

	conv, err := s.store.UpdateConversationTitle(ctx, id, strings.TrimSpace(req.Title))
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, id, true)
	s.publish(id, EventConversationUpdated, conv)
	return conv, nil
}

// SetLearningMode 开关学习模式
func (s *ConversationService) SetLearningMode(ctx context.Context, id string, req *LearningModeRequest) (*model.Conversation, error) {
	if req == nil {
		return nil, invalid("enabled 不能为空")
	}

	conv, err := s.store.ToggleLearningMode(ctx, id, req.Enabled)
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, id, true)
	s.publish(id, EventConversationUpdated, conv)
	return conv, nil
}

// Delete 删除会话，级联删除分支、书签、思考和想法
// 会话不存在时返回 NotFoundError
func (s *ConversationService) Delete(ctx context.Context, id string) error {
	removed, err := s.store.DeleteConversation(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return &repository.NotFoundError{Entity: repository.EntityConversation, ID: id}
	}

	s.reads.invalidateConversation(ctx, id, true)
	s.publish(id, EventConversationDeleted, map[string]string{"id": id})
	return nil
}

// Messages 返回会话的消息
// branchID 非空时只返回该分支标记的消息
func (s *ConversationService) Messages(ctx context.Context, id, branchID string) ([]model.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	if branchID == "" {
		return cached(ctx, s.reads, cache.KeyMessages(id), cache.PoolMessages, func() ([]model.Message, error) {
			return nonNil(s.store.ListMessages(ctx, id))
		})
	}
	return cached(ctx, s.reads, cache.KeyBranchMessages(id, branchID), cache.PoolMessages, func() ([]model.Message, error) {
		return nonNil(s.store.ListMessagesByBranch(ctx, id, branchID))
	})
}

// Branches 返回会话的全部分支
func (s *ConversationService) Branches(ctx context.Context, id string) ([]model.Branch, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return cached(ctx, s.reads, cache.KeyBranches(id), cache.PoolListing, func() ([]model.Branch, error) {
		return nonNil(s.store.ListBranches(ctx, id))
	})
}

// ActiveBranch 返回会话的活跃分支，没有时返回 nil
func (s *ConversationService) ActiveBranch(ctx context.Context, id string) (*model.Branch, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return cached(ctx, s.reads, cache.KeyActiveBranch(id), cache.PoolListing, func() (*model.Branch, error) {
		return s.store.GetActiveBranch(ctx, id)
	})
}

// nonNil 保证列表接口返回 [] 而不是 null
func nonNil[T any](list []T, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []T{}
	}
	return list, nil
}
