package service

import (
	"context"
	"strings"

	"jensengpt/internal/model"
	"jensengpt/internal/repository"
)

// BranchService 分支服务
type BranchService struct {
	base
}

// NewBranchService 创建 BranchService 实例
func NewBranchService(store repository.Store, reads *ReadCache) *BranchService {
	return &BranchService{base: newBase(store, reads)}
}

// CreateBranchRequest 创建分支请求
type CreateBranchRequest struct {
	Name           string `json:"name"`
	ConversationID string `json:"conversationId"`
	RootMessageID  *int64 `json:"rootMessageId"`
	// IsActive 为 1 时激活新分支，为 0 时不激活，不传时仅在会话没有分支时激活
	IsActive *int `json:"isActive"`
}

// RenameBranchRequest 重命名分支请求
type RenameBranchRequest struct {
	Name string `json:"name"`
}

// Create 创建分支
func (s *BranchService) Create(ctx context.Context, req *CreateBranchRequest) (*model.Branch, error) {
	if req == nil || strings.TrimSpace(req.ConversationID) == "" {
		return nil, invalid("conversationId 不能为空")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name 不能为空")
	}

	var activate *bool
	if req.IsActive != nil {
		on := *req.IsActive == model.BranchActive
		activate = &on
	}

	branch := &model.Branch{
		Name:           strings.TrimSpace(req.Name),
		ConversationID: req.ConversationID,
		RootMessageID:  req.RootMessageID,
	}
	if err := s.store.CreateBranch(ctx, branch, activate); err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, branch.ConversationID, true)
	s.publish(branch.ConversationID, EventBranchCreated, branch)
	return branch, nil
}

// Get 获取分支
func (s *BranchService) Get(ctx context.Context, id string) (*model.Branch, error) {
	return s.store.GetBranch(ctx, id)
}

// Rename 修改分支名称
func (s *BranchService) Rename(ctx context.Context, id string, req *RenameBranchRequest) (*model.Branch, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name 不能为空")
	}

	branch, err := s.store.UpdateBranchName(ctx, id, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, branch.ConversationID, false)
	s.publish(branch.ConversationID, EventBranchUpdated, branch)
	return branch, nil
}

// Activate 激活分支，同会话的其他分支全部取消活跃
// 对已活跃的分支重复调用结果不变
func (s *BranchService) Activate(ctx context.Context, id string) (*model.Branch, error) {
	branch, err := s.store.SetActiveBranch(ctx, id)
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, branch.ConversationID, true)
	s.publish(branch.ConversationID, EventBranchActivated, branch)
	return branch, nil
}

// Delete 删除分支，分支上的消息保留
func (s *BranchService) Delete(ctx context.Context, id string) error {
	branch, err := s.store.GetBranch(ctx, id)
	if err != nil {
		return err
	}

	removed, err := s.store.DeleteBranch(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return &repository.NotFoundError{Entity: repository.EntityBranch, ID: id}
	}

	s.reads.invalidateConversation(ctx, branch.ConversationID, true)
	s.publish(branch.ConversationID, EventBranchDeleted, map[string]string{"id": id})
	return nil
}
