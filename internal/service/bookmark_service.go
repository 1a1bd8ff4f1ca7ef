package service

import (
	"context"
	"strings"

	"jensengpt/internal/model"
	"jensengpt/internal/repository"
)

// BookmarkService 书签服务
type BookmarkService struct {
	base
}

// NewBookmarkService 创建 BookmarkService 实例
func NewBookmarkService(store repository.Store, reads *ReadCache) *BookmarkService {
	return &BookmarkService{base: newBase(store, reads)}
}

// CreateBookmarkRequest 创建书签请求
type CreateBookmarkRequest struct {
	Name           string  `json:"name"`
	ConversationID string  `json:"conversationId"`
	MessageID      int64   `json:"messageId"`
	BranchID       *string `json:"branchId"`
}

// RenameBookmarkRequest 重命名书签请求
type RenameBookmarkRequest struct {
	Name string `json:"name"`
}

// Create 创建书签
func (s *BookmarkService) Create(ctx context.Context, req *CreateBookmarkRequest) (*model.Bookmark, error) {
	if req == nil || strings.TrimSpace(req.ConversationID) == "" {
		return nil, invalid("conversationId 不能为空")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name 不能为空")
	}
	if req.MessageID <= 0 {
		return nil, invalid("messageId 不能为空")
	}

	bookmark := &model.Bookmark{
		Name:           strings.TrimSpace(req.Name),
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		BranchID:       req.BranchID,
	}
	if err := s.store.CreateBookmark(ctx, bookmark); err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, bookmark.ConversationID, false)
	s.publish(bookmark.ConversationID, EventBookmarkChanged, bookmark)
	return bookmark, nil
}

// Get 获取书签
func (s *BookmarkService) Get(ctx context.Context, id int64) (*model.Bookmark, error) {
	return s.store.GetBookmark(ctx, id)
}

// List 获取会话的书签
func (s *BookmarkService) List(ctx context.Context, conversationID string) ([]model.Bookmark, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return nonNil(s.store.ListBookmarks(ctx, conversationID))
}

// Rename 重命名书签
func (s *BookmarkService) Rename(ctx context.Context, id int64, req *RenameBookmarkRequest) (*model.Bookmark, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name 不能为空")
	}

	bookmark, err := s.store.UpdateBookmarkName(ctx, id, strings.TrimSpace(req.Name))
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, bookmark.ConversationID, false)
	s.publish(bookmark.ConversationID, EventBookmarkChanged, bookmark)
	return bookmark, nil
}

// Delete 删除书签
func (s *BookmarkService) Delete(ctx context.Context, id int64) error {
	bookmark, err := s.store.GetBookmark(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.store.DeleteBookmark(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return &repository.NotFoundError{Entity: repository.EntityBookmark, ID: id}
	}

	s.reads.invalidateConversation(ctx, bookmark.ConversationID, false)
	s.publish(bookmark.ConversationID, EventBookmarkChanged, map[string]interface{}{"id": id, "deleted": true})
	return nil
}
