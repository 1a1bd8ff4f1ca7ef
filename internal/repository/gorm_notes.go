package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"jensengpt/internal/model"
)

// ==================== 书签 ====================

// CreateBookmark 创建书签
func (s *GormStore) CreateBookmark(ctx context.Context, bookmark *model.Bookmark) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkConversation(tx, EntityBookmark, bookmark.ConversationID); err != nil {
			return err
		}
		if err := s.checkMessage(tx, EntityBookmark, "messageId", bookmark.MessageID, bookmark.ConversationID); err != nil {
			return err
		}
		if bookmark.BranchID != nil {
			if err := s.checkBranch(tx, EntityBookmark, *bookmark.BranchID, bookmark.ConversationID); err != nil {
				return err
			}
		}
		return tx.Create(bookmark).Error
	})
}

// GetBookmark 根据 ID 获取书签
func (s *GormStore) GetBookmark(ctx context.Context, id int64) (*model.Bookmark, error) {
	var bookmark model.Bookmark
	if err := s.db.WithContext(ctx).First(&bookmark, id).Error; err != nil {
		return nil, translate(err, EntityBookmark, id)
	}
	return &bookmark, nil
}

// ListBookmarks 获取会话的所有书签
func (s *GormStore) ListBookmarks(ctx context.Context, conversationID string) ([]model.Bookmark, error) {
	bookmarks := make([]model.Bookmark, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&bookmarks).Error
	return bookmarks, err
}

// UpdateBookmarkName 重命名书签
func (s *GormStore) UpdateBookmarkName(ctx context.Context, id int64, name string) (*model.Bookmark, error) {
	if err := s.db.WithContext(ctx).Model(&model.Bookmark{}).Where("id = ?", id).Update("name", name).Error; err != nil {
		return nil, err
	}
	return s.GetBookmark(ctx, id)
}

// DeleteBookmark 删除书签
func (s *GormStore) DeleteBookmark(ctx context.Context, id int64) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&model.Bookmark{}, id)
	return result.RowsAffected > 0, result.Error
}

// ==================== 思考 ====================

// CreateThought 创建思考
func (s *GormStore) CreateThought(ctx context.Context, thought *model.Thought) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkConversation(tx, EntityThought, thought.ConversationID); err != nil {
			return err
		}
		if thought.MessageID != nil {
			if err := s.checkMessage(tx, EntityThought, "messageId", *thought.MessageID, thought.ConversationID); err != nil {
				return err
			}
		}
		if err := s.checkThoughts(tx, thought.RelatedThoughtIDs, thought.ConversationID); err != nil {
			return err
		}
		return tx.Create(thought).Error
	})
}

// GetThought 根据 ID 获取思考
func (s *GormStore) GetThought(ctx context.Context, id int64) (*model.Thought, error) {
	var thought model.Thought
	if err := s.db.WithContext(ctx).First(&thought, id).Error; err != nil {
		return nil, translate(err, EntityThought, id)
	}
	return &thought, nil
}

// ListThoughts 获取会话的所有思考
func (s *GormStore) ListThoughts(ctx context.Context, conversationID string) ([]model.Thought, error) {
	thoughts := make([]model.Thought, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&thoughts).Error
	return thoughts, err
}

// UpdateThought 部分更新思考
func (s *GormStore) UpdateThought(ctx context.Context, id int64, update *ThoughtUpdate) (*model.Thought, error) {
	var thought model.Thought
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&thought, id).Error; err != nil {
			return translate(err, EntityThought, id)
		}
		if update.RelatedThoughtIDs != nil {
			if err := s.checkThoughts(tx, update.RelatedThoughtIDs, thought.ConversationID); err != nil {
				return err
			}
		}
		update.apply(&thought)
		return tx.Save(&thought).Error
	})
	if err != nil {
		return nil, err
	}
	return &thought, nil
}

// DeleteThought 删除思考
func (s *GormStore) DeleteThought(ctx context.Context, id int64) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&model.Thought{}, id)
	return result.RowsAffected > 0, result.Error
}

// RelatedThoughts 获取相关思考
// 标签以 JSON 文本存储，在同会话范围内读出后过滤
func (s *GormStore) RelatedThoughts(ctx context.Context, id int64) ([]model.Thought, error) {
	thought, err := s.GetThought(ctx, id)
	if err != nil {
		return nil, err
	}
	candidates, err := s.ListThoughts(ctx, thought.ConversationID)
	if err != nil {
		return nil, err
	}

	result := make([]model.Thought, 0)
	for i := range candidates {
		if relatedTo(thought, &candidates[i]) {
			result = append(result, candidates[i])
		}
	}
	return result, nil
}

func (s *GormStore) checkThoughts(tx *gorm.DB, ids []int64, conversationID string) error {
	if !s.strict || len(ids) == 0 {
		return nil
	}
	var found []int64
	err := tx.Model(&model.Thought{}).
		Where("id IN ? AND conversation_id = ?", ids, conversationID).
		Pluck("id", &found).Error
	if err != nil {
		return err
	}
	known := make(map[int64]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	for _, id := range ids {
		if !known[id] {
			return &ReferenceError{Entity: EntityThought, Field: "relatedThoughtIds", ID: id}
		}
	}
	return nil
}

// ==================== 想法 ====================

// CreateIdea 创建想法
func (s *GormStore) CreateIdea(ctx context.Context, idea *model.Idea) error {
	if idea.Status == "" {
		idea.Status = model.IdeaStatusDraft
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkConversation(tx, EntityIdea, idea.ConversationID); err != nil {
			return err
		}
		if idea.ThoughtID != nil && s.strict {
			var thought model.Thought
			err := tx.Where("id = ? AND conversation_id = ?", *idea.ThoughtID, idea.ConversationID).First(&thought).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ReferenceError{Entity: EntityIdea, Field: "thoughtId", ID: *idea.ThoughtID}
			}
			if err != nil {
				return err
			}
		}
		return tx.Create(idea).Error
	})
}

// GetIdea 根据 ID 获取想法
func (s *GormStore) GetIdea(ctx context.Context, id int64) (*model.Idea, error) {
	var idea model.Idea
	if err := s.db.WithContext(ctx).First(&idea, id).Error; err != nil {
		return nil, translate(err, EntityIdea, id)
	}
	return &idea, nil
}

// ListIdeas 获取会话的所有想法
func (s *GormStore) ListIdeas(ctx context.Context, conversationID string) ([]model.Idea, error) {
	ideas := make([]model.Idea, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&ideas).Error
	return ideas, err
}

// UpdateIdea 部分更新想法
func (s *GormStore) UpdateIdea(ctx context.Context, id int64, update *IdeaUpdate) (*model.Idea, error) {
	var idea model.Idea
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&idea, id).Error; err != nil {
			return translate(err, EntityIdea, id)
		}
		update.apply(&idea)
		return tx.Save(&idea).Error
	})
	if err != nil {
		return nil, err
	}
	return &idea, nil
}

// DeleteIdea 删除想法
func (s *GormStore) DeleteIdea(ctx context.Context, id int64) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&model.Idea{}, id)
	return result.RowsAffected > 0, result.Error
}

// ==================== 推理解释 ====================

// CreateExplanation 为消息创建推理解释
func (s *GormStore) CreateExplanation(ctx context.Context, explanation *model.ReasoningExplanation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg model.Message
		err := tx.First(&msg, explanation.MessageID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && explanation.ConversationID == "" {
			explanation.ConversationID = msg.ConversationID
		}
		if err := s.checkMessage(tx, "explanation", "messageId", explanation.MessageID, explanation.ConversationID); err != nil {
			return err
		}
		return tx.Create(explanation).Error
	})
}

// ListExplanations 获取消息的推理解释
func (s *GormStore) ListExplanations(ctx context.Context, messageID int64) ([]model.ReasoningExplanation, error) {
	explanations := make([]model.ReasoningExplanation, 0)
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&explanations).Error
	return explanations, err
}
