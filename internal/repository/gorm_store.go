package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jensengpt/internal/model"
)

// GormStore 基于 MySQL 的实体存储
// 活跃分支以 conversations.active_branch_id 为准，branches.is_active 在同一事务内同步更新
// 切换活跃分支前对会话行加锁，并发激活会被串行化
type GormStore struct {
	db     *gorm.DB
	strict bool
}

// NewGormStore 创建 GormStore 实例
func NewGormStore(db *gorm.DB, strict bool) *GormStore {
	return &GormStore{db: db, strict: strict}
}

var _ Store = (*GormStore)(nil)

// translate 将 gorm 的记录不存在错误转换为 NotFoundError
func translate(err error, entity string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(entity, id)
	}
	return err
}

// ==================== 会话 ====================

// CreateConversation 创建会话
func (s *GormStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.ActiveBranchID = nil
	return s.db.WithContext(ctx).Create(conv).Error
}

// CreateConversationWithBranch 在一个事务中创建会话和默认分支
func (s *GormStore) CreateConversationWithBranch(ctx context.Context, conv *model.Conversation, branchName string) (*model.Branch, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	conv.ActiveBranchID = nil

	branch := &model.Branch{
		ID:             uuid.NewString(),
		Name:           branchName,
		ConversationID: conv.ID,
		IsActive:       model.BranchActive,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		if err := tx.Create(branch).Error; err != nil {
			return err
		}
		conv.ActiveBranchID = strPtr(branch.ID)
		return tx.Model(&model.Conversation{}).Where("id = ?", conv.ID).
			Update("active_branch_id", branch.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

// GetConversation 根据 ID 获取会话
func (s *GormStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, translate(err, EntityConversation, id)
	}
	return &conv, nil
}

// ListConversations 获取所有会话，最近更新的在前
func (s *GormStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	conversations := make([]model.Conversation, 0)
	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Order("id ASC").
		Find(&conversations).Error
	return conversations, err
}

// UpdateConversationTitle 更新会话标题
func (s *GormStore) UpdateConversationTitle(ctx context.Context, id, title string) (*model.Conversation, error) {
	return s.updateConversation(ctx, id, map[string]interface{}{"title": title})
}

// ToggleLearningMode 切换学习模式
func (s *GormStore) ToggleLearningMode(ctx context.Context, id string, enabled bool) (*model.Conversation, error) {
	return s.updateConversation(ctx, id, map[string]interface{}{"learning_mode_enabled": enabled})
}

func (s *GormStore) updateConversation(ctx context.Context, id string, updates map[string]interface{}) (*model.Conversation, error) {
	updates["updated_at"] = time.Now()
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, notFound(EntityConversation, id)
	}
	return s.GetConversation(ctx, id)
}

// DeleteConversation 删除会话
// 级联删除分支、书签、思考和想法；消息和推理解释保留
func (s *GormStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dependent := range []interface{}{&model.Branch{}, &model.Bookmark{}, &model.Thought{}, &model.Idea{}} {
			if err := tx.Where("conversation_id = ?", id).Delete(dependent).Error; err != nil {
				return err
			}
		}
		result := tx.Where("id = ?", id).Delete(&model.Conversation{})
		deleted = result.RowsAffected > 0
		return result.Error
	})
	return deleted, err
}

// ==================== 分支 ====================

// CreateBranch 创建分支
func (s *GormStore) CreateBranch(ctx context.Context, branch *model.Branch, activate *bool) error {
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := lockConversation(tx, branch.ConversationID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if conv == nil && s.strict {
			return &ReferenceError{Entity: EntityBranch, Field: "conversationId", ID: branch.ConversationID}
		}
		if branch.RootMessageID != nil {
			if err := s.checkMessage(tx, EntityBranch, "rootMessageId", *branch.RootMessageID, branch.ConversationID); err != nil {
				return err
			}
		}

		makeActive := false
		if activate != nil {
			makeActive = *activate
		} else {
			var count int64
			if err := tx.Model(&model.Branch{}).Where("conversation_id = ?", branch.ConversationID).Count(&count).Error; err != nil {
				return err
			}
			makeActive = count == 0
		}

		branch.IsActive = model.BranchInactive
		if err := tx.Create(branch).Error; err != nil {
			return err
		}
		if !makeActive {
			return nil
		}
		branch.IsActive = model.BranchActive
		return activateBranch(tx, branch.ConversationID, branch.ID)
	})
}

// GetBranch 根据 ID 获取分支
func (s *GormStore) GetBranch(ctx context.Context, id string) (*model.Branch, error) {
	var branch model.Branch
	if err := s.db.WithContext(ctx).First(&branch, "id = ?", id).Error; err != nil {
		return nil, translate(err, EntityBranch, id)
	}
	return &branch, nil
}

// ListBranches 获取会话的所有分支
func (s *GormStore) ListBranches(ctx context.Context, conversationID string) ([]model.Branch, error) {
	branches := make([]model.Branch, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&branches).Error
	return branches, err
}

// GetActiveBranch 获取会话的活跃分支
func (s *GormStore) GetActiveBranch(ctx context.Context, conversationID string) (*model.Branch, error) {
	return activeBranch(s.db.WithContext(ctx), conversationID)
}

func activeBranch(db *gorm.DB, conversationID string) (*model.Branch, error) {
	var branch model.Branch
	err := db.
		Where("conversation_id = ? AND is_active = ?", conversationID, model.BranchActive).
		First(&branch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

// EnsureActiveBranch 获取或创建活跃分支
func (s *GormStore) EnsureActiveBranch(ctx context.Context, conversationID, name string) (*model.Branch, bool, error) {
	var result *model.Branch
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := lockConversation(tx, conversationID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if conv == nil && s.strict {
			return &ReferenceError{Entity: EntityBranch, Field: "conversationId", ID: conversationID}
		}

		existing, err := activeBranch(tx, conversationID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		branch := &model.Branch{
			ID:             uuid.NewString(),
			Name:           name,
			ConversationID: conversationID,
			IsActive:       model.BranchActive,
		}
		if err := tx.Create(branch).Error; err != nil {
			return err
		}
		result, created = branch, true
		return activateBranch(tx, conversationID, branch.ID)
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// SetActiveBranch 激活分支
func (s *GormStore) SetActiveBranch(ctx context.Context, id string) (*model.Branch, error) {
	var result model.Branch
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&result, "id = ?", id).Error; err != nil {
			return translate(err, EntityBranch, id)
		}
		if _, err := lockConversation(tx, result.ConversationID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		result.IsActive = model.BranchActive
		return activateBranch(tx, result.ConversationID, id)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateBranchName 重命名分支
func (s *GormStore) UpdateBranchName(ctx context.Context, id, name string) (*model.Branch, error) {
	result := s.db.WithContext(ctx).Model(&model.Branch{}).Where("id = ?", id).Update("name", name)
	if result.Error != nil {
		return nil, result.Error
	}
	// 名称未变化时 MySQL 的 RowsAffected 也是 0，不能据此判断记录不存在
	return s.GetBranch(ctx, id)
}

// DeleteBranch 删除分支
func (s *GormStore) DeleteBranch(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var branch model.Branch
		if err := tx.First(&branch, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		conv, err := lockConversation(tx, branch.ConversationID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Delete(&model.Branch{}, "id = ?", id).Error; err != nil {
			return err
		}
		deleted = true

		if conv == nil || conv.ActiveBranchID == nil || *conv.ActiveBranchID != id {
			return nil
		}
		// 激活最新创建的同级分支
		var sibling model.Branch
		err = tx.Where("conversation_id = ?", branch.ConversationID).
			Order("created_at DESC").
			First(&sibling).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Model(&model.Conversation{}).Where("id = ?", conv.ID).
				Update("active_branch_id", nil).Error
		}
		if err != nil {
			return err
		}
		return activateBranch(tx, branch.ConversationID, sibling.ID)
	})
	return deleted, err
}

// lockConversation 对会话行加排他锁，会话不存在时返回 gorm.ErrRecordNotFound
func lockConversation(tx *gorm.DB, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// activateBranch 在事务内把 branchID 设为会话唯一的活跃分支
func activateBranch(tx *gorm.DB, conversationID, branchID string) error {
	if err := tx.Model(&model.Branch{}).
		Where("conversation_id = ? AND id <> ?", conversationID, branchID).
		Update("is_active", model.BranchInactive).Error; err != nil {
		return err
	}
	if err := tx.Model(&model.Branch{}).
		Where("id = ?", branchID).
		Update("is_active", model.BranchActive).Error; err != nil {
		return err
	}
	return tx.Model(&model.Conversation{}).
		Where("id = ?", conversationID).
		Update("active_branch_id", branchID).Error
}

// ==================== 消息 ====================

// CreateMessage 创建消息
func (s *GormStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkConversation(tx, EntityMessage, msg.ConversationID); err != nil {
			return err
		}
		if msg.BranchID != nil {
			if err := s.checkBranch(tx, EntityMessage, *msg.BranchID, msg.ConversationID); err != nil {
				return err
			}
		}
		if msg.ParentID != nil {
			if err := s.checkMessage(tx, EntityMessage, "parentId", *msg.ParentID, msg.ConversationID); err != nil {
				return err
			}
		}

		msg.ID = 0
		msg.Timestamp = time.Now()
		msg.HasReasoningSteps = len(msg.ReasoningSteps) > 0
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("updated_at", msg.Timestamp).Error
	})
}

// GetMessage 根据 ID 获取消息
func (s *GormStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, translate(err, EntityMessage, id)
	}
	return &msg, nil
}

// ListMessages 获取会话的所有消息
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// ListMessagesByBranch 获取分支上的消息
func (s *GormStore) ListMessagesByBranch(ctx context.Context, conversationID, branchID string) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND branch_id = ?", conversationID, branchID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// UpdateMessageReasoningSteps 替换消息的推理步骤
func (s *GormStore) UpdateMessageReasoningSteps(ctx context.Context, id int64, steps []model.ReasoningStep) (*model.Message, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	msg.ReasoningSteps = steps
	msg.HasReasoningSteps = len(steps) > 0
	err = s.db.WithContext(ctx).Model(msg).
		Select("reasoning_steps", "has_reasoning_steps").
		Updates(msg).Error
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ==================== 引用校验 ====================

func (s *GormStore) checkConversation(tx *gorm.DB, entity, conversationID string) error {
	if !s.strict {
		return nil
	}
	var count int64
	if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return &ReferenceError{Entity: entity, Field: "conversationId", ID: conversationID}
	}
	return nil
}

func (s *GormStore) checkBranch(tx *gorm.DB, entity, branchID, conversationID string) error {
	if !s.strict {
		return nil
	}
	var count int64
	err := tx.Model(&model.Branch{}).
		Where("id = ? AND conversation_id = ?", branchID, conversationID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return &ReferenceError{Entity: entity, Field: "branchId", ID: branchID}
	}
	return nil
}

func (s *GormStore) checkMessage(tx *gorm.DB, entity, field string, messageID int64, conversationID string) error {
	if !s.strict {
		return nil
	}
	var count int64
	err := tx.Model(&model.Message{}).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return &ReferenceError{Entity: entity, Field: field, ID: messageID}
	}
	return nil
}
