package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"jensengpt/internal/model"
)

// MemoryStore 进程内实体存储
// 所有状态由一把读写锁保护，每个方法都是一个完整的临界区
// 活跃分支由 active 映射（会话 ID -> 分支 ID）唯一记录，分支上的 IsActive 在读取时派生，
// 因此同一会话不可能出现两个活跃分支
type MemoryStore struct {
	mu     sync.RWMutex
	strict bool             // 是否校验外键引用
	now    func() time.Time // 时间源，测试可替换

	conversations map[string]*model.Conversation
	active        map[string]string // conversationID -> branchID

	branches    map[string]*model.Branch
	branchOrder []string // 创建顺序

	messages     map[int64]*model.Message
	convMessages map[string][]int64 // conversationID -> 按创建顺序的消息 ID

	bookmarks    map[int64]*model.Bookmark
	thoughts     map[int64]*model.Thought
	ideas        map[int64]*model.Idea
	explanations map[int64]*model.ReasoningExplanation

	nextMessageID     int64
	nextBookmarkID    int64
	nextThoughtID     int64
	nextIdeaID        int64
	nextExplanationID int64
}

// NewMemoryStore 创建 MemoryStore 实例
// 参数:
//   - strict: 为 true 时拒绝引用不存在记录的写入
func NewMemoryStore(strict bool) *MemoryStore {
	return &MemoryStore{
		strict:        strict,
		now:           time.Now,
		conversations: make(map[string]*model.Conversation),
		active:        make(map[string]string),
		branches:      make(map[string]*model.Branch),
		messages:      make(map[int64]*model.Message),
		convMessages:  make(map[string][]int64),
		bookmarks:     make(map[int64]*model.Bookmark),
		thoughts:      make(map[int64]*model.Thought),
		ideas:         make(map[int64]*model.Idea),
		explanations:  make(map[int64]*model.ReasoningExplanation),
	}
}

var _ Store = (*MemoryStore)(nil)

// ==================== 会话 ====================

// CreateConversation 创建会话
func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertConversation(conv)
	return nil
}

// CreateConversationWithBranch 创建会话和默认分支
func (s *MemoryStore) CreateConversationWithBranch(ctx context.Context, conv *model.Conversation, branchName string) (*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertConversation(conv)
	branch := &model.Branch{Name: branchName, ConversationID: conv.ID}
	s.insertBranch(branch, true)

	conv.ActiveBranchID = strPtr(branch.ID)
	return s.branchCopy(branch), nil
}

func (s *MemoryStore) insertConversation(conv *model.Conversation) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := s.now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	conv.ActiveBranchID = nil

	stored := *conv
	s.conversations[conv.ID] = &stored
}

// GetConversation 根据 ID 获取会话
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, notFound(EntityConversation, id)
	}
	return s.conversationCopy(conv), nil
}

// ListConversations 获取所有会话，最近更新的在前
func (s *MemoryStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		result = append(result, *s.conversationCopy(conv))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// UpdateConversationTitle 更新会话标题
func (s *MemoryStore) UpdateConversationTitle(ctx context.Context, id, title string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, notFound(EntityConversation, id)
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	return s.conversationCopy(conv), nil
}

// ToggleLearningMode 切换学习模式
func (s *MemoryStore) ToggleLearningMode(ctx context.Context, id string, enabled bool) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, notFound(EntityConversation, id)
	}
	conv.LearningModeEnabled = enabled
	conv.UpdatedAt = s.now()
	return s.conversationCopy(conv), nil
}

// DeleteConversation 删除会话
// 级联删除分支、书签、思考和想法；消息和推理解释保留
func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false, nil
	}
	delete(s.conversations, id)
	delete(s.active, id)

	order := s.branchOrder[:0]
	for _, branchID := range s.branchOrder {
		if s.branches[branchID].ConversationID == id {
			delete(s.branches, branchID)
			continue
		}
		order = append(order, branchID)
	}
	s.branchOrder = order

	for bid, b := range s.bookmarks {
		if b.ConversationID == id {
			delete(s.bookmarks, bid)
		}
	}
	for tid, t := range s.thoughts {
		if t.ConversationID == id {
			delete(s.thoughts, tid)
		}
	}
	for iid, idea := range s.ideas {
		if idea.ConversationID == id {
			delete(s.ideas, iid)
		}
	}
	return true, nil
}

// ==================== 分支 ====================

// CreateBranch 创建分支
func (s *MemoryStore) CreateBranch(ctx context.Context, branch *model.Branch, activate *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConversation(EntityBranch, branch.ConversationID); err != nil {
		return err
	}
	if branch.RootMessageID != nil {
		if err := s.checkMessage(EntityBranch, "rootMessageId", *branch.RootMessageID, branch.ConversationID); err != nil {
			return err
		}
	}

	makeActive := false
	if activate != nil {
		makeActive = *activate
	} else {
		// 未指定时，只有会话的第一个分支自动成为活跃分支
		makeActive = !s.hasBranches(branch.ConversationID)
	}

	s.insertBranch(branch, makeActive)
	return nil
}

func (s *MemoryStore) insertBranch(branch *model.Branch, activate bool) {
	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	branch.CreatedAt = s.now()

	stored := *branch
	s.branches[branch.ID] = &stored
	s.branchOrder = append(s.branchOrder, branch.ID)

	if activate {
		// 替换映射即同时完成“取消其他分支 + 激活目标”
		s.active[branch.ConversationID] = branch.ID
	}
	branch.IsActive = s.branchCopy(&stored).IsActive
}

func (s *MemoryStore) hasBranches(conversationID string) bool {
	for _, b := range s.branches {
		if b.ConversationID == conversationID {
			return true
		}
	}
	return false
}

// GetBranch 根据 ID 获取分支
func (s *MemoryStore) GetBranch(ctx context.Context, id string) (*model.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, notFound(EntityBranch, id)
	}
	return s.branchCopy(branch), nil
}

// ListBranches 获取会话的所有分支
func (s *MemoryStore) ListBranches(ctx context.Context, conversationID string) ([]model.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Branch, 0)
	for _, id := range s.branchOrder {
		if b := s.branches[id]; b.ConversationID == conversationID {
			result = append(result, *s.branchCopy(b))
		}
	}
	return result, nil
}

// GetActiveBranch 获取会话的活跃分支
func (s *MemoryStore) GetActiveBranch(ctx context.Context, conversationID string) (*model.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeBranch(conversationID), nil
}

func (s *MemoryStore) activeBranch(conversationID string) *model.Branch {
	id, ok := s.active[conversationID]
	if !ok {
		return nil
	}
	branch, ok := s.branches[id]
	if !ok {
		return nil
	}
	return s.branchCopy(branch)
}

// EnsureActiveBranch 获取或创建活跃分支
func (s *MemoryStore) EnsureActiveBranch(ctx context.Context, conversationID, name string) (*model.Branch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch := s.activeBranch(conversationID); branch != nil {
		return branch, false, nil
	}
	if err := s.checkConversation(EntityBranch, conversationID); err != nil {
		return nil, false, err
	}

	branch := &model.Branch{Name: name, ConversationID: conversationID}
	s.insertBranch(branch, true)
	return s.branchCopy(s.branches[branch.ID]), true, nil
}

// SetActiveBranch 激活分支
func (s *MemoryStore) SetActiveBranch(ctx context.Context, id string) (*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, notFound(EntityBranch, id)
	}
	s.active[branch.ConversationID] = id
	return s.branchCopy(branch), nil
}

// UpdateBranchName 重命名分支
func (s *MemoryStore) UpdateBranchName(ctx context.Context, id, name string) (*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[id]
	if !ok {
		return nil, notFound(EntityBranch, id)
	}
	branch.Name = name
	return s.branchCopy(branch), nil
}

// DeleteBranch 删除分支
func (s *MemoryStore) DeleteBranch(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[id]
	if !ok {
		return false, nil
	}
	delete(s.branches, id)
	for i, bid := range s.branchOrder {
		if bid == id {
			s.branchOrder = append(s.branchOrder[:i], s.branchOrder[i+1:]...)
			break
		}
	}

	if s.active[branch.ConversationID] == id {
		delete(s.active, branch.ConversationID)
		// 激活最新创建的同级分支
		for i := len(s.branchOrder) - 1; i >= 0; i-- {
			if s.branches[s.branchOrder[i]].ConversationID == branch.ConversationID {
				s.active[branch.ConversationID] = s.branchOrder[i]
				break
			}
		}
	}
	return true, nil
}

// ==================== 消息 ====================

// CreateMessage 创建消息
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConversation(EntityMessage, msg.ConversationID); err != nil {
		return err
	}
	if msg.BranchID != nil {
		if err := s.checkBranch(EntityMessage, *msg.BranchID, msg.ConversationID); err != nil {
			return err
		}
	}
	if msg.ParentID != nil {
		if err := s.checkMessage(EntityMessage, "parentId", *msg.ParentID, msg.ConversationID); err != nil {
			return err
		}
	}

	s.nextMessageID++
	msg.ID = s.nextMessageID
	msg.Timestamp = s.now()
	msg.HasReasoningSteps = len(msg.ReasoningSteps) > 0

	stored := copyMessage(msg)
	s.messages[msg.ID] = stored
	s.convMessages[msg.ConversationID] = append(s.convMessages[msg.ConversationID], msg.ID)

	if conv, ok := s.conversations[msg.ConversationID]; ok {
		conv.UpdatedAt = msg.Timestamp
	}
	return nil
}

// GetMessage 根据 ID 获取消息
func (s *MemoryStore) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, notFound(EntityMessage, id)
	}
	return copyMessage(msg), nil
}

// ListMessages 获取会话的所有消息
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listMessages(conversationID, nil), nil
}

// ListMessagesByBranch 获取分支上的消息
func (s *MemoryStore) ListMessagesByBranch(ctx context.Context, conversationID, branchID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listMessages(conversationID, &branchID), nil
}

func (s *MemoryStore) listMessages(conversationID string, branchID *string) []model.Message {
	ids := s.convMessages[conversationID]
	result := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		msg := s.messages[id]
		if branchID != nil && (msg.BranchID == nil || *msg.BranchID != *branchID) {
			continue
		}
		result = append(result, *copyMessage(msg))
	}
	// 按时间正序，时间相同按 ID
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// UpdateMessageReasoningSteps 替换消息的推理步骤
func (s *MemoryStore) UpdateMessageReasoningSteps(ctx context.Context, id int64, steps []model.ReasoningStep) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, notFound(EntityMessage, id)
	}
	msg.ReasoningSteps = append([]model.ReasoningStep(nil), steps...)
	msg.HasReasoningSteps = len(steps) > 0
	return copyMessage(msg), nil
}

// ==================== 引用校验 ====================

func (s *MemoryStore) checkConversation(entity, conversationID string) error {
	if !s.strict {
		return nil
	}
	if _, ok := s.conversations[conversationID]; !ok {
		return &ReferenceError{Entity: entity, Field: "conversationId", ID: conversationID}
	}
	return nil
}

func (s *MemoryStore) checkBranch(entity, branchID, conversationID string) error {
	if !s.strict {
		return nil
	}
	branch, ok := s.branches[branchID]
	if !ok || branch.ConversationID != conversationID {
		return &ReferenceError{Entity: entity, Field: "branchId", ID: branchID}
	}
	return nil
}

func (s *MemoryStore) checkMessage(entity, field string, messageID int64, conversationID string) error {
	if !s.strict {
		return nil
	}
	msg, ok := s.messages[messageID]
	if !ok || msg.ConversationID != conversationID {
		return &ReferenceError{Entity: entity, Field: field, ID: messageID}
	}
	return nil
}

// ==================== 副本 ====================

func (s *MemoryStore) conversationCopy(conv *model.Conversation) *model.Conversation {
	c := *conv
	c.ActiveBranchID = nil
	if id, ok := s.active[conv.ID]; ok {
		c.ActiveBranchID = strPtr(id)
	}
	return &c
}

func (s *MemoryStore) branchCopy(branch *model.Branch) *model.Branch {
	b := *branch
	b.IsActive = model.BranchInactive
	if s.active[branch.ConversationID] == branch.ID {
		b.IsActive = model.BranchActive
	}
	if branch.RootMessageID != nil {
		b.RootMessageID = int64Ptr(*branch.RootMessageID)
	}
	return &b
}

func copyMessage(msg *model.Message) *model.Message {
	m := *msg
	if msg.ReasoningSteps != nil {
		m.ReasoningSteps = append([]model.ReasoningStep(nil), msg.ReasoningSteps...)
	}
	return &m
}

func strPtr(s string) *string {
	return &s
}

func int64Ptr(i int64) *int64 {
	return &i
}
