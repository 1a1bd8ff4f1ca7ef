package repository

import (
	"context"
	"sort"

	"gorm.io/datatypes"

	"jensengpt/internal/model"
)

// ==================== 书签 ====================

// CreateBookmark 创建书签
func (s *MemoryStore) CreateBookmark(ctx context.Context, bookmark *model.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConversation(EntityBookmark, bookmark.ConversationID); err != nil {
		return err
	}
	if err := s.checkMessage(EntityBookmark, "messageId", bookmark.MessageID, bookmark.ConversationID); err != nil {
		return err
	}
	if bookmark.BranchID != nil {
		if err := s.checkBranch(EntityBookmark, *bookmark.BranchID, bookmark.ConversationID); err != nil {
			return err
		}
	}

	s.nextBookmarkID++
	bookmark.ID = s.nextBookmarkID
	bookmark.CreatedAt = s.now()

	stored := *bookmark
	s.bookmarks[bookmark.ID] = &stored
	return nil
}

// GetBookmark 根据 ID 获取书签
func (s *MemoryStore) GetBookmark(ctx context.Context, id int64) (*model.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookmarks[id]
	if !ok {
		return nil, notFound(EntityBookmark, id)
	}
	c := *b
	return &c, nil
}

// ListBookmarks 获取会话的所有书签
func (s *MemoryStore) ListBookmarks(ctx context.Context, conversationID string) ([]model.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Bookmark, 0)
	for _, b := range s.bookmarks {
		if b.ConversationID == conversationID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateBookmarkName 重命名书签
func (s *MemoryStore) UpdateBookmarkName(ctx context.Context, id int64, name string) (*model.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookmarks[id]
	if !ok {
		return nil, notFound(EntityBookmark, id)
	}
	b.Name = name
	c := *b
	return &c, nil
}

// DeleteBookmark 删除书签
func (s *MemoryStore) DeleteBookmark(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookmarks[id]; !ok {
		return false, nil
	}
	delete(s.bookmarks, id)
	return true, nil
}

// ==================== 思考 ====================

// CreateThought 创建思考
func (s *MemoryStore) CreateThought(ctx context.Context, thought *model.Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConversation(EntityThought, thought.ConversationID); err != nil {
		return err
	}
	if thought.MessageID != nil {
		if err := s.checkMessage(EntityThought, "messageId", *thought.MessageID, thought.ConversationID); err != nil {
			return err
		}
	}
	if err := s.checkThoughts(thought.RelatedThoughtIDs, thought.ConversationID); err != nil {
		return err
	}

	s.nextThoughtID++
	thought.ID = s.nextThoughtID
	now := s.now()
	thought.CreatedAt = now
	thought.UpdatedAt = now

	s.thoughts[thought.ID] = copyThought(thought)
	return nil
}

// GetThought 根据 ID 获取思考
func (s *MemoryStore) GetThought(ctx context.Context, id int64) (*model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.thoughts[id]
	if !ok {
		return nil, notFound(EntityThought, id)
	}
	return copyThought(t), nil
}

// ListThoughts 获取会话的所有思考
func (s *MemoryStore) ListThoughts(ctx context.Context, conversationID string) ([]model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Thought, 0)
	for _, t := range s.thoughts {
		if t.ConversationID == conversationID {
			result = append(result, *copyThought(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateThought 部分更新思考
func (s *MemoryStore) UpdateThought(ctx context.Context, id int64, update *ThoughtUpdate) (*model.Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.thoughts[id]
	if !ok {
		return nil, notFound(EntityThought, id)
	}
	if update.RelatedThoughtIDs != nil {
		if err := s.checkThoughts(update.RelatedThoughtIDs, t.ConversationID); err != nil {
			return nil, err
		}
	}

	update.apply(t)
	t.UpdatedAt = s.now()
	return copyThought(t), nil
}

// DeleteThought 删除思考
func (s *MemoryStore) DeleteThought(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.thoughts[id]; !ok {
		return false, nil
	}
	delete(s.thoughts, id)
	return true, nil
}

// RelatedThoughts 获取相关思考
func (s *MemoryStore) RelatedThoughts(ctx context.Context, id int64) ([]model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.thoughts[id]
	if !ok {
		return nil, notFound(EntityThought, id)
	}

	result := make([]model.Thought, 0)
	for _, other := range s.thoughts {
		if relatedTo(t, other) {
			result = append(result, *copyThought(other))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) checkThoughts(ids []int64, conversationID string) error {
	if !s.strict {
		return nil
	}
	for _, id := range ids {
		t, ok := s.thoughts[id]
		if !ok || t.ConversationID != conversationID {
			return &ReferenceError{Entity: EntityThought, Field: "relatedThoughtIds", ID: id}
		}
	}
	return nil
}

func copyThought(t *model.Thought) *model.Thought {
	c := *t
	if t.MessageID != nil {
		c.MessageID = int64Ptr(*t.MessageID)
	}
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	if t.RelatedThoughtIDs != nil {
		c.RelatedThoughtIDs = append([]int64(nil), t.RelatedThoughtIDs...)
	}
	if t.Extensions != nil {
		c.Extensions = datatypes.JSON(append([]byte(nil), t.Extensions...))
	}
	if t.Metrics != nil {
		c.Metrics = datatypes.JSON(append([]byte(nil), t.Metrics...))
	}
	return &c
}

// ==================== 想法 ====================

// CreateIdea 创建想法
func (s *MemoryStore) CreateIdea(ctx context.Context, idea *model.Idea) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConversation(EntityIdea, idea.ConversationID); err != nil {
		return err
	}
	if idea.ThoughtID != nil && s.strict {
		t, ok := s.thoughts[*idea.ThoughtID]
		if !ok || t.ConversationID != idea.ConversationID {
			return &ReferenceError{Entity: EntityIdea, Field: "thoughtId", ID: *idea.ThoughtID}
		}
	}
	if idea.Status == "" {
		idea.Status = model.IdeaStatusDraft
	}

	s.nextIdeaID++
	idea.ID = s.nextIdeaID
	now := s.now()
	idea.CreatedAt = now
	idea.UpdatedAt = now

	s.ideas[idea.ID] = copyIdea(idea)
	return nil
}

// GetIdea 根据 ID 获取想法
func (s *MemoryStore) GetIdea(ctx context.Context, id int64) (*model.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idea, ok := s.ideas[id]
	if !ok {
		return nil, notFound(EntityIdea, id)
	}
	return copyIdea(idea), nil
}

// ListIdeas 获取会话的所有想法
func (s *MemoryStore) ListIdeas(ctx context.Context, conversationID string) ([]model.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Idea, 0)
	for _, idea := range s.ideas {
		if idea.ConversationID == conversationID {
			result = append(result, *copyIdea(idea))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateIdea 部分更新想法
func (s *MemoryStore) UpdateIdea(ctx context.Context, id int64, update *IdeaUpdate) (*model.Idea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idea, ok := s.ideas[id]
	if !ok {
		return nil, notFound(EntityIdea, id)
	}
	update.apply(idea)
	idea.UpdatedAt = s.now()
	return copyIdea(idea), nil
}

// DeleteIdea 删除想法
func (s *MemoryStore) DeleteIdea(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ideas[id]; !ok {
		return false, nil
	}
	delete(s.ideas, id)
	return true, nil
}

func copyIdea(idea *model.Idea) *model.Idea {
	c := *idea
	if idea.ThoughtID != nil {
		c.ThoughtID = int64Ptr(*idea.ThoughtID)
	}
	if idea.Feedback != nil {
		c.Feedback = datatypes.JSON(append([]byte(nil), idea.Feedback...))
	}
	if idea.Metadata != nil {
		c.Metadata = datatypes.JSON(append([]byte(nil), idea.Metadata...))
	}
	return &c
}

// ==================== 推理解释 ====================

// CreateExplanation 为消息创建推理解释
// ConversationID 为空时取消息所属会话
func (s *MemoryStore) CreateExplanation(ctx context.Context, explanation *model.ReasoningExplanation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.messages[explanation.MessageID]; ok {
		if explanation.ConversationID == "" {
			explanation.ConversationID = msg.ConversationID
		}
	}
	if err := s.checkMessage("explanation", "messageId", explanation.MessageID, explanation.ConversationID); err != nil {
		return err
	}

	s.nextExplanationID++
	explanation.ID = s.nextExplanationID
	explanation.CreatedAt = s.now()

	stored := *explanation
	s.explanations[explanation.ID] = &stored
	return nil
}

// ListExplanations 获取消息的推理解释
func (s *MemoryStore) ListExplanations(ctx context.Context, messageID int64) ([]model.ReasoningExplanation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ReasoningExplanation, 0)
	for _, e := range s.explanations {
		if e.MessageID == messageID {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
