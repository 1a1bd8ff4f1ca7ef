package service

import (
	"context"
	"encoding/json"
	"strings"

	"gorm.io/datatypes"

	"jensengpt/internal/model"
	"jensengpt/internal/repository"
)

// ThoughtService 思考记录服务
type ThoughtService struct {
	base
}

// NewThoughtService 创建 ThoughtService 实例
func NewThoughtService(store repository.Store, reads *ReadCache) *ThoughtService {
	return &ThoughtService{base: newBase(store, reads)}
}

// CreateThoughtRequest 创建思考请求
// Extensions、Metrics 为任意 JSON，服务端不解析
type CreateThoughtRequest struct {
	ConversationID    string          `json:"conversationId"`
	MessageID         *int64          `json:"messageId"`
	Content           string          `json:"content"`
	Category          string          `json:"category"`
	Tags              []string        `json:"tags"`
	RelatedThoughtIDs []int64         `json:"relatedThoughtIds"`
	Extensions        json.RawMessage `json:"extensions"`
	Metrics           json.RawMessage `json:"metrics"`
}

// UpdateThoughtRequest 部分更新思考，未传的字段保持不变
type UpdateThoughtRequest struct {
	Content           *string         `json:"content"`
	Category          *string         `json:"category"`
	Tags              []string        `json:"tags"`
	RelatedThoughtIDs []int64         `json:"relatedThoughtIds"`
	Extensions        json.RawMessage `json:"extensions"`
	Metrics           json.RawMessage `json:"metrics"`
}

// Create 创建思考
func (s *ThoughtService) Create(ctx context.Context, req *CreateThoughtRequest) (*model.Thought, error) {
	if req == nil || strings.TrimSpace(req.ConversationID) == "" {
		return nil, invalid("conversationId 不能为空")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, invalid("content 不能为空")
	}

	thought := &model.Thought{
		ConversationID:    req.ConversationID,
		MessageID:         req.MessageID,
		Content:           req.Content,
		Category:          req.Category,
		Tags:              normalizeTags(req.Tags),
		RelatedThoughtIDs: req.RelatedThoughtIDs,
		Extensions:        rawJSON(req.Extensions),
		Metrics:           rawJSON(req.Metrics),
	}
	if thought.RelatedThoughtIDs == nil {
		thought.RelatedThoughtIDs = []int64{}
	}
	if err := s.store.CreateThought(ctx, thought); err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, thought.ConversationID, false)
	s.publish(thought.ConversationID, EventThoughtChanged, thought)
	return thought, nil
}

// Get 获取思考
func (s *ThoughtService) Get(ctx context.Context, id int64) (*model.Thought, error) {
	return s.store.GetThought(ctx, id)
}

// List 获取会话的思考
func (s *ThoughtService) List(ctx context.Context, conversationID string) ([]model.Thought, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return nonNil(s.store.ListThoughts(ctx, conversationID))
}

// Update 部分更新思考
func (s *ThoughtService) Update(ctx context.Context, id int64, req *UpdateThoughtRequest) (*model.Thought, error) {
	if req == nil {
		return nil, invalid("请求体不能为空")
	}
	if req.Content != nil && strings.TrimSpace(*req.Content) == "" {
		return nil, invalid("content 不能为空")
	}

	update := &repository.ThoughtUpdate{
		Content:           req.Content,
		Category:          req.Category,
		RelatedThoughtIDs: req.RelatedThoughtIDs,
		Extensions:        rawJSON(req.Extensions),
		Metrics:           rawJSON(req.Metrics),
	}
	if req.Tags != nil {
		update.Tags = normalizeTags(req.Tags)
	}

	thought, err := s.store.UpdateThought(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, thought.ConversationID, false)
	s.publish(thought.ConversationID, EventThoughtChanged, thought)
	return thought, nil
}

// Delete 删除思考
func (s *ThoughtService) Delete(ctx context.Context, id int64) error {
	thought, err := s.store.GetThought(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.store.DeleteThought(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return &repository.NotFoundError{Entity: repository.EntityThought, ID: id}
	}

	s.reads.invalidateConversation(ctx, thought.ConversationID, false)
	s.publish(thought.ConversationID, EventThoughtChanged, map[string]interface{}{"id": id, "deleted": true})
	return nil
}

// Related 返回显式关联或共享标签的思考
func (s *ThoughtService) Related(ctx context.Context, id int64) ([]model.Thought, error) {
	return nonNil(s.store.RelatedThoughts(ctx, id))
}

// IdeaService 想法服务
type IdeaService struct {
	base
}

// NewIdeaService 创建 IdeaService 实例
func NewIdeaService(store repository.Store, reads *ReadCache) *IdeaService {
	return &IdeaService{base: newBase(store, reads)}
}

// CreateIdeaRequest 创建想法请求
type CreateIdeaRequest struct {
	ConversationID string          `json:"conversationId"`
	ThoughtID      *int64          `json:"thoughtId"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	Feedback       json.RawMessage `json:"feedback"`
	Metadata       json.RawMessage `json:"metadata"`
}

// UpdateIdeaRequest 部分更新想法
type UpdateIdeaRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Status      *string         `json:"status"`
	Feedback    json.RawMessage `json:"feedback"`
	Metadata    json.RawMessage `json:"metadata"`
}

// Create 创建想法，状态默认为 draft
func (s *IdeaService) Create(ctx context.Context, req *CreateIdeaRequest) (*model.Idea, error) {
	if req == nil || strings.TrimSpace(req.ConversationID) == "" {
		return nil, invalid("conversationId 不能为空")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, invalid("title 不能为空")
	}
	if req.Status != "" && !model.ValidIdeaStatus(req.Status) {
		return nil, invalid("status 不合法: %s", req.Status)
	}

	idea := &model.Idea{
		ConversationID: req.ConversationID,
		ThoughtID:      req.ThoughtID,
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Status:         req.Status,
		Feedback:       rawJSON(req.Feedback),
		Metadata:       rawJSON(req.Metadata),
	}
	if err := s.store.CreateIdea(ctx, idea); err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, idea.ConversationID, false)
	s.publish(idea.ConversationID, EventIdeaChanged, idea)
	return idea, nil
}

// Get 获取想法
func (s *IdeaService) Get(ctx context.Context, id int64) (*model.Idea, error) {
	return s.store.GetIdea(ctx, id)
}

// List 获取会话的想法
func (s *IdeaService) List(ctx context.Context, conversationID string) ([]model.Idea, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return nonNil(s.store.ListIdeas(ctx, conversationID))
}

// Update 部分更新想法
func (s *IdeaService) Update(ctx context.Context, id int64, req *UpdateIdeaRequest) (*model.Idea, error) {
	if req == nil {
		return nil, invalid("请求体不能为空")
	}
	if req.Status != nil && !model.ValidIdeaStatus(*req.Status) {
		return nil, invalid("status 不合法: %s", *req.Status)
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, invalid("title 不能为空")
	}

	idea, err := s.store.UpdateIdea(ctx, id, &repository.IdeaUpdate{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Feedback:    rawJSON(req.Feedback),
		Metadata:    rawJSON(req.Metadata),
	})
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, idea.ConversationID, false)
	s.publish(idea.ConversationID, EventIdeaChanged, idea)
	return idea, nil
}

// Delete 删除想法
func (s *IdeaService) Delete(ctx context.Context, id int64) error {
	idea, err := s.store.GetIdea(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.store.DeleteIdea(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return &repository.NotFoundError{Entity: repository.EntityIdea, ID: id}
	}

	s.reads.invalidateConversation(ctx, idea.ConversationID, false)
	s.publish(idea.ConversationID, EventIdeaChanged, map[string]interface{}{"id": id, "deleted": true})
	return nil
}

// rawJSON 原样保存请求中的 JSON，字段缺失或为 null 时返回 nil
func rawJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return datatypes.JSON(append([]byte(nil), raw...))
}

// normalizeTags 去掉空白标签和重复标签，保持原有顺序
func normalizeTags(tags []string) []string {
	result := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		result = append(result, tag)
	}
	return result
}
