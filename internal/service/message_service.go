package service

import (
	"context"
	"strings"

	"jensengpt/internal/history"
	"jensengpt/internal/model"
	"jensengpt/internal/repository"
)

// MessageService 消息服务
// 消息只能通过对话创建，这里只提供读取和学习模式的附加信息
type MessageService struct {
	base
}

// NewMessageService 创建 MessageService 实例
func NewMessageService(store repository.Store, reads *ReadCache) *MessageService {
	return &MessageService{base: newBase(store, reads)}
}

// ReasoningStepsRequest 附加推理步骤请求
type ReasoningStepsRequest struct {
	Steps []model.ReasoningStep `json:"steps"`
}

// CreateExplanationRequest 创建推理解释请求
type CreateExplanationRequest struct {
	Content string `json:"content"`
}

// Get 获取消息
func (s *MessageService) Get(ctx context.Context, id int64) (*model.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// Chain 返回以该消息结尾的祖先链，根消息在前
func (s *MessageService) Chain(ctx context.Context, id int64) ([]model.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListMessages(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	return history.BuildMessageChain(all, &msg.ID), nil
}

// UpdateReasoningSteps 为消息附加推理步骤
// 传入空列表表示清除
func (s *MessageService) UpdateReasoningSteps(ctx context.Context, id int64, req *ReasoningStepsRequest) (*model.Message, error) {
	if req == nil {
		return nil, invalid("steps 不能为空")
	}
	for i, step := range req.Steps {
		if strings.TrimSpace(step.Title) == "" && strings.TrimSpace(step.Content) == "" {
			return nil, invalid("第 %d 个推理步骤为空", i+1)
		}
	}

	msg, err := s.store.UpdateMessageReasoningSteps(ctx, id, req.Steps)
	if err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, msg.ConversationID, false)
	s.publish(msg.ConversationID, EventMessageUpdated, msg)
	return msg, nil
}

// Explanations 返回消息的推理解释
func (s *MessageService) Explanations(ctx context.Context, id int64) ([]model.ReasoningExplanation, error) {
	if _, err := s.store.GetMessage(ctx, id); err != nil {
		return nil, err
	}
	return nonNil(s.store.ListExplanations(ctx, id))
}

// CreateExplanation 为消息创建推理解释
func (s *MessageService) CreateExplanation(ctx context.Context, id int64, req *CreateExplanationRequest) (*model.ReasoningExplanation, error) {
	if req == nil || strings.TrimSpace(req.Content) == "" {
		return nil, invalid("content 不能为空")
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	explanation := &model.ReasoningExplanation{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Content:        req.Content,
	}
	if err := s.store.CreateExplanation(ctx, explanation); err != nil {
		return nil, err
	}

	s.reads.invalidateConversation(ctx, msg.ConversationID, false)
	return explanation, nil
}
