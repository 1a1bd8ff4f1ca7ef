package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"jensengpt/internal/config"
	"jensengpt/internal/history"
	"jensengpt/internal/metrics"
	"jensengpt/internal/model"
	"jensengpt/internal/provider"
	"jensengpt/internal/repository"
	"jensengpt/pkg/util"
)

// ChatRequest 对话请求
type ChatRequest struct {
	Message         string  `json:"message"`
	ConversationID  *string `json:"conversationId"`
	ReasoningMode   bool    `json:"reasoningMode"`
	SystemPrompt    *string `json:"systemPrompt"`
	ParentMessageID *int64  `json:"parentMessageId"`
	BranchID        *string `json:"branchId"`
	ModelID         *string `json:"modelId"`
}

// StreamRecord 流式响应中的一行
// 增量记录只有 content；最后一条 isComplete 为 true，携带完整回复和各实体 ID
type StreamRecord struct {
	Content        string  `json:"content"`
	IsComplete     bool    `json:"isComplete"`
	ConversationID string  `json:"conversationId"`
	Message        *string `json:"message,omitempty"`
	MessageID      *int64  `json:"messageId,omitempty"`
	BranchID       *string `json:"branchId,omitempty"`
	UserMessageID  *int64  `json:"userMessageId,omitempty"`
	Error          bool    `json:"error,omitempty"`
}

// RecordWriter 逐条写出流式记录
// 实现必须在返回前把记录刷新到客户端，返回错误表示客户端已经断开
type RecordWriter interface {
	WriteRecord(record *StreamRecord) error
}

// 上游失败所处的阶段，用于指标标签
const (
	phaseOpen       = "open"
	phaseFirstChunk = "first_chunk"
	phaseStream     = "stream"
)

// ChatService 对话服务
// 解析会话与分支、保存用户消息、组装上下文、转发上游增量并保存助手回复
type ChatService struct {
	base
	provider provider.Provider
	metrics  *metrics.Metrics
	chat     config.ChatConfig
	sampling config.ProviderConfig
}

// NewChatService 创建 ChatService 实例
func NewChatService(
	store repository.Store,
	reads *ReadCache,
	p provider.Provider,
	m *metrics.Metrics,
	cfg *config.Config,
) *ChatService {
	return &ChatService{
		base:     newBase(store, reads),
		provider: p,
		metrics:  m,
		chat:     cfg.Chat,
		sampling: cfg.Provider,
	}
}

// Turn 一轮已经开始的对话
// StartTurn 返回时用户消息已保存，上游的第一个增量已经拉取
type Turn struct {
	svc *ChatService

	Conversation *model.Conversation
	Branch       *model.Branch
	UserMessage  *model.Message
	// Context 发送给上游的完整消息列表
	Context []provider.Message

	model    string
	stream   provider.Stream
	first    string
	hasFirst bool
	started  time.Time
	logger   *log.Entry
}

// StartTurn 开始一轮对话
// 返回错误时不会向客户端写出任何记录：
//   - ErrInvalidRequest: 参数错误
//   - ErrNotFound: 会话、分支或父消息不存在
//   - ErrProviderUnavailable: 上游在第一个增量之前失败，用户消息已保存
func (s *ChatService) StartTurn(ctx context.Context, req *ChatRequest) (*Turn, error) {
	if req == nil || strings.TrimSpace(req.Message) == "" {
		return nil, invalid("message 不能为空")
	}
	hasConversation := req.ConversationID != nil && *req.ConversationID != ""
	if !hasConversation && req.ParentMessageID != nil {
		return nil, invalid("parentMessageId 需要同时提供 conversationId")
	}
	if !hasConversation && req.BranchID != nil && *req.BranchID != "" {
		return nil, invalid("branchId 需要同时提供 conversationId")
	}

	conv, branch, parent, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	prior, err := s.priorMessages(ctx, conv.ID, branch, parent)
	if err != nil {
		return nil, err
	}

	// 用户消息在调用上游之前保存，上游失败时仍然保留
	user := &model.Message{
		Role:           model.MessageRoleUser,
		Content:        req.Message,
		ConversationID: conv.ID,
		BranchID:       util.StringPtr(branch.ID),
	}
	if parent != nil {
		user.ParentID = util.Int64Ptr(parent.ID)
	} else if tip := history.Tip(prior); tip != nil {
		user.ParentID = util.Int64Ptr(tip.ID)
	}
	if err := s.store.CreateMessage(ctx, user); err != nil {
		return nil, err
	}
	s.reads.invalidateConversation(ctx, conv.ID, true)
	s.publish(conv.ID, EventMessageCreated, user)

	modelName := s.sampling.DefaultModel
	if req.ModelID != nil && strings.TrimSpace(*req.ModelID) != "" {
		modelName = strings.TrimSpace(*req.ModelID)
	}

	turn := &Turn{
		svc:          s,
		Conversation: conv,
		Branch:       branch,
		UserMessage:  user,
		Context:      s.buildContext(prior, req),
		model:        modelName,
		started:      time.Now(),
		logger: log.WithFields(log.Fields{
			"conversation": conv.ID,
			"branch":       branch.ID,
			"user_message": user.ID,
			"model":        modelName,
		}),
	}

	stream, err := s.provider.StreamChat(ctx, &provider.CompletionRequest{
		Model:       modelName,
		Messages:    turn.Context,
		Temperature: s.sampling.Temperature,
		TopP:        s.sampling.TopP,
		MaxTokens:   s.sampling.MaxTokens,
	})
	if err != nil {
		return nil, turn.unavailable(phaseOpen, err)
	}
	turn.stream = stream

	// 先拉取第一个增量，上游的早期失败仍然可以映射为 HTTP 错误
	if stream.Next() {
		turn.first, turn.hasFirst = stream.Current(), true
	} else if err := stream.Err(); err != nil {
		stream.Close()
		if ctx.Err() != nil {
			turn.finish(metrics.OutcomeAborted)
			return nil, ctx.Err()
		}
		return nil, turn.unavailable(phaseFirstChunk, err)
	}

	turn.logger.WithField("context_messages", len(turn.Context)).Debug("chat turn started")
	return turn, nil
}

// Relay 把上游增量逐条写给客户端，结束后保存助手回复并写出最终记录
// 每写出一条才拉取下一个增量，客户端写得慢时上游也会被同步放慢
// 返回的错误只用于记录日志，失败记录已经写给了客户端
func (t *Turn) Relay(ctx context.Context, w RecordWriter) error {
	defer t.stream.Close()

	var full strings.Builder
	pending, delta := t.hasFirst, t.first
	for pending {
		if err := w.WriteRecord(&StreamRecord{Content: delta, ConversationID: t.Conversation.ID}); err != nil {
			return t.disconnected(ctx, full.String(), err)
		}
		full.WriteString(delta)
		if t.svc.metrics != nil {
			t.svc.metrics.ChatChunksTotal.Inc()
		}

		pending = t.stream.Next()
		if pending {
			delta = t.stream.Current()
		}
	}

	if err := t.stream.Err(); err != nil {
		if ctx.Err() != nil {
			return t.disconnected(ctx, full.String(), ctx.Err())
		}
		return t.streamFailed(w, full.String(), err)
	}

	return t.complete(ctx, w, full.String())
}

// complete 保存完整回复并写出最终记录
func (t *Turn) complete(ctx context.Context, w RecordWriter, content string) error {
	assistant, err := t.saveAssistant(ctx, content, false)
	if err != nil {
		return t.saveFailed(w, content, err)
	}

	t.finish(metrics.OutcomeCompleted)
	t.logger.WithFields(log.Fields{
		"assistant_message": assistant.ID,
		"chars":             len(content),
	}).Info("chat turn completed")

	if err := w.WriteRecord(&StreamRecord{
		IsComplete:     true,
		ConversationID: t.Conversation.ID,
		Message:        util.StringPtr(content),
		MessageID:      util.Int64Ptr(assistant.ID),
		BranchID:       util.StringPtr(t.Branch.ID),
		UserMessageID:  util.Int64Ptr(t.UserMessage.ID),
	}); err != nil {
		return fmt.Errorf("写出最终记录失败: %w", err)
	}
	return nil
}

// streamFailed 上游中途失败：不保存助手回复，写出错误记录
func (t *Turn) streamFailed(w RecordWriter, partial string, cause error) error {
	if t.svc.metrics != nil {
		t.svc.metrics.ProviderErrorsTotal.WithLabelValues(phaseStream).Inc()
	}
	t.finish(metrics.OutcomeStreamError)
	t.logger.WithError(cause).Warn("chat stream failed")

	t.writeError(w, partial)
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, cause)
}

// saveFailed 上游已完整返回但助手回复没能保存，同样写出错误记录
func (t *Turn) saveFailed(w RecordWriter, content string, cause error) error {
	t.finish(metrics.OutcomeSaveError)
	t.logger.WithError(cause).Error("failed to save assistant message")

	t.writeError(w, content)
	return fmt.Errorf("保存助手回复失败: %w", cause)
}

func (t *Turn) writeError(w RecordWriter, partial string) {
	if err := w.WriteRecord(&StreamRecord{
		IsComplete:     true,
		Error:          true,
		ConversationID: t.Conversation.ID,
		Message:        util.StringPtr(partial),
		BranchID:       util.StringPtr(t.Branch.ID),
	}); err != nil {
		t.logger.WithError(err).Debug("failed to write error record")
	}
}

// disconnected 客户端断开：关闭上游，已收到的内容标记为截断后保存
func (t *Turn) disconnected(ctx context.Context, partial string, cause error) error {
	t.stream.Close()

	if partial == "" {
		t.finish(metrics.OutcomeAborted)
		t.logger.WithError(cause).Info("client disconnected before any content")
		return cause
	}

	// 请求上下文已经取消，保存需要脱离它
	assistant, err := t.saveAssistant(context.WithoutCancel(ctx), partial, true)
	if err != nil {
		t.logger.WithError(err).Error("failed to save truncated assistant message")
		t.finish(metrics.OutcomeAborted)
		return errors.Join(cause, err)
	}

	t.finish(metrics.OutcomeTruncated)
	t.logger.WithFields(log.Fields{
		"assistant_message": assistant.ID,
		"chars":             len(partial),
	}).Info("client disconnected, partial reply saved")
	return cause
}

func (t *Turn) saveAssistant(ctx context.Context, content string, truncated bool) (*model.Message, error) {
	msg := &model.Message{
		Role:           model.MessageRoleAssistant,
		Content:        content,
		ConversationID: t.Conversation.ID,
		BranchID:       util.StringPtr(t.Branch.ID),
		ParentID:       util.Int64Ptr(t.UserMessage.ID),
		Model:          util.StringPtr(t.model),
		Truncated:      truncated,
	}
	if err := t.svc.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	t.svc.reads.invalidateConversation(ctx, t.Conversation.ID, true)
	t.svc.publish(t.Conversation.ID, EventMessageCreated, msg)
	return msg, nil
}

func (t *Turn) unavailable(phase string, cause error) error {
	if t.svc.metrics != nil {
		t.svc.metrics.ProviderErrorsTotal.WithLabelValues(phase).Inc()
	}
	t.finish(metrics.OutcomeUnavailable)
	t.logger.WithError(cause).WithField("phase", phase).Warn("provider unavailable")
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, cause)
}

func (t *Turn) finish(outcome string) {
	if t.svc.metrics != nil {
		t.svc.metrics.RecordTurn(outcome, time.Since(t.started))
	}
}

// resolve 按请求定位会话和分支，必要时创建
// parent 为请求中的父消息，未指定时为 nil
func (s *ChatService) resolve(ctx context.Context, req *ChatRequest) (*model.Conversation, *model.Branch, *model.Message, error) {
	if req.ConversationID == nil || *req.ConversationID == "" {
		conv := &model.Conversation{Title: util.TruncateRunes(strings.TrimSpace(req.Message), s.chat.TitleLength)}
		branch, err := s.store.CreateConversationWithBranch(ctx, conv, model.DefaultBranchName)
		if err != nil {
			return nil, nil, nil, err
		}
		return conv, branch, nil, nil
	}

	conv, err := s.store.GetConversation(ctx, *req.ConversationID)
	if err != nil {
		return nil, nil, nil, err
	}

	var branch *model.Branch
	if req.BranchID != nil && *req.BranchID != "" {
		branch, err = s.store.GetBranch(ctx, *req.BranchID)
		if err != nil {
			return nil, nil, nil, err
		}
		if branch.ConversationID != conv.ID {
			return nil, nil, nil, &repository.NotFoundError{Entity: repository.EntityBranch, ID: branch.ID}
		}
	}

	var parent *model.Message
	if req.ParentMessageID != nil {
		parent, err = s.store.GetMessage(ctx, *req.ParentMessageID)
		if err != nil {
			return nil, nil, nil, err
		}
		if parent.ConversationID != conv.ID {
			return nil, nil, nil, &repository.NotFoundError{Entity: repository.EntityMessage, ID: parent.ID}
		}
	}

	switch {
	case branch != nil:
	case parent != nil:
		// 从历史消息继续对话：新建以该消息为分叉点的分支并激活，按分叉点内容命名
		activate := true
		branch = &model.Branch{
			Name:           history.BranchName(parent.Content, s.chat.BranchNameLength),
			ConversationID: conv.ID,
			RootMessageID:  util.Int64Ptr(parent.ID),
		}
		if err := s.store.CreateBranch(ctx, branch, &activate); err != nil {
			return nil, nil, nil, err
		}
		s.publish(conv.ID, EventBranchCreated, branch)
	default:
		var created bool
		branch, created, err = s.store.EnsureActiveBranch(ctx, conv.ID, model.DefaultBranchName)
		if err != nil {
			return nil, nil, nil, err
		}
		if created {
			s.publish(conv.ID, EventBranchCreated, branch)
		}
	}
	return conv, branch, parent, nil
}

// priorMessages 返回本轮之前的历史消息，按对话顺序排列
func (s *ChatService) priorMessages(ctx context.Context, conversationID string, branch *model.Branch, parent *model.Message) ([]model.Message, error) {
	if parent != nil {
		all, err := s.store.ListMessages(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		return history.BuildMessageChain(all, &parent.ID), nil
	}

	if branch == nil {
		return s.store.ListMessages(ctx, conversationID)
	}

	onBranch, err := s.store.ListMessagesByBranch(ctx, conversationID, branch.ID)
	if err != nil {
		return nil, err
	}
	if branch.RootMessageID == nil {
		return onBranch, nil
	}

	// 侧分支只标记了分叉之后的消息，需要补上分叉点之前的公共前缀
	all, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	prefix := history.BuildMessageChain(all, branch.RootMessageID)
	seen := make(map[int64]bool, len(prefix))
	for _, m := range prefix {
		seen[m.ID] = true
	}
	result := prefix
	for _, m := range onBranch {
		if !seen[m.ID] {
			result = append(result, m)
		}
	}
	return result, nil
}

// buildContext 截取历史窗口，裁剪到 token 预算，加上系统提示词和本轮用户消息
func (s *ChatService) buildContext(prior []model.Message, req *ChatRequest) []provider.Message {
	if n := s.chat.ContextMessages; n > 0 && len(prior) > n {
		prior = prior[len(prior)-n:]
	}

	historyMsgs := make([]provider.Message, 0, len(prior))
	for _, m := range prior {
		historyMsgs = append(historyMsgs, provider.Message{Role: m.Role, Content: m.Content})
	}
	historyMsgs, tokens := provider.TrimToBudget(historyMsgs, s.chat.MaxContextTokens)
	if s.metrics != nil {
		s.metrics.ContextTokens.Observe(float64(tokens))
	}

	systemPrompt := s.chat.SystemPrompt
	if req.ReasoningMode {
		systemPrompt = s.chat.ReasoningSystemPrompt
	}
	if req.SystemPrompt != nil && strings.TrimSpace(*req.SystemPrompt) != "" {
		systemPrompt = *req.SystemPrompt
	}

	messages := make([]provider.Message, 0, len(historyMsgs)+2)
	if systemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, historyMsgs...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: req.Message})
	return messages
}
