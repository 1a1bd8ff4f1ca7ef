package handler

import (
	"github.com/gin-gonic/gin"

	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

// MessageHandler 消息请求处理器
type MessageHandler struct {
	messageService *service.MessageService
}

// NewMessageHandler 创建 MessageHandler 实例
func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// GetChain 获取以该消息结尾的祖先链
// @Router /api/messages/{id}/chain [get]
func (h *MessageHandler) GetChain(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	chain, err := h.messageService.Chain(c.Request.Context(), id)
	if err != nil {
		handleError(c, err, "获取消息链失败")
		return
	}
	response.Success(c, chain)
}

// UpdateReasoningSteps 为消息附加推理步骤
// @Router /api/messages/{id}/reasoning-steps [patch]
func (h *MessageHandler) UpdateReasoningSteps(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.ReasoningStepsRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.messageService.UpdateReasoningSteps(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err, "保存推理步骤失败")
		return
	}
	response.Success(c, msg)
}

// ListExplanations 获取消息的推理解释
// @Router /api/messages/{id}/explanations [get]
func (h *MessageHandler) ListExplanations(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	list, err := h.messageService.Explanations(c.Request.Context(), id)
	if err != nil {
		handleError(c, err, "获取推理解释失败")
		return
	}
	response.Success(c, list)
}

// CreateExplanation 为消息创建推理解释
// @Router /api/messages/{id}/explanations [post]
func (h *MessageHandler) CreateExplanation(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.CreateExplanationRequest
	if !bindJSON(c, &req) {
		return
	}

	explanation, err := h.messageService.CreateExplanation(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err, "创建推理解释失败")
		return
	}
	response.Created(c, explanation)
}
