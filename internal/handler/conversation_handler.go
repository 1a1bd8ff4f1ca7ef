package handler

import (
	"github.com/gin-gonic/gin"

	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

// ConversationHandler 会话请求处理器
// 同时提供会话下消息、分支、书签、思考、想法的列表接口
type ConversationHandler struct {
	conversationService *service.ConversationService
	bookmarkService     *service.BookmarkService
	thoughtService      *service.ThoughtService
	ideaService         *service.IdeaService
}

// NewConversationHandler 创建 ConversationHandler 实例
func NewConversationHandler(
	conversationService *service.ConversationService,
	bookmarkService *service.BookmarkService,
	thoughtService *service.ThoughtService,
	ideaService *service.IdeaService,
) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		bookmarkService:     bookmarkService,
		thoughtService:      thoughtService,
		ideaService:         ideaService,
	}
}

// ListConversations 获取会话列表，最近更新的在前
// @Router /api/conversations [get]
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	list, err := h.conversationService.List(c.Request.Context())
	if err != nil {
		handleError(c, err, "获取会话列表失败")
		return
	}
	response.Success(c, list)
}

// CreateConversation 创建会话，同时创建默认分支
// 请求体可以为空
// @Router /api/conversations [post]
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req service.CreateConversationRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	conv, err := h.conversationService.Create(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err, "创建会话失败")
		return
	}
	response.Created(c, conv)
}

// GetConversation 获取会话详情
// @Router /api/conversations/{id} [get]
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conv, err := h.conversationService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "获取会话失败")
		return
	}
	response.Success(c, conv)
}

// DeleteConversation 删除会话
// @Router /api/conversations/{id} [delete]
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	if err := h.conversationService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err, "删除会话失败")
		return
	}
	deleted(c)
}

// UpdateTitle 修改会话标题
// @Router /api/conversations/{id}/title [patch]
func (h *ConversationHandler) UpdateTitle(c *gin.Context) {
	var req service.UpdateTitleRequest
	if !bindJSON(c, &req) {
		return
	}

	conv, err := h.conversationService.UpdateTitle(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handleError(c, err, "修改标题失败")
		return
	}
	response.Success(c, conv)
}

// SetLearningMode 开关学习模式
// @Router /api/conversations/{id}/learning-mode [patch]
func (h *ConversationHandler) SetLearningMode(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Enabled == nil {
		response.BadRequest(c, "enabled 不能为空")
		return
	}

	conv, err := h.conversationService.SetLearningMode(c.Request.Context(), c.Param("id"),
		&service.LearningModeRequest{Enabled: *req.Enabled})
	if err != nil {
		handleError(c, err, "修改学习模式失败")
		return
	}
	response.Success(c, conv)
}

// ListMessages 获取会话消息
// 传入 branchId 时只返回该分支的消息
// @Router /api/conversations/{id}/messages [get]
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.conversationService.Messages(c.Request.Context(), c.Param("id"), c.Query("branchId"))
	if err != nil {
		handleError(c, err, "获取消息失败")
		return
	}
	response.Success(c, msgs)
}

// ListBranches 获取会话分支
// @Router /api/conversations/{id}/branches [get]
func (h *ConversationHandler) ListBranches(c *gin.Context) {
	branches, err := h.conversationService.Branches(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "获取分支失败")
		return
	}
	response.Success(c, branches)
}

// GetActiveBranch 获取会话的活跃分支，没有时 data 为 null
// @Router /api/conversations/{id}/branches/active [get]
func (h *ConversationHandler) GetActiveBranch(c *gin.Context) {
	branch, err := h.conversationService.ActiveBranch(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "获取活跃分支失败")
		return
	}
	response.Success(c, branch)
}

// ListBookmarks 获取会话书签
// @Router /api/conversations/{id}/bookmarks [get]
func (h *ConversationHandler) ListBookmarks(c *gin.Context) {
	list, err := h.bookmarkService.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "获取书签失败")
		return
	}
	response.Success(c, list)
}

// ListThoughts 获取会话的思考记录
// @Router /api/conversations/{id}/thoughts [get]
func (h *ConversationHandler) ListThoughts(c *gin.Context) {
	list, err := h.thoughtService.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "获取思考记录失败")
		return
	}
	response.Success(c, list)
}

// ListIdeas 获取会话的想法
// @Router /api/conversations/{id}/ideas [get]
func (h *ConversationHandler) ListIdeas(c *gin.Context) {
	list, err := h.ideaService.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "获取想法失败")
		return
	}
	response.Success(c, list)
}
