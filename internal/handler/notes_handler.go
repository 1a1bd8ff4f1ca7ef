package handler

import (
	"github.com/gin-gonic/gin"

	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

// NotesHandler 思考记录与想法的请求处理器
type NotesHandler struct {
	thoughtService *service.ThoughtService
	ideaService    *service.IdeaService
}

// NewNotesHandler 创建 NotesHandler 实例
func NewNotesHandler(thoughtService *service.ThoughtService, ideaService *service.IdeaService) *NotesHandler {
	return &NotesHandler{
		thoughtService: thoughtService,
		ideaService:    ideaService,
	}
}

// ==================== 思考 ====================

// CreateThought 创建思考
// @Router /api/thoughts [post]
func (h *NotesHandler) CreateThought(c *gin.Context) {
	var req service.CreateThoughtRequest
	if !bindJSON(c, &req) {
		return
	}

	thought, err := h.thoughtService.Create(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err, "创建思考失败")
		return
	}
	response.Created(c, thought)
}

// ListThoughts 按 conversationId 查询思考
// @Router /api/thoughts [get]
func (h *NotesHandler) ListThoughts(c *gin.Context) {
	convID := c.Query("conversationId")
	if convID == "" {
		response.BadRequest(c, "conversationId 不能为空")
		return
	}

	list, err := h.thoughtService.List(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err, "获取思考记录失败")
		return
	}
	response.Success(c, list)
}

// GetThought 获取思考
// @Router /api/thoughts/{id} [get]
func (h *NotesHandler) GetThought(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	thought, err := h.thoughtService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err, "获取思考失败")
		return
	}
	response.Success(c, thought)
}

// UpdateThought 部分更新思考
// @Router /api/thoughts/{id} [patch]
func (h *NotesHandler) UpdateThought(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateThoughtRequest
	if !bindJSON(c, &req) {
		return
	}

	thought, err := h.thoughtService.Update(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err, "更新思考失败")
		return
	}
	response.Success(c, thought)
}

// DeleteThought 删除思考
// @Router /api/thoughts/{id} [delete]
func (h *NotesHandler) DeleteThought(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.thoughtService.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err, "删除思考失败")
		return
	}
	deleted(c)
}

// RelatedThoughts 获取相关的思考
// @Router /api/thoughts/{id}/related [get]
func (h *NotesHandler) RelatedThoughts(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	list, err := h.thoughtService.Related(c.Request.Context(), id)
	if err != nil {
		handleError(c, err, "获取相关思考失败")
		return
	}
	response.Success(c, list)
}

// ==================== 想法 ====================

// CreateIdea 创建想法
// @Router /api/ideas [post]
func (h *NotesHandler) CreateIdea(c *gin.Context) {
	var req service.CreateIdeaRequest
	if !bindJSON(c, &req) {
		return
	}

	idea, err := h.ideaService.Create(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err, "创建想法失败")
		return
	}
	response.Created(c, idea)
}

// ListIdeas 按 conversationId 查询想法
// @Router /api/ideas [get]
func (h *NotesHandler) ListIdeas(c *gin.Context) {
	convID := c.Query("conversationId")
	if convID == "" {
		response.BadRequest(c, "conversationId 不能为空")
		return
	}

	list, err := h.ideaService.List(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err, "获取想法失败")
		return
	}
	response.Success(c, list)
}

// GetIdea 获取想法
// @Router /api/ideas/{id} [get]
func (h *NotesHandler) GetIdea(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	idea, err := h.ideaService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err, "获取想法失败")
		return
	}
	response.Success(c, idea)
}

// UpdateIdea 部分更新想法
// @Router /api/ideas/{id} [patch]
func (h *NotesHandler) UpdateIdea(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateIdeaRequest
	if !bindJSON(c, &req) {
		return
	}

	idea, err := h.ideaService.Update(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err, "更新想法失败")
		return
	}
	response.Success(c, idea)
}

// DeleteIdea 删除想法
// @Router /api/ideas/{id} [delete]
func (h *NotesHandler) DeleteIdea(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.ideaService.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err, "删除想法失败")
		return
	}
	deleted(c)
}
