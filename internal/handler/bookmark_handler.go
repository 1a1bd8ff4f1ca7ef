package handler

import (
	"github.com/gin-gonic/gin"

	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

// BookmarkHandler 书签请求处理器
type BookmarkHandler struct {
	bookmarkService *service.BookmarkService
}

// NewBookmarkHandler 创建 BookmarkHandler 实例
func NewBookmarkHandler(bookmarkService *service.BookmarkService) *BookmarkHandler {
	return &BookmarkHandler{bookmarkService: bookmarkService}
}

// CreateBookmark 创建书签
// @Router /api/bookmarks [post]
func (h *BookmarkHandler) CreateBookmark(c *gin.Context) {
	var req service.CreateBookmarkRequest
	if !bindJSON(c, &req) {
		return
	}

	bookmark, err := h.bookmarkService.Create(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err, "创建书签失败")
		return
	}
	response.Created(c, bookmark)
}

// ListBookmarks 按 conversationId 查询书签
// @Router /api/bookmarks [get]
func (h *BookmarkHandler) ListBookmarks(c *gin.Context) {
	convID := c.Query("conversationId")
	if convID == "" {
		response.BadRequest(c, "conversationId 不能为空")
		return
	}

	list, err := h.bookmarkService.List(c.Request.Context(), convID)
	if err != nil {
		handleError(c, err, "获取书签失败")
		return
	}
	response.Success(c, list)
}

// GetBookmark 获取书签
// @Router /api/bookmarks/{id} [get]
func (h *BookmarkHandler) GetBookmark(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	bookmark, err := h.bookmarkService.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err, "获取书签失败")
		return
	}
	response.Success(c, bookmark)
}

// RenameBookmark 重命名书签
// @Router /api/bookmarks/{id} [patch]
func (h *BookmarkHandler) RenameBookmark(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req service.RenameBookmarkRequest
	if !bindJSON(c, &req) {
		return
	}

	bookmark, err := h.bookmarkService.Rename(c.Request.Context(), id, &req)
	if err != nil {
		handleError(c, err, "重命名书签失败")
		return
	}
	response.Success(c, bookmark)
}

// DeleteBookmark 删除书签
// @Router /api/bookmarks/{id} [delete]
func (h *BookmarkHandler) DeleteBookmark(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.bookmarkService.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err, "删除书签失败")
		return
	}
	deleted(c)
}
