package handler

import (
	"github.com/gin-gonic/gin"

	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

// BranchHandler 分支请求处理器
type BranchHandler struct {
	branchService *service.BranchService
}

// NewBranchHandler 创建 BranchHandler 实例
func NewBranchHandler(branchService *service.BranchService) *BranchHandler {
	return &BranchHandler{branchService: branchService}
}

// CreateBranch 创建分支
// @Router /api/branches [post]
func (h *BranchHandler) CreateBranch(c *gin.Context) {
	var req service.CreateBranchRequest
	if !bindJSON(c, &req) {
		return
	}

	branch, err := h.branchService.Create(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err, "创建分支失败")
		return
	}
	response.Created(c, branch)
}

// RenameBranch 修改分支名称
// @Router /api/branches/{id}/name [patch]
func (h *BranchHandler) RenameBranch(c *gin.Context) {
	var req service.RenameBranchRequest
	if !bindJSON(c, &req) {
		return
	}

	branch, err := h.branchService.Rename(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		handleError(c, err, "修改分支名称失败")
		return
	}
	response.Success(c, branch)
}

// ActivateBranch 激活分支
// @Router /api/branches/{id}/active [post]
func (h *BranchHandler) ActivateBranch(c *gin.Context) {
	branch, err := h.branchService.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err, "激活分支失败")
		return
	}
	response.Success(c, branch)
}

// DeleteBranch 删除分支，消息保留
// @Router /api/branches/{id} [delete]
func (h *BranchHandler) DeleteBranch(c *gin.Context) {
	if err := h.branchService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err, "删除分支失败")
		return
	}
	deleted(c)
}
