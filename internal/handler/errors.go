// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"jensengpt/internal/repository"
	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

// handleError 把业务错误映射为统一的错误响应
// 未识别的错误只记录日志，返回 fallback 作为提示信息
func handleError(c *gin.Context, err error, fallback string) {
	var notFound *repository.NotFoundError
	var reference *repository.ReferenceError

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		response.BadRequest(c, err.Error())
	case errors.As(err, &notFound):
		response.EntityNotFound(c, notFound.Entity, notFound.Error())
	case errors.As(err, &reference):
		response.InvalidReference(c, reference.Error())
	case errors.Is(err, repository.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, repository.ErrInvalidReference):
		response.InvalidReference(c, err.Error())
	case errors.Is(err, service.ErrProviderUnavailable):
		response.ProviderUnavailable(c, service.ErrProviderUnavailable.Error())
	default:
		_ = c.Error(err)
		log.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		response.InternalError(c, fallback)
	}
}

// parseID 解析路径中的数字 ID
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "无效的ID")
		return 0, false
	}
	return id, true
}

// bindJSON 解析请求体，失败时写出 400
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.BadRequest(c, "无效的请求参数")
		return false
	}
	return true
}

// deleted 删除成功的响应数据
func deleted(c *gin.Context) {
	response.Success(c, gin.H{"deleted": true})
}
