// Package response 提供统一的 HTTP 响应格式
// 除流式对话接口外，所有 API 都使用相同的响应结构，便于前端处理
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// code: 业务状态码（0 表示成功）
// message: 提示信息
// data: 响应数据
type Response struct {
	Code    int         `json:"code"`    // 业务状态码
	Message string      `json:"message"` // 提示信息
	Data    interface{} `json:"data"`    // 响应数据，可能为 null
}

// 业务状态码定义
const (
	CodeSuccess       = 0    // 成功
	CodeBadRequest    = 1000 // 请求参数错误
	CodeNotFound      = 1003 // 资源不存在
	CodeInternalError = 1004 // 服务器内部错误

	CodeConversationNotFound = 1301 // 会话不存在
	CodeBranchNotFound       = 1302 // 分支不存在
	CodeMessageNotFound      = 1303 // 消息不存在
	CodeBookmarkNotFound     = 1304 // 书签不存在
	CodeThoughtNotFound      = 1305 // 思考不存在
	CodeIdeaNotFound         = 1306 // 想法不存在
	CodeInvalidReference     = 1310 // 引用的记录不存在

	CodeProviderUnavailable = 1501 // 大模型服务不可用
)

// Success 返回成功响应
// 参数:
//   - c: Gin 上下文
//   - data: 响应数据，可以是任意类型
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 返回 201 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "创建成功",
		Data:    data,
	})
}

// ErrorWithCode 返回错误响应（带业务状态码）
// 参数:
//   - c: Gin 上下文
//   - httpCode: HTTP 状态码
//   - bizCode: 业务状态码
//   - message: 错误信息
func ErrorWithCode(c *gin.Context, httpCode, bizCode int, message string) {
	c.JSON(httpCode, Response{
		Code:    bizCode,
		Message: message,
	})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, CodeBadRequest, message)
}

// NotFound 返回 404 错误（资源不存在）
func NotFound(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusNotFound, CodeNotFound, message)
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusInternalServerError, CodeInternalError, message)
}

// ProviderUnavailable 返回 502 错误（上游大模型服务失败）
func ProviderUnavailable(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadGateway, CodeProviderUnavailable, message)
}

// notFoundCodes 实体名称到业务码的映射
var notFoundCodes = map[string]int{
	"conversation": CodeConversationNotFound,
	"branch":       CodeBranchNotFound,
	"message":      CodeMessageNotFound,
	"bookmark":     CodeBookmarkNotFound,
	"thought":      CodeThoughtNotFound,
	"idea":         CodeIdeaNotFound,
}

// EntityNotFound 返回带实体业务码的 404 错误
// 未知实体使用通用的 CodeNotFound
func EntityNotFound(c *gin.Context, entity, message string) {
	code, ok := notFoundCodes[entity]
	if !ok {
		code = CodeNotFound
	}
	ErrorWithCode(c, http.StatusNotFound, code, message)
}

// InvalidReference 返回引用错误（404）
func InvalidReference(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusNotFound, CodeInvalidReference, message)
}
