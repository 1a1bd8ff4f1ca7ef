package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"jensengpt/internal/service"
)

// ChatHandler 对话请求处理器
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 发送消息并以 NDJSON 流式返回回复
// 每行一个 JSON 记录，最后一行 isComplete 为 true
// 上游在第一个增量之前失败时返回普通的 JSON 错误响应
// @Router /api/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	turn, err := h.chatService.StartTurn(ctx, &req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// 客户端已经断开，不再写响应
			c.Abort()
			return
		}
		handleError(c, err, "对话失败")
		return
	}

	// 保持与前端约定的 Content-Type，内容实际是换行分隔的 JSON
	c.Header("Content-Type", "application/json; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := turn.Relay(ctx, newNDJSONWriter(c.Writer)); err != nil {
		log.WithError(err).WithField("conversation", turn.Conversation.ID).Debug("chat relay ended early")
	}
}

// ndjsonWriter 每写一条记录就刷新到客户端
type ndjsonWriter struct {
	w       gin.ResponseWriter
	encoder *json.Encoder
}

func newNDJSONWriter(w gin.ResponseWriter) *ndjsonWriter {
	return &ndjsonWriter{w: w, encoder: json.NewEncoder(w)}
}

// WriteRecord 实现 service.RecordWriter
// json.Encoder 会在每条记录后追加换行
func (n *ndjsonWriter) WriteRecord(record *service.StreamRecord) error {
	if err := n.encoder.Encode(record); err != nil {
		return err
	}
	n.w.Flush()
	return nil
}
