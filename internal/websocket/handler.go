package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"jensengpt/internal/model"
	"jensengpt/internal/repository"
	"jensengpt/pkg/response"
)

// WebSocket 升级器配置
// 没有鉴权，跨域限制由 HTTP 层的 CORS 配置负责
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ConversationLookup 校验订阅的会话是否存在
type ConversationLookup interface {
	Get(ctx context.Context, id string) (*model.Conversation, error)
}

// Handler 处理 WebSocket 连接
type Handler struct {
	hub           *Hub
	conversations ConversationLookup
}

// NewHandler 创建 WebSocket Handler
func NewHandler(hub *Hub, conversations ConversationLookup) *Handler {
	return &Handler{
		hub:           hub,
		conversations: conversations,
	}
}

// HandleConversationWS 订阅会话的实时事件
// 路由: GET /ws/conversations/:id
func (h *Handler) HandleConversationWS(c *gin.Context) {
	convID := c.Param("id")
	if _, err := h.conversations.Get(c.Request.Context(), convID); err != nil {
		var nf *repository.NotFoundError
		if errors.As(err, &nf) {
			response.EntityNotFound(c, nf.Entity, nf.Error())
			return
		}
		response.InternalError(c, "获取会话失败")
		return
	}

	// 升级 HTTP 连接为 WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade websocket connection")
		return
	}

	client := NewClient(h.hub, conn, convID)
	h.hub.Register(client)

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()

	client.SendMessage(NewMessage(TypeConnected, &ConnectedPayload{ConversationID: convID}))
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	ws := r.Group("/ws")
	{
		ws.GET("/conversations/:id", h.HandleConversationWS)
	}
}
