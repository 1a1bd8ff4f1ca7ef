package websocket

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"jensengpt/internal/metrics"
)

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 按会话管理客户端连接
// 2. 把实体变更事件推送给订阅该会话的所有客户端
type Hub struct {
	// 会话到客户端集合的映射：conversationID -> clients
	// 同一会话可能在多个标签页中打开
	clients map[string]map[*Client]struct{}

	// 注册通道
	register chan *Client

	// 注销通道
	unregister chan *Client

	// 关闭信号
	done     chan struct{}
	stopOnce sync.Once

	// 互斥锁，保护并发访问
	mu sync.RWMutex

	metrics *metrics.Metrics
}

// NewHub 创建 Hub 实例
// m 为 nil 时不记录连接数
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// Run 启动 Hub 的主循环
// 应该在单独的 goroutine 中运行，Stop 后返回
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop 停止主循环并断开所有客户端，可重复调用
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[client.conversationID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.conversationID] = set
	}
	set[client] = struct{}{}
	if h.metrics != nil {
		h.metrics.WebsocketClients.Inc()
	}

	log.WithField("conversation", client.conversationID).Debug("live client registered")
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[client.conversationID]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	// 如果没有连接了，删除 key
	if len(set) == 0 {
		delete(h.clients, client.conversationID)
	}
	if h.metrics != nil {
		h.metrics.WebsocketClients.Dec()
	}

	// 关闭客户端
	client.Close()
	log.WithField("conversation", client.conversationID).Debug("live client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for convID, set := range h.clients {
		for client := range set {
			client.Close()
			if h.metrics != nil {
				h.metrics.WebsocketClients.Dec()
			}
		}
		delete(h.clients, convID)
	}
}

// NotifyConversation 向订阅了该会话的所有客户端推送事件
// 实现 service.EventNotifier
func (h *Hub) NotifyConversation(conversationID, eventType string, payload interface{}) {
	h.mu.RLock()
	set := h.clients[conversationID]
	targets := make([]*Client, 0, len(set))
	for client := range set {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	// 只编码一次
	data, err := json.Marshal(NewEvent(eventType, payload))
	if err != nil {
		log.WithError(err).WithField("type", eventType).Error("failed to encode live event")
		return
	}
	for _, client := range targets {
		client.sendRaw(data)
	}
}

// ClientCount 返回订阅了该会话的客户端数量
func (h *Hub) ClientCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[conversationID])
}
