package service

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"jensengpt/internal/cache"
	"jensengpt/internal/metrics"
	"jensengpt/internal/repository"
)

// 实时事件类型
const (
	EventConversationUpdated = "conversation.updated"
	EventConversationDeleted = "conversation.deleted"
	EventBranchCreated       = "branch.created"
	EventBranchUpdated       = "branch.updated"
	EventBranchActivated     = "branch.activated"
	EventBranchDeleted       = "branch.deleted"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventBookmarkChanged     = "bookmark.changed"
	EventThoughtChanged      = "thought.changed"
	EventIdeaChanged         = "idea.changed"
)

// EventNotifier 实体变更通知接口
// 由 WebSocket Hub 实现，推送给订阅了该会话的客户端
type EventNotifier interface {
	NotifyConversation(conversationID, eventType string, payload interface{})
}

// 失效代数的槽位数，不同范围哈希冲突时只会多跳过几次回填
const generationSlots = 64

// ReadCache 读接口缓存
// 按池区分 TTL，并记录命中率
type ReadCache struct {
	cache       cache.Cache
	metrics     *metrics.Metrics
	messagesTTL time.Duration
	listingTTL  time.Duration

	// 每次失效递增对应范围的代数，回填前代数变化则放弃写入
	mu          sync.Mutex
	generations [generationSlots]uint64
}

// NewReadCache 创建 ReadCache
// c 为 nil 时不缓存，m 为 nil 时不记录指标
func NewReadCache(c cache.Cache, m *metrics.Metrics, messagesTTL, listingTTL time.Duration) *ReadCache {
	if c == nil {
		c = cache.Nop{}
	}
	return &ReadCache{
		cache:       c,
		metrics:     m,
		messagesTTL: messagesTTL,
		listingTTL:  listingTTL,
	}
}

func (r *ReadCache) ttl(pool string) time.Duration {
	if pool == cache.PoolMessages {
		return r.messagesTTL
	}
	return r.listingTTL
}

// invalidateConversation 失效会话下的所有缓存
// listing 为 true 时同时失效会话列表
func (r *ReadCache) invalidateConversation(ctx context.Context, conversationID string, listing bool) {
	if conversationID != "" {
		r.invalidate(ctx, cache.ConversationPrefix(conversationID))
	}
	if listing {
		r.invalidate(ctx, cache.KeyConversations)
	}
}

func (r *ReadCache) invalidate(ctx context.Context, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[slot(scope)]++
	r.cache.Invalidate(ctx, scope)
}

// generation 返回 key 所属范围的当前代数
func (r *ReadCache) generation(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[slot(cache.Scope(key))]
}

// fill 仅在 load 期间没有发生失效时回填
func (r *ReadCache) fill(ctx context.Context, key string, gen uint64, raw []byte, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[slot(cache.Scope(key))] != gen {
		return false
	}
	r.cache.Set(ctx, key, raw, ttl)
	return true
}

func slot(scope string) int {
	h := fnv.New32a()
	h.Write([]byte(scope))
	return int(h.Sum32() % generationSlots)
}

// cached 先读缓存，未命中时调用 load 并回填
// 缓存值无法解码时视为未命中，load 期间被失效的结果不回填
func cached[T any](ctx context.Context, r *ReadCache, key, pool string, load func() (T, error)) (T, error) {
	if raw, ok := r.cache.Get(ctx, key); ok {
		var value T
		if err := json.Unmarshal(raw, &value); err == nil {
			r.record(pool, true)
			return value, nil
		}
		log.WithField("key", key).Warn("discarding undecodable cache entry")
	}
	r.record(pool, false)

	gen := r.generation(key)
	value, err := load()
	if err != nil {
		return value, err
	}
	if raw, err := json.Marshal(value); err == nil {
		if !r.fill(ctx, key, gen, raw, r.ttl(pool)) {
			log.WithField("key", key).Debug("skipping stale cache fill")
		}
	}
	return value, nil
}

func (r *ReadCache) record(pool string, hit bool) {
	if r.metrics != nil {
		r.metrics.RecordCache(pool, hit)
	}
}

// base 各服务共用的依赖
type base struct {
	store    repository.Store
	reads    *ReadCache
	notifier EventNotifier
}

func newBase(store repository.Store, reads *ReadCache) base {
	if reads == nil {
		reads = NewReadCache(nil, nil, 0, 0)
	}
	return base{store: store, reads: reads}
}

// SetNotifier 设置通知器
func (b *base) SetNotifier(n EventNotifier) {
	b.notifier = n
}

// publish 通知订阅者，未设置通知器时忽略
func (b *base) publish(conversationID, eventType string, payload interface{}) {
	if b.notifier != nil && conversationID != "" {
		b.notifier.NotifyConversation(conversationID, eventType, payload)
	}
}
