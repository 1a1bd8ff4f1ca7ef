// Package cache 提供读接口的短期缓存
// 缓存值为读接口结果的 JSON 编码，写操作通过前缀失效保证读到自己的写入
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache 缓存接口
// 后端出错时 Get 视为未命中，Set / Invalidate 只记录日志，不影响请求
type Cache interface {
	// Get 读取缓存，不存在或已过期返回 false
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set 写入缓存，ttl <= 0 时不写入
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Invalidate 删除所有以 prefix 开头的 Key
	Invalidate(ctx context.Context, prefix string)
	// Close 释放后端资源
	Close() error
}

// 缓存池名称，用于指标标签
const (
	PoolMessages = "messages"
	PoolListing  = "listing"
)

// KeyConversations 会话列表
const KeyConversations = "conversations"

// ConversationPrefix 某个会话所有缓存 Key 的公共前缀
func ConversationPrefix(conversationID string) string {
	return "conv:" + conversationID + ":"
}

// Scope 返回 key 所属的失效范围：会话 Key 返回会话前缀，其余返回 Key 本身
func Scope(key string) string {
	if rest, ok := strings.CutPrefix(key, "conv:"); ok {
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			return key[:len("conv:")+i+1]
		}
	}
	return key
}

// KeyMessages 会话全部消息
func KeyMessages(conversationID string) string {
	return ConversationPrefix(conversationID) + "messages"
}

// KeyBranchMessages 分支消息
func KeyBranchMessages(conversationID, branchID string) string {
	return ConversationPrefix(conversationID) + "messages:" + branchID
}

// KeyBranches 会话的分支列表
func KeyBranches(conversationID string) string {
	return ConversationPrefix(conversationID) + "branches"
}

// KeyActiveBranch 会话的活跃分支
func KeyActiveBranch(conversationID string) string {
	return ConversationPrefix(conversationID) + "branches:active"
}

// KeyConversation 会话详情
func KeyConversation(conversationID string) string {
	return ConversationPrefix(conversationID) + "detail"
}

// Nop 不缓存任何内容，用于关闭缓存或测试
type Nop struct{}

func (Nop) Get(ctx context.Context, key string) ([]byte, bool)                   { return nil, false }
func (Nop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {}
func (Nop) Invalidate(ctx context.Context, prefix string)                        {}
func (Nop) Close() error                                                         { return nil }
