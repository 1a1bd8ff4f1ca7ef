package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"jensengpt/internal/cache"
	"jensengpt/internal/config"
	"jensengpt/internal/metrics"
	"jensengpt/internal/provider"
	"jensengpt/internal/repository"
)

var errClientGone = errors.New("client gone")

// fixture 用内存存储、内存缓存和脚本 Provider 组装全部服务
type fixture struct {
	cfg      *config.Config
	store    *repository.MemoryStore
	cache    *cache.MemoryCache
	metrics  *metrics.Metrics
	provider *provider.Scripted
	events   *eventLog

	chat          *ChatService
	conversations *ConversationService
	branches      *BranchService
	bookmarks     *BookmarkService
	thoughts      *ThoughtService
	ideas         *IdeaService
	messages      *MessageService
}

func newFixture(t *testing.T, chunks ...string) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Chat.SystemPrompt = "You are helpful."
	cfg.Chat.ReasoningSystemPrompt = "Think step by step."
	cfg.Provider.DefaultModel = "test-model"

	f := &fixture{
		cfg:      cfg,
		store:    repository.NewMemoryStore(true),
		cache:    cache.NewMemoryCache(0),
		metrics:  metrics.New(),
		provider: provider.NewScripted(chunks...),
		events:   &eventLog{},
	}
	t.Cleanup(func() { f.cache.Close() })

	reads := NewReadCache(f.cache, f.metrics, 10*time.Second, 30*time.Second)
	f.chat = NewChatService(f.store, reads, f.provider, f.metrics, cfg)
	f.conversations = NewConversationService(f.store, reads)
	f.branches = NewBranchService(f.store, reads)
	f.bookmarks = NewBookmarkService(f.store, reads)
	f.thoughts = NewThoughtService(f.store, reads)
	f.ideas = NewIdeaService(f.store, reads)
	f.messages = NewMessageService(f.store, reads)

	f.chat.SetNotifier(f.events)
	f.conversations.SetNotifier(f.events)
	f.branches.SetNotifier(f.events)
	f.bookmarks.SetNotifier(f.events)
	f.thoughts.SetNotifier(f.events)
	f.ideas.SetNotifier(f.events)
	f.messages.SetNotifier(f.events)
	return f
}

// turn 完整执行一轮对话并返回写出的记录
func (f *fixture) turn(t *testing.T, req *ChatRequest) (*Turn, []StreamRecord) {
	t.Helper()
	turn, err := f.chat.StartTurn(context.Background(), req)
	require.NoError(t, err)

	w := &recordWriter{failAt: -1}
	require.NoError(t, turn.Relay(context.Background(), w))
	return turn, w.records
}

// recordWriter 收集写出的记录，failAt >= 0 时第 failAt 次写入失败
type recordWriter struct {
	records []StreamRecord
	failAt  int
	onWrite func(n int)
}

func (w *recordWriter) WriteRecord(record *StreamRecord) error {
	if w.failAt >= 0 && len(w.records) == w.failAt {
		return errClientGone
	}
	w.records = append(w.records, *record)
	if w.onWrite != nil {
		w.onWrite(len(w.records))
	}
	return nil
}

type event struct {
	conversationID string
	eventType      string
}

type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) NotifyConversation(conversationID, eventType string, payload interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event{conversationID: conversationID, eventType: eventType})
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.eventType == eventType {
			n++
		}
	}
	return n
}

func strp(s string) *string { return &s }
func i64p(i int64) *int64   { return &i }
func intp(i int) *int       { return &i }
