package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jensengpt/internal/history"
	"jensengpt/internal/metrics"
	"jensengpt/internal/model"
	"jensengpt/internal/provider"
	"jensengpt/internal/repository"
)

func TestChatStreamsInOrderWithOneFinalRecord(t *testing.T) {
	f := newFixture(t, "Hel", "lo, ", "world")
	ctx := context.Background()

	turn, records := f.turn(t, &ChatRequest{Message: "Say hello to the whole world please"})

	require.Len(t, records, 4)
	for i, want := range []string{"Hel", "lo, ", "world"} {
		assert.Equal(t, want, records[i].Content)
		assert.False(t, records[i].IsComplete)
		assert.Equal(t, turn.Conversation.ID, records[i].ConversationID)
	}

	final := records[3]
	assert.True(t, final.IsComplete)
	assert.False(t, final.Error)
	assert.Empty(t, final.Content)
	require.NotNil(t, final.Message)
	assert.Equal(t, "Hello, world", *final.Message)
	require.NotNil(t, final.MessageID)
	require.NotNil(t, final.UserMessageID)
	assert.Equal(t, turn.UserMessage.ID, *final.UserMessageID)
	assert.Equal(t, turn.Branch.ID, *final.BranchID)

	// 新会话：标题取首条消息前 30 个字符，默认分支活跃
	conv, err := f.store.GetConversation(ctx, turn.Conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, "Say hello to the whole world p", conv.Title)
	active, err := f.store.GetActiveBranch(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultBranchName, active.Name)

	msgs, err := f.store.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.MessageRoleUser, msgs[0].Role)
	assert.Nil(t, msgs[0].ParentID)
	assert.Equal(t, model.MessageRoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello, world", msgs[1].Content)
	assert.Equal(t, *final.MessageID, msgs[1].ID)
	assert.Equal(t, msgs[0].ID, *msgs[1].ParentID)
	assert.Equal(t, "test-model", *msgs[1].Model)
	assert.False(t, msgs[1].Truncated)

	req := f.provider.LastRequest()
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful."},
		{Role: provider.RoleUser, Content: "Say hello to the whole world please"},
	}, req.Messages)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues(metrics.OutcomeCompleted)))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.ChatChunksTotal))
	assert.Equal(t, 2, f.events.count(EventMessageCreated))
}

func TestChatContinuesConversation(t *testing.T) {
	f := newFixture(t, "Hello, world")
	ctx := context.Background()

	first, _ := f.turn(t, &ChatRequest{Message: "Hi"})
	convID := first.Conversation.ID

	second, records := f.turn(t, &ChatRequest{Message: "And again", ConversationID: strp(convID)})
	assert.Equal(t, first.Branch.ID, second.Branch.ID)

	msgs, err := f.store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	// 用户消息挂在上一条助手回复下面
	require.NotNil(t, second.UserMessage.ParentID)
	assert.Equal(t, msgs[1].ID, *second.UserMessage.ParentID)
	assert.Equal(t, msgs[3].ID, *records[len(records)-1].MessageID)
	assert.NoError(t, history.ValidateChain(msgs))

	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful."},
		{Role: provider.RoleUser, Content: "Hi"},
		{Role: provider.RoleAssistant, Content: "Hello, world"},
		{Role: provider.RoleUser, Content: "And again"},
	}, f.provider.LastRequest().Messages)
}

func TestChatBranchFromEarlierMessage(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()

	first, _ := f.turn(t, &ChatRequest{Message: "one"})
	convID := first.Conversation.ID
	f.turn(t, &ChatRequest{Message: "two", ConversationID: strp(convID)})

	msgs, err := f.store.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	fork := msgs[1].ID

	branched, _ := f.turn(t, &ChatRequest{
		Message:         "a different question",
		ConversationID:  strp(convID),
		ParentMessageID: i64p(fork),
	})

	// 上游只看到分叉点之前的两条消息和新问题
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful."},
		{Role: provider.RoleUser, Content: "one"},
		{Role: provider.RoleAssistant, Content: "ok"},
		{Role: provider.RoleUser, Content: "a different question"},
	}, f.provider.LastRequest().Messages)

	assert.NotEqual(t, first.Branch.ID, branched.Branch.ID)
	assert.Equal(t, fork, *branched.Branch.RootMessageID)
	assert.Equal(t, history.BranchName("ok", 20), branched.Branch.Name)
	assert.Equal(t, fork, *branched.UserMessage.ParentID)

	branches, err := f.store.ListBranches(ctx, convID)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	active := 0
	for _, b := range branches {
		if b.Active() {
			active++
			assert.Equal(t, branched.Branch.ID, b.ID)
		}
	}
	assert.Equal(t, 1, active)

	// 继续侧分支：公共前缀加上分支上的消息
	f.turn(t, &ChatRequest{
		Message:        "follow up",
		ConversationID: strp(convID),
		BranchID:       strp(branched.Branch.ID),
	})
	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful."},
		{Role: provider.RoleUser, Content: "one"},
		{Role: provider.RoleAssistant, Content: "ok"},
		{Role: provider.RoleUser, Content: "a different question"},
		{Role: provider.RoleAssistant, Content: "ok"},
		{Role: provider.RoleUser, Content: "follow up"},
	}, f.provider.LastRequest().Messages)
}

func TestChatSystemPromptSelection(t *testing.T) {
	f := newFixture(t, "ok")

	f.turn(t, &ChatRequest{Message: "why", ReasoningMode: true})
	assert.Equal(t, "Think step by step.", f.provider.LastRequest().Messages[0].Content)

	f.turn(t, &ChatRequest{Message: "why", ReasoningMode: true, SystemPrompt: strp("Be brief.")})
	assert.Equal(t, "Be brief.", f.provider.LastRequest().Messages[0].Content)

	f.turn(t, &ChatRequest{Message: "why", ModelID: strp("other-model")})
	assert.Equal(t, "other-model", f.provider.LastRequest().Model)
}

func TestChatContextWindow(t *testing.T) {
	f := newFixture(t, "ok")
	f.cfg.Chat.ContextMessages = 2
	f.chat.chat = f.cfg.Chat

	first, _ := f.turn(t, &ChatRequest{Message: "one"})
	convID := first.Conversation.ID
	f.turn(t, &ChatRequest{Message: "two", ConversationID: strp(convID)})
	f.turn(t, &ChatRequest{Message: "three", ConversationID: strp(convID)})

	assert.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "You are helpful."},
		{Role: provider.RoleUser, Content: "two"},
		{Role: provider.RoleAssistant, Content: "ok"},
		{Role: provider.RoleUser, Content: "three"},
	}, f.provider.LastRequest().Messages)
}

func TestChatResolutionErrors(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()

	first, _ := f.turn(t, &ChatRequest{Message: "hello"})
	other, _ := f.turn(t, &ChatRequest{Message: "elsewhere"})
	convID := first.Conversation.ID

	tests := []struct {
		name string
		req  *ChatRequest
		want error
	}{
		{"empty message", &ChatRequest{Message: "   "}, ErrInvalidRequest},
		{"parent without conversation", &ChatRequest{Message: "x", ParentMessageID: i64p(1)}, ErrInvalidRequest},
		{"unknown conversation", &ChatRequest{Message: "x", ConversationID: strp("missing")}, repository.ErrNotFound},
		{"unknown branch", &ChatRequest{Message: "x", ConversationID: strp(convID), BranchID: strp("missing")}, repository.ErrNotFound},
		{"foreign branch", &ChatRequest{Message: "x", ConversationID: strp(convID), BranchID: strp(other.Branch.ID)}, repository.ErrNotFound},
		{"unknown parent", &ChatRequest{Message: "x", ConversationID: strp(convID), ParentMessageID: i64p(999)}, repository.ErrNotFound},
		{"foreign parent", &ChatRequest{Message: "x", ConversationID: strp(convID), ParentMessageID: i64p(other.UserMessage.ID)}, repository.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.chat.StartTurn(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// 失败的请求不写入任何消息
	msgs, err := f.store.ListMessages(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChatProviderUnavailable(t *testing.T) {
	t.Run("open fails", func(t *testing.T) {
		f := newFixture(t)
		f.provider.OpenErr = errors.New("connection refused")

		_, err := f.chat.StartTurn(context.Background(), &ChatRequest{Message: "hi"})
		require.ErrorIs(t, err, ErrProviderUnavailable)
		assertOnlyUserMessage(t, f)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProviderErrorsTotal.WithLabelValues(phaseOpen)))
	})

	t.Run("first chunk fails", func(t *testing.T) {
		f := newFixture(t, "never")
		f.provider.FailAfter = 0
		f.provider.StreamErr = errors.New("503 service unavailable")

		_, err := f.chat.StartTurn(context.Background(), &ChatRequest{Message: "hi"})
		require.ErrorIs(t, err, ErrProviderUnavailable)
		assertOnlyUserMessage(t, f)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues(metrics.OutcomeUnavailable)))
	})
}

func assertOnlyUserMessage(t *testing.T, f *fixture) {
	t.Helper()
	convs, err := f.store.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := f.store.ListMessages(context.Background(), convs[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageRoleUser, msgs[0].Role)
}

func TestChatStreamFailsMidway(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.provider.FailAfter = 2
	f.provider.StreamErr = errors.New("upstream reset")

	turn, err := f.chat.StartTurn(context.Background(), &ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := &recordWriter{failAt: -1}
	err = turn.Relay(context.Background(), w)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	require.Len(t, w.records, 3)
	assert.Equal(t, "a", w.records[0].Content)
	assert.Equal(t, "b", w.records[1].Content)
	last := w.records[2]
	assert.True(t, last.IsComplete)
	assert.True(t, last.Error)
	assert.Equal(t, "ab", *last.Message)
	assert.Equal(t, turn.Branch.ID, *last.BranchID)
	assert.Nil(t, last.MessageID)

	assertOnlyUserMessage(t, f)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues(metrics.OutcomeStreamError)))
}

// failingAssistantStore 保存助手消息时失败
type failingAssistantStore struct {
	*repository.MemoryStore
}

func (s *failingAssistantStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.Role == model.MessageRoleAssistant {
		return errors.New("disk full")
	}
	return s.MemoryStore.CreateMessage(ctx, msg)
}

func TestChatSaveFailureIsNotAProviderError(t *testing.T) {
	f := newFixture(t, "a", "b")
	chat := NewChatService(&failingAssistantStore{f.store}, NewReadCache(nil, nil, 0, 0), f.provider, f.metrics, f.cfg)

	turn, err := chat.StartTurn(context.Background(), &ChatRequest{Message: "hi"})
	require.NoError(t, err)

	w := &recordWriter{failAt: -1}
	err = turn.Relay(context.Background(), w)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "disk full")

	require.Len(t, w.records, 3)
	last := w.records[2]
	assert.True(t, last.IsComplete)
	assert.True(t, last.Error)
	assert.Equal(t, "ab", *last.Message)

	assertOnlyUserMessage(t, f)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues(metrics.OutcomeSaveError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ProviderErrorsTotal.WithLabelValues(phaseStream)))
}

func TestChatClientDisconnect(t *testing.T) {
	t.Run("write fails", func(t *testing.T) {
		f := newFixture(t, "Hel", "lo, ", "world")
		turn, err := f.chat.StartTurn(context.Background(), &ChatRequest{Message: "hi"})
		require.NoError(t, err)

		err = turn.Relay(context.Background(), &recordWriter{failAt: 2})
		assert.ErrorIs(t, err, errClientGone)

		msgs, err := f.store.ListMessages(context.Background(), turn.Conversation.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Hello, ", msgs[1].Content)
		assert.True(t, msgs[1].Truncated)
		assert.Equal(t, turn.UserMessage.ID, *msgs[1].ParentID)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues(metrics.OutcomeTruncated)))
	})

	t.Run("context cancelled", func(t *testing.T) {
		f := newFixture(t, "Hel", "lo, ", "world")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		turn, err := f.chat.StartTurn(ctx, &ChatRequest{Message: "hi"})
		require.NoError(t, err)

		w := &recordWriter{failAt: -1, onWrite: func(n int) {
			if n == 1 {
				cancel()
			}
		}}
		err = turn.Relay(ctx, w)
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, w.records, 1)

		msgs, err := f.store.ListMessages(context.Background(), turn.Conversation.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "Hel", msgs[1].Content)
		assert.True(t, msgs[1].Truncated)
	})

	t.Run("nothing received", func(t *testing.T) {
		f := newFixture(t, "Hel")
		turn, err := f.chat.StartTurn(context.Background(), &ChatRequest{Message: "hi"})
		require.NoError(t, err)

		err = turn.Relay(context.Background(), &recordWriter{failAt: 0})
		assert.ErrorIs(t, err, errClientGone)
		assertOnlyUserMessage(t, f)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ChatTurnsTotal.WithLabelValues(metrics.OutcomeAborted)))
	})
}

func TestChatEmptyCompletion(t *testing.T) {
	f := newFixture(t)
	_, records := f.turn(t, &ChatRequest{Message: "hi"})

	require.Len(t, records, 1)
	assert.True(t, records[0].IsComplete)
	assert.Equal(t, "", *records[0].Message)
	assert.NotNil(t, records[0].MessageID)
}

func TestChatInvalidatesCachedMessages(t *testing.T) {
	f := newFixture(t, "ok")
	ctx := context.Background()

	first, _ := f.turn(t, &ChatRequest{Message: "hi"})
	convID := first.Conversation.ID

	before, err := f.conversations.Messages(ctx, convID, "")
	require.NoError(t, err)
	require.Len(t, before, 2)

	f.turn(t, &ChatRequest{Message: "again", ConversationID: strp(convID)})

	after, err := f.conversations.Messages(ctx, convID, "")
	require.NoError(t, err)
	assert.Len(t, after, 4)

	byBranch, err := f.conversations.Messages(ctx, convID, first.Branch.ID)
	require.NoError(t, err)
	assert.Len(t, byBranch, 4)
}
