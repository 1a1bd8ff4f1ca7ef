package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jensengpt/internal/history"
	"jensengpt/internal/model"
)

// runStoreContract 对任意 Store 实现执行同一组行为测试
// newStore 每次返回一个空的、开启引用校验的存储
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ConversationWithDefaultBranch", func(t *testing.T) {
		testConversationWithDefaultBranch(t, newStore(t))
	})
	t.Run("ActiveBranchExclusive", func(t *testing.T) {
		testActiveBranchExclusive(t, newStore(t))
	})
	t.Run("ConcurrentActivation", func(t *testing.T) {
		testConcurrentActivation(t, newStore(t))
	})
	t.Run("EnsureActiveBranch", func(t *testing.T) {
		testEnsureActiveBranch(t, newStore(t))
	})
	t.Run("DeleteActiveBranch", func(t *testing.T) {
		testDeleteActiveBranch(t, newStore(t))
	})
	t.Run("MessagesAndChain", func(t *testing.T) {
		testMessagesAndChain(t, newStore(t))
	})
	t.Run("StrictReferences", func(t *testing.T) {
		testStrictReferences(t, newStore(t))
	})
	t.Run("DeleteConversationCascades", func(t *testing.T) {
		testDeleteConversationCascades(t, newStore(t))
	})
	t.Run("ReasoningSteps", func(t *testing.T) {
		testReasoningSteps(t, newStore(t))
	})
	t.Run("ThoughtsAndIdeas", func(t *testing.T) {
		testThoughtsAndIdeas(t, newStore(t))
	})
	t.Run("NotFound", func(t *testing.T) {
		testNotFound(t, newStore(t))
	})
}

func newConversation(t *testing.T, s Store, title string) (*model.Conversation, *model.Branch) {
	t.Helper()
	conv := &model.Conversation{Title: title}
	branch, err := s.CreateConversationWithBranch(context.Background(), conv, model.DefaultBranchName)
	require.NoError(t, err)
	return conv, branch
}

func addMessage(t *testing.T, s Store, convID string, branchID *string, parentID *int64, role, content string) *model.Message {
	t.Helper()
	msg := &model.Message{
		Role:           role,
		Content:        content,
		ConversationID: convID,
		BranchID:       branchID,
		ParentID:       parentID,
	}
	require.NoError(t, s.CreateMessage(context.Background(), msg))
	return msg
}

func activeCount(t *testing.T, s Store, convID string) int {
	t.Helper()
	branches, err := s.ListBranches(context.Background(), convID)
	require.NoError(t, err)
	count := 0
	for _, b := range branches {
		if b.Active() {
			count++
		}
	}
	return count
}

func testConversationWithDefaultBranch(t *testing.T, s Store) {
	ctx := context.Background()
	conv, branch := newConversation(t, s, "Hello")

	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, model.DefaultBranchName, branch.Name)
	assert.True(t, branch.Active())

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ActiveBranchID)
	assert.Equal(t, branch.ID, *got.ActiveBranchID)

	active, err := s.GetActiveBranch(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, branch.ID, active.ID)
}

func testActiveBranchExclusive(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Exclusive")

	activate := true
	second := &model.Branch{Name: "Second", ConversationID: conv.ID}
	require.NoError(t, s.CreateBranch(ctx, second, &activate))
	assert.True(t, second.Active())
	assert.Equal(t, 1, activeCount(t, s, conv.ID))

	// 不指定 activate 时，已有分支的会话不会切换
	third := &model.Branch{Name: "Third", ConversationID: conv.ID}
	require.NoError(t, s.CreateBranch(ctx, third, nil))
	assert.False(t, third.Active())

	// 重复激活结果相同
	for i := 0; i < 2; i++ {
		_, err := s.SetActiveBranch(ctx, main.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, activeCount(t, s, conv.ID))
	}
	active, err := s.GetActiveBranch(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, main.ID, active.ID)
}

func testConcurrentActivation(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Concurrent")

	ids := []string{main.ID}
	for i := 0; i < 4; i++ {
		b := &model.Branch{Name: "B", ConversationID: conv.ID}
		require.NoError(t, s.CreateBranch(ctx, b, nil))
		ids = append(ids, b.ID)
	}

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := s.SetActiveBranch(ctx, id)
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, activeCount(t, s, conv.ID))
}

func testEnsureActiveBranch(t *testing.T, s Store) {
	ctx := context.Background()
	conv := &model.Conversation{Title: "No branch"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	first, created, err := s.EnsureActiveBranch(ctx, conv.ID, model.DefaultBranchName)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Active())

	again, created, err := s.EnsureActiveBranch(ctx, conv.ID, model.DefaultBranchName)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func testDeleteActiveBranch(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Delete")

	other := &model.Branch{Name: "Other", ConversationID: conv.ID}
	require.NoError(t, s.CreateBranch(ctx, other, nil))

	deleted, err := s.DeleteBranch(ctx, main.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	active, err := s.GetActiveBranch(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, other.ID, active.ID)

	deleted, err = s.DeleteBranch(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	active, err = s.GetActiveBranch(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	deleted, err = s.DeleteBranch(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testMessagesAndChain(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Chain")

	a := addMessage(t, s, conv.ID, &main.ID, nil, model.MessageRoleUser, "A")
	b := addMessage(t, s, conv.ID, &main.ID, &a.ID, model.MessageRoleAssistant, "B")
	c := addMessage(t, s, conv.ID, &main.ID, &b.ID, model.MessageRoleUser, "C")
	assert.Less(t, a.ID, b.ID)
	assert.Less(t, b.ID, c.ID)

	fork := &model.Branch{Name: "Fork", ConversationID: conv.ID, RootMessageID: &b.ID}
	require.NoError(t, s.CreateBranch(ctx, fork, nil))
	d := addMessage(t, s, conv.ID, &fork.ID, &b.ID, model.MessageRoleUser, "D")

	all, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].Timestamp.Before(all[i-1].Timestamp))
	}
	require.NoError(t, history.ValidateChain(all))

	chain := history.BuildMessageChain(all, &d.ID)
	require.Len(t, chain, 3)
	assert.Equal(t, []string{"A", "B", "D"}, []string{chain[0].Content, chain[1].Content, chain[2].Content})

	// 分支消息只包含精确匹配分支标记的记录
	onFork, err := s.ListMessagesByBranch(ctx, conv.ID, fork.ID)
	require.NoError(t, err)
	require.Len(t, onFork, 1)
	assert.Equal(t, d.ID, onFork[0].ID)

	// 删除分支不删除消息
	_, err = s.DeleteBranch(ctx, fork.ID)
	require.NoError(t, err)
	got, err := s.GetMessage(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "D", got.Content)
}

func testStrictReferences(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Strict")
	other, _ := newConversation(t, s, "Other")
	foreign := addMessage(t, s, other.ID, nil, nil, model.MessageRoleUser, "foreign")

	err := s.CreateMessage(ctx, &model.Message{Role: model.MessageRoleUser, Content: "x", ConversationID: "missing"})
	assert.ErrorIs(t, err, ErrInvalidReference)

	ghost := "ghost"
	err = s.CreateMessage(ctx, &model.Message{Role: model.MessageRoleUser, Content: "x", ConversationID: conv.ID, BranchID: &ghost})
	assert.ErrorIs(t, err, ErrInvalidReference)

	// 父消息必须属于同一会话
	err = s.CreateMessage(ctx, &model.Message{Role: model.MessageRoleUser, Content: "x", ConversationID: conv.ID, BranchID: &main.ID, ParentID: &foreign.ID})
	var refErr *ReferenceError
	require.True(t, errors.As(err, &refErr))
	assert.Equal(t, "parentId", refErr.Field)

	err = s.CreateBookmark(ctx, &model.Bookmark{Name: "bm", ConversationID: conv.ID, MessageID: 424242})
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func testDeleteConversationCascades(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Cascade")
	msg := addMessage(t, s, conv.ID, &main.ID, nil, model.MessageRoleUser, "hi")

	bookmark := &model.Bookmark{Name: "bm", ConversationID: conv.ID, MessageID: msg.ID, BranchID: &main.ID}
	require.NoError(t, s.CreateBookmark(ctx, bookmark))
	thought := &model.Thought{ConversationID: conv.ID, Content: "t"}
	require.NoError(t, s.CreateThought(ctx, thought))
	idea := &model.Idea{ConversationID: conv.ID, Title: "i"}
	require.NoError(t, s.CreateIdea(ctx, idea))

	deleted, err := s.DeleteConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	branches, err := s.ListBranches(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, branches)
	_, err = s.GetBookmark(ctx, bookmark.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetThought(ctx, thought.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetIdea(ctx, idea.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// 消息保留
	_, err = s.GetMessage(ctx, msg.ID)
	assert.NoError(t, err)

	deleted, err = s.DeleteConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testReasoningSteps(t *testing.T, s Store) {
	ctx := context.Background()
	conv, main := newConversation(t, s, "Reasoning")
	msg := addMessage(t, s, conv.ID, &main.ID, nil, model.MessageRoleAssistant, "answer")
	assert.False(t, msg.HasReasoningSteps)

	steps := []model.ReasoningStep{{Title: "1", Content: "first"}, {Title: "2", Content: "second"}}
	updated, err := s.UpdateMessageReasoningSteps(ctx, msg.ID, steps)
	require.NoError(t, err)
	assert.True(t, updated.HasReasoningSteps)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, steps, got.ReasoningSteps)
	assert.Equal(t, "answer", got.Content)

	cleared, err := s.UpdateMessageReasoningSteps(ctx, msg.ID, nil)
	require.NoError(t, err)
	assert.False(t, cleared.HasReasoningSteps)
}

func testThoughtsAndIdeas(t *testing.T, s Store) {
	ctx := context.Background()
	conv, _ := newConversation(t, s, "Thoughts")

	t1 := &model.Thought{ConversationID: conv.ID, Content: "one", Tags: []string{"go"}}
	require.NoError(t, s.CreateThought(ctx, t1))
	t2 := &model.Thought{ConversationID: conv.ID, Content: "two", Tags: []string{"go", "db"}}
	require.NoError(t, s.CreateThought(ctx, t2))
	t3 := &model.Thought{ConversationID: conv.ID, Content: "three", RelatedThoughtIDs: []int64{t1.ID}}
	require.NoError(t, s.CreateThought(ctx, t3))

	related, err := s.RelatedThoughts(ctx, t1.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, t2.ID, related[0].ID)

	related, err = s.RelatedThoughts(ctx, t3.ID)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, t1.ID, related[0].ID)

	content := "one, revised"
	updated, err := s.UpdateThought(ctx, t1.ID, &ThoughtUpdate{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, content, updated.Content)
	assert.Equal(t, []string{"go"}, updated.Tags)

	_, err = s.UpdateThought(ctx, t1.ID, &ThoughtUpdate{RelatedThoughtIDs: []int64{9999}})
	assert.ErrorIs(t, err, ErrInvalidReference)

	idea := &model.Idea{ConversationID: conv.ID, ThoughtID: &t2.ID, Title: "Idea"}
	require.NoError(t, s.CreateIdea(ctx, idea))
	assert.Equal(t, model.IdeaStatusDraft, idea.Status)

	status := model.IdeaStatusDone
	gotIdea, err := s.UpdateIdea(ctx, idea.ID, &IdeaUpdate{Status: &status, Feedback: []byte(`{"score":5}`)})
	require.NoError(t, err)
	assert.Equal(t, model.IdeaStatusDone, gotIdea.Status)
	assert.JSONEq(t, `{"score":5}`, string(gotIdea.Feedback))

	ideas, err := s.ListIdeas(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, ideas, 1)

	deleted, err := s.DeleteThought(ctx, t3.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	thoughts, err := s.ListThoughts(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, thoughts, 2)
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetBranch(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetActiveBranch(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMessage(ctx, 123456)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateConversationTitle(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	_, err = s.GetBookmark(ctx, 77)
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, EntityBookmark, nf.Entity)
}
