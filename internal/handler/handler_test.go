package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jensengpt/internal/cache"
	"jensengpt/internal/config"
	"jensengpt/internal/metrics"
	"jensengpt/internal/provider"
	"jensengpt/internal/repository"
	"jensengpt/internal/service"
	"jensengpt/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router   *gin.Engine
	provider *provider.Scripted
}

func newTestServer(t *testing.T, chunks ...string) *testServer {
	t.Helper()

	cfg := config.Default()
	store := repository.NewMemoryStore(true)
	memCache := cache.NewMemoryCache(0)
	t.Cleanup(func() { memCache.Close() })
	m := metrics.New()
	p := provider.NewScripted(chunks...)

	reads := service.NewReadCache(memCache, m, cfg.Cache.MessagesTTL, cfg.Cache.ListingTTL)
	bookmarks := service.NewBookmarkService(store, reads)
	thoughts := service.NewThoughtService(store, reads)
	ideas := service.NewIdeaService(store, reads)

	router := gin.New()
	RegisterRoutes(router, &Handlers{
		Chat:          NewChatHandler(service.NewChatService(store, reads, p, m, cfg)),
		Conversations: NewConversationHandler(service.NewConversationService(store, reads), bookmarks, thoughts, ideas),
		Branches:      NewBranchHandler(service.NewBranchService(store, reads)),
		Messages:      NewMessageHandler(service.NewMessageService(store, reads)),
		Bookmarks:     NewBookmarkHandler(bookmarks),
		Notes:         NewNotesHandler(thoughts, ideas),
	})
	return &testServer{router: router, provider: p}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// call 发送请求并解析统一响应，data 解码到 out
func (s *testServer) call(t *testing.T, method, path, body string, wantStatus int, out interface{}) envelope {
	t.Helper()
	rec := s.do(t, method, path, body)
	require.Equal(t, wantStatus, rec.Code, rec.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func readRecords(t *testing.T, body *bytes.Buffer) []service.StreamRecord {
	t.Helper()
	var records []service.StreamRecord
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		var rec service.StreamRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestChatEndpointStreamsNDJSON(t *testing.T) {
	s := newTestServer(t, "Hel", "lo, ", "world")

	rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))

	records := readRecords(t, rec.Body)
	require.Len(t, records, 4)

	var text strings.Builder
	for _, r := range records[:3] {
		assert.False(t, r.IsComplete)
		text.WriteString(r.Content)
	}
	assert.Equal(t, "Hello, world", text.String())

	final := records[3]
	assert.True(t, final.IsComplete)
	assert.Equal(t, "Hello, world", *final.Message)
	require.NotNil(t, final.MessageID)
	require.NotNil(t, final.UserMessageID)

	// 用最终记录里的 ID 继续同一会话
	var msgs []map[string]interface{}
	s.call(t, http.MethodGet, "/api/conversations/"+final.ConversationID+"/messages", "", http.StatusOK, &msgs)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1]["role"])

	body := `{"message":"again","conversationId":"` + final.ConversationID + `"}`
	rec = s.do(t, http.MethodPost, "/api/chat", body)
	require.Equal(t, http.StatusOK, rec.Code)
	again := readRecords(t, rec.Body)
	assert.Equal(t, final.ConversationID, again[len(again)-1].ConversationID)
	assert.Equal(t, *final.BranchID, *again[len(again)-1].BranchID)
}

func TestChatEndpointErrors(t *testing.T) {
	s := newTestServer(t, "ok")

	env := s.call(t, http.MethodPost, "/api/chat", `{"message":"  "}`, http.StatusBadRequest, nil)
	assert.Equal(t, response.CodeBadRequest, env.Code)

	env = s.call(t, http.MethodPost, "/api/chat", `{"message":"hi","parentMessageId":1}`, http.StatusBadRequest, nil)
	assert.Equal(t, response.CodeBadRequest, env.Code)

	env = s.call(t, http.MethodPost, "/api/chat", `{"message":"hi","conversationId":"missing"}`, http.StatusNotFound, nil)
	assert.Equal(t, response.CodeConversationNotFound, env.Code)

	env = s.call(t, http.MethodPost, "/api/chat", `{not json`, http.StatusBadRequest, nil)
	assert.Equal(t, response.CodeBadRequest, env.Code)

	s.provider.OpenErr = errors.New("dial tcp: connection refused")
	env = s.call(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, http.StatusBadGateway, nil)
	assert.Equal(t, response.CodeProviderUnavailable, env.Code)
	assert.NotContains(t, env.Message, "dial tcp")
}

func TestChatEndpointMidStreamFailure(t *testing.T) {
	s := newTestServer(t, "par", "tial", "never")
	s.provider.FailAfter = 2
	s.provider.StreamErr = errors.New("reset by peer")

	rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	records := readRecords(t, rec.Body)
	require.Len(t, records, 3)
	last := records[2]
	assert.True(t, last.IsComplete)
	assert.True(t, last.Error)
	assert.Equal(t, "partial", *last.Message)
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t)

	var conv struct {
		ID             string  `json:"id"`
		Title          string  `json:"title"`
		ActiveBranchID *string `json:"activeBranchId"`
		LearningMode   bool    `json:"learningModeEnabled"`
	}
	s.call(t, http.MethodPost, "/api/conversations", `{"title":"Notes"}`, http.StatusCreated, &conv)
	assert.Equal(t, "Notes", conv.Title)
	require.NotNil(t, conv.ActiveBranchID)

	s.call(t, http.MethodPost, "/api/conversations", "", http.StatusCreated, nil)

	var list []map[string]interface{}
	s.call(t, http.MethodGet, "/api/conversations", "", http.StatusOK, &list)
	assert.Len(t, list, 2)

	s.call(t, http.MethodPatch, "/api/conversations/"+conv.ID+"/title", `{"title":"Renamed"}`, http.StatusOK, &conv)
	assert.Equal(t, "Renamed", conv.Title)

	s.call(t, http.MethodPatch, "/api/conversations/"+conv.ID+"/learning-mode", `{"enabled":true}`, http.StatusOK, &conv)
	assert.True(t, conv.LearningMode)
	s.call(t, http.MethodPatch, "/api/conversations/"+conv.ID+"/learning-mode", `{}`, http.StatusBadRequest, nil)

	var active struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsActive int    `json:"isActive"`
	}
	s.call(t, http.MethodGet, "/api/conversations/"+conv.ID+"/branches/active", "", http.StatusOK, &active)
	assert.Equal(t, *conv.ActiveBranchID, active.ID)
	assert.Equal(t, 1, active.IsActive)

	var msgs []interface{}
	s.call(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "", http.StatusOK, &msgs)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)

	s.call(t, http.MethodDelete, "/api/conversations/"+conv.ID, "", http.StatusOK, nil)
	env := s.call(t, http.MethodGet, "/api/conversations/"+conv.ID, "", http.StatusNotFound, nil)
	assert.Equal(t, response.CodeConversationNotFound, env.Code)
	env = s.call(t, http.MethodDelete, "/api/conversations/"+conv.ID, "", http.StatusNotFound, nil)
	assert.Equal(t, response.CodeConversationNotFound, env.Code)
}

func TestBranchEndpoints(t *testing.T) {
	s := newTestServer(t)

	var conv struct {
		ID             string `json:"id"`
		ActiveBranchID string `json:"activeBranchId"`
	}
	s.call(t, http.MethodPost, "/api/conversations", `{}`, http.StatusCreated, &conv)

	type branch struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		IsActive int    `json:"isActive"`
	}
	var side branch
	s.call(t, http.MethodPost, "/api/branches",
		`{"name":"side","conversationId":"`+conv.ID+`","isActive":1}`, http.StatusCreated, &side)
	assert.Equal(t, 1, side.IsActive)

	var branches []branch
	s.call(t, http.MethodGet, "/api/conversations/"+conv.ID+"/branches", "", http.StatusOK, &branches)
	require.Len(t, branches, 2)
	active := 0
	for _, b := range branches {
		active += b.IsActive
	}
	assert.Equal(t, 1, active)

	var activated branch
	s.call(t, http.MethodPost, "/api/branches/"+conv.ActiveBranchID+"/active", "", http.StatusOK, &activated)
	assert.Equal(t, 1, activated.IsActive)

	var renamed branch
	s.call(t, http.MethodPatch, "/api/branches/"+side.ID+"/name", `{"name":"renamed"}`, http.StatusOK, &renamed)
	assert.Equal(t, "renamed", renamed.Name)

	s.call(t, http.MethodDelete, "/api/branches/"+side.ID, "", http.StatusOK, nil)

	env := s.call(t, http.MethodPost, "/api/branches/missing/active", "", http.StatusNotFound, nil)
	assert.Equal(t, response.CodeBranchNotFound, env.Code)

	env = s.call(t, http.MethodPost, "/api/branches", `{"name":"x","conversationId":"missing"}`, http.StatusNotFound, nil)
	assert.Equal(t, response.CodeInvalidReference, env.Code)
}

func TestNotesEndpoints(t *testing.T) {
	s := newTestServer(t)

	var conv struct {
		ID string `json:"id"`
	}
	s.call(t, http.MethodPost, "/api/conversations", `{}`, http.StatusCreated, &conv)

	var thought struct {
		ID         int64           `json:"id"`
		Tags       []string        `json:"tags"`
		Extensions json.RawMessage `json:"extensions"`
	}
	s.call(t, http.MethodPost, "/api/thoughts",
		`{"conversationId":"`+conv.ID+`","content":"idea","tags":["a"],"extensions":{"nested":{"x":[1,2]}}}`,
		http.StatusCreated, &thought)
	assert.JSONEq(t, `{"nested":{"x":[1,2]}}`, string(thought.Extensions))

	var listed []map[string]interface{}
	s.call(t, http.MethodGet, "/api/conversations/"+conv.ID+"/thoughts", "", http.StatusOK, &listed)
	assert.Len(t, listed, 1)
	s.call(t, http.MethodGet, "/api/thoughts?conversationId="+conv.ID, "", http.StatusOK, &listed)
	assert.Len(t, listed, 1)
	s.call(t, http.MethodGet, "/api/thoughts", "", http.StatusBadRequest, nil)

	var idea struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	s.call(t, http.MethodPost, "/api/ideas", `{"conversationId":"`+conv.ID+`","title":"t"}`, http.StatusCreated, &idea)
	assert.Equal(t, "draft", idea.Status)
	s.call(t, http.MethodPatch, "/api/ideas/"+jsonID(idea.ID), `{"status":"active"}`, http.StatusOK, &idea)
	assert.Equal(t, "active", idea.Status)
	s.call(t, http.MethodPatch, "/api/ideas/"+jsonID(idea.ID), `{"status":"nope"}`, http.StatusBadRequest, nil)

	env := s.call(t, http.MethodGet, "/api/thoughts/999", "", http.StatusNotFound, nil)
	assert.Equal(t, response.CodeThoughtNotFound, env.Code)
	s.call(t, http.MethodGet, "/api/thoughts/abc", "", http.StatusBadRequest, nil)
	s.call(t, http.MethodDelete, "/api/thoughts/"+jsonID(thought.ID), "", http.StatusOK, nil)
}

func TestMessageAndBookmarkEndpoints(t *testing.T) {
	s := newTestServer(t, "answer")

	rec := s.do(t, http.MethodPost, "/api/chat", `{"message":"question"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	records := readRecords(t, rec.Body)
	final := records[len(records)-1]
	assistantID := jsonID(*final.MessageID)

	var chain []struct {
		ID   int64  `json:"id"`
		Role string `json:"role"`
	}
	s.call(t, http.MethodGet, "/api/messages/"+assistantID+"/chain", "", http.StatusOK, &chain)
	require.Len(t, chain, 2)
	assert.Equal(t, "user", chain[0].Role)

	var msg struct {
		HasReasoningSteps bool `json:"hasReasoningSteps"`
	}
	s.call(t, http.MethodPatch, "/api/messages/"+assistantID+"/reasoning-steps",
		`{"steps":[{"title":"one","content":"first"}]}`, http.StatusOK, &msg)
	assert.True(t, msg.HasReasoningSteps)

	s.call(t, http.MethodPost, "/api/messages/"+assistantID+"/explanations", `{"content":"why"}`, http.StatusCreated, nil)
	var explanations []interface{}
	s.call(t, http.MethodGet, "/api/messages/"+assistantID+"/explanations", "", http.StatusOK, &explanations)
	assert.Len(t, explanations, 1)

	var bookmark struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	s.call(t, http.MethodPost, "/api/bookmarks",
		`{"name":"keep","conversationId":"`+final.ConversationID+`","messageId":`+assistantID+`}`,
		http.StatusCreated, &bookmark)
	s.call(t, http.MethodPatch, "/api/bookmarks/"+jsonID(bookmark.ID), `{"name":"kept"}`, http.StatusOK, &bookmark)
	assert.Equal(t, "kept", bookmark.Name)

	var bookmarks []interface{}
	s.call(t, http.MethodGet, "/api/conversations/"+final.ConversationID+"/bookmarks", "", http.StatusOK, &bookmarks)
	assert.Len(t, bookmarks, 1)

	s.call(t, http.MethodDelete, "/api/bookmarks/"+jsonID(bookmark.ID), "", http.StatusOK, nil)
	env := s.call(t, http.MethodGet, "/api/bookmarks/"+jsonID(bookmark.ID), "", http.StatusNotFound, nil)
	assert.Equal(t, response.CodeBookmarkNotFound, env.Code)

	env = s.call(t, http.MethodPost, "/api/bookmarks",
		`{"name":"x","conversationId":"`+final.ConversationID+`","messageId":999}`, http.StatusNotFound, nil)
	assert.Equal(t, response.CodeInvalidReference, env.Code)
}

func TestChatEndpointClientGone(t *testing.T) {
	s := newTestServer(t, "a", "b")

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req.WithContext(ctx))

	// 客户端在第一个增量之前断开，不写出任何内容
	assert.Empty(t, rec.Body.String())
}

func jsonID(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}
