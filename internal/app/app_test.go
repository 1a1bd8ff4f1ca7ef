package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jensengpt/internal/config"
	"jensengpt/internal/provider"
	"jensengpt/internal/service"
	"jensengpt/internal/websocket"
)

func newTestApp(t *testing.T, chunks ...string) (*App, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, err := New(config.Default(), WithProvider(provider.NewScripted(chunks...)))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	srv := httptest.NewServer(a.Router)
	t.Cleanup(srv.Close)
	return a, srv
}

func TestHealth(t *testing.T) {
	_, srv := newTestApp(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, config.StorageDriverMemory, body["storage"])
}

func TestUnknownDrivers(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "cassandra"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Cache.Driver = "memcached"
	_, err = New(cfg)
	assert.Error(t, err)
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestUseGorm(t *testing.T) {
	db := openSQLite(t)
	a := &App{Config: config.Default()}
	require.NoError(t, a.useGorm(db))
	t.Cleanup(a.Close)

	require.NotNil(t, a.Store)
	require.NotNil(t, a.sqlDB)
	assert.NoError(t, a.sqlDB.Ping())
}

func TestUseGormClosesPoolWhenMigrationFails(t *testing.T) {
	db := openSQLite(t)
	// 同名视图让建表失败
	require.NoError(t, db.Exec("CREATE VIEW conversations AS SELECT 1 AS id").Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	a := &App{Config: config.Default()}
	require.Error(t, a.useGorm(db))
	assert.Nil(t, a.Store)
	assert.Nil(t, a.sqlDB)
	assert.Error(t, sqlDB.Ping())
}

func TestChatEndToEnd(t *testing.T) {
	a, srv := newTestApp(t, "Hello", " there")

	// 创建会话
	resp, err := http.Post(srv.URL+"/api/conversations", "application/json", strings.NewReader(`{"title":"Demo"}`))
	require.NoError(t, err)
	var created struct {
		Code int `json:"code"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, 0, created.Code)
	convID := created.Data.ID
	require.NotEmpty(t, convID)

	// 订阅实时事件
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/" + convID
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello websocket.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, websocket.TypeConnected, hello.Type)

	// 等待注册完成后再发起对话，避免漏掉事件
	require.Eventually(t, func() bool { return a.Hub.ClientCount(convID) == 1 }, 2*time.Second, 10*time.Millisecond)

	body := `{"message":"Hi","conversationId":"` + convID + `"}`
	resp, err = http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	var final service.StreamRecord
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &final))
	assert.True(t, final.IsComplete)
	require.NotNil(t, final.Message)
	assert.Equal(t, "Hello there", *final.Message)
	assert.Equal(t, convID, final.ConversationID)

	// 用户消息和助手消息各推送一次
	messageEvents := 0
	for messageEvents < 2 {
		var event websocket.Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&event))
		if event.Type == service.EventMessageCreated {
			messageEvents++
		}
	}

	// 指标已记录
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metricsText, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metricsText), `jensengpt_chat_turns_total{outcome="completed"} 1`)
}
