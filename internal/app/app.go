// Package app 负责组装服务端的各个组件
// 配置 → 存储 → 缓存 → 大模型 → Service → 实时推送 → 路由
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"jensengpt/internal/cache"
	"jensengpt/internal/config"
	"jensengpt/internal/handler"
	"jensengpt/internal/metrics"
	"jensengpt/internal/middleware"
	"jensengpt/internal/provider"
	"jensengpt/internal/repository"
	"jensengpt/internal/service"
	"jensengpt/internal/websocket"
)

// 内存缓存的过期清理间隔
const cacheSweepInterval = time.Minute

// App 组装完成的服务端
type App struct {
	Config  *config.Config
	Router  *gin.Engine
	Store   repository.Store
	Cache   cache.Cache
	Metrics *metrics.Metrics
	Hub     *websocket.Hub

	provider provider.Provider
	sqlDB    *sql.DB
}

// Option 覆盖默认组件，测试用
type Option func(*App)

// WithProvider 使用指定的大模型服务
func WithProvider(p provider.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithStore 使用指定的存储，忽略 storage.driver
func WithStore(s repository.Store) Option {
	return func(a *App) { a.Store = s }
}

// WithCache 使用指定的缓存，忽略 cache.driver
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.Cache = c }
}

// New 按配置创建 App
// 返回的 App 已启动实时推送主循环，使用完需要调用 Close
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg}
	for _, opt := range opts {
		opt(a)
	}

	if a.Store == nil {
		if err := a.openStore(); err != nil {
			return nil, err
		}
	}
	if a.Cache == nil {
		if err := a.openCache(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.provider == nil {
		a.provider = provider.NewOpenAIProvider(cfg.Provider)
	}
	a.Metrics = metrics.New()

	a.Router = a.buildRouter()
	return a, nil
}

// openStore 按 storage.driver 初始化存储
func (a *App) openStore() error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory, "":
		a.Store = repository.NewMemoryStore(cfg.Storage.StrictReferences)
	case config.StorageDriverMySQL:
		db, err := repository.OpenMySQL(cfg)
		if err != nil {
			return err
		}
		if err := a.useGorm(db); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	log.WithField("driver", cfg.Storage.Driver).Info("storage ready")
	return nil
}

// useGorm 迁移表结构并使用 GormStore，迁移失败时关闭连接池
func (a *App) useGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		sqlDB.Close()
		return err
	}
	a.sqlDB = sqlDB
	a.Store = repository.NewGormStore(db, a.Config.Storage.StrictReferences)
	return nil
}

// openCache 按 cache.driver 初始化读缓存
func (a *App) openCache() error {
	cfg := a.Config
	switch cfg.Cache.Driver {
	case config.CacheDriverMemory, "":
		a.Cache = cache.NewMemoryCache(cacheSweepInterval)
	case config.CacheDriverRedis:
		rc, err := cache.NewRedisCache(cfg.Redis)
		if err != nil {
			return err
		}
		a.Cache = rc
	default:
		return fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
	log.WithField("driver", cfg.Cache.Driver).Info("cache ready")
	return nil
}

// buildRouter 创建 Service、Handler 并注册路由
func (a *App) buildRouter() *gin.Engine {
	cfg := a.Config
	reads := service.NewReadCache(a.Cache, a.Metrics, cfg.Cache.MessagesTTL, cfg.Cache.ListingTTL)

	// 初始化 Service 层
	conversations := service.NewConversationService(a.Store, reads)
	branches := service.NewBranchService(a.Store, reads)
	messages := service.NewMessageService(a.Store, reads)
	bookmarks := service.NewBookmarkService(a.Store, reads)
	thoughts := service.NewThoughtService(a.Store, reads)
	ideas := service.NewIdeaService(a.Store, reads)
	chat := service.NewChatService(a.Store, reads, a.provider, a.Metrics, cfg)

	// 初始化实时推送
	a.Hub = websocket.NewHub(a.Metrics)
	go a.Hub.Run()
	for _, svc := range []interface{ SetNotifier(service.EventNotifier) }{
		conversations, branches, messages, bookmarks, thoughts, ideas, chat,
	} {
		svc.SetNotifier(a.Hub)
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.Server.CORS)))
	router.Use(middleware.MetricsMiddleware(a.Metrics))

	// 健康检查与监控
	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	handler.RegisterRoutes(router, &handler.Handlers{
		Chat:          handler.NewChatHandler(chat),
		Conversations: handler.NewConversationHandler(conversations, bookmarks, thoughts, ideas),
		Branches:      handler.NewBranchHandler(branches),
		Messages:      handler.NewMessageHandler(messages),
		Bookmarks:     handler.NewBookmarkHandler(bookmarks),
		Notes:         handler.NewNotesHandler(thoughts, ideas),
	})
	websocket.NewHandler(a.Hub, conversations).RegisterRoutes(router)

	return router
}

// health 健康检查
// 外部依赖不可达时返回 503
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{
		"status":  "ok",
		"storage": a.Config.Storage.Driver,
		"cache":   a.Config.Cache.Driver,
	}
	code := http.StatusOK

	if a.sqlDB != nil {
		if err := a.sqlDB.PingContext(ctx); err != nil {
			log.WithError(err).Warn("database health check failed")
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if p, ok := a.Cache.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			log.WithError(err).Warn("cache health check failed")
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, status)
}

// Close 释放所有资源，可重复调用
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			log.WithError(err).Warn("failed to close cache")
		}
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			log.WithError(err).Warn("failed to close database")
		}
		a.sqlDB = nil
	}
}
