// Package config 负责加载和管理应用程序的配置
// 使用 viper 库支持 YAML 配置文件和环境变量覆盖
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 存储与缓存后端
const (
	StorageDriverMemory = "memory" // 进程内存储（默认，重启即丢失）
	StorageDriverMySQL  = "mysql"  // MySQL 持久化存储

	CacheDriverMemory = "memory" // 进程内 TTL 缓存（默认）
	CacheDriverRedis  = "redis"  // Redis 缓存
)

// Config 是应用程序的根配置结构
// 包含所有子配置模块
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`   // 服务器配置
	Storage  StorageConfig  `mapstructure:"storage"`  // 存储配置
	MySQL    MySQLConfig    `mapstructure:"mysql"`    // MySQL 配置
	Cache    CacheConfig    `mapstructure:"cache"`    // 缓存配置
	Redis    RedisConfig    `mapstructure:"redis"`    // Redis 配置
	Provider ProviderConfig `mapstructure:"provider"` // 大模型服务配置
	Chat     ChatConfig     `mapstructure:"chat"`     // 对话策略配置
	Log      LogConfig      `mapstructure:"log"`      // 日志配置
}

// ServerConfig 服务器相关配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`          // 监听端口，默认 8080
	Mode         string        `mapstructure:"mode"`          // 运行模式: debug / release
	CORS         []string      `mapstructure:"cors"`          // CORS 允许的域名
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写超时，流式响应需要足够长
}

// StorageConfig 实体存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory / mysql

	// StrictReferences 写入时校验外键引用（会话、分支、父消息必须存在）
	// 关闭后允许悬空引用
	StrictReferences bool `mapstructure:"strict_references"`
}

// MySQLConfig MySQL 数据库连接配置
type MySQLConfig struct {
	Host         string `mapstructure:"host"`           // 数据库主机地址
	Port         int    `mapstructure:"port"`           // 数据库端口
	Username     string `mapstructure:"username"`       // 数据库用户名
	Password     string `mapstructure:"password"`       // 数据库密码
	Database     string `mapstructure:"database"`       // 数据库名称
	Charset      string `mapstructure:"charset"`        // 字符集
	MaxIdleConns int    `mapstructure:"max_idle_conns"` // 最大空闲连接数
	MaxOpenConns int    `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxLifetime  int    `mapstructure:"max_lifetime"`   // 连接最大生命周期（秒）
}

// CacheConfig 读接口缓存配置
// 两个 TTL 池：消息列表变化快，会话/分支列表相对稳定
type CacheConfig struct {
	Driver      string        `mapstructure:"driver"`       // memory / redis
	MessagesTTL time.Duration `mapstructure:"messages_ttl"` // 消息列表缓存时间
	ListingTTL  time.Duration `mapstructure:"listing_ttl"`  // 会话、分支列表缓存时间
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `mapstructure:"host"`      // Redis 主机地址
	Port     int    `mapstructure:"port"`      // Redis 端口
	Username string `mapstructure:"username"`  // Redis 用户名（阿里云需要）
	Password string `mapstructure:"password"`  // Redis 密码
	DB       int    `mapstructure:"db"`        // 数据库索引 (0-15)
	PoolSize int    `mapstructure:"pool_size"` // 连接池大小
	Prefix   string `mapstructure:"prefix"`    // Key 前缀，多个服务共用实例时区分
}

// ProviderConfig OpenAI 兼容的大模型服务配置
// 采样参数是服务端策略，请求方不能逐次覆盖
type ProviderConfig struct {
	BaseURL      string        `mapstructure:"base_url"`      // API 地址
	APIKey       string        `mapstructure:"api_key"`       // API Key
	DefaultModel string        `mapstructure:"default_model"` // 未指定 modelId 时使用的模型
	Temperature  float64       `mapstructure:"temperature"`   // 采样温度
	TopP         float64       `mapstructure:"top_p"`         // nucleus 采样
	MaxTokens    int64         `mapstructure:"max_tokens"`    // 单次回复最大 token 数
	Timeout      time.Duration `mapstructure:"timeout"`       // 建连和等待响应头的超时，不限制流式正文
}

// ChatConfig 对话上下文策略
type ChatConfig struct {
	ContextMessages  int `mapstructure:"context_messages"`   // 上下文中保留的历史消息条数
	MaxContextTokens int `mapstructure:"max_context_tokens"` // 历史消息 token 上限，0 表示不限制
	TitleLength      int `mapstructure:"title_length"`       // 自动生成标题截取的字符数
	BranchNameLength int `mapstructure:"branch_name_length"` // 分叉分支名称截取的字符数

	SystemPrompt          string `mapstructure:"system_prompt"`           // 默认系统提示词
	ReasoningSystemPrompt string `mapstructure:"reasoning_system_prompt"` // 推理模式系统提示词
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug/info/warn/error
	Format string `mapstructure:"format"` // 日志格式: json/text
}

// Load 从指定路径加载配置文件
// 支持环境变量覆盖配置项
// 参数:
//   - configPath: 配置文件目录路径 (如 "./configs")
//
// 返回:
//   - *Config: 配置对象
//   - error: 如果加载失败则返回错误
func Load(configPath string) (*Config, error) {
	// 创建新的 viper 实例
	v := viper.New()

	// 设置配置文件
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// 启用环境变量
	v.AutomaticEnv()
	// 将环境变量中的 _ 映射到配置的 .
	// 例如: MYSQL_HOST -> mysql.host
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 绑定环境变量
	bindEnvVariables(v)

	// 设置默认值（当配置文件中未指定时使用）
	setDefaults(v)

	// 读取配置文件（如果不存在则使用默认值和环境变量）
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在，继续使用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// 将配置解析到结构体
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回只包含默认值的配置
// 测试和嵌入式场景使用，不读取文件和环境变量
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// 默认值都是合法类型，这里不会失败
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// bindEnvVariables 绑定环境变量到配置项
func bindEnvVariables(v *viper.Viper) {
	// 服务器配置
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.mode", "SERVER_MODE")

	// 存储配置
	v.BindEnv("storage.driver", "STORAGE_DRIVER")

	// MySQL 配置
	v.BindEnv("mysql.host", "MYSQL_HOST")
	v.BindEnv("mysql.port", "MYSQL_PORT")
	v.BindEnv("mysql.username", "MYSQL_USERNAME")
	v.BindEnv("mysql.password", "MYSQL_PASSWORD")
	v.BindEnv("mysql.database", "MYSQL_DATABASE")

	// 缓存配置
	v.BindEnv("cache.driver", "CACHE_DRIVER")

	// Redis 配置
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.username", "REDIS_USERNAME")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// 大模型服务配置，兼容 OpenAI 官方环境变量
	v.BindEnv("provider.base_url", "PROVIDER_BASE_URL", "OPENAI_BASE_URL")
	v.BindEnv("provider.api_key", "PROVIDER_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("provider.default_model", "PROVIDER_DEFAULT_MODEL")

	// 日志配置
	v.BindEnv("log.level", "LOG_LEVEL")
}

// setDefaults 设置配置项的默认值
// 当配置文件中没有指定某个值时，将使用这里设置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "5m")

	// 存储默认配置
	v.SetDefault("storage.driver", StorageDriverMemory)
	v.SetDefault("storage.strict_references", true)

	// MySQL 默认配置
	v.SetDefault("mysql.host", "localhost")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.database", "jensengpt")
	v.SetDefault("mysql.charset", "utf8mb4")
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.max_open_conns", 100)
	v.SetDefault("mysql.max_lifetime", 3600)

	// 缓存默认配置
	v.SetDefault("cache.driver", CacheDriverMemory)
	v.SetDefault("cache.messages_ttl", "10s")
	v.SetDefault("cache.listing_ttl", "30s")

	// Redis 默认配置
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.prefix", "jensengpt:")

	// 大模型默认配置
	v.SetDefault("provider.base_url", "https://api.openai.com/v1/")
	v.SetDefault("provider.default_model", "gpt-4o-mini")
	v.SetDefault("provider.temperature", 0.7)
	v.SetDefault("provider.top_p", 0.9)
	v.SetDefault("provider.max_tokens", 2048)
	v.SetDefault("provider.timeout", "2m")

	// 对话默认配置
	v.SetDefault("chat.context_messages", 10)
	v.SetDefault("chat.max_context_tokens", 6000)
	v.SetDefault("chat.title_length", 30)
	v.SetDefault("chat.branch_name_length", 20)
	v.SetDefault("chat.system_prompt",
		"You are JensenGPT, a helpful and concise assistant. Answer clearly and use markdown when it helps.")
	v.SetDefault("chat.reasoning_system_prompt",
		"You are JensenGPT in reasoning mode. Think through the problem step by step, "+
			"show your reasoning as a numbered list, then give the final answer on its own line.")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
