package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// 默认服务端地址
const defaultServerURL = "http://localhost:8080"

// Settings CLI 本地配置，保存在 <dir>/config.yaml
type Settings struct {
	v    *viper.Viper
	path string

	serverOverride string // --server 参数
}

// DefaultConfigDir 返回默认配置目录 ~/.jensengpt
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("获取用户目录失败: %w", err)
	}
	return filepath.Join(home, ".jensengpt"), nil
}

// LoadSettings 读取配置目录下的 config.yaml，不存在时使用默认值
// JENSENGPT_SERVER 环境变量可以覆盖服务端地址
func LoadSettings(dir string) (*Settings, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建配置目录失败: %w", err)
	}

	s := &Settings{v: viper.New(), path: filepath.Join(dir, "config.yaml")}
	s.v.SetConfigFile(s.path)
	s.v.SetConfigType("yaml")

	s.v.SetDefault("server.url", defaultServerURL)
	s.v.SetDefault("chat.conversation", "")
	s.v.SetDefault("chat.model", "")
	s.v.BindEnv("server.url", "JENSENGPT_SERVER")

	if _, err := os.Stat(s.path); err == nil {
		if err := s.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}
	return s, nil
}

// Path 配置文件路径
func (s *Settings) Path() string {
	return s.path
}

// ServerURL 服务端地址
func (s *Settings) ServerURL() string {
	if s.serverOverride != "" {
		return s.serverOverride
	}
	return s.v.GetString("server.url")
}

// SetServerURL 临时覆盖服务端地址，不写入文件
func (s *Settings) SetServerURL(url string) {
	s.serverOverride = url
}

// CurrentConversation 当前会话，chat/messages/branches 默认使用
func (s *Settings) CurrentConversation() string {
	return s.v.GetString("chat.conversation")
}

// DefaultModel 对话使用的模型，为空时由服务端决定
func (s *Settings) DefaultModel() string {
	return s.v.GetString("chat.model")
}

// SaveCurrentConversation 记录当前会话并写入文件
func (s *Settings) SaveCurrentConversation(id string) error {
	s.v.Set("chat.conversation", id)
	return s.v.WriteConfigAs(s.path)
}
