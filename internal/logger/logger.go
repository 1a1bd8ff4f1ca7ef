// Package logger 根据配置初始化全局 logrus 实例
package logger

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"jensengpt/internal/config"
)

// Setup 设置日志级别和格式
// 格式为 json 时输出结构化日志，其余情况使用带毫秒时间戳的文本格式
func Setup(cfg config.LogConfig) error {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(parsed)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.999Z07:00"})
	default:
		formatter := new(log.TextFormatter)
		formatter.TimestampFormat = "2006-01-02T15:04:05.999Z07:00"
		formatter.FullTimestamp = true
		log.SetFormatter(formatter)
	}

	log.Debug("debug logging enabled")
	return nil
}
