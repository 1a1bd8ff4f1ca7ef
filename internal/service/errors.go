// Package service 提供业务逻辑层的实现
// 负责校验请求、编排存储读写、失效缓存并发布实时事件
package service

import (
	"errors"
	"fmt"
)

// 业务层错误
// 数据访问层的 ErrNotFound / ErrInvalidReference 原样向上传递
var (
	ErrInvalidRequest      = errors.New("请求参数错误")
	ErrProviderUnavailable = errors.New("大模型服务不可用")
)

// invalid 构造带说明的参数错误
func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
