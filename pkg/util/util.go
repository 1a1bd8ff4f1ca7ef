// Package util 提供通用工具函数
package util

import (
	"unicode/utf8"
)

// TruncateRunes 按字符（而非字节）截断字符串
// 不追加省略号，用于从首条消息生成会话标题
// 参数:
//   - s: 原字符串
//   - maxRunes: 最大字符数，<= 0 表示不截断
//
// 返回:
//   - string: 截断后的字符串
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}

// StringPtr 返回字符串的指针
// 用于可选字段的赋值
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr 返回 int64 的指针
func Int64Ptr(i int64) *int64 {
	return &i
}
