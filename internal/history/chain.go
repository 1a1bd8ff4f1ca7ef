// Package history 从扁平的消息集合中还原对话路径
// 消息通过 ParentID 组成一棵树，这里负责沿父指针回溯出一条线性链
package history

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"jensengpt/internal/model"
)

// 消息树校验错误
var (
	ErrCycle         = errors.New("消息父指针成环")
	ErrForwardParent = errors.New("父消息晚于子消息创建")
	ErrForeignParent = errors.New("父消息属于其他会话")
)

// BuildMessageChain 还原以 parentID 结尾的祖先链
// 返回顺序为根在前、parentID 对应的消息在最后
// parentID 为 nil 返回空链；链上某条消息缺失时返回已回溯到的部分，不报错
// 参数:
//   - messages: 会话的全部消息（顺序无要求）
//   - parentID: 回溯起点
//
// 返回:
//   - []model.Message: 祖先链
func BuildMessageChain(messages []model.Message, parentID *int64) []model.Message {
	if parentID == nil {
		return []model.Message{}
	}

	byID := make(map[int64]*model.Message, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
	}

	// 先逆序收集，再翻转
	// 步数以消息总数为上限，即使输入数据有环也能终止
	reversed := make([]model.Message, 0, 8)
	next := parentID
	for steps := 0; next != nil && steps < len(messages); steps++ {
		msg, ok := byID[*next]
		if !ok {
			break
		}
		reversed = append(reversed, *msg)
		next = msg.ParentID
	}

	chain := make([]model.Message, len(reversed))
	for i, msg := range reversed {
		chain[len(reversed)-1-i] = msg
	}
	return chain
}

// ValidateChain 校验消息集合满足树结构约束
// 每个父指针都必须指向同一会话中更早创建（ID 更小）的消息
func ValidateChain(messages []model.Message) error {
	byID := make(map[int64]*model.Message, len(messages))
	for i := range messages {
		byID[messages[i].ID] = &messages[i]
	}

	for _, msg := range messages {
		if msg.ParentID == nil {
			continue
		}
		parent, ok := byID[*msg.ParentID]
		if !ok {
			// 缺失的父消息按悬空引用处理，由存储层的外键校验负责
			continue
		}
		if parent.ConversationID != msg.ConversationID {
			return fmt.Errorf("消息 %d: %w", msg.ID, ErrForeignParent)
		}
		if parent.ID >= msg.ID {
			return fmt.Errorf("消息 %d -> %d: %w", msg.ID, parent.ID, ErrForwardParent)
		}
	}

	// 父指针严格递减时不可能成环，这里再做一次显式检测
	for _, msg := range messages {
		seen := make(map[int64]bool)
		cur := &msg
		for cur != nil && cur.ParentID != nil {
			if seen[cur.ID] {
				return fmt.Errorf("消息 %d: %w", msg.ID, ErrCycle)
			}
			seen[cur.ID] = true
			cur = byID[*cur.ParentID]
		}
	}
	return nil
}

// Tip 返回有序消息序列的最后一条，序列为空时返回 nil
func Tip(messages []model.Message) *model.Message {
	if len(messages) == 0 {
		return nil
	}
	tip := messages[len(messages)-1]
	return &tip
}

// BranchName 根据分叉点消息内容生成分支名称
// 取前 maxRunes 个字符，被截断时追加 "..."
func BranchName(content string, maxRunes int) string {
	name := strings.Join(strings.Fields(content), " ")
	if name == "" {
		return "Branch"
	}
	if maxRunes <= 0 || utf8.RuneCountInString(name) <= maxRunes {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
