package provider

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// 每条消息在 chat 格式中的固定开销（角色、分隔符）
const messageOverhead = 4

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for the given text.
// Falls back to a rune based estimate when the codec is unavailable.
func EstimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return len([]rune(text))/4 + 1
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return len([]rune(text))/4 + 1
	}
	return len(ids)
}

// EstimateMessageTokens 估算一条上下文消息的 token 数
func EstimateMessageTokens(m Message) int {
	return EstimateTokens(m.Content) + messageOverhead
}

// TrimToBudget 从最旧的消息开始丢弃，直到总 token 数不超过 budget
// budget <= 0 表示不限制；至少保留最后一条消息
func TrimToBudget(messages []Message, budget int) ([]Message, int) {
	total := 0
	counts := make([]int, len(messages))
	for i, m := range messages {
		counts[i] = EstimateMessageTokens(m)
		total += counts[i]
	}
	if budget <= 0 {
		return messages, total
	}

	start := 0
	for total > budget && start < len(messages)-1 {
		total -= counts[start]
		start++
	}
	return messages[start:], total
}
