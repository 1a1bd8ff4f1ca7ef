package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"jensengpt/internal/client"
)

// chatSession 一次 chat 命令的对话状态
// 第一条消息可能创建会话或分叉分支，之后的消息沿用返回的会话和分支
type chatSession struct {
	conversationID string
	branchID       string
	parentID       int64

	reasoning    bool
	systemPrompt string
	model        string
}

func newChatCommand(e *env) *cobra.Command {
	var (
		conversationID  string
		newConversation bool
		s               chatSession
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "发送消息，不带参数时进入交互模式",
		Long: `向 JensenGPT 发送消息并流式输出回复。

默认继续当前会话；使用 --new 开始新会话，使用 --parent 从某条消息分叉出新分支。
不带消息参数时进入交互模式，输入 /new 开始新会话，/exit 退出。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s.conversationID = conversationID
			if s.conversationID == "" && !newConversation {
				s.conversationID = e.settings.CurrentConversation()
			}
			if s.model == "" {
				s.model = e.settings.DefaultModel()
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				return e.send(cmd.Context(), out, &s, strings.Join(args, " "))
			}
			return e.interactive(cmd.Context(), cmd.InOrStdin(), out, &s)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&conversationID, "conversation", "c", "", "会话 ID (默认: 当前会话)")
	flags.BoolVarP(&newConversation, "new", "n", false, "开始新会话")
	flags.StringVarP(&s.branchID, "branch", "b", "", "在指定分支上继续")
	flags.Int64VarP(&s.parentID, "parent", "p", 0, "从指定消息分叉出新分支")
	flags.BoolVarP(&s.reasoning, "reasoning", "r", false, "推理模式")
	flags.StringVar(&s.systemPrompt, "system", "", "自定义系统提示词")
	flags.StringVarP(&s.model, "model", "m", "", "模型 ID")
	return cmd
}

// send 发送一条消息并输出回复
func (e *env) send(ctx context.Context, out io.Writer, s *chatSession, text string) error {
	req := &client.ChatRequest{
		Message:       text,
		ReasoningMode: s.reasoning,
	}
	if s.conversationID != "" {
		req.ConversationID = &s.conversationID
	}
	if s.branchID != "" && s.conversationID != "" {
		req.BranchID = &s.branchID
	}
	if s.parentID > 0 && s.conversationID != "" {
		req.ParentMessageID = &s.parentID
	}
	if s.systemPrompt != "" {
		req.SystemPrompt = &s.systemPrompt
	}
	if s.model != "" {
		req.ModelID = &s.model
	}

	final, err := e.api.Chat(ctx, req, func(r *client.StreamRecord) error {
		_, werr := io.WriteString(out, r.Content)
		return werr
	})
	fmt.Fprintln(out)

	if final != nil {
		// 之后的消息沿用服务端确定的会话和分支
		s.conversationID = final.ConversationID
		if final.BranchID != nil {
			s.branchID = *final.BranchID
		}
		s.parentID = 0
		if saveErr := e.settings.SaveCurrentConversation(final.ConversationID); saveErr != nil {
			fmt.Fprintf(out, "⚠️  保存当前会话失败: %v\n", saveErr)
		}
	}
	if errors.Is(err, client.ErrStreamFailed) {
		return fmt.Errorf("✗ 回复生成中断，已输出的内容未保存")
	}
	return err
}

// interactive 交互模式，逐行读取输入
func (e *env) interactive(ctx context.Context, in io.Reader, out io.Writer, s *chatSession) error {
	fmt.Fprintf(out, "JensenGPT (%s)\n", e.api.BaseURL())
	fmt.Fprintln(out, "输入 /new 开始新会话，/exit 退出")
	fmt.Fprintln(out)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			s.conversationID, s.branchID, s.parentID = "", "", 0
			fmt.Fprintln(out, "✓ 已开始新会话")
			continue
		}

		if err := e.send(ctx, out, s, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, err)
		}
	}
}
