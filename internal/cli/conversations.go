package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// 列表中消息内容的预览长度
const previewLength = 60

func newConversationsCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "列出会话",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := e.api.ListConversations(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "暂无会话")
				return nil
			}

			current := e.settings.CurrentConversation()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\t标题\t更新时间")
			for _, conv := range list {
				marker := ""
				if conv.ID == current {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, conv.ID, conv.Title, conv.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "new [title]",
			Short: "创建会话并设为当前会话",
			RunE: func(cmd *cobra.Command, args []string) error {
				conv, err := e.api.CreateConversation(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				if err := e.settings.SaveCurrentConversation(conv.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ 已创建会话 %s (%s)\n", conv.ID, conv.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "use <id>",
			Short: "切换当前会话",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				conv, err := e.api.GetConversation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := e.settings.SaveCurrentConversation(conv.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ 当前会话: %s (%s)\n", conv.ID, conv.Title)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "删除会话及其全部分支和消息",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := e.api.DeleteConversation(cmd.Context(), args[0]); err != nil {
					return err
				}
				if e.settings.CurrentConversation() == args[0] {
					if err := e.settings.SaveCurrentConversation(""); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ 已删除会话 %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newMessagesCommand(e *env) *cobra.Command {
	var branchID string
	var full bool

	cmd := &cobra.Command{
		Use:   "messages [conversation-id]",
		Short: "查看会话消息",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := e.conversationArg(args)
			if err != nil {
				return err
			}
			msgs, err := e.api.ListMessages(cmd.Context(), convID, branchID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintln(out, "暂无消息")
				return nil
			}
			for _, msg := range msgs {
				content := msg.Content
				if !full {
					content = preview(content, previewLength)
				}
				flag := ""
				if msg.Truncated {
					flag = " (已截断)"
				}
				fmt.Fprintf(out, "#%d [%s]%s %s\n", msg.ID, msg.Role, flag, content)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&branchID, "branch", "b", "", "只显示指定分支")
	cmd.Flags().BoolVar(&full, "full", false, "显示完整内容")
	return cmd
}

// preview 单行预览，超出 n 个字符时截断
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// printKV 输出一行键值
func printKV(out io.Writer, key, value string) {
	fmt.Fprintf(out, "  %-8s %s\n", key+":", value)
}
