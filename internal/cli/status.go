package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jensengpt/internal/client"
)

func newStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "显示当前状态",
		Long: `显示当前配置和服务端状态。

包括：
- 服务器地址和健康状态
- 当前会话及其活跃分支`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			fmt.Fprintln(out, "JensenGPT 状态信息")
			printKV(out, "服务器", e.api.BaseURL())
			printKV(out, "配置", e.settings.Path())

			health, err := e.api.Health(ctx)
			if err != nil {
				printKV(out, "服务", "✗ 不可用 ("+err.Error()+")")
				return nil
			}
			printKV(out, "服务", fmt.Sprintf("✓ %s (存储: %s, 缓存: %s)", health["status"], health["storage"], health["cache"]))

			convID := e.settings.CurrentConversation()
			if convID == "" {
				printKV(out, "会话", "无")
				return nil
			}
			conv, err := e.api.GetConversation(ctx, convID)
			if err != nil {
				printKV(out, "会话", convID+" (✗ "+err.Error()+")")
				return nil
			}
			printKV(out, "会话", fmt.Sprintf("%s (%s)", conv.Title, conv.ID))

			branch, err := e.api.ActiveBranch(ctx, convID)
			switch {
			case err != nil:
				printKV(out, "分支", "✗ "+err.Error())
			case branch == nil:
				printKV(out, "分支", "无")
			default:
				printKV(out, "分支", fmt.Sprintf("%s (%s)", branch.Name, branch.ID))
			}
			return nil
		},
	}
}

func newWatchCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [conversation-id]",
		Short: "实时查看会话的变更事件，Ctrl+C 退出",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := e.conversationArg(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return e.api.Watch(cmd.Context(), convID, func(ev *client.Event) {
				ts := time.UnixMilli(ev.Timestamp).Local().Format("15:04:05")
				fmt.Fprintf(out, "[%s] %s %s\n", ts, ev.Type, preview(string(ev.Payload), previewLength))
			})
		},
	}
}
