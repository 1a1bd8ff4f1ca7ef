// Package cli 实现 jensengpt 命令行客户端
// 通过 HTTP API 与服务端交互，对话以流式方式输出到终端
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jensengpt/internal/client"
)

// env 命令共享的运行环境，在 PersistentPreRunE 中初始化
type env struct {
	configDir string
	server    string

	settings *Settings
	api      *client.Client
}

// NewRootCommand 创建根命令及全部子命令
func NewRootCommand() *cobra.Command {
	e := &env{}

	rootCmd := &cobra.Command{
		Use:   "jensengpt",
		Short: "JensenGPT 命令行客户端",
		Long: `JensenGPT CLI 客户端

在终端里与 JensenGPT 对话，支持多分支会话。

直接运行 'jensengpt chat' 即可进入交互式对话。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.init()
		},
	}

	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&e.server, "server", "s", "", "服务器地址 (默认: "+defaultServerURL+")")
	rootCmd.PersistentFlags().StringVar(&e.configDir, "config-dir", "", "配置目录 (默认: ~/.jensengpt)")

	rootCmd.AddCommand(
		newChatCommand(e),
		newConversationsCommand(e),
		newMessagesCommand(e),
		newBranchesCommand(e),
		newActivateCommand(e),
		newWatchCommand(e),
		newStatusCommand(e),
	)
	return rootCmd
}

// Execute 执行根命令，Ctrl+C 取消正在进行的请求
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (e *env) init() error {
	dir := e.configDir
	if dir == "" {
		var err error
		if dir, err = DefaultConfigDir(); err != nil {
			return err
		}
	}

	settings, err := LoadSettings(dir)
	if err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}
	// 如果指定了服务器地址，覆盖配置
	if e.server != "" {
		settings.SetServerURL(e.server)
	}

	e.settings = settings
	e.api = client.NewClient(settings.ServerURL())
	return nil
}

// conversationArg 取参数中的会话 ID，没有时使用当前会话
func (e *env) conversationArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if id := e.settings.CurrentConversation(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("没有当前会话，请指定会话 ID 或先运行 'jensengpt chat'")
}
