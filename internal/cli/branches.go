package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newBranchesCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "branches [conversation-id]",
		Short: "列出会话的分支，* 表示活跃分支",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := e.conversationArg(args)
			if err != nil {
				return err
			}
			branches, err := e.api.ListBranches(cmd.Context(), convID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(branches) == 0 {
				fmt.Fprintln(out, "暂无分支")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\t名称\t起点消息")
			for _, b := range branches {
				marker := ""
				if b.Active() {
					marker = "*"
				}
				root := "-"
				if b.RootMessageID != nil {
					root = fmt.Sprintf("#%d", *b.RootMessageID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, b.ID, b.Name, root)
			}
			return w.Flush()
		},
	}
}

func newActivateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <branch-id>",
		Short: "切换活跃分支",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branch, err := e.api.ActivateBranch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := e.settings.SaveCurrentConversation(branch.ConversationID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ 活跃分支: %s (%s)\n", branch.Name, branch.ID)
			return nil
		},
	}
}
