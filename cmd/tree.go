package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/threadline/pkg/chat"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the stored message tree of a thread",
	Long: `Print every branch of the current thread as stored in the history
database. Messages on the active path are marked with '*'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		threadID := viper.GetString("thread.id")

		if list, _ := cmd.Flags().GetBool("list"); list {
			threads, err := a.history.Threads(ctx)
			if err != nil {
				return err
			}
			a.printer.Threads(threads)
			return nil
		}
		if del, _ := cmd.Flags().GetBool("delete"); del {
			if err := a.history.Delete(ctx, threadID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted thread %s\n", threadID)
			return nil
		}

		export, err := a.history.Thread(threadID).Load(ctx)
		if err != nil {
			return err
		}
		tree, err := chat.ImportTree(export)
		if err != nil {
			return err
		}
		if tree.Len() == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s is empty\n", threadID)
			return nil
		}
		a.printer.Tree(tree)
		return nil
	},
}

func init() {
	treeCmd.Flags().Bool("list", false, "list stored threads instead")
	treeCmd.Flags().Bool("delete", false, "delete the thread")
	rootCmd.AddCommand(treeCmd)
}
