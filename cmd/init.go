package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/killallgit/threadline/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a default settings file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ".threadline"
		if len(args) == 1 {
			dir = args[0]
		}
		path, err := config.WriteDefaults(dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "settings written to %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
