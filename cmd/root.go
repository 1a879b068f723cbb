package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "threadline",
	Short: "Branching chat threads in the terminal",
	Long: `threadline runs chat threads as a branching message tree.

Replies stream in from a model or a recorded script, local tools are executed
as the model calls them, and every edit or regeneration becomes a new branch
that stays reachable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		if _, err := config.Load(cfgFile); err != nil {
			return err
		}
		if err := logger.Init(); err != nil {
			return err
		}
		logger.Debug("Using config file: %s", config.GetConfigFileUsed())
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnFinalize(func() {
		logger.Close()
	})

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .threadline/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().StringP("thread", "t", "default", "thread id")
	viper.BindPFlag("thread.id", rootCmd.PersistentFlags().Lookup("thread"))

	rootCmd.PersistentFlags().String("history", "", "history database (default is thread.history_path)")
	viper.BindPFlag("thread.history_path", rootCmd.PersistentFlags().Lookup("history"))

	rootCmd.PersistentFlags().String("metrics-addr", "", "serve prometheus metrics on this address while running")

	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
}
