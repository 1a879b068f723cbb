package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/threadline/pkg/thread"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the configured model",
	Long: `Chat with the configured model on the current thread.

With a message argument the message is sent once and the reply printed.
Without one, commands are read from stdin; type /help for the list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tr, err := a.transport("")
		if err != nil {
			return err
		}
		var lines []string
		if len(args) > 0 {
			lines = []string{strings.Join(args, " ")}
		}
		return runThread(cmd, a, tr, lines)
	},
}

// runThread opens the configured thread and executes lines in order, stopping
// at the first error. Without lines it starts an interactive session.
func runThread(cmd *cobra.Command, a *app, tr thread.Transport, lines []string) error {
	ctx := cmd.Context()
	rt, err := a.openThread(ctx, tr, viper.GetString("thread.id"))
	if err != nil {
		return err
	}
	defer rt.Close()

	s := newSession(rt, a.printer)
	defer s.Close()

	if len(lines) > 0 {
		for _, line := range lines {
			quit, err := s.Exec(ctx, line)
			if err != nil || quit {
				return err
			}
		}
		return nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			s.prompt = true
		}
	}
	return s.Run(ctx, in)
}

func init() {
	rootCmd.AddCommand(chatCmd)
}
