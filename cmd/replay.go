package cmd

import (
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml> [line...]",
	Short: "Run a thread against a recorded chunk script",
	Long: `Run a thread whose assistant turns are played from a YAML chunk script
instead of a model. Each remaining argument is executed as one session line;
without any, lines are read from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		tr, err := a.transport(args[0])
		if err != nil {
			return err
		}
		return runThread(cmd, a, tr, args[1:])
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
