package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/index"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored messages by meaning",
	Long: `Index the messages of every stored thread with the configured embedding
model and print the closest matches. Messages indexed during chat sessions
(index.enabled) are searched as well when index.persistence_dir is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		idx := a.index
		if idx == nil {
			if idx, err = openIndex(config.Get()); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		threads, err := a.history.Threads(ctx)
		if err != nil {
			return err
		}
		for _, t := range threads {
			export, err := a.history.Thread(t.ID).Load(ctx)
			if err != nil {
				return err
			}
			n, err := idx.AddExport(ctx, t.ID, export)
			if err != nil {
				return err
			}
			a.log.Debug("Indexed %d messages of thread %s", n, t.ID)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		query := strings.Join(args, " ")
		var hits []index.Hit
		if all, _ := cmd.Flags().GetBool("all"); all {
			hits, err = idx.Search(ctx, query, limit)
		} else {
			hits, err = idx.SearchThread(ctx, viper.GetString("thread.id"), query, limit)
		}
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no matches")
			return nil
		}
		a.printer.Hits(hits)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntP("limit", "n", 5, "maximum number of matches")
	searchCmd.Flags().Bool("all", false, "search every thread instead of the current one")
	rootCmd.AddCommand(searchCmd)
}
