package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <issue-id>...",
		Short: "Reindex issues by id",
		Long: `Load the given issues from the store and rewrite their issue, comment
and change-history documents. Ids no longer in the store are removed
from the indexes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.manager.ReindexIDs(cmd.Context(), ids)
			if err != nil {
				return err
			}
			if !a.manager.IsEnabled() {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Indexing is disabled; nothing done.")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d issue(s).\n", n)
			return err
		},
	}
}

func newDeindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deindex <issue-id>...",
		Short: "Remove issues and their comments and changes from the indexes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			n, err := a.manager.DeindexIDs(cmd.Context(), ids)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deindexed %d issue(s).\n", n)
			return err
		},
	}
}
