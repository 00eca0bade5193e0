package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/issueindex/internal/manager"
)

func newOptimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Merge index segments",
		Long: `Force-merge the segments of all three indexes. Optimize waits for no
one: if a full reindex holds the lock it reports that and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			took, err := a.manager.Optimize(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch took {
			case manager.Disabled:
				_, err = fmt.Fprintln(out, "Indexing is disabled; nothing done.")
			case manager.LockUnavailable:
				_, err = fmt.Fprintln(out, "A full reindex is running; try again later.")
			default:
				_, err = fmt.Fprintf(out, "Optimized in %s.\n", took.Round(time.Millisecond))
			}
			return err
		},
	}
}
