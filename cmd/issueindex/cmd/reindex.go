package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/issueindex/internal/async"
	"github.com/Aman-CERP/issueindex/internal/manager"
	"github.com/Aman-CERP/issueindex/internal/ui"
)

func newReindexCmd() *cobra.Command {
	var (
		strategy   string
		scope      string
		background bool
		noTUI      bool
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild all indexes from the store",
		Long: `Rebuild the issue, comment and change-history indexes from the store.

A foreground reindex deletes the indexes first; searches see empty results
until it completes. --background keeps the indexes online, updates every
issue in place and removes documents of issues no longer in the store.

--scope takes a CEL expression over 'project' (id, key, name, lead) and
limits the run to matching projects, e.g. --scope 'project.key == "OPS"'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if manager.HasIncompleteReindex(cfg.Index.RootPath) {
				slog.Warn("incomplete_reindex_found", slog.String("data_dir", cfg.Index.RootPath))
			}

			renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
				ui.WithForcePlain(noTUI),
				ui.WithTitle("Reindexing "+cfg.Index.RootPath)))
			if err := renderer.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = renderer.Stop() }()

			fn := a.manager.ReindexAll
			if background {
				fn = a.manager.ReindexAllBackground
			}
			runner := async.NewRunner(fn, manager.ReindexOptions{
				Strategy: strategy,
				Scope:    scope,
				OnProgress: func(p manager.Progress) {
					renderer.UpdateProgress(ui.ProgressEvent{
						RunID:   p.RunID,
						Batch:   p.Label,
						Batches: p.Batches,
						Issues:  p.Issues,
						Total:   p.Total,
					})
				},
			})
			runner.Start(ctx)
			took, err := runner.Wait()
			if err != nil {
				renderer.Fail(err)
				return err
			}

			snap := runner.Progress().Snapshot()
			stats := ui.CompletionStats{Issues: snap.Issues, Batches: snap.Batches, Duration: took}
			switch took {
			case manager.LockUnavailable, manager.Disabled:
				stats.Skipped = snap.Message
			default:
				if stats.Docs, err = a.docCounts(ctx); err != nil {
					slog.Warn("doc_count_failed", slog.String("error", err.Error()))
				}
			}
			renderer.Complete(stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Batching strategy: project or idrange (default from config)")
	cmd.Flags().StringVar(&scope, "scope", "", "CEL filter over project, e.g. 'project.key == \"OPS\"'")
	cmd.Flags().BoolVar(&background, "background", false, "Update indexes in place without taking them offline")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}
