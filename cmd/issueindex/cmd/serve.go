package cmd

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/issueindex/internal/async"
	"github.com/Aman-CERP/issueindex/internal/events"
	"github.com/Aman-CERP/issueindex/internal/manager"
	"github.com/Aman-CERP/issueindex/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var (
		noWatch bool
		repair  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Follow entity events and keep the indexes current",
		Long: `Subscribe to issue, comment and reindex events on NATS and apply them
to the indexes until interrupted. The project configuration file is
watched; changing index.enabled switches indexing on or off without a
restart.

With --repair, a full reindex interrupted earlier is rerun in the
background on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			coord := events.NewCoordinator(cfg.Events.SubjectPrefix, a.manager, a.source)
			sub := events.NewSubscriber(cfg.Events, coord)
			if err := sub.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			if !noWatch {
				w := watcher.New(configFile(), a.manager, 0)
				if err := w.Start(ctx); err != nil {
					slog.Warn("config_watch_unavailable", slog.String("error", err.Error()))
				} else {
					defer func() { _ = w.Stop() }()
				}
			}

			var runner *async.Runner
			if manager.HasIncompleteReindex(cfg.Index.RootPath) {
				if repair {
					runner = async.NewRunner(a.manager.ReindexAll, manager.ReindexOptions{})
					runner.Start(ctx)
				} else {
					slog.Warn("incomplete_reindex_found",
						slog.String("data_dir", cfg.Index.RootPath),
						slog.String("hint", "run 'issueindex reindex' or restart with --repair"))
				}
			}

			slog.Info("serve_started", slog.Bool("indexing_enabled", a.manager.IsEnabled()))
			<-ctx.Done()
			slog.Info("serve_stopping")

			if runner != nil {
				runner.Stop()
				_, _ = runner.Wait()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the configuration file")
	cmd.Flags().BoolVar(&repair, "repair", false, "Rerun an interrupted full reindex on startup")

	return cmd
}
