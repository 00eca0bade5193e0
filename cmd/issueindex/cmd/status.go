package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/manager"
	"github.com/Aman-CERP/issueindex/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		check      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index state, document counts and consistency",
		Long: `Show whether indexing is enabled, per-index document counts and sizes,
whether the counts agree with the store, and whether a previous full
reindex was interrupted.

--check additionally walks every document and reports missing and
orphaned entries by id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			info, err := collectStatus(ctx, a)
			if err != nil {
				return err
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), !ui.IsTTY(cmd.OutOrStdout()))
			if jsonOutput {
				if err := r.RenderJSON(info); err != nil {
					return err
				}
			} else if err := r.Render(info); err != nil {
				return err
			}

			if !check {
				return nil
			}
			res, err := manager.NewConsistencyChecker(a.source, a.indexer).Check(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "\nChecked %d issues in %s: %d inconsistencies\n",
				res.Checked, res.Duration.Round(time.Millisecond), len(res.Inconsistencies))
			for _, inc := range res.Inconsistencies {
				_, _ = fmt.Fprintf(out, "  %-15s %s\n", inc.Type, inc.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	cmd.Flags().BoolVar(&check, "check", false, "Walk all documents and list inconsistencies")

	return cmd
}

func collectStatus(ctx context.Context, a *app) (ui.StatusInfo, error) {
	root := a.cfg.Index.RootPath
	info := ui.StatusInfo{
		DataDir:           root,
		Enabled:           a.manager.IsEnabled(),
		State:             string(a.manager.State()),
		IncompleteReindex: manager.HasIncompleteReindex(root),
	}

	var err error
	if info.StoreIssues, err = a.source.CountIssues(ctx); err != nil {
		return info, err
	}
	if info.StoreComments, err = a.source.CountComments(ctx); err != nil {
		return info, err
	}

	counts, err := a.docCounts(ctx)
	if err != nil {
		return info, err
	}
	for _, kind := range index.Kinds {
		size, modified := dirUsage(filepath.Join(root, string(kind)))
		info.Indexes = append(info.Indexes, ui.IndexStatus{Kind: string(kind), Docs: counts[string(kind)], Size: size})
		if modified.After(info.LastModified) {
			info.LastModified = modified
		}
	}

	if info.Consistent, err = a.manager.IsIndexConsistent(ctx); err != nil {
		return info, err
	}
	return info, nil
}

// dirUsage sums file sizes under dir and returns the newest mtime.
func dirUsage(dir string) (int64, time.Time) {
	var (
		size   int64
		newest time.Time
	)
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		size += fi.Size()
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	return size, newest
}
