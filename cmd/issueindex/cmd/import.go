package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/manager"
	"github.com/Aman-CERP/issueindex/internal/store"
)

func newImportCmd() *cobra.Command {
	var reindex bool

	cmd := &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Load projects, issues, comments and changes into the store",
		Long: `Load a YAML fixture with top-level projects, issues, comments and
change_groups lists into the configured store. Existing records with
the same ids are replaced. With --reindex a full reindex follows.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := readDataset(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			imp, ok := a.source.(store.Importer)
			if !ok {
				return ierrors.ConfigError(fmt.Sprintf("storage backend %q does not support import", cfg.Storage.Backend), nil)
			}
			if err := imp.Import(cmd.Context(), ds); err != nil {
				return ierrors.StoreError("import failed", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Imported %d projects, %d issues, %d comments, %d change groups.\n",
				len(ds.Projects), len(ds.Issues), len(ds.Comments), len(ds.ChangeGroups))

			if !reindex {
				return nil
			}
			took, err := a.manager.ReindexAll(cmd.Context(), manager.ReindexOptions{})
			if err != nil {
				return err
			}
			switch took {
			case manager.Disabled:
				_, err = fmt.Fprintln(out, "Indexing is disabled; reindex skipped.")
			case manager.LockUnavailable:
				_, err = fmt.Fprintln(out, "A full reindex is already running; reindex skipped.")
			default:
				_, err = fmt.Fprintf(out, "Reindexed in %s.\n", took.Round(time.Millisecond))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&reindex, "reindex", false, "Run a full reindex after importing")
	return cmd
}

func readDataset(path string) (*store.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ierrors.ValidationError(fmt.Sprintf("failed to read %s", path), err)
	}
	var ds store.Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, ierrors.ValidationError(fmt.Sprintf("failed to parse %s", path), err)
	}
	return &ds, nil
}
