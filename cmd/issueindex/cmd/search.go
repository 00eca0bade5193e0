package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/issueindex/internal/document"
	ierrors "github.com/Aman-CERP/issueindex/internal/errors"
	"github.com/Aman-CERP/issueindex/internal/index"
	"github.com/Aman-CERP/issueindex/internal/searchcache"
)

// searchResult is one row of search output.
type searchResult struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	IssueID string  `json:"issue_id"`
	Text    string  `json:"text,omitempty"`
}

func newSearchCmd() *cobra.Command {
	var (
		kind       string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <field> <text>",
		Short: "Run a match query against one index",
		Long: `Run a match query for text in one field of an index and print the
matching documents. Intended for diagnostics, not end-user search.

Examples:
  issueindex search summary "login fails"
  issueindex search body timeout --kind comment
  issueindex search ch_fields status --kind changes`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			if limit < 1 {
				return ierrors.ValidationError("--limit must be positive", nil)
			}

			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			var results []searchResult
			err = searchcache.Scope(cmd.Context(), a.manager.Caches(), func(ctx context.Context) error {
				s, err := searchcache.FromContext(ctx).Retrieve(k, func() (*index.Searcher, error) {
					return a.indexer.OpenSearcher(k)
				})
				if err != nil {
					return err
				}
				hits, err := s.Match(ctx, args[0], args[1], limit)
				if err != nil {
					return err
				}
				for _, h := range hits {
					doc, err := s.Document(h.ID)
					if err != nil {
						return err
					}
					results = append(results, searchResult{
						ID:      h.ID,
						Score:   h.Score,
						IssueID: first(doc[document.FieldIssueID]),
						Text:    first(doc[args[0]]),
					})
				}
				return nil
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tISSUE\tSCORE\tTEXT")
			for _, r := range results {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", r.ID, r.IssueID, r.Score, truncate(r.Text, 60))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "issue", "Index to search: issue, comment or changes")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func parseKind(s string) (index.Kind, error) {
	switch strings.ToLower(s) {
	case "issue", "issues":
		return index.KindIssue, nil
	case "comment", "comments":
		return index.KindComment, nil
	case "change", "changes", "history":
		return index.KindChangeHistory, nil
	default:
		return "", ierrors.ValidationError(fmt.Sprintf("unknown index kind %q", s), nil).
			WithSuggestion("Use issue, comment or changes")
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
