package main

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/bookrec/internal/goals"
)

var (
	recUserID  int64
	recPersist bool

	reportYear  int
	reportMonth int
)

func init() {
	rootCmd.AddCommand(recommendCmd)
	recommendCmd.AddCommand(recommendBooksCmd)
	recommendCmd.AddCommand(recommendGoalsCmd)
	recommendCmd.AddCommand(recommendReportCmd)

	recommendCmd.PersistentFlags().Int64Var(&recUserID, "user", 0, "User ID")
	recommendCmd.PersistentFlags().BoolVar(&recPersist, "persist", false, "Write results to the recommendation tables")

	recommendReportCmd.Flags().IntVar(&reportYear, "year", 0, "Report year (0 for all years)")
	recommendReportCmd.Flags().IntVar(&reportMonth, "month", 0, "Report month 1-12 (0 for all months)")
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Run a recommendation flow once and print the result",
}

var recommendBooksCmd = &cobra.Command{
	Use:   "books",
	Short: "Recommend books for one user",
	Long: `Recommend books for one user from their most recent reads and print
the ranked list as JSON.

Examples:
  bookrec recommend books --user 42
  bookrec recommend books --user 42 --persist`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed("user") {
			return fmt.Errorf("--user is required")
		}
		return withDependencies(cmd.Context(), func(ctx context.Context, deps *dependencies) error {
			recs, err := deps.svc.RecommendBooks(ctx, recUserID, recPersist)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), recs)
		})
	},
}

var recommendGoalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Compute reading-goal coaching",
	Long: `Compute goal predictions, time and mission suggestions and inactivity.

With --user, prints that user's bundle and only writes it with --persist.
Without --user, runs every user, always writes the bundles and prints a
summary.

Examples:
  bookrec recommend goals --user 42
  bookrec recommend goals`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDependencies(cmd.Context(), func(ctx context.Context, deps *dependencies) error {
			if cmd.Flags().Changed("user") {
				res, err := deps.svc.GoalsForUser(ctx, recUserID, recPersist)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			}

			res, err := deps.svc.GoalsAll(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), goalsSummary{
				RunID:         res.RunID,
				UserCount:     len(res.Result.Bundles),
				InactiveCount: res.Result.InactiveCount(),
				ReportRows:    len(res.Result.Report),
				Timestamp:     res.At.Format(timestampLayout),
			})
		})
	},
}

var recommendReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the monthly reading report",
	Long: `Aggregate reading sessions and goals per user and print the rows as
JSON. Nothing is written.

Examples:
  bookrec recommend report
  bookrec recommend report --year 2024 --month 3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := goals.ReportFilter{Year: reportYear, Month: reportMonth}
		if err := filter.Validate(); err != nil {
			return err
		}
		return withDependencies(cmd.Context(), func(ctx context.Context, deps *dependencies) error {
			rows, err := deps.svc.MonthlyReport(ctx, filter)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []goals.ReportRow{}
			}
			return writeJSON(cmd.OutOrStdout(), rows)
		})
	},
}

const timestampLayout = "2006-01-02 15:04:05"

type goalsSummary struct {
	RunID         string `json:"run_id"`
	UserCount     int    `json:"user_count"`
	InactiveCount int    `json:"inactive_count"`
	ReportRows    int    `json:"report_rows"`
	Timestamp     string `json:"timestamp"`
}

// withDependencies builds the stack, runs fn and tears the stack down.
func withDependencies(ctx context.Context, fn func(context.Context, *dependencies) error) error {
	deps, err := initDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	runErr := fn(ctx, deps)
	if err := deps.Close(context.Background()); err != nil && runErr == nil {
		return err
	}
	return runErr
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
