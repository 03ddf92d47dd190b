// File: cmd/results.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nkoudela/scout-cli/internal/observability"
	"github.com/nkoudela/scout-cli/internal/store"
)

// newResultsCmd creates the `results` command, which lists past runs from the
// configured database.
func newResultsCmd() *cobra.Command {
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Lists recent automation runs from the history database",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if cfg.Store.URL == "" {
				return fmt.Errorf("history database is not configured (SCOUT_STORE_URL)")
			}
			dbPool, err := pgxpool.New(ctx, cfg.Store.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer dbPool.Close()

			resultStore, err := store.New(ctx, dbPool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			results, err := resultStore.RecentResults(ctx, viper.GetInt("limit"))
			if err != nil {
				return fmt.Errorf("failed to load results: %w", err)
			}
			if len(results) == 0 {
				fmt.Println("No automation runs recorded.")
				return nil
			}

			for _, r := range results {
				status := "found"
				switch {
				case r.Submitted:
					status = "submitted"
				case r.Error != "":
					status = r.Error
				}
				contactURL := "-"
				if r.Candidate != nil {
					contactURL = r.Candidate.URL
				}
				fmt.Printf("%s  %-40s  %-50s  %s (%.1fs)\n",
					r.StartedAt.Format("2006-01-02 15:04"),
					r.Target, contactURL, status, r.Duration.Seconds())
			}
			return nil
		},
	}

	resultsCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list.")
	return resultsCmd
}
