package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/bumpti/hydration-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.QueueStats(ctx)
		if err != nil {
			return eris.Wrap(err, "queue stats")
		}

		total := 0
		for _, status := range []model.CityStatus{
			model.CityPending, model.CityProcessing, model.CityCompleted, model.CityManualReview,
		} {
			fmt.Fprintf(cmd.OutOrStdout(), "%-15s %d\n", status, stats[status])
			total += stats[status]
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-15s %d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
