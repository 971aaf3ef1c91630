package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/fetcher"
	"github.com/bumpti/hydration-cli/internal/model"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Seed the city registry from a spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("import"); err != nil {
			return err
		}

		cities, err := fetcher.LoadCities(importFile)
		if err != nil {
			return eris.Wrap(err, "load cities")
		}
		for i := range cities {
			if cities[i].BBox == (model.BBox{}) {
				cities[i].BBox = deriveBBox(cities[i].Lat, cities[i].Lng,
					cfg.Pipeline.BBoxHalfWidth, cfg.Pipeline.BBoxHalfHeight)
			}
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		imported, err := st.ImportCities(ctx, cities)
		if err != nil {
			return eris.Wrap(err, "import cities")
		}

		zap.L().Info("import complete",
			zap.Int("rows", len(cities)),
			zap.Int("imported", imported),
			zap.String("file", importFile),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to the city spreadsheet (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
