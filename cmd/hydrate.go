package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/model"
)

var (
	hydrateLat     float64
	hydrateLng     float64
	hydrateCityID  string
	hydrateName    string
	hydrateRecords string
	hydrateUpdate  bool
)

var hydrateCmd = &cobra.Command{
	Use:   "hydrate",
	Short: "Run the full pipeline for one city",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "hydrate", hydrateRecords)
		if err != nil {
			return err
		}
		defer env.Close()

		city := model.City{
			ID:   hydrateCityID,
			Name: hydrateName,
			Lat:  hydrateLat,
			Lng:  hydrateLng,
			BBox: deriveBBox(hydrateLat, hydrateLng, cfg.Pipeline.BBoxHalfWidth, cfg.Pipeline.BBoxHalfHeight),
		}
		if city.ID == "" {
			city.ID = uuid.New().String()
		}
		if city.Name == "" {
			city.Name = city.ID
		}

		// A city that already has resolved winners was hydrated before;
		// reprocessing is explicit.
		known, err := env.Store.ResolvedWinners(ctx, city.ID)
		if err != nil {
			return eris.Wrap(err, "check existing hydration")
		}
		if len(known) > 0 && !hydrateUpdate {
			return eris.Errorf("city %s is already hydrated (%d resolved records); pass --update to reprocess", city.ID, len(known))
		}

		metrics, err := env.Pipeline.Run(ctx, city)
		if err != nil {
			return eris.Wrap(err, "run pipeline")
		}

		zap.L().Info("hydration complete",
			zap.String("city", city.Name),
			zap.Int("fetched", metrics.Fetched),
			zap.Int("winners", metrics.Winners),
			zap.Int("duplicates", metrics.Duplicates),
			zap.Int("rejected", metrics.Rejected()),
		)
		return nil
	},
}

// deriveBBox builds a city bounding box around a centre point.
func deriveBBox(lat, lng, halfWidth, halfHeight float64) model.BBox {
	return model.BBox{
		MinLng: lng - halfWidth,
		MinLat: lat - halfHeight,
		MaxLng: lng + halfWidth,
		MaxLat: lat + halfHeight,
	}
}

func init() {
	hydrateCmd.Flags().Float64Var(&hydrateLat, "lat", 0, "city centre latitude (required)")
	hydrateCmd.Flags().Float64Var(&hydrateLng, "lng", 0, "city centre longitude (required)")
	hydrateCmd.Flags().StringVar(&hydrateCityID, "city-id", "", "city identifier (default a fresh UUID)")
	hydrateCmd.Flags().StringVar(&hydrateName, "name", "", "city name for logs (default the city id)")
	hydrateCmd.Flags().StringVar(&hydrateRecords, "records", "", "path to the NDJSON bulk POI dump (required)")
	hydrateCmd.Flags().BoolVar(&hydrateUpdate, "update", false, "reprocess a city that was hydrated before")
	_ = hydrateCmd.MarkFlagRequired("lat")
	_ = hydrateCmd.MarkFlagRequired("lng")
	_ = hydrateCmd.MarkFlagRequired("records")
	rootCmd.AddCommand(hydrateCmd)
}
