package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/model"
)

var (
	exportCityID string
	exportDir    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write per-category GeoJSON of curated winners",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		winners, err := st.Winners(ctx, exportCityID)
		if err != nil {
			return eris.Wrap(err, "load winners")
		}
		if len(winners) == 0 {
			return eris.Errorf("city %s has no curated winners", exportCityID)
		}

		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			return eris.Wrap(err, "create export dir")
		}

		collections := featureCollections(winners)
		for category, fc := range collections {
			path := filepath.Join(exportDir, category+".geojson")
			data, err := json.MarshalIndent(fc, "", "  ")
			if err != nil {
				return eris.Wrapf(err, "encode %s", category)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return eris.Wrapf(err, "write %s", path)
			}
		}

		zap.L().Info("export complete",
			zap.String("city_id", exportCityID),
			zap.Int("winners", len(winners)),
			zap.Int("categories", len(collections)),
			zap.String("dir", exportDir),
		)
		return nil
	},
}

// featureCollections groups winners by category. Boundary polygons are the
// feature geometry; winners without one export their point.
func featureCollections(winners []model.NormalizedPOI) map[string]*geojson.FeatureCollection {
	out := make(map[string]*geojson.FeatureCollection)
	for i := range winners {
		w := &winners[i]

		var g geom.T
		if w.Boundary != nil {
			g = w.Boundary
		} else {
			g = geom.NewPointFlat(geom.XY, []float64{w.Lon, w.Lat})
		}

		feature := &geojson.Feature{
			ID:       w.SourceID,
			Geometry: g,
			Properties: map[string]interface{}{
				"name":            w.Name,
				"relevance_score": w.RelevanceScore,
				"category":        w.Category,
				"polygon_class":   string(w.BoundarySrc),
			},
		}

		fc, ok := out[w.Category]
		if !ok {
			fc = &geojson.FeatureCollection{}
			out[w.Category] = fc
		}
		fc.Features = append(fc.Features, feature)
	}
	return out
}

func init() {
	exportCmd.Flags().StringVar(&exportCityID, "city-id", "", "city to export (required)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "out", "output directory")
	_ = exportCmd.MarkFlagRequired("city-id")
	rootCmd.AddCommand(exportCmd)
}
