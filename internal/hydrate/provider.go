// Package hydrate orchestrates the per-city pipeline: fetch, normalize,
// validate, score, resolve, geofence, and sink.
package hydrate

import (
	"context"

	"github.com/bumpti/hydration-cli/internal/model"
	"github.com/bumpti/hydration-cli/pkg/landuse"
)

// RecordProvider pages raw POI records for a bounding box. Implementations
// call fn once per page; a non-nil return aborts the fetch.
type RecordProvider interface {
	FetchPOIs(ctx context.Context, bbox model.BBox, fn func(page []model.RawPOIRecord) error) error
}

// PolygonProvider returns land-use polygon candidates for a bounding box.
// pkg/landuse ships the shapefile-backed implementation.
type PolygonProvider interface {
	FetchPolygons(ctx context.Context, bbox model.BBox) ([]landuse.Polygon, error)
}

// IconicMarker identifies the city's famous venues among the survivors.
// Implemented by iconic.Matcher.
type IconicMarker interface {
	Mark(ctx context.Context, city model.City, pois []*model.NormalizedPOI) map[string]bool
}
