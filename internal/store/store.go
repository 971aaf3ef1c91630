// Package store persists the hydration pipeline's state: staged places,
// duplicate mappings, hotlists, the city work queue, and the production
// places table.
package store

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/bumpti/hydration-cli/internal/model"
)

// Store defines the persistence interface for the hydration pipeline.
type Store interface {
	// Staging

	// CommitBatch writes one batch of resolved records and the duplicate
	// mappings that point at them in a single transaction, so a crash never
	// leaves winners without their mappings. It returns the number of
	// staged places written.
	CommitBatch(ctx context.Context, cityID string, pois []*model.NormalizedPOI, mappings []model.DuplicateMapping) (int64, error)
	ResolvedWinners(ctx context.Context, cityID string) (map[string]string, error)
	Winners(ctx context.Context, cityID string) ([]model.NormalizedPOI, error)
	// MergeToProduction publishes a city's staged winners. The merge is
	// always city-wide: deactivation diffs the full staging set against the
	// full production set, so a narrower region scope would wrongly
	// deactivate places outside it.
	MergeToProduction(ctx context.Context, cityID string) (*model.MergeStats, error)

	// Hotlist cache
	GetHotlist(ctx context.Context, cityID string) (*model.CachedHotlist, error)
	SaveHotlist(ctx context.Context, cached model.CachedHotlist) error

	// City queue
	ImportCities(ctx context.Context, cities []model.City) (int, error)
	ClaimNextCity(ctx context.Context) (*model.City, error)
	CompleteCity(ctx context.Context, cityID string) error
	FailCity(ctx context.Context, cityID string, reason string) error
	QueueStats(ctx context.Context) (map[model.CityStatus]int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates a Store for the given driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

// encodeBoundary serializes a boundary polygon as EWKB. Nil stays nil.
func encodeBoundary(p *geom.Polygon) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode boundary")
	}
	return b, nil
}

// decodeBoundary parses an EWKB boundary. Empty input stays nil.
func decodeBoundary(b []byte) (*geom.Polygon, error) {
	if len(b) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(b)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode boundary")
	}
	p, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("store: boundary is %T, want polygon", g)
	}
	return p, nil
}
