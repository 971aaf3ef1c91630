// Package geofence builds the boundary geometry a winner POI is published
// with: a matched land-use polygon for large venues, a precision circle for
// everything else. All output is WGS84.
package geofence

import (
	"math"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/geo"
	"github.com/bumpti/hydration-cli/internal/model"
	"github.com/bumpti/hydration-cli/pkg/landuse"
)

const circleSegments = 32

// areaCategories get polygon matching; everything else is a point venue.
var areaCategories = map[string]struct{}{
	"park": {}, "stadium": {}, "university": {}, "shopping": {},
	"botanical_garden": {}, "event_venue": {}, "museum": {}, "club": {}, "theatre": {},
}

// validClasses restricts which land-use classes may represent a category.
// Categories without an entry accept any class.
var validClasses = map[string]map[string]struct{}{
	"park": {
		"park": {}, "recreation_ground": {}, "protected_landscape_seascape": {},
		"natural_monument": {}, "meadow": {}, "grass": {}, "playground": {},
	},
	"botanical_garden": {"park": {}, "recreation_ground": {}},
	"university":       {"university": {}, "college": {}},
	"shopping":         {"retail": {}, "commercial": {}},
}

// fallbackRadiusM is the circle radius for area categories without a
// polygon match.
var fallbackRadiusM = map[string]float64{
	"park":             500,
	"university":       500,
	"botanical_garden": 500,
	"stadium":          300,
	"shopping":         300,
	"event_venue":      300,
}

const defaultFallbackRadiusM = 300

// Config tunes boundary construction.
type Config struct {
	// PointBufferM is the circle radius for point venues.
	PointBufferM float64
	// SearchRadiusM bounds how far a candidate polygon's centre may sit
	// from the POI.
	SearchRadiusM float64
	// SafetyMarginM widens every boundary to absorb GPS error.
	SafetyMarginM float64
}

// DefaultConfig returns the production geofencing settings.
func DefaultConfig() Config {
	return Config{PointBufferM: 60, SearchRadiusM: 450, SafetyMarginM: 60}
}

// Builder computes boundaries for winner POIs.
type Builder struct {
	cfg Config
	log *zap.Logger
}

// NewBuilder builds a Builder from cfg.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg, log: zap.L().With(zap.String("component", "geofence"))}
}

// Boundary returns the boundary polygon for poi and how it was obtained.
// A record without usable geometry gets no boundary.
func (b *Builder) Boundary(poi *model.NormalizedPOI, candidates []landuse.Polygon) (*geom.Polygon, model.BoundarySource) {
	if !poi.HasGeometry {
		return nil, model.BoundaryNone
	}

	if _, area := areaCategories[poi.Category]; area {
		if match := b.matchPolygon(poi, candidates); match != nil {
			return expandPolygon(match.Geom, b.cfg.SafetyMarginM), model.BoundaryPolygon
		}
		radius, ok := fallbackRadiusM[poi.Category]
		if !ok {
			radius = defaultFallbackRadiusM
		}
		return circle(poi.Lon, poi.Lat, radius+b.cfg.SafetyMarginM), model.BoundaryBuffer
	}

	// Point venues (and unknown categories) get the precision circle.
	return circle(poi.Lon, poi.Lat, b.cfg.PointBufferM), model.BoundaryBuffer
}

// matchPolygon scores nearby candidates and returns the best acceptable
// one. Similarity dominates proximity 4:1; a candidate practically on top
// of the POI is accepted with a weaker name match.
func (b *Builder) matchPolygon(poi *model.NormalizedPOI, candidates []landuse.Polygon) *landuse.Polygon {
	allowed := validClasses[poi.Category]
	nameLower := strings.ToLower(poi.Name)

	var best *landuse.Polygon
	bestScore := -1.0

	for i := range candidates {
		c := &candidates[i]
		if c.Geom == nil {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[c.Class]; !ok {
				continue
			}
		}

		cLon, cLat := c.Centroid()
		dist := geo.HaversineM(poi.Lat, poi.Lon, cLat, cLon)
		if dist > b.cfg.SearchRadiusM {
			continue
		}

		sim := 0.0
		if c.Name != "" && nameLower != "" {
			sim = float64(fuzzy.TokenSetRatio(nameLower, strings.ToLower(c.Name))) / 100.0
		}

		accepted := sim >= 0.7 || (dist <= 100 && sim >= 0.5)
		if !accepted {
			continue
		}

		score := 0.8*sim + 0.2*(1-dist/b.cfg.SearchRadiusM)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	if best != nil {
		b.log.Debug("polygon matched",
			zap.String("poi", poi.Name),
			zap.String("polygon", best.Name),
			zap.Float64("score", bestScore))
	}
	return best
}

// circle builds a closed 32-segment ring of radiusM metres around the
// centre, scaled for the local latitude.
func circle(lon, lat, radiusM float64) *geom.Polygon {
	cosLat := geo.CosLat(lat)

	coords := make([]geom.Coord, 0, circleSegments+1)
	for i := 0; i < circleSegments; i++ {
		angle := 2 * math.Pi * float64(i) / circleSegments
		dLon := radiusM * math.Cos(angle) / (geo.MetersPerDeg * cosLat)
		dLat := radiusM * math.Sin(angle) / geo.MetersPerDeg
		coords = append(coords, geom.Coord{lon + dLon, lat + dLat})
	}
	coords = append(coords, coords[0])

	g := geom.NewPolygon(geom.XY)
	if _, err := g.SetCoords([][]geom.Coord{coords}); err != nil {
		return nil
	}
	g.SetSRID(4326)
	return g
}

// expandPolygon pushes each outer-ring vertex outward from the centroid by
// marginM metres. An approximation of a true buffer, adequate for the
// mostly convex land-use shapes this sees.
func expandPolygon(p *geom.Polygon, marginM float64) *geom.Polygon {
	if p == nil || p.NumCoords() == 0 {
		return p
	}
	ring := p.Coords()[0]
	if len(ring) < 4 {
		return p
	}

	var cLon, cLat float64
	n := len(ring) - 1 // skip closing vertex
	for i := 0; i < n; i++ {
		cLon += ring[i][0]
		cLat += ring[i][1]
	}
	cLon /= float64(n)
	cLat /= float64(n)

	cosLat := geo.CosLat(cLat)

	out := make([]geom.Coord, 0, len(ring))
	for i := 0; i < n; i++ {
		dx := (ring[i][0] - cLon) * geo.MetersPerDeg * cosLat
		dy := (ring[i][1] - cLat) * geo.MetersPerDeg
		norm := math.Hypot(dx, dy)
		if norm == 0 {
			out = append(out, geom.Coord{ring[i][0], ring[i][1]})
			continue
		}
		scale := (norm + marginM) / norm
		out = append(out, geom.Coord{
			cLon + dx*scale/(geo.MetersPerDeg*cosLat),
			cLat + dy*scale/geo.MetersPerDeg,
		})
	}
	out = append(out, out[0])

	g := geom.NewPolygon(geom.XY)
	if _, err := g.SetCoords([][]geom.Coord{out}); err != nil {
		return p
	}
	g.SetSRID(4326)
	return g
}
