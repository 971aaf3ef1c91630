// Package landuse supplies land-use polygon candidates for boundary
// matching. The shipped provider reads an ESRI shapefile extract; any
// other source can implement the same fetch contract.
package landuse

import (
	"context"
	"math"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/geo"
	"github.com/bumpti/hydration-cli/internal/model"
)

// Polygon is one land-use candidate with the attributes boundary matching
// needs.
type Polygon struct {
	ID      string
	Name    string
	Class   string
	Subtype string
	Geom    *geom.Polygon
	AreaSqM float64
}

// Centroid returns the vertex-average centre of the exterior ring. Good
// enough for proximity scoring; exact centroids are not required.
func (p *Polygon) Centroid() (lon, lat float64) {
	if p.Geom == nil || p.Geom.NumCoords() == 0 {
		return 0, 0
	}
	ring := p.Geom.Coords()[0]
	n := len(ring)
	if n > 1 {
		n-- // closing vertex repeats the first
	}
	for i := 0; i < n; i++ {
		lon += ring[i][0]
		lat += ring[i][1]
	}
	return lon / float64(n), lat / float64(n)
}

// ShapefileProvider loads polygons from a local shapefile once and serves
// bbox-filtered slices of them.
type ShapefileProvider struct {
	path string
	log  *zap.Logger

	polygons []Polygon
}

// NewShapefileProvider opens and fully reads the shapefile at path.
// Expected attribute fields: ID, NAME, CLASS, SUBTYPE.
func NewShapefileProvider(path string) (*ShapefileProvider, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "landuse: open shapefile")
	}
	defer func() { _ = reader.Close() }()

	idIdx := fieldIndex(reader, "ID")
	nameIdx := fieldIndex(reader, "NAME")
	classIdx := fieldIndex(reader, "CLASS")
	subtypeIdx := fieldIndex(reader, "SUBTYPE")
	if classIdx < 0 {
		return nil, eris.New("landuse: shapefile is missing the CLASS field")
	}

	p := &ShapefileProvider{
		path: path,
		log:  zap.L().With(zap.String("component", "landuse")),
	}

	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 || len(poly.Points) == 0 {
			continue
		}

		g := shpToGeom(poly)
		if g == nil {
			continue
		}

		candidate := Polygon{
			Class:   strings.TrimSpace(reader.Attribute(classIdx)),
			Geom:    g,
			AreaSqM: approxAreaSqM(g),
		}
		if idIdx >= 0 {
			candidate.ID = strings.TrimSpace(reader.Attribute(idIdx))
		}
		if nameIdx >= 0 {
			candidate.Name = strings.TrimSpace(reader.Attribute(nameIdx))
		}
		if subtypeIdx >= 0 {
			candidate.Subtype = strings.TrimSpace(reader.Attribute(subtypeIdx))
		}
		p.polygons = append(p.polygons, candidate)
	}

	p.log.Info("land-use shapefile loaded",
		zap.String("path", path),
		zap.Int("polygons", len(p.polygons)))

	return p, nil
}

// FetchPolygons returns the candidates whose bounds intersect bbox.
func (p *ShapefileProvider) FetchPolygons(ctx context.Context, bbox model.BBox) ([]Polygon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Polygon
	for i := range p.polygons {
		b := p.polygons[i].Geom.Bounds()
		if b.Max(0) < bbox.MinLng || b.Min(0) > bbox.MaxLng ||
			b.Max(1) < bbox.MinLat || b.Min(1) > bbox.MaxLat {
			continue
		}
		out = append(out, p.polygons[i])
	}
	return out, nil
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// shpToGeom converts the first part of a shapefile polygon to a go-geom
// polygon in WGS84. Holes and extra parts are ignored; matching only needs
// the outer ring.
func shpToGeom(p *shp.Polygon) *geom.Polygon {
	end := len(p.Points)
	if p.NumParts > 1 {
		end = int(p.Parts[1])
	}
	if end < 4 {
		return nil
	}

	coords := make([]geom.Coord, 0, end)
	for i := 0; i < end; i++ {
		coords = append(coords, geom.Coord{p.Points[i].X, p.Points[i].Y})
	}
	// Rings must close.
	if coords[0][0] != coords[len(coords)-1][0] || coords[0][1] != coords[len(coords)-1][1] {
		coords = append(coords, coords[0])
	}

	g := geom.NewPolygon(geom.XY)
	if _, err := g.SetCoords([][]geom.Coord{coords}); err != nil {
		return nil
	}
	g.SetSRID(4326)
	return g
}

// approxAreaSqM estimates the outer-ring area in square metres using the
// shoelace formula under local equirectangular scaling.
func approxAreaSqM(g *geom.Polygon) float64 {
	ring := g.Coords()[0]
	if len(ring) < 4 {
		return 0
	}

	latRef := ring[0][1]
	cosLat := geo.CosLat(latRef)

	var sum float64
	for i := 0; i < len(ring)-1; i++ {
		x1 := ring[i][0] * geo.MetersPerDeg * cosLat
		y1 := ring[i][1] * geo.MetersPerDeg
		x2 := ring[i+1][0] * geo.MetersPerDeg * cosLat
		y2 := ring[i+1][1] * geo.MetersPerDeg
		sum += x1*y2 - x2*y1
	}
	return math.Abs(sum) / 2
}
