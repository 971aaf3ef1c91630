// Package fetcher reads external seed data, currently the city registry
// spreadsheet consumed by the import command.
package fetcher

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/bumpti/hydration-cli/internal/model"
)

// cityColumns are the recognized header names, normalized to lowercase with
// underscores. id, country_code, and the bbox columns are optional.
var cityColumns = []string{
	"id", "name", "country_code", "lat", "lng",
	"min_lng", "min_lat", "max_lng", "max_lat",
}

// LoadCities reads a city registry spreadsheet. The first row is the
// header; name, lat, and lng are required. Rows without an id get a fresh
// UUID. When the bbox columns are absent the caller derives a bounding box
// from the centre point.
func LoadCities(path string) ([]model.City, error) {
	rows, err := ReadXLSX(path, XLSXOptions{})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("fetcher: city spreadsheet is empty")
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(h), " ", "_"))
		for _, known := range cityColumns {
			if key == known {
				cols[known] = i
			}
		}
	}
	for _, required := range []string{"name", "lat", "lng"} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("fetcher: city spreadsheet missing %q column", required)
		}
	}

	cell := func(row []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var cities []model.City
	for i, row := range rows[1:] {
		name := cell(row, "name")
		if name == "" {
			continue
		}

		lat, err := strconv.ParseFloat(cell(row, "lat"), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: row %d: bad lat", i+2)
		}
		lng, err := strconv.ParseFloat(cell(row, "lng"), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: row %d: bad lng", i+2)
		}

		city := model.City{
			ID:          cell(row, "id"),
			Name:        name,
			CountryCode: strings.ToUpper(cell(row, "country_code")),
			Lat:         lat,
			Lng:         lng,
			Status:      model.CityPending,
		}
		if city.ID == "" {
			city.ID = uuid.New().String()
		}

		bbox, ok, err := parseBBox(cell(row, "min_lng"), cell(row, "min_lat"),
			cell(row, "max_lng"), cell(row, "max_lat"))
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: row %d: bad bbox", i+2)
		}
		if ok {
			city.BBox = bbox
		}

		cities = append(cities, city)
	}
	return cities, nil
}

// parseBBox parses the four bbox cells. All empty means no bbox; a partial
// bbox is an error.
func parseBBox(minLng, minLat, maxLng, maxLat string) (model.BBox, bool, error) {
	cells := []string{minLng, minLat, maxLng, maxLat}
	filled := 0
	for _, c := range cells {
		if c != "" {
			filled++
		}
	}
	if filled == 0 {
		return model.BBox{}, false, nil
	}
	if filled != len(cells) {
		return model.BBox{}, false, eris.New("partial bounding box")
	}

	vals := make([]float64, len(cells))
	for i, c := range cells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return model.BBox{}, false, err
		}
		vals[i] = v
	}

	bbox := model.BBox{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}
	if bbox.MinLng >= bbox.MaxLng || bbox.MinLat >= bbox.MaxLat {
		return model.BBox{}, false, eris.New("inverted bounding box")
	}
	return bbox, true, nil
}
