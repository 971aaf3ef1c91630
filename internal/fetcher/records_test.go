package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/bumpti/hydration-cli/internal/model"
)

func writeNDJSON(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func collectPOIs(t *testing.T, provider *NDJSONRecords, bbox model.BBox) []model.RawPOIRecord {
	t.Helper()
	var out []model.RawPOIRecord
	err := provider.FetchPOIs(context.Background(), bbox, func(page []model.RawPOIRecord) error {
		out = append(out, page...)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestNDJSONRecordsFiltersByBBox(t *testing.T) {
	path := writeNDJSON(t,
		`{"source_id":"in-1","name":"Bar do Centro","category":"pub","confidence":0.9,"lon":-49.27,"lat":-25.43}`,
		`{"source_id":"out-1","name":"Far Away","category":"pub","confidence":0.9,"lon":-46.63,"lat":-23.55}`,
		`{"source_id":"in-2","name":"Parque Central","category":"park","confidence":0.8,"lon":-49.30,"lat":-25.40}`,
	)

	bbox := model.BBox{MinLng: -49.40, MinLat: -25.53, MaxLng: -49.15, MaxLat: -25.33}
	pois := collectPOIs(t, &NDJSONRecords{Path: path}, bbox)

	require.Len(t, pois, 2)
	assert.Equal(t, "in-1", pois[0].SourceID)
	assert.Equal(t, "in-2", pois[1].SourceID)
}

func TestNDJSONRecordsEncodesGeometry(t *testing.T) {
	path := writeNDJSON(t,
		`{"source_id":"a","name":"Bar","category":"pub","confidence":0.9,"lon":-49.27,"lat":-25.43}`,
	)

	bbox := model.BBox{MinLng: -50, MinLat: -26, MaxLng: -49, MaxLat: -25}
	pois := collectPOIs(t, &NDJSONRecords{Path: path}, bbox)
	require.Len(t, pois, 1)

	g, err := wkb.Unmarshal(pois[0].GeomWKB)
	require.NoError(t, err)
	pt, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.InDelta(t, -49.27, pt.X(), 1e-9)
	assert.InDelta(t, -25.43, pt.Y(), 1e-9)
}

func TestNDJSONRecordsKeepsGeometrylessRows(t *testing.T) {
	path := writeNDJSON(t,
		`{"source_id":"no-geom","name":"Mystery Venue","category":"pub","confidence":0.9}`,
	)

	pois := collectPOIs(t, &NDJSONRecords{Path: path}, model.BBox{MinLng: -1, MinLat: -1, MaxLng: 1, MaxLat: 1})
	require.Len(t, pois, 1)
	assert.Nil(t, pois[0].GeomWKB)
}

func TestNDJSONRecordsPaging(t *testing.T) {
	lines := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"source_id":"p-%d","name":"Venue %d","category":"pub","confidence":0.9,"lon":0.1,"lat":0.1}`, i, i))
	}
	path := writeNDJSON(t, lines...)

	provider := &NDJSONRecords{Path: path, PageSize: 2}
	var pageSizes []int
	err := provider.FetchPOIs(context.Background(),
		model.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1},
		func(page []model.RawPOIRecord) error {
			pageSizes = append(pageSizes, len(page))
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, pageSizes)
}

func TestNDJSONRecordsCallbackAborts(t *testing.T) {
	path := writeNDJSON(t,
		`{"source_id":"a","name":"One","category":"pub","confidence":0.9,"lon":0.1,"lat":0.1}`,
		`{"source_id":"b","name":"Two","category":"pub","confidence":0.9,"lon":0.1,"lat":0.1}`,
	)

	provider := &NDJSONRecords{Path: path, PageSize: 1}
	calls := 0
	err := provider.FetchPOIs(context.Background(),
		model.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1},
		func(page []model.RawPOIRecord) error {
			calls++
			return fmt.Errorf("stop")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNDJSONRecordsBadLine(t *testing.T) {
	path := writeNDJSON(t,
		`{"source_id":"a","name":"One","category":"pub","confidence":0.9}`,
		`{not json`,
	)

	provider := &NDJSONRecords{Path: path}
	err := provider.FetchPOIs(context.Background(), model.BBox{}, func([]model.RawPOIRecord) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
