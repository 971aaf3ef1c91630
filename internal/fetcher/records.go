package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/bumpti/hydration-cli/internal/model"
)

// wireRecord is one NDJSON line of the bulk POI dump. Geometry arrives as
// plain lon/lat; FetchPOIs re-encodes it as WKB for the pipeline.
type wireRecord struct {
	model.RawPOIRecord
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

// NDJSONRecords streams raw POI records from a newline-delimited JSON dump,
// one record per line. Records outside the bounding box are skipped.
type NDJSONRecords struct {
	Path     string
	PageSize int // default 1000
}

// FetchPOIs reads the dump and calls fn once per page. A non-nil return
// from fn aborts the read.
func (n *NDJSONRecords) FetchPOIs(ctx context.Context, bbox model.BBox, fn func(page []model.RawPOIRecord) error) error {
	pageSize := n.PageSize
	if pageSize < 1 {
		pageSize = 1000
	}

	f, err := os.Open(n.Path)
	if err != nil {
		return eris.Wrap(err, "fetcher: open records dump")
	}
	defer f.Close()

	page := make([]model.RawPOIRecord, 0, pageSize)
	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		page = page[:0]
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "fetcher: read interrupted")
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec wireRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return eris.Wrapf(err, "fetcher: line %d: decode record", line)
		}

		if rec.Lon != nil && rec.Lat != nil {
			if !bbox.Contains(*rec.Lon, *rec.Lat) {
				continue
			}
			pt := geom.NewPointFlat(geom.XY, []float64{*rec.Lon, *rec.Lat})
			pt.SetSRID(4326)
			encoded, err := wkb.Marshal(pt, wkb.NDR)
			if err != nil {
				return eris.Wrapf(err, "fetcher: line %d: encode point", line)
			}
			rec.RawPOIRecord.GeomWKB = encoded
		}

		page = append(page, rec.RawPOIRecord)
		if len(page) == pageSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "fetcher: scan records dump")
	}

	return flush()
}
