package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/bumpti/hydration-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-process backend for local runs and development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Claim-then-update relies on a single writer.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS staging_places (
	source_id         TEXT PRIMARY KEY,
	city_id           TEXT NOT NULL,
	name              TEXT NOT NULL,
	category          TEXT NOT NULL,
	original_category TEXT,
	street            TEXT,
	house_number      TEXT,
	neighborhood      TEXT,
	postal_code       TEXT,
	country_code      TEXT,
	lon               REAL,
	lat               REAL,
	has_geometry      INTEGER NOT NULL DEFAULT 0,
	confidence        REAL NOT NULL DEFAULT 0,
	has_website       INTEGER NOT NULL DEFAULT 0,
	has_social        INTEGER NOT NULL DEFAULT 0,
	source_count      INTEGER NOT NULL DEFAULT 1,
	has_brand         INTEGER NOT NULL DEFAULT 0,
	is_iconic         INTEGER NOT NULL DEFAULT 0,
	normalization_key TEXT,
	relevance_score   INTEGER NOT NULL DEFAULT 0,
	score_flags       TEXT,
	boundary          BLOB,
	boundary_src      TEXT,
	state             TEXT NOT NULL DEFAULT 'unprocessed',
	winner_id         TEXT,
	raw_payload       TEXT,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_staging_city_state ON staging_places(city_id, state);
CREATE INDEX IF NOT EXISTS idx_staging_city_category ON staging_places(city_id, category);
CREATE INDEX IF NOT EXISTS idx_staging_norm_key ON staging_places(normalization_key);

CREATE TABLE IF NOT EXISTS duplicate_mappings (
	loser_source_id  TEXT PRIMARY KEY,
	winner_source_id TEXT NOT NULL,
	city_id          TEXT NOT NULL,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_mappings_city ON duplicate_mappings(city_id);

CREATE TABLE IF NOT EXISTS hotlists (
	city_id      TEXT PRIMARY KEY,
	hotlist      TEXT NOT NULL,
	venue_count  INTEGER NOT NULL DEFAULT 0,
	generated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cities (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	country_code TEXT,
	lat          REAL NOT NULL,
	lng          REAL NOT NULL,
	min_lng      REAL NOT NULL,
	min_lat      REAL NOT NULL,
	max_lng      REAL NOT NULL,
	max_lat      REAL NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT,
	claimed_at   DATETIME,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cities_status ON cities(status, retry_count);

CREATE TABLE IF NOT EXISTS places (
	source_id       TEXT PRIMARY KEY,
	city_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	category        TEXT NOT NULL,
	relevance_score INTEGER NOT NULL DEFAULT 0,
	is_iconic       INTEGER NOT NULL DEFAULT 0,
	lon             REAL,
	lat             REAL,
	boundary        BLOB,
	boundary_src    TEXT,
	active          INTEGER NOT NULL DEFAULT 1,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_places_city_active ON places(city_id, active);

CREATE TABLE IF NOT EXISTS place_sources (
	loser_source_id  TEXT PRIMARY KEY,
	winner_source_id TEXT NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertPlace = `INSERT INTO staging_places (
	source_id, city_id, name, category, original_category,
	street, house_number, neighborhood, postal_code, country_code,
	lon, lat, has_geometry,
	confidence, has_website, has_social, source_count, has_brand, is_iconic,
	normalization_key, relevance_score, score_flags,
	boundary, boundary_src, state, winner_id, raw_payload, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source_id) DO UPDATE SET
	city_id = excluded.city_id, name = excluded.name, category = excluded.category,
	original_category = excluded.original_category, street = excluded.street,
	house_number = excluded.house_number, neighborhood = excluded.neighborhood,
	postal_code = excluded.postal_code, country_code = excluded.country_code,
	lon = excluded.lon, lat = excluded.lat, has_geometry = excluded.has_geometry,
	confidence = excluded.confidence, has_website = excluded.has_website,
	has_social = excluded.has_social, source_count = excluded.source_count,
	has_brand = excluded.has_brand, is_iconic = excluded.is_iconic,
	normalization_key = excluded.normalization_key, relevance_score = excluded.relevance_score,
	score_flags = excluded.score_flags, boundary = excluded.boundary,
	boundary_src = excluded.boundary_src, state = excluded.state,
	winner_id = excluded.winner_id, raw_payload = excluded.raw_payload,
	updated_at = excluded.updated_at`

// CommitBatch upserts a batch of staged places together with its duplicate
// mappings in one transaction.
func (s *SQLiteStore) CommitBatch(ctx context.Context, cityID string, pois []*model.NormalizedPOI, mappings []model.DuplicateMapping) (int64, error) {
	if len(pois) == 0 && len(mappings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: commit batch: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if len(pois) > 0 {
		stmt, err := tx.PrepareContext(ctx, sqliteUpsertPlace)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: commit batch: prepare places")
		}
		defer stmt.Close()

		for _, p := range pois {
			row, err := stagingRow(cityID, p, now)
			if err != nil {
				return 0, err
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return 0, eris.Wrapf(err, "sqlite: upsert place %s", p.SourceID)
			}
		}
	}

	if len(mappings) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO duplicate_mappings (loser_source_id, winner_source_id, city_id, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (loser_source_id) DO UPDATE SET
				winner_source_id = excluded.winner_source_id, city_id = excluded.city_id`,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: commit batch: prepare mappings")
		}
		defer stmt.Close()

		for _, m := range mappings {
			if _, err := stmt.ExecContext(ctx, m.LoserSourceID, m.WinnerSourceID, cityID, now); err != nil {
				return 0, eris.Wrapf(err, "sqlite: insert mapping %s", m.LoserSourceID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit batch: commit tx")
	}
	return int64(len(pois)), nil
}

func (s *SQLiteStore) ResolvedWinners(ctx context.Context, cityID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT loser_source_id, winner_source_id FROM duplicate_mappings WHERE city_id = ?`,
		cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolved winners")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var loser, winner string
		if err := rows.Scan(&loser, &winner); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		out[loser] = winner
	}
	return out, eris.Wrap(rows.Err(), "sqlite: resolved winners iterate")
}

func (s *SQLiteStore) Winners(ctx context.Context, cityID string) ([]model.NormalizedPOI, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, name, category, original_category,
			street, house_number, neighborhood, postal_code, country_code,
			lon, lat, has_geometry, confidence, has_website, has_social,
			source_count, has_brand, is_iconic, normalization_key, relevance_score,
			score_flags, boundary, boundary_src
		 FROM staging_places
		 WHERE city_id = ? AND state = 'winner'
		 ORDER BY relevance_score DESC, source_id`,
		cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: winners")
	}
	defer rows.Close()

	var out []model.NormalizedPOI
	for rows.Next() {
		var p model.NormalizedPOI
		var flagsJSON, boundary []byte
		var boundarySrc string
		if err := rows.Scan(&p.SourceID, &p.Name, &p.Category, &p.OriginalCategory,
			&p.Street, &p.HouseNumber, &p.Neighborhood, &p.PostalCode, &p.CountryCode,
			&p.Lon, &p.Lat, &p.HasGeometry, &p.Confidence, &p.HasWebsite, &p.HasSocial,
			&p.SourceCount, &p.HasBrand, &p.IsIconic, &p.NormalizationKey, &p.RelevanceScore,
			&flagsJSON, &boundary, &boundarySrc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan winner")
		}
		if len(flagsJSON) > 0 {
			if err := json.Unmarshal(flagsJSON, &p.ScoreFlags); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal score flags")
			}
		}
		p.Boundary, err = decodeBoundary(boundary)
		if err != nil {
			return nil, err
		}
		p.BoundarySrc = model.BoundarySource(boundarySrc)
		p.State = model.StateWinner
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: winners iterate")
}

// MergeToProduction mirrors the Postgres merge but counts inserts and
// updates up front since SQLite has no xmax trick.
func (s *SQLiteStore) MergeToProduction(ctx context.Context, cityID string) (*model.MergeStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: merge: begin tx")
	}
	defer tx.Rollback()

	stats := &model.MergeStats{}
	now := time.Now().UTC()

	var total, existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staging_places WHERE city_id = ? AND state = 'winner'`,
		cityID,
	).Scan(&total); err != nil {
		return nil, eris.Wrap(err, "sqlite: merge: count winners")
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM places WHERE source_id IN (
			SELECT source_id FROM staging_places WHERE city_id = ? AND state = 'winner'
		)`,
		cityID,
	).Scan(&existing); err != nil {
		return nil, eris.Wrap(err, "sqlite: merge: count existing")
	}
	stats.Inserted = total - existing
	stats.Updated = existing

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO places (source_id, city_id, name, category, relevance_score,
			is_iconic, lon, lat, boundary, boundary_src, active, updated_at)
		 SELECT source_id, city_id, name, category, relevance_score,
			is_iconic, lon, lat, boundary, boundary_src, 1, ?
		 FROM staging_places
		 WHERE city_id = ? AND state = 'winner'
		 ON CONFLICT (source_id) DO UPDATE SET
			name = excluded.name, category = excluded.category,
			relevance_score = excluded.relevance_score, is_iconic = excluded.is_iconic,
			lon = excluded.lon, lat = excluded.lat,
			boundary = excluded.boundary, boundary_src = excluded.boundary_src,
			active = 1, updated_at = excluded.updated_at`,
		now, cityID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: merge winners")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE places SET active = 0, updated_at = ?
		 WHERE city_id = ? AND active = 1
		   AND source_id NOT IN (
			SELECT source_id FROM staging_places WHERE city_id = ? AND state = 'winner'
		 )`,
		now, cityID, cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: merge deactivate")
	}
	if n, err := res.RowsAffected(); err == nil {
		stats.Deactivated = int(n)
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO place_sources (loser_source_id, winner_source_id)
		 SELECT loser_source_id, winner_source_id FROM duplicate_mappings WHERE city_id = ?
		 ON CONFLICT (loser_source_id) DO UPDATE SET winner_source_id = excluded.winner_source_id`,
		cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: merge sources")
	}
	if n, err := res.RowsAffected(); err == nil {
		stats.SourcesInserted = int(n)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: merge: commit tx")
	}
	return stats, nil
}

func (s *SQLiteStore) GetHotlist(ctx context.Context, cityID string) (*model.CachedHotlist, error) {
	cached := model.CachedHotlist{CityID: cityID}
	var hotlistJSON []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT hotlist, venue_count, generated_at FROM hotlists WHERE city_id = ?`,
		cityID,
	).Scan(&hotlistJSON, &cached.VenueCount, &cached.GeneratedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get hotlist")
	}
	if err := json.Unmarshal(hotlistJSON, &cached.Hotlist); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hotlist")
	}
	return &cached, nil
}

func (s *SQLiteStore) SaveHotlist(ctx context.Context, cached model.CachedHotlist) error {
	hotlistJSON, err := json.Marshal(cached.Hotlist)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal hotlist")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hotlists (city_id, hotlist, venue_count, generated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (city_id) DO UPDATE SET
			hotlist = excluded.hotlist, venue_count = excluded.venue_count,
			generated_at = excluded.generated_at`,
		cached.CityID, string(hotlistJSON), cached.VenueCount, cached.GeneratedAt,
	)
	return eris.Wrap(err, "sqlite: save hotlist")
}

func (s *SQLiteStore) ImportCities(ctx context.Context, cities []model.City) (int, error) {
	if len(cities) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import cities: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cities (id, name, country_code, lat, lng,
			min_lng, min_lat, max_lng, max_lat, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, country_code = excluded.country_code,
			lat = excluded.lat, lng = excluded.lng,
			min_lng = excluded.min_lng, min_lat = excluded.min_lat,
			max_lng = excluded.max_lng, max_lat = excluded.max_lat,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import cities: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range cities {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.CountryCode, c.Lat, c.Lng,
			c.BBox.MinLng, c.BBox.MinLat, c.BBox.MaxLng, c.BBox.MaxLat, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import city %s", c.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import cities: commit tx")
	}
	return len(cities), nil
}

// ClaimNextCity claims the oldest pending city. The single-connection pool
// serializes claimants, so select-then-update is safe here.
func (s *SQLiteStore) ClaimNextCity(ctx context.Context) (*model.City, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim city: begin tx")
	}
	defer tx.Rollback()

	var c model.City
	err = tx.QueryRowContext(ctx,
		`SELECT id, name, country_code, lat, lng, min_lng, min_lat, max_lng, max_lat, retry_count
		 FROM cities
		 WHERE status = 'pending' AND retry_count < ?
		 ORDER BY updated_at ASC
		 LIMIT 1`,
		model.MaxCityRetries,
	).Scan(&c.ID, &c.Name, &c.CountryCode, &c.Lat, &c.Lng,
		&c.BBox.MinLng, &c.BBox.MinLat, &c.BBox.MaxLng, &c.BBox.MaxLat, &c.RetryCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: claim city: select")
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE cities SET status = 'processing', retry_count = retry_count + 1,
			claimed_at = ?, updated_at = ? WHERE id = ?`,
		now, now, c.ID,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim city %s", c.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim city: commit tx")
	}

	c.Status = model.CityProcessing
	c.RetryCount++
	return &c, nil
}

func (s *SQLiteStore) CompleteCity(ctx context.Context, cityID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cities SET status = 'completed', last_error = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), cityID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete city %s", cityID)
	}
	return checkRowsAffected(res, "city", cityID)
}

func (s *SQLiteStore) FailCity(ctx context.Context, cityID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cities
		 SET status = CASE WHEN retry_count >= ? THEN 'manual_review' ELSE 'pending' END,
		     last_error = ?, updated_at = ?
		 WHERE id = ?`,
		model.MaxCityRetries, reason, time.Now().UTC(), cityID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail city %s", cityID)
	}
	return checkRowsAffected(res, "city", cityID)
}

func (s *SQLiteStore) QueueStats(ctx context.Context) (map[model.CityStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM cities GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: queue stats")
	}
	defer rows.Close()

	out := map[model.CityStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue stats")
		}
		out[model.CityStatus(status)] = count
	}
	return out, eris.Wrap(rows.Err(), "sqlite: queue stats iterate")
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
