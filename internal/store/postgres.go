package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/bumpti/hydration-cli/internal/db"
	"github.com/bumpti/hydration-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"resolved_winners": `SELECT loser_source_id, winner_source_id FROM duplicate_mappings WHERE city_id = $1`,
	"get_hotlist":      `SELECT hotlist, venue_count, generated_at FROM hotlists WHERE city_id = $1`,
	"complete_city":    `UPDATE cities SET status = 'completed', last_error = NULL, updated_at = now() WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
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
	lon               DOUBLE PRECISION,
	lat               DOUBLE PRECISION,
	has_geometry      BOOLEAN NOT NULL DEFAULT false,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	has_website       BOOLEAN NOT NULL DEFAULT false,
	has_social        BOOLEAN NOT NULL DEFAULT false,
	source_count      INTEGER NOT NULL DEFAULT 1,
	has_brand         BOOLEAN NOT NULL DEFAULT false,
	is_iconic         BOOLEAN NOT NULL DEFAULT false,
	normalization_key TEXT,
	relevance_score   INTEGER NOT NULL DEFAULT 0,
	score_flags       JSONB,
	boundary          BYTEA,
	boundary_src      TEXT,
	state             TEXT NOT NULL DEFAULT 'unprocessed',
	winner_id         TEXT,
	raw_payload       JSONB,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_staging_city_state ON staging_places(city_id, state);
CREATE INDEX IF NOT EXISTS idx_staging_city_category ON staging_places(city_id, category);
CREATE INDEX IF NOT EXISTS idx_staging_norm_key ON staging_places(normalization_key);

CREATE TABLE IF NOT EXISTS duplicate_mappings (
	loser_source_id  TEXT PRIMARY KEY,
	winner_source_id TEXT NOT NULL,
	city_id          TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mappings_city ON duplicate_mappings(city_id);
CREATE INDEX IF NOT EXISTS idx_mappings_winner ON duplicate_mappings(winner_source_id);

CREATE TABLE IF NOT EXISTS hotlists (
	city_id      TEXT PRIMARY KEY,
	hotlist      JSONB NOT NULL,
	venue_count  INTEGER NOT NULL DEFAULT 0,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cities (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	country_code TEXT,
	lat          DOUBLE PRECISION NOT NULL,
	lng          DOUBLE PRECISION NOT NULL,
	min_lng      DOUBLE PRECISION NOT NULL,
	min_lat      DOUBLE PRECISION NOT NULL,
	max_lng      DOUBLE PRECISION NOT NULL,
	max_lat      DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	retry_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT,
	claimed_at   TIMESTAMPTZ,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cities_status ON cities(status, retry_count);

CREATE TABLE IF NOT EXISTS places (
	source_id       TEXT PRIMARY KEY,
	city_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	category        TEXT NOT NULL,
	relevance_score INTEGER NOT NULL DEFAULT 0,
	is_iconic       BOOLEAN NOT NULL DEFAULT false,
	lon             DOUBLE PRECISION,
	lat             DOUBLE PRECISION,
	boundary        BYTEA,
	boundary_src    TEXT,
	active          BOOLEAN NOT NULL DEFAULT true,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_places_city_active ON places(city_id, active);
CREATE INDEX IF NOT EXISTS idx_places_category ON places(category);

CREATE TABLE IF NOT EXISTS place_sources (
	loser_source_id  TEXT PRIMARY KEY,
	winner_source_id TEXT NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// stagingColumns is the column order used by CommitBatch. It must match
// stagingRow.
var stagingColumns = []string{
	"source_id", "city_id", "name", "category", "original_category",
	"street", "house_number", "neighborhood", "postal_code", "country_code",
	"lon", "lat", "has_geometry",
	"confidence", "has_website", "has_social", "source_count", "has_brand", "is_iconic",
	"normalization_key", "relevance_score", "score_flags",
	"boundary", "boundary_src", "state", "winner_id", "raw_payload", "updated_at",
}

var mappingColumns = []string{"loser_source_id", "winner_source_id", "city_id", "created_at"}

func stagingRow(cityID string, p *model.NormalizedPOI, now time.Time) ([]any, error) {
	flagsJSON, err := json.Marshal(p.ScoreFlags)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal score flags")
	}
	boundary, err := encodeBoundary(p.Boundary)
	if err != nil {
		return nil, err
	}

	var rawPayload any
	if len(p.RawPayload) > 0 {
		rawPayload = p.RawPayload
	}

	return []any{
		p.SourceID, cityID, p.Name, p.Category, p.OriginalCategory,
		p.Street, p.HouseNumber, p.Neighborhood, p.PostalCode, p.CountryCode,
		p.Lon, p.Lat, p.HasGeometry,
		p.Confidence, p.HasWebsite, p.HasSocial, p.SourceCount, p.HasBrand, p.IsIconic,
		p.NormalizationKey, p.RelevanceScore, flagsJSON,
		boundary, string(p.BoundarySrc), string(p.State), p.WinnerID, rawPayload, now,
	}, nil
}

// CommitBatch upserts a batch of staged places together with its duplicate
// mappings in one transaction.
func (s *PostgresStore) CommitBatch(ctx context.Context, cityID string, pois []*model.NormalizedPOI, mappings []model.DuplicateMapping) (int64, error) {
	if len(pois) == 0 && len(mappings) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	placeRows := make([][]any, 0, len(pois))
	for _, p := range pois {
		row, err := stagingRow(cityID, p, now)
		if err != nil {
			return 0, err
		}
		placeRows = append(placeRows, row)
	}

	mappingRows := make([][]any, len(mappings))
	for i, m := range mappings {
		mappingRows[i] = []any{m.LoserSourceID, m.WinnerSourceID, cityID, now}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: commit batch: begin tx")
	}
	defer tx.Rollback(ctx)

	n, err := db.UpsertTx(ctx, tx, db.UpsertConfig{
		Table:        "staging_places",
		Columns:      stagingColumns,
		ConflictKeys: []string{"source_id"},
	}, placeRows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: commit batch: staging places")
	}

	if _, err := db.UpsertTx(ctx, tx, db.UpsertConfig{
		Table:        "duplicate_mappings",
		Columns:      mappingColumns,
		ConflictKeys: []string{"loser_source_id"},
		UpdateCols:   []string{"winner_source_id", "city_id"},
	}, mappingRows); err != nil {
		return 0, eris.Wrap(err, "postgres: commit batch: duplicate mappings")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit batch: commit tx")
	}
	return n, nil
}

func (s *PostgresStore) ResolvedWinners(ctx context.Context, cityID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT loser_source_id, winner_source_id FROM duplicate_mappings WHERE city_id = $1`,
		cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolved winners")
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var loser, winner string
		if err := rows.Scan(&loser, &winner); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		out[loser] = winner
	}
	return out, eris.Wrap(rows.Err(), "postgres: resolved winners iterate")
}

const winnersQuery = `SELECT source_id, name, category, original_category,
	street, house_number, neighborhood, postal_code, country_code,
	lon, lat, has_geometry, confidence, has_website, has_social,
	source_count, has_brand, is_iconic, normalization_key, relevance_score,
	score_flags, boundary, boundary_src
 FROM staging_places
 WHERE city_id = $1 AND state = 'winner'
 ORDER BY relevance_score DESC, source_id`

func (s *PostgresStore) Winners(ctx context.Context, cityID string) ([]model.NormalizedPOI, error) {
	rows, err := s.pool.Query(ctx, winnersQuery, cityID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: winners")
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
			return nil, eris.Wrap(err, "postgres: scan winner")
		}
		if len(flagsJSON) > 0 {
			if err := json.Unmarshal(flagsJSON, &p.ScoreFlags); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal score flags")
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
	return out, eris.Wrap(rows.Err(), "postgres: winners iterate")
}

func (s *PostgresStore) MergeToProduction(ctx context.Context, cityID string) (*model.MergeStats, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: merge: begin tx")
	}
	defer tx.Rollback(ctx)

	stats := &model.MergeStats{}

	// Upsert winners into the production table; xmax = 0 distinguishes
	// fresh inserts from updates.
	err = tx.QueryRow(ctx,
		`WITH merged AS (
			INSERT INTO places (source_id, city_id, name, category, relevance_score,
				is_iconic, lon, lat, boundary, boundary_src, active, updated_at)
			SELECT source_id, city_id, name, category, relevance_score,
				is_iconic, lon, lat, boundary, boundary_src, true, now()
			FROM staging_places
			WHERE city_id = $1 AND state = 'winner'
			ON CONFLICT (source_id) DO UPDATE SET
				name = EXCLUDED.name, category = EXCLUDED.category,
				relevance_score = EXCLUDED.relevance_score, is_iconic = EXCLUDED.is_iconic,
				lon = EXCLUDED.lon, lat = EXCLUDED.lat,
				boundary = EXCLUDED.boundary, boundary_src = EXCLUDED.boundary_src,
				active = true, updated_at = now()
			RETURNING (xmax = 0) AS inserted
		)
		SELECT COUNT(*) FILTER (WHERE inserted), COUNT(*) FILTER (WHERE NOT inserted) FROM merged`,
		cityID,
	).Scan(&stats.Inserted, &stats.Updated)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: merge winners")
	}

	// Production rows of this city that are no longer winners go inactive.
	tag, err := tx.Exec(ctx,
		`UPDATE places SET active = false, updated_at = now()
		 WHERE city_id = $1 AND active
		   AND source_id NOT IN (
			SELECT source_id FROM staging_places WHERE city_id = $1 AND state = 'winner'
		 )`,
		cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: merge deactivate")
	}
	stats.Deactivated = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx,
		`INSERT INTO place_sources (loser_source_id, winner_source_id)
		 SELECT loser_source_id, winner_source_id FROM duplicate_mappings WHERE city_id = $1
		 ON CONFLICT (loser_source_id) DO UPDATE SET winner_source_id = EXCLUDED.winner_source_id`,
		cityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: merge sources")
	}
	stats.SourcesInserted = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: merge: commit tx")
	}
	return stats, nil
}

func (s *PostgresStore) GetHotlist(ctx context.Context, cityID string) (*model.CachedHotlist, error) {
	cached := model.CachedHotlist{CityID: cityID}
	var hotlistJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT hotlist, venue_count, generated_at FROM hotlists WHERE city_id = $1`,
		cityID,
	).Scan(&hotlistJSON, &cached.VenueCount, &cached.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get hotlist")
	}
	if err := json.Unmarshal(hotlistJSON, &cached.Hotlist); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hotlist")
	}
	return &cached, nil
}

func (s *PostgresStore) SaveHotlist(ctx context.Context, cached model.CachedHotlist) error {
	hotlistJSON, err := json.Marshal(cached.Hotlist)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal hotlist")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO hotlists (city_id, hotlist, venue_count, generated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (city_id) DO UPDATE SET hotlist = $2, venue_count = $3, generated_at = $4`,
		cached.CityID, hotlistJSON, cached.VenueCount, cached.GeneratedAt,
	)
	return eris.Wrap(err, "postgres: save hotlist")
}

func (s *PostgresStore) ImportCities(ctx context.Context, cities []model.City) (int, error) {
	if len(cities) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(cities))
	now := time.Now().UTC()
	for i, c := range cities {
		rows[i] = []any{
			c.ID, c.Name, c.CountryCode, c.Lat, c.Lng,
			c.BBox.MinLng, c.BBox.MinLat, c.BBox.MaxLng, c.BBox.MaxLat, now,
		}
	}

	// Re-imports refresh the geography but never touch queue state.
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "cities",
		Columns: []string{"id", "name", "country_code", "lat", "lng",
			"min_lng", "min_lat", "max_lng", "max_lat", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols: []string{"name", "country_code", "lat", "lng",
			"min_lng", "min_lat", "max_lng", "max_lat", "updated_at"},
	}, rows)
	return int(n), eris.Wrap(err, "postgres: import cities")
}

const claimCityQuery = `UPDATE cities
 SET status = 'processing', retry_count = retry_count + 1, claimed_at = now(), updated_at = now()
 WHERE id = (
	SELECT id FROM cities
	WHERE status = 'pending' AND retry_count < $1
	ORDER BY updated_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
 )
 RETURNING id, name, country_code, lat, lng, min_lng, min_lat, max_lng, max_lat, status, retry_count`

// ClaimNextCity atomically claims the oldest pending city. Concurrent
// workers never claim the same city. Returns nil when the queue is empty.
func (s *PostgresStore) ClaimNextCity(ctx context.Context) (*model.City, error) {
	var c model.City
	err := s.pool.QueryRow(ctx, claimCityQuery, model.MaxCityRetries).Scan(
		&c.ID, &c.Name, &c.CountryCode, &c.Lat, &c.Lng,
		&c.BBox.MinLng, &c.BBox.MinLat, &c.BBox.MaxLng, &c.BBox.MaxLat,
		&c.Status, &c.RetryCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: claim next city")
	}
	return &c, nil
}

func (s *PostgresStore) CompleteCity(ctx context.Context, cityID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cities SET status = 'completed', last_error = NULL, updated_at = now() WHERE id = $1`,
		cityID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete city %s", cityID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("city not found: %s", cityID)
	}
	return nil
}

// FailCity records the failure and returns the city to the queue, or parks
// it for manual review once its retries are exhausted.
func (s *PostgresStore) FailCity(ctx context.Context, cityID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cities
		 SET status = CASE WHEN retry_count >= $2 THEN 'manual_review' ELSE 'pending' END,
		     last_error = $3, updated_at = now()
		 WHERE id = $1`,
		cityID, model.MaxCityRetries, reason,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail city %s", cityID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("city not found: %s", cityID)
	}
	return nil
}

func (s *PostgresStore) QueueStats(ctx context.Context) (map[model.CityStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM cities GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: queue stats")
	}
	defer rows.Close()

	out := map[model.CityStatus]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue stats")
		}
		out[model.CityStatus(status)] = count
	}
	return out, eris.Wrap(rows.Err(), "postgres: queue stats iterate")
}
