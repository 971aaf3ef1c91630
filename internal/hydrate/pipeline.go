package hydrate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/curation"
	"github.com/bumpti/hydration-cli/internal/geofence"
	"github.com/bumpti/hydration-cli/internal/model"
	"github.com/bumpti/hydration-cli/internal/normalize"
	"github.com/bumpti/hydration-cli/internal/resolver"
	"github.com/bumpti/hydration-cli/internal/scoring"
	"github.com/bumpti/hydration-cli/internal/store"
	"github.com/bumpti/hydration-cli/internal/validate"
	"github.com/bumpti/hydration-cli/pkg/landuse"
)

// Config tunes commit batching.
type Config struct {
	BatchSize   int
	PauseMillis int
}

// DefaultConfig returns the production batching parameters.
func DefaultConfig() Config {
	return Config{BatchSize: 500, PauseMillis: 200}
}

// Pipeline runs one city end to end. It is single-threaded within a city;
// concurrency lives in the worker, one goroutine per claimed city.
type Pipeline struct {
	tables   *curation.Tables
	store    store.Store
	records  RecordProvider
	polygons PolygonProvider // nil means fallback buffers only
	matcher  IconicMarker    // nil disables iconic matching
	resolver *resolver.Resolver
	fence    *geofence.Builder
	cfg      Config
	log      *zap.Logger
}

// New assembles a Pipeline. polygons and matcher may be nil; the respective
// stages degrade gracefully.
func New(tables *curation.Tables, st store.Store, records RecordProvider,
	polygons PolygonProvider, matcher IconicMarker,
	res *resolver.Resolver, fence *geofence.Builder, cfg Config) *Pipeline {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Pipeline{
		tables:   tables,
		store:    st,
		records:  records,
		polygons: polygons,
		matcher:  matcher,
		resolver: res,
		fence:    fence,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "hydrate.pipeline")),
	}
}

// Run processes one city: fetch raw records, reject-fast validation chain,
// iconic marking, scoring, entity resolution, boundaries for winners, and
// batched persistence followed by the production merge.
func (p *Pipeline) Run(ctx context.Context, city model.City) (*Metrics, error) {
	metrics := &Metrics{}

	known, err := p.store.ResolvedWinners(ctx, city.ID)
	if err != nil {
		return metrics, eris.Wrap(err, "hydrate: load resolved winners")
	}

	var survivors []model.NormalizedPOI
	err = p.records.FetchPOIs(ctx, city.BBox, func(page []model.RawPOIRecord) error {
		for i := range page {
			metrics.Fetched++
			if poi := p.normalizeRecord(&page[i], metrics); poi != nil {
				survivors = append(survivors, *poi)
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return metrics, eris.Wrap(err, "hydrate: fetch records")
	}

	p.markIconic(ctx, city, survivors, metrics)

	scored := survivors[:0]
	for i := range survivors {
		if p.scoreRecord(&survivors[i], metrics) {
			scored = append(scored, survivors[i])
		}
	}
	metrics.Accepted = len(scored)

	resolved, mappings := p.resolver.Resolve(scored, known)
	for i := range resolved {
		switch resolved[i].State {
		case model.StateWinner:
			metrics.Winners++
		case model.StateLoser:
			metrics.Duplicates++
		}
	}

	p.buildBoundaries(ctx, city, resolved)

	if err := p.persist(ctx, city.ID, resolved, mappings); err != nil {
		return metrics, err
	}

	stats, err := p.store.MergeToProduction(ctx, city.ID)
	if err != nil {
		return metrics, eris.Wrap(err, "hydrate: merge to production")
	}
	p.log.Info("production merge",
		zap.String("city", city.Name),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("deactivated", stats.Deactivated),
		zap.Int("sources", stats.SourcesInserted))

	metrics.LogSummary(p.log, city.Name)
	return metrics, nil
}

// normalizeRecord runs the reject-fast chain. A nil return means the record
// was dropped; the metrics say at which stage.
func (p *Pipeline) normalizeRecord(raw *model.RawPOIRecord, m *Metrics) *model.NormalizedPOI {
	category, ok := p.tables.Categories.MapCategory(raw.Category)
	if !ok {
		m.CategoryUnmapped++
		return nil
	}
	if !validate.CheckHierarchy(raw.Category, raw.AlternateCategories, raw.SourceTags, p.tables) {
		m.TaxonomyForbidden++
		return nil
	}
	if !validate.CheckRedFlags(raw.SourceTags, p.tables) {
		m.RedFlag++
		return nil
	}
	name := normalize.SanitizeName(raw.Name, p.tables.Names)
	if name == "" {
		m.NameBlacklisted++
		return nil
	}
	if !validate.CrossValidate(name, category, p.tables) {
		m.CrossValidation++
		return nil
	}

	street, houseNumber := normalize.ParseStreetAddress(raw.Freeform)
	lon, lat, hasGeom := decodePoint(raw.GeomWKB)
	if !hasGeom {
		// Kept as a geometry-less singleton; it can still win on its own.
		m.MalformedGeometry++
	}

	hasSocial := false
	for _, s := range raw.Socials {
		if s.Platform == "instagram" || s.Platform == "facebook" {
			hasSocial = true
			break
		}
	}

	rawPayload, _ := json.Marshal(raw)

	return &model.NormalizedPOI{
		SourceID:         raw.SourceID,
		Name:             name,
		Category:         category,
		OriginalCategory: raw.Category,
		Street:           street,
		HouseNumber:      houseNumber,
		Neighborhood:     raw.Locality,
		PostalCode:       raw.PostalCode,
		CountryCode:      raw.CountryCode,
		Lon:              lon,
		Lat:              lat,
		HasGeometry:      hasGeom,
		Confidence:       raw.Confidence,
		HasWebsite:       len(raw.Websites) > 0,
		HasSocial:        hasSocial,
		SourceCount:      raw.SourceCount,
		HasBrand:         raw.HasBrand,
		NormalizationKey: normalize.Key(name),
		State:            model.StateUnprocessed,
		RawPayload:       rawPayload,
	}
}

// markIconic flags the survivors confirmed by the iconic matcher.
func (p *Pipeline) markIconic(ctx context.Context, city model.City, survivors []model.NormalizedPOI, m *Metrics) {
	if p.matcher == nil || len(survivors) == 0 {
		return
	}

	ptrs := make([]*model.NormalizedPOI, len(survivors))
	for i := range survivors {
		ptrs[i] = &survivors[i]
	}
	iconic := p.matcher.Mark(ctx, city, ptrs)
	for i := range survivors {
		if iconic[survivors[i].SourceID] {
			survivors[i].IsIconic = true
			m.Iconic++
		}
	}
}

// scoreRecord computes the relevance score. False means the record failed
// the minimum-signal gate.
func (p *Pipeline) scoreRecord(poi *model.NormalizedPOI, m *Metrics) bool {
	score, flags, ok := scoring.Score(scoring.ScoreInput{
		Confidence:   poi.Confidence,
		HasWebsite:   poi.HasWebsite,
		HasSocial:    poi.HasSocial,
		Street:       poi.Street,
		HouseNumber:  poi.HouseNumber,
		Neighborhood: poi.Neighborhood,
		SourceCount:  poi.SourceCount,
		HasBrand:     poi.HasBrand,
		IsIconic:     poi.IsIconic,
	}, p.tables.Scoring)
	if !ok {
		m.ScoreRejected++
		return false
	}

	score += scoring.TaxonomyWeight(poi.Category, poi.OriginalCategory, p.tables)
	score, _ = scoring.ApplyModifiers(score, poi.Category, poi.OriginalCategory, p.tables.Scoring)

	poi.RelevanceScore = score
	poi.ScoreFlags = flags
	return true
}

// buildBoundaries computes boundary geometry for winners. Polygon provider
// failures degrade to fallback buffers.
func (p *Pipeline) buildBoundaries(ctx context.Context, city model.City, resolved []model.NormalizedPOI) {
	var candidates []landuse.Polygon
	if p.polygons != nil {
		var err error
		candidates, err = p.polygons.FetchPolygons(ctx, city.BBox)
		if err != nil {
			p.log.Warn("polygon fetch failed, using fallback buffers",
				zap.String("city", city.Name), zap.Error(err))
			candidates = nil
		}
	}

	for i := range resolved {
		if resolved[i].State != model.StateWinner {
			continue
		}
		boundary, src := p.fence.Boundary(&resolved[i], candidates)
		resolved[i].Boundary = boundary
		resolved[i].BoundarySrc = src
	}
}

// persist commits the resolved records in batches, each batch carrying its
// own duplicate mappings so places and mappings land in one transaction. A
// short pause between batches keeps the store responsive for other tenants.
func (p *Pipeline) persist(ctx context.Context, cityID string, resolved []model.NormalizedPOI, mappings []model.DuplicateMapping) error {
	if len(resolved) == 0 {
		if len(mappings) == 0 {
			return nil
		}
		_, err := p.store.CommitBatch(ctx, cityID, nil, mappings)
		return eris.Wrap(err, "hydrate: persist mappings")
	}

	byLoser := make(map[string]model.DuplicateMapping, len(mappings))
	for _, m := range mappings {
		byLoser[m.LoserSourceID] = m
	}

	for start := 0; start < len(resolved); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(resolved) {
			end = len(resolved)
		}

		batch := make([]*model.NormalizedPOI, 0, end-start)
		batchMappings := make([]model.DuplicateMapping, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, &resolved[i])
			if m, ok := byLoser[resolved[i].SourceID]; ok {
				batchMappings = append(batchMappings, m)
				delete(byLoser, resolved[i].SourceID)
			}
		}
		if end == len(resolved) {
			// Mappings whose loser was not persisted this run still ride
			// along with the final batch.
			for _, m := range byLoser {
				batchMappings = append(batchMappings, m)
			}
		}

		if _, err := p.store.CommitBatch(ctx, cityID, batch, batchMappings); err != nil {
			return eris.Wrapf(err, "hydrate: persist batch at %d", start)
		}

		if end < len(resolved) && p.cfg.PauseMillis > 0 {
			select {
			case <-ctx.Done():
				return eris.Wrap(ctx.Err(), "hydrate: persist interrupted")
			case <-time.After(time.Duration(p.cfg.PauseMillis) * time.Millisecond):
			}
		}
	}
	return nil
}

// decodePoint parses a WKB point. Anything else counts as malformed.
func decodePoint(wkbBytes []byte) (lon, lat float64, ok bool) {
	if len(wkbBytes) == 0 {
		return 0, 0, false
	}
	g, err := wkb.Unmarshal(wkbBytes)
	if err != nil {
		return 0, 0, false
	}
	pt, isPoint := g.(*geom.Point)
	if !isPoint || pt.Empty() {
		return 0, 0, false
	}
	return pt.X(), pt.Y(), true
}
