package iconic

import (
	"context"
	"sort"
	"strings"
	"time"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/model"
)

// maxCandidatesPerName caps how many prefiltered records are sent to the
// validator for a single hotlist name.
const maxCandidatesPerName = 5

// HotlistCache persists generated hotlists between runs. Implemented by the
// store layer.
type HotlistCache interface {
	GetHotlist(ctx context.Context, cityID string) (*model.CachedHotlist, error)
	SaveHotlist(ctx context.Context, cached model.CachedHotlist) error
}

// oracle is the slice of Oracle the matcher consumes, split out so tests can
// substitute a scripted one.
type oracle interface {
	GenerateHotlist(ctx context.Context, cityName string) (model.Hotlist, error)
	ValidateMatches(ctx context.Context, batch []ValidationItem) (map[string]string, error)
}

// Config tunes the two-stage matching.
type Config struct {
	PrefilterScore int // minimum TokenSetRatio (0-100) to become a candidate
	BatchSize      int // validation items per oracle call
	TimeoutSecs    int // budget for one Mark call, 0 means no limit
}

// DefaultConfig returns the production matching parameters.
func DefaultConfig() Config {
	return Config{
		PrefilterScore: 70,
		BatchSize:      20,
		TimeoutSecs:    120,
	}
}

// Matcher finds the city's famous venues among a batch of normalized POIs.
// Matching is two-stage: a local fuzzy prefilter narrows each hotlist name
// to a handful of candidates, then the oracle confirms identity.
type Matcher struct {
	oracle oracle
	cache  HotlistCache
	cfg    Config
	now    func() time.Time
	log    *zap.Logger
}

// NewMatcher builds a Matcher. cache may be nil, in which case every run
// regenerates the hotlist.
func NewMatcher(o *Oracle, cache HotlistCache, cfg Config) *Matcher {
	return &Matcher{
		oracle: o,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		log:    zap.L().With(zap.String("component", "iconic.matcher")),
	}
}

// Mark returns the source ids among pois that the oracle confirms as iconic
// venues of the city. Any failure degrades to an empty set; iconic status is
// a score bonus, never a gate.
func (m *Matcher) Mark(ctx context.Context, city model.City, pois []*model.NormalizedPOI) map[string]bool {
	if m.cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(m.cfg.TimeoutSecs)*time.Second)
		defer cancel()
	}

	hotlist := m.hotlist(ctx, city)
	if len(hotlist) == 0 {
		return map[string]bool{}
	}

	items := m.prefilter(hotlist, pois)
	if len(items) == 0 {
		m.log.Info("no prefilter candidates", zap.String("city", city.Name))
		return map[string]bool{}
	}

	iconic := map[string]bool{}
	for start := 0; start < len(items); start += m.cfg.BatchSize {
		end := start + m.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}

		matches, err := m.oracle.ValidateMatches(ctx, items[start:end])
		if err != nil {
			m.log.Warn("validation batch failed, skipping",
				zap.String("city", city.Name),
				zap.Int("batch_start", start),
				zap.Error(err))
			continue
		}
		for _, id := range matches {
			iconic[id] = true
		}
	}

	m.log.Info("iconic matching done",
		zap.String("city", city.Name),
		zap.Int("hotlist_names", len(items)),
		zap.Int("iconic", len(iconic)))

	return iconic
}

// hotlist returns the city's hotlist from cache when fresh, otherwise
// regenerates it and caches the result. Returns nil on failure.
func (m *Matcher) hotlist(ctx context.Context, city model.City) model.Hotlist {
	if m.cache != nil {
		cached, err := m.cache.GetHotlist(ctx, city.ID)
		if err != nil {
			m.log.Warn("hotlist cache read failed", zap.String("city_id", city.ID), zap.Error(err))
		} else if cached != nil && !cached.Stale(m.now()) {
			m.log.Info("hotlist cache hit",
				zap.String("city_id", city.ID),
				zap.Int("venues", cached.Hotlist.VenueCount()))
			return cached.Hotlist
		}
	}

	hotlist, err := m.oracle.GenerateHotlist(ctx, city.Name)
	if err != nil {
		m.log.Warn("hotlist generation failed, skipping iconic matching",
			zap.String("city", city.Name), zap.Error(err))
		return nil
	}

	if m.cache != nil {
		saveErr := m.cache.SaveHotlist(ctx, model.CachedHotlist{
			CityID:      city.ID,
			Hotlist:     hotlist,
			VenueCount:  hotlist.VenueCount(),
			GeneratedAt: m.now(),
		})
		if saveErr != nil {
			m.log.Warn("hotlist cache write failed", zap.String("city_id", city.ID), zap.Error(saveErr))
		}
	}

	return hotlist
}

// prefilter runs the local fuzzy stage: for every hotlist name it keeps the
// top candidates of the same category scoring at least PrefilterScore.
func (m *Matcher) prefilter(hotlist model.Hotlist, pois []*model.NormalizedPOI) []ValidationItem {
	byCategory := map[string][]*model.NormalizedPOI{}
	for _, p := range pois {
		byCategory[p.Category] = append(byCategory[p.Category], p)
	}

	// Deterministic item order: sorted categories, hotlist order within.
	categories := make([]string, 0, len(hotlist))
	for cat := range hotlist {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var items []ValidationItem
	for _, cat := range categories {
		local := byCategory[cat]
		if len(local) == 0 {
			continue
		}
		for _, name := range hotlist[cat] {
			candidates := topCandidates(name, local, m.cfg.PrefilterScore)
			if len(candidates) == 0 {
				continue
			}
			items = append(items, ValidationItem{IconicName: name, Candidates: candidates})
		}
	}
	return items
}

// topCandidates scores every local record against the hotlist name and
// returns the best few above the threshold, strongest first.
func topCandidates(name string, local []*model.NormalizedPOI, minScore int) []Candidate {
	type scored struct {
		cand  Candidate
		score int
	}
	target := strings.ToLower(name)

	var hits []scored
	for _, p := range local {
		score := fuzzy.TokenSetRatio(target, strings.ToLower(p.Name))
		if score >= minScore {
			hits = append(hits, scored{Candidate{ID: p.SourceID, Name: p.Name}, score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > maxCandidatesPerName {
		hits = hits[:maxCandidatesPerName]
	}

	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = h.cand
	}
	return out
}
