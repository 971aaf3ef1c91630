// Package resolver clusters normalized POIs that describe the same
// real-world entity and elects one winner per cluster. Matching is
// conservative: unrelated venues must never merge, so every positive
// signal short of a shared source id also needs an address anchor.
package resolver

import (
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"go.uber.org/zap"

	"github.com/bumpti/hydration-cli/internal/model"
)

// Config tunes candidate discovery and the fuzzy tiebreak.
type Config struct {
	// RadiusM is the candidate search radius for ordinary venues.
	RadiusM float64
	// LargeRadiusM applies to categories whose footprint spans blocks.
	LargeRadiusM float64
	// FuzzyThreshold is the token-set similarity (0..1] above which two
	// distinct keys still count as the same name.
	FuzzyThreshold float64
	// LargeCategories are the internal categories using LargeRadiusM.
	LargeCategories []string
}

// DefaultConfig returns the production resolution settings.
func DefaultConfig() Config {
	return Config{
		RadiusM:         100,
		LargeRadiusM:    1500,
		FuzzyThreshold:  0.95,
		LargeCategories: []string{"park", "stadium", "shopping", "university", "event_venue", "club"},
	}
}

// Resolver performs entity resolution over one city's candidate batch.
type Resolver struct {
	cfg   Config
	large map[string]struct{}
	log   *zap.Logger
}

// New builds a Resolver from cfg.
func New(cfg Config) *Resolver {
	large := make(map[string]struct{}, len(cfg.LargeCategories))
	for _, c := range cfg.LargeCategories {
		large[c] = struct{}{}
	}
	return &Resolver{
		cfg:   cfg,
		large: large,
		log:   zap.L().With(zap.String("component", "resolver")),
	}
}

// anchorMatch applies the address anchor rule. The strongest available
// address component decides: house numbers when both records have one,
// otherwise postal codes when both have one, otherwise no objection.
func anchorMatch(a, b *model.NormalizedPOI) bool {
	if a.HouseNumber != "" && b.HouseNumber != "" {
		return a.HouseNumber == b.HouseNumber
	}
	if a.PostalCode != "" && b.PostalCode != "" {
		return a.PostalCode == b.PostalCode
	}
	return true
}

// SameEntity runs the match cascade. Caller guarantees the two records
// share an internal category; cross-category pairs never reach here.
func (r *Resolver) SameEntity(a, b *model.NormalizedPOI) bool {
	// A shared source id is the provider telling us it is one entity,
	// overriding names and addresses.
	if a.SourceID == b.SourceID {
		return true
	}

	if a.NormalizationKey == b.NormalizationKey {
		return anchorMatch(a, b)
	}

	if r.cfg.FuzzyThreshold > 0 && a.NormalizationKey != "" && b.NormalizationKey != "" {
		sim := float64(fuzzy.TokenSetRatio(a.NormalizationKey, b.NormalizationKey)) / 100.0
		if sim > r.cfg.FuzzyThreshold {
			return anchorMatch(a, b)
		}
	}

	return false
}

// completeness ranks cluster members for winner election. Richer address
// data and provider confidence win; score is deliberately independent of
// relevance so a spammy listing cannot out-rank a well-addressed one.
func completeness(p *model.NormalizedPOI) int {
	score := 0
	if strings.TrimSpace(p.Street) != "" {
		score += 10
	}
	if strings.TrimSpace(p.HouseNumber) != "" {
		score += 10
	}
	if strings.TrimSpace(p.PostalCode) != "" {
		score += 10
	}
	if p.HasWebsite {
		score += 5
	}
	if p.HasSocial {
		score += 5
	}
	score += int(p.Confidence * 100)
	return score
}

// searchRadius returns the candidate radius for a category.
func (r *Resolver) searchRadius(category string) float64 {
	if _, ok := r.large[category]; ok {
		return r.cfg.LargeRadiusM
	}
	return r.cfg.RadiusM
}

// Resolve clusters batch and elects winners. known maps previously
// persisted loser source ids to their winners; records that already
// resolved as losers are skipped so reprocessing stays idempotent.
// Records without usable geometry become singleton winners.
//
// Returned winners keep their input order; mappings include a reflexive
// entry for every winner.
func (r *Resolver) Resolve(batch []model.NormalizedPOI, known map[string]string) ([]model.NormalizedPOI, []model.DuplicateMapping) {
	// Drop known losers up front.
	work := make([]*model.NormalizedPOI, 0, len(batch))
	for i := range batch {
		p := &batch[i]
		if winner, ok := known[p.SourceID]; ok && winner != p.SourceID {
			continue
		}
		work = append(work, p)
	}

	// Index the spatially clusterable records.
	var pts []kdPoint
	for i, p := range work {
		if p.HasGeometry {
			pts = append(pts, kdPoint{lon: p.Lon, lat: p.Lat, idx: i})
		}
	}
	tree := newKDTree(pts)

	// Union-find over work indices; roots keep the lowest (first-seen)
	// index so election ties stay deterministic.
	parent := make([]int, len(work))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		if ra > rb {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for i, p := range work {
		if !p.HasGeometry {
			continue
		}
		candidates := tree.withinRadius(p.Lon, p.Lat, r.searchRadius(p.Category))
		for _, j := range candidates {
			if j <= i {
				continue
			}
			q := work[j]
			// Category protection: different categories never merge.
			if p.Category != q.Category {
				continue
			}
			if r.SameEntity(p, q) {
				union(i, j)
			}
		}
	}

	// Elect one winner per cluster by completeness, first seen wins ties.
	bestOf := make(map[int]int) // root -> winning work index
	for i := range work {
		root := find(i)
		best, ok := bestOf[root]
		if !ok || completeness(work[i]) > completeness(work[best]) {
			bestOf[root] = i
		}
	}

	var winners []model.NormalizedPOI
	var mappings []model.DuplicateMapping
	merged := 0

	for i, p := range work {
		winnerIdx := bestOf[find(i)]
		winner := work[winnerIdx]
		if i == winnerIdx {
			p.State = model.StateWinner
			p.WinnerID = ""
			winners = append(winners, *p)
			mappings = append(mappings, model.DuplicateMapping{
				LoserSourceID:  p.SourceID,
				WinnerSourceID: p.SourceID,
			})
			continue
		}
		p.State = model.StateLoser
		p.WinnerID = winner.SourceID
		mappings = append(mappings, model.DuplicateMapping{
			LoserSourceID:  p.SourceID,
			WinnerSourceID: winner.SourceID,
		})
		merged++
	}

	r.log.Info("resolution complete",
		zap.Int("input", len(batch)),
		zap.Int("skipped_known", len(batch)-len(work)),
		zap.Int("winners", len(winners)),
		zap.Int("merged", merged))

	return winners, mappings
}
