// Package scoring computes the relevance score that decides which POIs are
// worth keeping and which winner represents a duplicate cluster.
package scoring

import (
	"sort"
	"strings"

	"github.com/bumpti/hydration-cli/internal/curation"
	"github.com/bumpti/hydration-cli/internal/model"
)

// ScoreInput carries the signals the additive scorer reads. All fields come
// from the normalized record.
type ScoreInput struct {
	Confidence   float64
	HasWebsite   bool
	HasSocial    bool // instagram or facebook presence only
	Street       string
	HouseNumber  string
	Neighborhood string
	SourceCount  int
	HasBrand     bool
	IsIconic     bool
}

// Score computes the additive relevance score. ok=false means the record is
// rejected outright: no digital footprint and provider confidence below 0.9.
func Score(in ScoreInput, w curation.ScoringWeights) (int, model.ScoreFlags, bool) {
	var flags model.ScoreFlags

	hasOnline := in.HasWebsite || in.HasSocial
	if !hasOnline && in.Confidence < 0.9 {
		return 0, flags, false
	}

	score := w.Base

	if in.IsIconic {
		score += w.Iconic
		flags.IconicBonus = true
	}

	if in.HasWebsite {
		score += w.Website
	}
	if in.HasSocial {
		score += w.Social
	}
	if in.Confidence >= 0.9 {
		score += w.HighConfidence
	}

	if strings.TrimSpace(in.HouseNumber) != "" {
		score += w.HouseNumber
	}
	if strings.TrimSpace(in.Neighborhood) != "" {
		score += w.Neighborhood
	}
	if strings.TrimSpace(in.Street) != "" {
		score += w.Street
	}

	// Consensus across providers beats any single listing.
	switch {
	case in.SourceCount >= 3:
		score += w.SourceMagnitude3Plus
		flags.MagnitudeBonus = w.SourceMagnitude3Plus
	case in.SourceCount == 2:
		score += w.SourceMagnitude2
		flags.MagnitudeBonus = w.SourceMagnitude2
	}

	if in.HasBrand {
		score += w.BrandAuthority
		flags.BrandBonus = true
	}

	if in.HasWebsite && in.HasSocial {
		score += w.DualPresence
		flags.DualPresenceBonus = true
	}

	return score, flags, true
}

// TaxonomyWeight returns the flat bonus for the first weight rule whose
// keyword appears in the combined internal+provider category string.
func TaxonomyWeight(category, originalCategory string, tables *curation.Tables) int {
	combined := strings.ToLower(category) + " " + strings.ToLower(originalCategory)

	// Rules are walked in sorted name order so overlapping keyword sets
	// resolve the same way on every run.
	names := make([]string, 0, len(tables.Taxonomy.Weights))
	for name := range tables.Taxonomy.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, kw := range tables.Taxonomy.Weights[name].Categories {
			if strings.Contains(combined, kw) {
				return tables.Taxonomy.Weights[name].Bonus
			}
		}
	}
	return 0
}

// ApplyModifiers applies the multiplicative stage: the most punitive
// matching penalty wins; boosts only apply when no penalty fired. The
// result is intentionally uncapped so the iconic bonus keeps dominating
// ordering after modifiers.
func ApplyModifiers(score int, internalCategory, originalCategory string, w curation.ScoringWeights) (int, float64) {
	modifier := 1.0

	originalLower := strings.ToLower(originalCategory)
	if p, ok := w.Penalties.SourceCategory[originalLower]; ok && p < modifier {
		modifier = p
	}
	for keyword, penalty := range w.Penalties.HierarchyKeywords {
		if strings.Contains(originalLower, keyword) && penalty < modifier {
			modifier = penalty
		}
	}

	if modifier >= 1.0 {
		if boost, ok := w.Boosts[strings.ToLower(internalCategory)]; ok {
			modifier = boost
		}
	}

	return int(float64(score) * modifier), modifier
}
