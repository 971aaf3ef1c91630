// Package curation holds the externally supplied curation tables that drive
// category mapping, name cleaning, taxonomy validation, and scoring. Tables
// are loaded once per run and passed by parameter; nothing in this package
// is mutable after Load returns.
package curation

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Tables bundles every curation table the pipeline consumes.
type Tables struct {
	Categories CategoryRules  `yaml:"categories"`
	Names      NameRules      `yaml:"names"`
	Taxonomy   TaxonomyRules  `yaml:"taxonomy"`
	Scoring    ScoringWeights `yaml:"scoring"`
}

// CategoryRules maps the provider taxonomy onto the internal vocabulary.
type CategoryRules struct {
	// Mappings is keyed by internal category; each entry lists the provider
	// categories that collapse into it.
	Mappings map[string]CategoryMapping `yaml:"mappings"`

	// lookup is the inverted provider→internal index, built at load time.
	lookup map[string]string
}

// CategoryMapping lists the provider categories for one internal category.
type CategoryMapping struct {
	SourceCategories []string `yaml:"source_categories"`
}

// buildLookup inverts Mappings into the provider→internal index.
func (c *CategoryRules) buildLookup() {
	c.lookup = make(map[string]string)
	for internal, m := range c.Mappings {
		for _, src := range m.SourceCategories {
			c.lookup[src] = internal
		}
	}
}

// MapCategory resolves a provider category to the internal vocabulary.
// A category with no mapping means the record is dropped entirely.
func (c *CategoryRules) MapCategory(source string) (string, bool) {
	internal, ok := c.lookup[source]
	return internal, ok
}

// NameRules governs name sanitization.
type NameRules struct {
	// Blacklist terms reject a name outright (lowercase substring match).
	Blacklist []string `yaml:"blacklist"`
	// StripSuffixes are removed from the end of a name, in order. Each
	// suffix is checked once but the whole list is walked, so suffixes
	// can compound ("Ltda. ME" falls to both "ME" and "Ltda.").
	StripSuffixes []string `yaml:"strip_suffixes"`
}

// CrossRule is a per-category name/category consistency rule.
type CrossRule struct {
	RequiredTerms  []string `yaml:"required_terms,omitempty"`
	ForbiddenTerms []string `yaml:"forbidden_terms,omitempty"`
}

// TaxonomyWeightRule awards a flat bonus when any of its keywords appears in
// the combined internal+provider category string.
type TaxonomyWeightRule struct {
	Categories []string `yaml:"categories"`
	Bonus      int      `yaml:"bonus"`
}

// TaxonomyRules holds the hierarchy rejection, cross-validation, and
// source-tag red-flag tables.
type TaxonomyRules struct {
	ForbiddenHierarchyTerms []string                      `yaml:"forbidden_hierarchy_terms"`
	CrossValidation         map[string]CrossRule          `yaml:"cross_validation_rules"`
	RedFlags                map[string][]string           `yaml:"red_flags"`
	Weights                 map[string]TaxonomyWeightRule `yaml:"taxonomy_weights"`
}

// ScoringWeights holds every configurable bonus slot of the relevance
// scorer plus the multiplicative modifier tables. All additive slots are
// looked up here, never hard-coded.
type ScoringWeights struct {
	Base                 int `yaml:"base"`
	Website              int `yaml:"website"`
	Social               int `yaml:"social"`
	HighConfidence       int `yaml:"high_confidence"`
	HouseNumber          int `yaml:"house_number"`
	Neighborhood         int `yaml:"neighborhood"`
	Street               int `yaml:"street"`
	SourceMagnitude2     int `yaml:"source_magnitude_2"`
	SourceMagnitude3Plus int `yaml:"source_magnitude_3plus"`
	BrandAuthority       int `yaml:"brand_authority"`
	DualPresence         int `yaml:"dual_presence"`
	Iconic               int `yaml:"iconic"`

	Penalties ModifierPenalties  `yaml:"penalties"`
	Boosts    map[string]float64 `yaml:"boosts"`
}

// ModifierPenalties are the multiplicative penalty tables applied after the
// additive stage. The most punitive matching multiplier wins.
type ModifierPenalties struct {
	SourceCategory    map[string]float64 `yaml:"source_category"`
	HierarchyKeywords map[string]float64 `yaml:"hierarchy_keywords"`
}

// DefaultScoringWeights returns the production weight table.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Base:                 5,
		Website:              10,
		Social:               20,
		HighConfidence:       5,
		HouseNumber:          5,
		Neighborhood:         5,
		Street:               5,
		SourceMagnitude2:     10,
		SourceMagnitude3Plus: 20,
		BrandAuthority:       15,
		DualPresence:         10,
		Iconic:               100,

		Penalties: ModifierPenalties{
			SourceCategory: map[string]float64{
				"fast_food_restaurant": 0.25,
				"gas_station":          0.15,
				"convenience_store":    0.30,
			},
			HierarchyKeywords: map[string]float64{
				"fast_food": 0.25,
				"drive":     0.40,
			},
		},
		Boosts: map[string]float64{
			"stadium":    2.0,
			"university": 1.8,
			"park":       1.5,
		},
	}
}

// Validate checks the weight table for internal consistency.
func (w ScoringWeights) Validate() error {
	var errs []string

	slots := map[string]int{
		"base":                   w.Base,
		"website":                w.Website,
		"social":                 w.Social,
		"high_confidence":        w.HighConfidence,
		"house_number":           w.HouseNumber,
		"neighborhood":           w.Neighborhood,
		"street":                 w.Street,
		"source_magnitude_2":     w.SourceMagnitude2,
		"source_magnitude_3plus": w.SourceMagnitude3Plus,
		"brand_authority":        w.BrandAuthority,
		"dual_presence":          w.DualPresence,
		"iconic":                 w.Iconic,
	}
	for name, v := range slots {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	if w.SourceMagnitude3Plus < w.SourceMagnitude2 {
		errs = append(errs, "source_magnitude_3plus must be >= source_magnitude_2")
	}

	for cat, mul := range w.Penalties.SourceCategory {
		if mul < 0 || mul > 1 {
			errs = append(errs, fmt.Sprintf("penalty %s must be in [0,1]", cat))
		}
	}
	for kw, mul := range w.Penalties.HierarchyKeywords {
		if mul < 0 || mul > 1 {
			errs = append(errs, fmt.Sprintf("hierarchy penalty %s must be in [0,1]", kw))
		}
	}
	for cat, mul := range w.Boosts {
		if mul < 1 {
			errs = append(errs, fmt.Sprintf("boost %s must be >= 1", cat))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("curation: scoring weights invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}
