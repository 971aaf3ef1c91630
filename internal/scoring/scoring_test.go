package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bumpti/hydration-cli/internal/curation"
)

func weights() curation.ScoringWeights {
	return curation.DefaultScoringWeights()
}

func TestScoreRejection(t *testing.T) {
	w := weights()

	tests := []struct {
		name string
		in   ScoreInput
		ok   bool
	}{
		{"no footprint low confidence", ScoreInput{Confidence: 0.85}, false},
		{"no footprint boundary confidence", ScoreInput{Confidence: 0.9}, true},
		{"website saves low confidence", ScoreInput{Confidence: 0.5, HasWebsite: true}, true},
		{"social saves low confidence", ScoreInput{Confidence: 0.5, HasSocial: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := Score(tt.in, w)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestScoreAdditiveSlots(t *testing.T) {
	w := weights()

	// Fully loaded record hits every slot.
	in := ScoreInput{
		Confidence:   0.95,
		HasWebsite:   true,
		HasSocial:    true,
		Street:       "Rua XV de Novembro",
		HouseNumber:  "123",
		Neighborhood: "Centro",
		SourceCount:  3,
		HasBrand:     true,
		IsIconic:     true,
	}
	score, flags, ok := Score(in, w)
	assert.True(t, ok)

	want := w.Base + w.Iconic + w.Website + w.Social + w.HighConfidence +
		w.HouseNumber + w.Neighborhood + w.Street + w.SourceMagnitude3Plus +
		w.BrandAuthority + w.DualPresence
	assert.Equal(t, want, score)
	assert.True(t, flags.IconicBonus)
	assert.True(t, flags.BrandBonus)
	assert.True(t, flags.DualPresenceBonus)
	assert.Equal(t, w.SourceMagnitude3Plus, flags.MagnitudeBonus)
}

func TestScoreMagnitudeTiers(t *testing.T) {
	w := weights()
	base := ScoreInput{Confidence: 0.95}

	single, _, _ := Score(base, w)

	two := base
	two.SourceCount = 2
	scoreTwo, flagsTwo, _ := Score(two, w)
	assert.Equal(t, single+w.SourceMagnitude2, scoreTwo)
	assert.Equal(t, w.SourceMagnitude2, flagsTwo.MagnitudeBonus)

	five := base
	five.SourceCount = 5
	scoreFive, flagsFive, _ := Score(five, w)
	assert.Equal(t, single+w.SourceMagnitude3Plus, scoreFive)
	assert.Equal(t, w.SourceMagnitude3Plus, flagsFive.MagnitudeBonus)
}

func TestScoreWhitespaceAddressFieldsIgnored(t *testing.T) {
	w := weights()

	blank := ScoreInput{Confidence: 0.95, Street: "   ", HouseNumber: "\t"}
	filled := ScoreInput{Confidence: 0.95, Street: "Rua A", HouseNumber: "1"}

	sb, _, _ := Score(blank, w)
	sf, _, _ := Score(filled, w)
	assert.Equal(t, sb+w.Street+w.HouseNumber, sf)
}

func TestTaxonomyWeight(t *testing.T) {
	tables := &curation.Tables{
		Taxonomy: curation.TaxonomyRules{
			Weights: map[string]curation.TaxonomyWeightRule{
				"nightlife": {Categories: []string{"bar", "club"}, Bonus: 10},
				"culture":   {Categories: []string{"museum", "theatre"}, Bonus: 15},
			},
		},
	}

	assert.Equal(t, 15, TaxonomyWeight("museum", "art_museum", tables))
	assert.Equal(t, 10, TaxonomyWeight("bar", "cocktail_bar", tables))
	assert.Equal(t, 0, TaxonomyWeight("bakery", "bakery", tables))
	// Keyword may come from the provider category alone.
	assert.Equal(t, 10, TaxonomyWeight("restaurant", "sports_bar", tables))
}

func TestApplyModifiersPenaltyWins(t *testing.T) {
	w := weights()

	// Source-category penalty.
	score, mod := ApplyModifiers(100, "restaurant", "gas_station", w)
	assert.InDelta(t, 0.15, mod, 0.001)
	assert.Equal(t, 15, score)

	// Hierarchy keyword penalty, most punitive of the two applies.
	score, mod = ApplyModifiers(100, "restaurant", "fast_food_restaurant", w)
	assert.InDelta(t, 0.25, mod, 0.001)
	assert.Equal(t, 25, score)
}

func TestApplyModifiersBoostOnlyWithoutPenalty(t *testing.T) {
	w := weights()

	score, mod := ApplyModifiers(50, "stadium", "stadium_venue", w)
	assert.InDelta(t, 2.0, mod, 0.001)
	assert.Equal(t, 100, score)

	// A penalty suppresses the boost entirely.
	w.Penalties.HierarchyKeywords["stadium_venue"] = 0.5
	score, mod = ApplyModifiers(50, "stadium", "stadium_venue", w)
	assert.InDelta(t, 0.5, mod, 0.001)
	assert.Equal(t, 25, score)
}

func TestApplyModifiersUncapped(t *testing.T) {
	w := weights()

	// Iconic-loaded scores stay above 100 after a boost.
	score, _ := ApplyModifiers(160, "stadium", "stadium", w)
	assert.Equal(t, 320, score)
	assert.Greater(t, score, 100)
}

func TestApplyModifiersNeutral(t *testing.T) {
	w := weights()

	score, mod := ApplyModifiers(42, "bakery", "bakery", w)
	assert.InDelta(t, 1.0, mod, 0.001)
	assert.Equal(t, 42, score)
}
