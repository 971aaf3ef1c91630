package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bumpti/hydration-cli/internal/curation"
)

func testTables() *curation.Tables {
	return &curation.Tables{
		Taxonomy: curation.TaxonomyRules{
			ForbiddenHierarchyTerms: []string{"adult_entertainment", "sex_shop", "casino"},
			CrossValidation: map[string]curation.CrossRule{
				"church":  {ForbiddenTerms: []string{"bar", "club"}},
				"brewery": {RequiredTerms: []string{"cervejaria", "brewery", "brew"}},
			},
			RedFlags: map[string][]string{
				"amenity":    {"stripclub", "brothel"},
				"healthcare": {"massage"},
			},
		},
	}
}

func TestCrossValidate(t *testing.T) {
	tables := testTables()

	tests := []struct {
		name     string
		poiName  string
		category string
		want     bool
	}{
		{"no rule for category", "Qualquer Nome", "bar", true},
		{"forbidden term in name", "Igreja Bar Sagrado", "church", false},
		{"clean church", "Igreja Matriz", "church", true},
		{"required term present", "Cervejaria do Parque", "brewery", true},
		{"required term missing", "Casa Verde", "brewery", false},
		{"case insensitive", "IGREJA CLUB", "church", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CrossValidate(tt.poiName, tt.category, tables))
		})
	}
}

func TestCheckHierarchy(t *testing.T) {
	tables := testTables()

	tests := []struct {
		name       string
		primary    string
		alternates []string
		tags       map[string]string
		want       bool
	}{
		{"clean primary", "dance_club", nil, nil, true},
		{"forbidden primary", "adult_entertainment", nil, nil, false},
		{"forbidden alternate", "dance_club", []string{"bar", "adult_entertainment"}, nil, false},
		{"forbidden substring in primary", "casino_hotel", nil, nil, false},
		{"forbidden in tag bag", "bar", nil, map[string]string{"shop": "sex_shop"}, false},
		{"clean tags", "bar", []string{"pub"}, map[string]string{"amenity": "bar"}, true},
		{"empty alternate ignored", "bar", []string{""}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckHierarchy(tt.primary, tt.alternates, tt.tags, tables))
		})
	}
}

func TestCheckRedFlags(t *testing.T) {
	tables := testTables()

	tests := []struct {
		name string
		tags map[string]string
		want bool
	}{
		{"no tags", nil, true},
		{"clean tags", map[string]string{"amenity": "restaurant"}, true},
		{"red flag value", map[string]string{"amenity": "stripclub"}, false},
		{"red flag substring", map[string]string{"amenity": "stripclub_bar"}, false},
		{"massage without subtype", map[string]string{"healthcare": "massage"}, false},
		{"massage spa exempt", map[string]string{"healthcare": "massage", "massage": "spa"}, true},
		{"massage physio exempt", map[string]string{"healthcare": "massage", "massage": "physiotherapy"}, true},
		{"massage unknown subtype", map[string]string{"healthcare": "massage", "massage": "tantric"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckRedFlags(tt.tags, tables))
		})
	}
}
