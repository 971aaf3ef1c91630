package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bumpti/hydration-cli/internal/model"
	"github.com/bumpti/hydration-cli/internal/normalize"
)

func poi(id, name, category string, lon, lat float64) model.NormalizedPOI {
	return model.NormalizedPOI{
		SourceID:         id,
		Name:             name,
		Category:         category,
		Lon:              lon,
		Lat:              lat,
		HasGeometry:      true,
		NormalizationKey: normalize.Key(name),
	}
}

func winnersByID(winners []model.NormalizedPOI) map[string]bool {
	out := make(map[string]bool, len(winners))
	for _, w := range winners {
		out[w.SourceID] = true
	}
	return out
}

func mappingFor(mappings []model.DuplicateMapping, loser string) (string, bool) {
	for _, m := range mappings {
		if m.LoserSourceID == loser {
			return m.WinnerSourceID, true
		}
	}
	return "", false
}

func TestAnchorMatch(t *testing.T) {
	tests := []struct {
		name string
		a, b model.NormalizedPOI
		want bool
	}{
		{"different house numbers block", model.NormalizedPOI{HouseNumber: "100", PostalCode: "80000"}, model.NormalizedPOI{HouseNumber: "102", PostalCode: "80000"}, false},
		{"same house numbers pass", model.NormalizedPOI{HouseNumber: "100"}, model.NormalizedPOI{HouseNumber: "100"}, true},
		{"postal fallback blocks", model.NormalizedPOI{PostalCode: "80000"}, model.NormalizedPOI{PostalCode: "80100"}, false},
		{"postal fallback passes", model.NormalizedPOI{PostalCode: "80000"}, model.NormalizedPOI{PostalCode: "80000"}, true},
		{"house number beats postal", model.NormalizedPOI{HouseNumber: "1", PostalCode: "80000"}, model.NormalizedPOI{HouseNumber: "1", PostalCode: "80100"}, true},
		{"no anchors pass", model.NormalizedPOI{}, model.NormalizedPOI{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, anchorMatch(&tt.a, &tt.b))
		})
	}
}

func TestSameEntitySourceIDOverridesEverything(t *testing.T) {
	r := New(DefaultConfig())

	a := poi("same-id", "Different Name A", "bar", -49.3, -25.4)
	a.HouseNumber, a.PostalCode = "100", "80000"
	b := poi("same-id", "Different Name B", "bar", -49.3, -25.4)
	b.HouseNumber, b.PostalCode = "102", "80100"

	assert.True(t, r.SameEntity(&a, &b))
}

func TestSameEntityKeyPlusAnchor(t *testing.T) {
	r := New(DefaultConfig())

	a := poi("id1", "Bar do Alemão", "bar", -49.3, -25.4)
	b := poi("id2", "Alemão Bar", "bar", -49.3, -25.4)
	assert.True(t, r.SameEntity(&a, &b), "same key, no anchors")

	b.HouseNumber = "200"
	a.HouseNumber = "100"
	assert.False(t, r.SameEntity(&a, &b), "anchor mismatch blocks")
}

func TestSameEntityFuzzyTiebreak(t *testing.T) {
	r := New(DefaultConfig())

	a := poi("main-123", "Parque Barigui", "park", -49.3258, -25.4225)
	b := poi("full-789", "Parque Municipal do Barigui", "park", -49.3259, -25.4226)
	assert.NotEqual(t, a.NormalizationKey, b.NormalizationKey)
	assert.True(t, r.SameEntity(&a, &b), "subset name should clear the fuzzy threshold")

	c := poi("bacacheri-456", "Parque Bacacheri", "park", -49.3260, -25.4230)
	assert.False(t, r.SameEntity(&a, &c), "genuinely different parks must not match")
}

func TestResolveDifferentParksNeverMerge(t *testing.T) {
	r := New(DefaultConfig())

	barigui := poi("barigui-123", "Parque Barigui", "park", -49.3258, -25.4225)
	barigui.PostalCode = "82000"
	bacacheri := poi("bacacheri-456", "Parque Bacacheri", "park", -49.3260, -25.4230) // ~60m away
	bacacheri.PostalCode = "82000"

	winners, mappings := r.Resolve([]model.NormalizedPOI{barigui, bacacheri}, nil)
	require.Len(t, winners, 2)
	assert.Len(t, mappings, 2) // reflexive entries only
}

func TestResolveMergesVariations(t *testing.T) {
	r := New(DefaultConfig())

	main := poi("main-123", "Parque Barigui", "park", -49.3258, -25.4225)
	main.Street = "Av. Cândido Hartmann"
	main.Confidence = 0.9
	typo := poi("typo-456", "Parque Barigüi", "park", -49.3260, -25.4227)
	typo.Confidence = 0.5
	full := poi("full-789", "Parque Municipal do Barigui", "park", -49.3259, -25.4226)
	full.Confidence = 0.6

	winners, mappings := r.Resolve([]model.NormalizedPOI{main, typo, full}, nil)
	require.Len(t, winners, 1)
	assert.Equal(t, "main-123", winners[0].SourceID)

	w, ok := mappingFor(mappings, "typo-456")
	require.True(t, ok)
	assert.Equal(t, "main-123", w)
	w, ok = mappingFor(mappings, "full-789")
	require.True(t, ok)
	assert.Equal(t, "main-123", w)
}

func TestResolveCategoryProtection(t *testing.T) {
	r := New(DefaultConfig())

	bar := poi("id1", "Central", "bar", -49.3, -25.4)
	cafe := poi("id2", "Central", "cafe", -49.3, -25.4)

	winners, _ := r.Resolve([]model.NormalizedPOI{bar, cafe}, nil)
	assert.Len(t, winners, 2, "identical names in different categories stay apart")
}

func TestResolveChainStoresStayApart(t *testing.T) {
	r := New(DefaultConfig())

	store1 := poi("store1-123", "Padaria Central", "bakery", -49.3, -25.4)
	store1.HouseNumber, store1.PostalCode = "100", "80000"
	store2 := poi("store2-456", "Padaria Central", "bakery", -49.3001, -25.4001) // ~50m
	store2.HouseNumber, store2.PostalCode = "200", "80000"

	winners, _ := r.Resolve([]model.NormalizedPOI{store1, store2}, nil)
	assert.Len(t, winners, 2)
}

func TestResolveWinnerElection(t *testing.T) {
	r := New(DefaultConfig())

	sparse := poi("sparse", "Bar do Alemão", "bar", -49.3, -25.4)
	sparse.Confidence = 0.6
	rich := poi("rich", "Alemão Bar", "bar", -49.3001, -25.4001)
	rich.Street, rich.HouseNumber, rich.PostalCode = "Rua A", "10", "80000"
	rich.HasWebsite, rich.HasSocial = true, true
	rich.Confidence = 0.95

	// Sparse record first: election must still pick the richer one.
	winners, mappings := r.Resolve([]model.NormalizedPOI{sparse, rich}, nil)
	require.Len(t, winners, 1)
	assert.Equal(t, "rich", winners[0].SourceID)

	w, ok := mappingFor(mappings, "sparse")
	require.True(t, ok)
	assert.Equal(t, "rich", w)
}

func TestResolveTieBrokenByInputOrder(t *testing.T) {
	r := New(DefaultConfig())

	first := poi("first", "Café Azul", "cafe", -49.3, -25.4)
	second := poi("second", "Café Azul", "cafe", -49.30005, -25.40005)

	winners, _ := r.Resolve([]model.NormalizedPOI{first, second}, nil)
	require.Len(t, winners, 1)
	assert.Equal(t, "first", winners[0].SourceID)

	// Same inputs, same outcome, run after run.
	for i := 0; i < 5; i++ {
		again, _ := r.Resolve([]model.NormalizedPOI{first, second}, nil)
		require.Len(t, again, 1)
		assert.Equal(t, "first", again[0].SourceID)
	}
}

func TestResolveKnownLosersSkipped(t *testing.T) {
	r := New(DefaultConfig())

	winner := poi("winner", "Bar Central", "bar", -49.3, -25.4)
	loser := poi("loser", "Central Bar", "bar", -49.3001, -25.4)

	known := map[string]string{
		"winner": "winner",
		"loser":  "winner",
	}

	winners, mappings := r.Resolve([]model.NormalizedPOI{winner, loser}, known)
	require.Len(t, winners, 1)
	assert.Equal(t, "winner", winners[0].SourceID)

	// Only the winner's reflexive mapping is re-emitted.
	require.Len(t, mappings, 1)
	assert.Equal(t, "winner", mappings[0].LoserSourceID)
}

func TestResolveGeometrylessSingletons(t *testing.T) {
	r := New(DefaultConfig())

	broken := poi("broken", "Bar Central", "bar", 0, 0)
	broken.HasGeometry = false
	near := poi("near", "Bar Central", "bar", -49.3, -25.4)

	winners, _ := r.Resolve([]model.NormalizedPOI{broken, near}, nil)
	ids := winnersByID(winners)
	assert.True(t, ids["broken"], "geometry-less record stays a singleton winner")
	assert.True(t, ids["near"])
}

func TestKDTreeWithinRadius(t *testing.T) {
	pts := []kdPoint{
		{lon: -49.3258, lat: -25.4225, idx: 0},
		{lon: -49.3260, lat: -25.4230, idx: 1}, // ~60m from idx 0
		{lon: -49.3400, lat: -25.4225, idx: 2}, // ~1.4km from idx 0
		{lon: -49.2000, lat: -25.4225, idx: 3}, // ~12.6km from idx 0
	}
	tree := newKDTree(pts)

	got := tree.withinRadius(-49.3258, -25.4225, 100)
	assert.ElementsMatch(t, []int{0, 1}, got)

	got = tree.withinRadius(-49.3258, -25.4225, 1500)
	assert.ElementsMatch(t, []int{0, 1, 2}, got)

	got = tree.withinRadius(-49.3258, -25.4225, 20000)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, got)
}
