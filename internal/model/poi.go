// Package model defines the core data types shared across the hydration pipeline.
package model

import (
	"time"

	"github.com/twpayne/go-geom"
)

// SocialProfile is a single social media presence attached to a raw record.
type SocialProfile struct {
	Platform string `json:"platform"`
	URL      string `json:"url,omitempty"`
}

// RawPOIRecord is one point-of-interest row as delivered by the bulk
// provider. It is read-only: the pipeline never mutates a raw record.
type RawPOIRecord struct {
	SourceID            string            `json:"source_id"`
	Name                string            `json:"name"`
	Category            string            `json:"category"`
	AlternateCategories []string          `json:"alternate_categories,omitempty"`
	GeomWKB             []byte            `json:"-"`
	Freeform            string            `json:"freeform,omitempty"`
	Locality            string            `json:"locality,omitempty"`
	Region              string            `json:"region,omitempty"`
	PostalCode          string            `json:"postal_code,omitempty"`
	CountryCode         string            `json:"country_code,omitempty"`
	Confidence          float64           `json:"confidence"`
	SourceTags          map[string]string `json:"source_tags,omitempty"`
	Websites            []string          `json:"websites,omitempty"`
	Socials             []SocialProfile   `json:"socials,omitempty"`
	SourceCount         int               `json:"source_count"`
	HasBrand            bool              `json:"has_brand"`
}

// ResolutionState tracks where a record sits in entity resolution.
type ResolutionState string

const (
	StateUnprocessed ResolutionState = "unprocessed"
	StateWinner      ResolutionState = "winner"
	StateLoser       ResolutionState = "loser"
)

// NormalizedPOI is the working record a raw row becomes once it survives
// category mapping, validation, and name sanitization. It is mutated in
// place as it moves through scoring, resolution, and boundary computation,
// then discarded after commit.
type NormalizedPOI struct {
	SourceID         string
	Name             string
	Category         string // internal vocabulary
	OriginalCategory string // provider taxonomy, kept for scoring modifiers
	Street           string
	HouseNumber      string
	Neighborhood     string
	PostalCode       string
	CountryCode      string

	Lon         float64
	Lat         float64
	HasGeometry bool

	Confidence  float64
	HasWebsite  bool
	HasSocial   bool
	SourceCount int
	HasBrand    bool
	IsIconic    bool

	NormalizationKey string
	RelevanceScore   int
	ScoreFlags       ScoreFlags

	Boundary      *geom.Polygon
	BoundarySrc   BoundarySource
	State         ResolutionState
	WinnerID      string // set when State == StateLoser
	RawPayload    []byte // provider row retained for provenance
}

// ScoreFlags records which bonus slots fired during scoring, for diagnostics.
type ScoreFlags struct {
	MagnitudeBonus    int  `json:"magnitude_bonus"`
	BrandBonus        bool `json:"brand_bonus"`
	DualPresenceBonus bool `json:"dual_presence_bonus"`
	IconicBonus       bool `json:"iconic_bonus"`
}

// BoundarySource says how a boundary geometry was obtained.
type BoundarySource string

const (
	BoundaryNone    BoundarySource = ""
	BoundaryPolygon BoundarySource = "polygon"
	BoundaryBuffer  BoundarySource = "buffer"
)

// DuplicateMapping is the persisted fact that one source id was merged into
// another. Winners map to themselves; the relation is transitively stable
// across runs so reprocessing the same source id resolves identically.
type DuplicateMapping struct {
	LoserSourceID  string `json:"loser_source_id"`
	WinnerSourceID string `json:"winner_source_id"`
}

// BBox is a geographic bounding box in WGS84.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLng && lon <= b.MaxLng && lat >= b.MinLat && lat <= b.MaxLat
}

// Hotlist maps an internal category to an ordered list of famous local
// venue names, most famous first.
type Hotlist map[string][]string

// VenueCount returns the total number of names across all categories.
func (h Hotlist) VenueCount() int {
	n := 0
	for _, names := range h {
		n += len(names)
	}
	return n
}

// CachedHotlist is a hotlist persisted per city with its generation time.
type CachedHotlist struct {
	CityID      string    `json:"city_id"`
	Hotlist     Hotlist   `json:"hotlist"`
	VenueCount  int       `json:"venue_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HotlistValidity is how long a cached hotlist stays usable.
const HotlistValidity = 30 * 24 * time.Hour

// Stale reports whether the cached hotlist has outlived its validity window.
func (c *CachedHotlist) Stale(now time.Time) bool {
	return now.Sub(c.GeneratedAt) > HotlistValidity
}

// CityStatus is the processing state of a city in the registry queue.
type CityStatus string

const (
	CityPending      CityStatus = "pending"
	CityProcessing   CityStatus = "processing"
	CityCompleted    CityStatus = "completed"
	CityManualReview CityStatus = "manual_review"
)

// MaxCityRetries is how many claims a city gets before manual review.
const MaxCityRetries = 3

// City is a row in the city registry queue.
type City struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CountryCode string     `json:"country_code,omitempty"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	BBox        BBox       `json:"bbox"`
	Status      CityStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
}

// MergeStats reports the outcome of merging staged winners into production.
type MergeStats struct {
	Inserted        int `json:"inserted"`
	Updated         int `json:"updated"`
	Deactivated     int `json:"deactivated"`
	SourcesInserted int `json:"sources_inserted"`
}
