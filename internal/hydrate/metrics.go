package hydrate

import "go.uber.org/zap"

// Metrics counts what happened to every fetched record. Rejections are
// expected outcomes, not errors; each rejection stage has its own counter.
type Metrics struct {
	Fetched           int `json:"fetched"`
	CategoryUnmapped  int `json:"category_unmapped"`
	TaxonomyForbidden int `json:"taxonomy_forbidden"`
	RedFlag           int `json:"red_flag"`
	NameBlacklisted   int `json:"name_blacklisted"`
	CrossValidation   int `json:"cross_validation"`
	ScoreRejected     int `json:"score_rejected"`
	MalformedGeometry int `json:"malformed_geometry"`
	Accepted          int `json:"accepted"`
	Iconic            int `json:"iconic"`
	Winners           int `json:"winners"`
	Duplicates        int `json:"duplicates"`
}

// Rejected returns the total count of records dropped before resolution.
func (m *Metrics) Rejected() int {
	return m.CategoryUnmapped + m.TaxonomyForbidden + m.RedFlag +
		m.NameBlacklisted + m.CrossValidation + m.ScoreRejected
}

// LogSummary emits the per-city pipeline summary.
func (m *Metrics) LogSummary(log *zap.Logger, cityName string) {
	log.Info("pipeline summary",
		zap.String("city", cityName),
		zap.Int("fetched", m.Fetched),
		zap.Int("category_unmapped", m.CategoryUnmapped),
		zap.Int("taxonomy_forbidden", m.TaxonomyForbidden),
		zap.Int("red_flag", m.RedFlag),
		zap.Int("name_blacklisted", m.NameBlacklisted),
		zap.Int("cross_validation", m.CrossValidation),
		zap.Int("score_rejected", m.ScoreRejected),
		zap.Int("malformed_geometry", m.MalformedGeometry),
		zap.Int("accepted", m.Accepted),
		zap.Int("iconic", m.Iconic),
		zap.Int("winners", m.Winners),
		zap.Int("duplicates", m.Duplicates),
	)
}
