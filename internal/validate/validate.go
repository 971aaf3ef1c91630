// Package validate applies the taxonomy and consistency checks a raw POI
// must pass before it is scored. Every check returns true to accept; the
// pipeline turns each false into a named rejection metric.
package validate

import (
	"fmt"
	"strings"

	"github.com/bumpti/hydration-cli/internal/curation"
)

// CrossValidate checks name/category consistency: a category's required
// terms must appear in the name and none of its forbidden terms may.
func CrossValidate(name, category string, tables *curation.Tables) bool {
	nameLower := strings.ToLower(name)

	rule, ok := tables.Taxonomy.CrossValidation[category]
	if !ok {
		return true
	}

	if len(rule.RequiredTerms) > 0 {
		found := false
		for _, term := range rule.RequiredTerms {
			if strings.Contains(nameLower, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, term := range rule.ForbiddenTerms {
		if strings.Contains(nameLower, term) {
			return false
		}
	}

	return true
}

// CheckHierarchy rejects records whose taxonomy placement touches a
// forbidden branch. The primary category, every alternate, and the raw
// source tag bag (as key:value strings) are all scanned.
func CheckHierarchy(primary string, alternates []string, sourceTags map[string]string, tables *curation.Tables) bool {
	forbidden := tables.Taxonomy.ForbiddenHierarchyTerms

	categories := append([]string{primary}, alternates...)
	for _, cat := range categories {
		if cat == "" {
			continue
		}
		catLower := strings.ToLower(cat)
		for _, term := range forbidden {
			if strings.Contains(catLower, term) {
				return false
			}
		}
	}

	for key, value := range sourceTags {
		combined := strings.ToLower(fmt.Sprintf("%s:%s", key, value))
		for _, term := range forbidden {
			if strings.Contains(combined, term) {
				return false
			}
		}
	}

	return true
}

// legitimateMassage are the massage subtypes that clear the
// healthcare=massage red flag.
var legitimateMassage = map[string]struct{}{
	"spa": {}, "sports": {}, "medical": {}, "physiotherapy": {},
}

// CheckRedFlags scans source tags against the red-flag table. A tagged
// healthcare=massage venue survives when its massage tag names a
// legitimate clinical subtype.
func CheckRedFlags(sourceTags map[string]string, tables *curation.Tables) bool {
	if len(sourceTags) == 0 {
		return true
	}

	for key, forbiddenValues := range tables.Taxonomy.RedFlags {
		tagValue := strings.ToLower(sourceTags[key])
		if tagValue == "" {
			continue
		}

		if key == "healthcare" && tagValue == "massage" {
			subtype := strings.ToLower(sourceTags["massage"])
			if _, ok := legitimateMassage[subtype]; ok {
				continue
			}
		}

		for _, forbidden := range forbiddenValues {
			if strings.Contains(tagValue, strings.ToLower(forbidden)) {
				return false
			}
		}
	}

	return true
}
