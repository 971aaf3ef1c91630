// Package normalize cleans raw POI names and addresses and derives the
// canonical comparison key used by entity resolution.
package normalize

import (
	"strings"

	"github.com/bumpti/hydration-cli/internal/curation"
)

// SanitizeName strips corporate suffixes and rejects blacklisted names.
// An empty return means the record must be dropped.
func SanitizeName(name string, rules curation.NameRules) string {
	if name == "" {
		return ""
	}

	lower := strings.ToLower(name)
	for _, term := range rules.Blacklist {
		if strings.Contains(lower, term) {
			return ""
		}
	}

	// One pass over the suffix list; earlier removals expose later
	// suffixes ("Padaria Pão Ltda. ME" loses "ME", then "Ltda.").
	cleaned := name
	for _, suffix := range rules.StripSuffixes {
		if strings.HasSuffix(cleaned, suffix) {
			cleaned = strings.TrimSpace(cleaned[:len(cleaned)-len(suffix)])
		}
	}

	return cleaned
}
