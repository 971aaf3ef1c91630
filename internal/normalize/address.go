package normalize

import (
	"regexp"
	"strings"
)

var (
	// "123 Main Street" and "123A Rua Tal"
	numberFirst = regexp.MustCompile(`^(\d+[\w/-]*)\s+(.+)$`)
	// "Rua XV de Novembro, 123"
	numberAfterComma = regexp.MustCompile(`^(.+?),\s*(\d+[\w/-]*)$`)
	// "Avenida Paulista 1000" (no comma)
	numberLast = regexp.MustCompile(`^(.+?)\s+(\d+[\w/-]*)$`)
	// Trailing token only counts as a house number when it is digits or
	// digits plus a single letter; "XV de Novembro" must stay intact.
	plainNumber = regexp.MustCompile(`^\d+[A-Za-z]?$`)
)

// ParseStreetAddress splits a freeform address line into street name and
// house number. Either part may come back empty.
func ParseStreetAddress(freeform string) (street, houseNumber string) {
	freeform = strings.TrimSpace(freeform)
	if freeform == "" {
		return "", ""
	}

	if m := numberFirst.FindStringSubmatch(freeform); m != nil {
		return m[2], m[1]
	}

	if m := numberAfterComma.FindStringSubmatch(freeform); m != nil {
		return m[1], m[2]
	}

	if m := numberLast.FindStringSubmatch(freeform); m != nil {
		if isDigits(m[2]) || plainNumber.MatchString(m[2]) {
			return m[1], m[2]
		}
	}

	return freeform, ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
