package extract

import (
	"strings"
	"time"
)

// DateLayout is the textual form every date/time cell is coerced to.
const DateLayout = "02/01/2006"

// NormalizeHeader trims a column header and collapses internal whitespace runs to
// a single underscore, so "  Date   Liq " and "Date_Liq" compare equal.
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(h), "_")
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceText turns a textual cell into its record value: ISO dates become
// DD/MM/YYYY, everything else is trimmed.
func coerceText(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) < len("2006-01-02") || s[4] != '-' {
		return s
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}
