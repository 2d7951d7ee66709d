package render

import (
	"strconv"
	"strings"

	"github.com/mailmerge/backend/internal/models"
)

var unsafeName = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
	"\"", "-", "<", "-", ">", "-", "|", "-",
)

// RecordKey returns the value of the identifying field, or the record's 1-based
// position when the field is absent or empty.
func RecordKey(rec models.Record, identifier string) string {
	if identifier != "" {
		if v, ok := rec.Get(identifier); ok {
			if key := sanitizeKey(v); key != "" {
				return key
			}
		}
	}
	return strconv.Itoa(rec.Position())
}

// ArtifactName builds "{prefix}{key}_{label}".
func ArtifactName(prefix, key, label string) string {
	return prefix + key + "_" + label
}

// KeySet tracks the record keys already used in one batch.
type KeySet map[string]bool

// Claim returns key if it is still free, otherwise key suffixed with
// "_{position}" until free. The returned key is marked as used.
func (s KeySet) Claim(key string, position int) string {
	for s[key] {
		key += "_" + strconv.Itoa(position)
	}
	s[key] = true
	return key
}

func sanitizeKey(v string) string {
	s := unsafeName.Replace(strings.TrimSpace(v))
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
