package registry

import (
	"strings"

	"github.com/google/uuid"
)

const suffixLen = 5

// newID derives an instance id from the display name: a lowercase slug
// plus a short random suffix. Collisions are statistically negligible at
// the target scale, so no uniqueness check is performed.
func newID(name string) string {
	slug := slugify(name)
	if slug == "" {
		slug = "instance"
	}
	return slug + "-" + uuid.NewString()[:suffixLen]
}

// slugify keeps [a-z0-9_-] of the lowered name, mapping runs of other
// characters to a single '-'.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
