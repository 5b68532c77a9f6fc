package fiscal

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// cfdiUUIDRe matches the 8-4-4-4-12 hexadecimal UUID shape used by CFDI
// fiscal folios, in either case.
var cfdiUUIDRe = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)

// ExtractCFDIUUIDs returns every CFDI UUID found in text, deduplicated
// case-insensitively and normalized to lower case, in order of first
// appearance.
func ExtractCFDIUUIDs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range cfdiUUIDRe.FindAllString(text, -1) {
		normalized := strings.ToLower(m)
		if _, err := uuid.Parse(normalized); err != nil {
			continue
		}
		if !seen[normalized] {
			seen[normalized] = true
			out = append(out, normalized)
		}
	}
	return out
}
