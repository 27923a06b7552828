package manifest

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

// suggest returns the closest allowed key for a near-miss: a prefix match,
// or the option within a small edit distance of the given key.
func suggest(key string, options []string) (string, bool) {
	best, bestDistance := "", maxSuggestDistance+1
	for _, option := range sorted(options) {
		if strings.HasPrefix(option, key) || strings.HasPrefix(key, option) {
			return option, true
		}
		if d := levenshtein.Distance(key, option, nil); d < bestDistance {
			best, bestDistance = option, d
		}
	}
	return best, bestDistance <= maxSuggestDistance
}

const maxSuggestDistance = 2

func sorted(options []string) []string {
	out := make([]string, len(options))
	copy(out, options)
	sort.Strings(out)
	return out
}
