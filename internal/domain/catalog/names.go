package catalog

import (
	"sort"

	"golang.org/x/text/language"
)

// LocalizedNames maps a locale tag to a display name
type LocalizedNames map[string]string

// Canonical returns a copy keyed by canonical BCP 47 tags ("en_us" and
// "en-US" collapse to "en-US"). Unparseable keys are kept verbatim; on a
// collision the lexicographically smallest source key wins.
func (n LocalizedNames) Canonical() LocalizedNames {
	if len(n) == 0 {
		return LocalizedNames{}
	}
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(LocalizedNames, len(n))
	for _, k := range keys {
		tag := canonicalLocale(k)
		if _, taken := out[tag]; taken {
			continue
		}
		out[tag] = n[k]
	}
	return out
}

func canonicalLocale(raw string) string {
	tag, err := language.Parse(raw)
	if err != nil {
		return raw
	}
	return tag.String()
}
