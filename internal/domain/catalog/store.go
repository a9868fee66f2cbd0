package catalog

import (
	"sort"
	"strings"
)

// Store is a storefront; it sells exactly one catalog
type Store struct {
	Code    string `json:"code"`
	Catalog string `json:"catalog"`
}

// Catalog groups categories and products; a virtual catalog imports linked
// categories from master catalogs
type Catalog struct {
	Code   string `json:"code"`
	Master bool   `json:"master"`
}

// StoresForCatalogs returns the stores selling one of catalogs, ordered by
// store code. An empty catalog list selects every store.
func StoresForCatalogs(stores []Store, catalogs []string) []Store {
	wanted := make(map[string]struct{}, len(catalogs))
	for _, c := range catalogs {
		wanted[c] = struct{}{}
	}
	out := make([]Store, 0, len(stores))
	for _, s := range stores {
		if len(wanted) > 0 {
			if _, ok := wanted[s.Catalog]; !ok {
				continue
			}
		}
		out = append(out, s)
	}
	SortStores(out)
	return out
}

// SortStores orders stores by code
func SortStores(stores []Store) {
	sort.Slice(stores, func(i, j int) bool {
		return stores[i].Code < stores[j].Code
	})
}

// StoreCodes returns the codes of stores in order
func StoreCodes(stores []Store) []string {
	codes := make([]string, len(stores))
	for i, s := range stores {
		codes[i] = s.Code
	}
	return codes
}

// SortedUnique returns codes sorted lexicographically without duplicates or blanks
func SortedUnique(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if strings.TrimSpace(c) == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
