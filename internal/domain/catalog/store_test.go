package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoresForCatalogs(t *testing.T) {
	stores := []Store{
		{Code: "uk", Catalog: "master"},
		{Code: "ca", Catalog: "virtual"},
		{Code: "au", Catalog: "master"},
	}

	t.Run("selects stores of the given catalogs in code order", func(t *testing.T) {
		got := StoresForCatalogs(stores, []string{"master"})
		assert.Equal(t, []string{"au", "uk"}, StoreCodes(got))
	})

	t.Run("no catalogs selects every store", func(t *testing.T) {
		got := StoresForCatalogs(stores, nil)
		assert.Equal(t, []string{"au", "ca", "uk"}, StoreCodes(got))
	})
}

func TestSortedUnique(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedUnique([]string{"c", "a", "b", "a", ""}))
	assert.Empty(t, SortedUnique(nil))
}

func TestLocalizedNames_Canonical(t *testing.T) {
	names := LocalizedNames{"en_US": "Shoes", "fr-ca": "Chaussures", "not a tag!": "x"}

	got := names.Canonical()

	assert.Equal(t, "Shoes", got["en-US"])
	assert.Equal(t, "Chaussures", got["fr-CA"])
	assert.Equal(t, "x", got["not a tag!"])
}
