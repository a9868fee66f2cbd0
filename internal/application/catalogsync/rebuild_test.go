package catalogsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erp/catalogsync/internal/domain/catalog"
	"github.com/erp/catalogsync/internal/domain/projection"
	"github.com/erp/catalogsync/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRebuildMode(t *testing.T) {
	mode, err := ParseRebuildMode("")
	require.NoError(t, err)
	assert.Equal(t, RebuildMerge, mode)

	mode, err = ParseRebuildMode("clean")
	require.NoError(t, err)
	assert.Equal(t, RebuildClean, mode)

	_, err = ParseRebuildMode("scorched")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func rebuildHarness(t *testing.T) (*harness, *RebuildRunner) {
	t.Helper()
	yesterday := testNow.Add(-24 * time.Hour)
	h := newHarness(1000)
	h.lookup.attributes["colour"] = &catalog.Attribute{Code: "colour"}
	h.lookup.brands["acme"] = &catalog.Brand{Code: "acme"}
	h.lookup.options["size"] = &catalog.SkuOption{Code: "size"}
	h.lookup.groups["engraving"] = &catalog.ModifierGroup{Code: "engraving"}
	h.lookup.addCategory(catalog.Category{Code: "shoes", Catalog: "master", StartDate: yesterday})
	h.lookup.products["laces"] = &catalog.Product{Code: "laces", Catalog: "master", Categories: []string{"shoes"}, StartDate: yesterday}
	h.lookup.references["brand/acme"] = []string{"laces"}

	e := newTestEngine(t, h, nil)
	r, err := NewRebuildRunner(e, h.lookup, h.store, nil)
	require.NoError(t, err)
	return h, r
}

func TestRebuildRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("merge writes every entity without publishing", func(t *testing.T) {
		h, r := rebuildHarness(t)

		report, err := r.Run(ctx, RebuildMerge)

		require.NoError(t, err)
		assert.Equal(t, RebuildMerge, report.Mode)
		assert.NotEmpty(t, report.GUID)
		assert.Equal(t, 1, report.Entities[catalog.KindBrand])
		assert.Equal(t, 1, report.Entities[catalog.KindCategory])
		assert.Equal(t, 1, report.Entities[catalog.KindOffer])
		assert.Zero(t, report.Failed)
		assert.Zero(t, h.bus.count())
		assert.False(t, h.store.cleaned)
		for _, pt := range projection.AllTypes() {
			assert.NotNil(t, h.store.row(pt, "uk", map[projection.Type]string{
				projection.TypeAttribute:     "colour",
				projection.TypeBrand:         "acme",
				projection.TypeOption:        "size",
				projection.TypeModifierGroup: "engraving",
				projection.TypeCategory:      "shoes",
				projection.TypeOffer:         "laces",
			}[pt]), pt)
		}
	})

	t.Run("clean removes projections first", func(t *testing.T) {
		h, r := rebuildHarness(t)
		stale := projection.New(projection.Key{Type: projection.TypeBrand, Store: "uk", Code: "gone"}, []byte(`{}`), nil, testNow)
		_, err := h.store.Write(ctx, stale)
		require.NoError(t, err)

		_, err = r.Run(ctx, RebuildClean)

		require.NoError(t, err)
		assert.True(t, h.store.cleaned)
		assert.Nil(t, h.store.row(projection.TypeBrand, "uk", "gone"))
		assert.NotNil(t, h.store.row(projection.TypeBrand, "uk", "acme"))
	})

	t.Run("failures are collected and the rest still rebuilt", func(t *testing.T) {
		h, r := rebuildHarness(t)
		boom := errors.New("disk full")
		h.store.failOn[projection.Key{Type: projection.TypeBrand, Store: "uk", Code: "acme"}] = boom
		h.store.failOn[projection.Key{Type: projection.TypeOption, Store: "uk", Code: "size"}] = boom

		report, err := r.Run(ctx, RebuildMerge)

		require.ErrorIs(t, err, boom)
		assert.Equal(t, 2, report.Failed)
		assert.NotNil(t, h.store.row(projection.TypeBrand, "au", "acme"))
		assert.NotNil(t, h.store.row(projection.TypeOffer, "uk", "laces"))
	})

	t.Run("clean rebuild refused while another runs", func(t *testing.T) {
		h := newHarness(1000)
		e := newTestEngine(t, h, NewRebuildGuard(&fakeRebuildLock{held: true}, time.Minute))
		r, err := NewRebuildRunner(e, h.lookup, h.store, nil)
		require.NoError(t, err)

		_, err = r.Run(ctx, RebuildClean)

		assert.ErrorIs(t, err, shared.ErrRebuildInProgress)
		assert.False(t, h.store.cleaned)
	})
}

func TestNewRebuildRunner_ConfigErrors(t *testing.T) {
	h := newHarness(1000)
	e := newTestEngine(t, h, nil)

	_, err := NewRebuildRunner(nil, h.lookup, h.store, nil)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	r, err := NewRebuildRunner(e, h.lookup, nil, nil)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), RebuildClean)
	assert.ErrorAs(t, err, &cfgErr)
}
