package projection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupersedes(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	key := Key{Type: TypeBrand, Store: "uk", Code: "acme"}

	live := New(key, []byte(`{"code":"acme"}`), nil, now)

	t.Run("nothing stored is always a change", func(t *testing.T) {
		assert.True(t, Supersedes(nil, live))
	})

	t.Run("same body is not a change", func(t *testing.T) {
		again := New(key, []byte(`{"code":"acme"}`), nil, later)
		assert.False(t, Supersedes(live, again))
	})

	t.Run("different body is a change", func(t *testing.T) {
		edited := New(key, []byte(`{"code":"acme","name":"Acme"}`), nil, later)
		assert.True(t, Supersedes(live, edited))
	})

	t.Run("same body over a tombstone is a pending un-expiry", func(t *testing.T) {
		tomb := live.Tombstoned(now)
		tomb.Content = live.Content
		tomb.ContentHash = live.ContentHash
		assert.True(t, Supersedes(tomb, live))
	})

	t.Run("moved expiry instant is a change", func(t *testing.T) {
		expiring := New(key, []byte(`{"code":"acme"}`), &later, now)
		assert.True(t, Supersedes(live, expiring))
	})

	t.Run("tombstoning a tombstone is not a change", func(t *testing.T) {
		first := NewTombstone(key, nil, now)
		second := NewTombstone(key, nil, later)
		assert.False(t, Supersedes(first, second))
	})
}

func TestProjection_IsExpiredAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	disable := now.Add(125 * time.Second)
	p := New(Key{Type: TypeOffer, Store: "uk", Code: "p1"}, []byte(`{}`), &disable, now)

	assert.False(t, p.IsExpiredAt(now.Add(60*time.Second)))
	assert.True(t, p.IsExpiredAt(disable))
	assert.True(t, p.IsExpiredAt(now.Add(185*time.Second)))
	assert.False(t, New(p.Key, []byte(`{}`), nil, now).IsExpiredAt(now.Add(time.Hour)))
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte(`{"a":1}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, ContentHash([]byte(`{"a":1}`)))
	assert.NotEqual(t, a, ContentHash([]byte(`{"a":2}`)))
}

func TestParseType(t *testing.T) {
	got, err := ParseType("modifierGroup")
	require.NoError(t, err)
	assert.Equal(t, TypeModifierGroup, got)

	_, err = ParseType("warehouse")
	assert.Error(t, err)
}
