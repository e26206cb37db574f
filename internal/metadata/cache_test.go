package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oncutf/oncutf/internal/persistence"
)

func writeTestFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func recordFor(t *testing.T, path string, extended bool) Record {
	t.Helper()
	fingerprint, err := Fingerprint(path)
	require.NoError(t, err)
	return Record{
		Fields:      map[string]any{"Model": "X100V"},
		Extended:    extended,
		ExtractedAt: time.Now(),
		Fingerprint: fingerprint,
	}
}

func TestCache_Get_MemoryRoundtrip(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	cache, err := NewCache(8, nil)
	require.NoError(t, err)

	cache.Put(context.Background(), path, recordFor(t, path, false))

	got, ok := cache.Get(context.Background(), path, false)
	require.True(t, ok)
	assert.Equal(t, "X100V", got.StringField("Model"))
}

func TestCache_Get_MissForUnknownPath(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	cache, err := NewCache(8, nil)
	require.NoError(t, err)

	_, ok := cache.Get(context.Background(), path, false)
	assert.False(t, ok)
}

func TestCache_Get_StaleFingerprintInvalidates(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	cache, err := NewCache(8, nil)
	require.NoError(t, err)
	cache.Put(context.Background(), path, recordFor(t, path, false))

	// Touching the file changes the fingerprint; the cached record is no
	// longer trusted.
	newTime := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, newTime, newTime))

	_, ok := cache.Get(context.Background(), path, false)
	assert.False(t, ok)
}

func TestCache_Get_FastRecordDoesNotSatisfyExtended(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	cache, err := NewCache(8, nil)
	require.NoError(t, err)
	cache.Put(context.Background(), path, recordFor(t, path, false))

	_, ok := cache.Get(context.Background(), path, true)
	assert.False(t, ok)
}

func TestCache_Get_ExtendedRecordSatisfiesFastRequest(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	cache, err := NewCache(8, nil)
	require.NoError(t, err)
	cache.Put(context.Background(), path, recordFor(t, path, true))

	got, ok := cache.Get(context.Background(), path, false)
	require.True(t, ok)
	assert.True(t, got.Extended)
}

type fakeStore struct {
	rows        map[string]persistence.MetadataRow
	gets        int
	puts        int
	invalidates int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]persistence.MetadataRow)}
}

func (s *fakeStore) GetMetadata(_ context.Context, path string) (persistence.MetadataRow, bool, error) {
	s.gets++
	row, ok := s.rows[path]
	return row, ok, nil
}

func (s *fakeStore) PutMetadata(_ context.Context, row persistence.MetadataRow) error {
	s.puts++
	s.rows[row.Path] = row
	return nil
}

func (s *fakeStore) InvalidateMetadata(_ context.Context, path string) error {
	s.invalidates++
	delete(s.rows, path)
	return nil
}

func TestCache_Get_PersistentHitIsPromoted(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	store := newFakeStore()
	record := recordFor(t, path, false)
	store.rows[path] = persistence.MetadataRow{
		Path:        path,
		Fields:      record.Fields,
		Extended:    record.Extended,
		Fingerprint: record.Fingerprint,
		ExtractedAt: record.ExtractedAt,
	}

	cache, err := NewCache(8, store)
	require.NoError(t, err)

	got, ok := cache.Get(context.Background(), path, false)
	require.True(t, ok)
	assert.Equal(t, "X100V", got.StringField("Model"))
	assert.Equal(t, 1, store.gets)

	// Promoted into the memory tier: a second lookup skips the store.
	_, ok = cache.Get(context.Background(), path, false)
	require.True(t, ok)
	assert.Equal(t, 1, store.gets)
}

func TestCache_Put_WritesThroughToStore(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	store := newFakeStore()
	cache, err := NewCache(8, store)
	require.NoError(t, err)

	cache.Put(context.Background(), path, recordFor(t, path, false))

	assert.Equal(t, 1, store.puts)
	_, ok := store.rows[path]
	assert.True(t, ok)
}

func TestCache_Invalidate_DropsBothTiers(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "a.jpg")
	store := newFakeStore()
	cache, err := NewCache(8, store)
	require.NoError(t, err)
	cache.Put(context.Background(), path, recordFor(t, path, false))

	cache.Invalidate(context.Background(), path)

	assert.Equal(t, 1, store.invalidates)
	_, ok := cache.Get(context.Background(), path, false)
	assert.False(t, ok)
}

func TestRecord_StringField_RendersWholeFloats(t *testing.T) {
	record := Record{Fields: map[string]any{
		"ImageWidth":  float64(4896),
		"Aperture":    float64(2.8),
		"Model":       "X100V",
		"MissingNone": nil,
	}}

	assert.Equal(t, "4896", record.StringField("ImageWidth"))
	assert.Equal(t, "2.8", record.StringField("Aperture"))
	assert.Equal(t, "X100V", record.StringField("Model"))
	assert.Equal(t, "", record.StringField("MissingNone"))
	assert.Equal(t, "", record.StringField("Absent"))
}
