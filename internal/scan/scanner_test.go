package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
}

func entryNames(entries []FileEntry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	return names
}

func TestScanner_Scan_SortsByName(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "c.jpg", "a.jpg", "b.jpg")

	scanner := NewScanner(dir)
	entries, err := scanner.Scan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, entryNames(entries))
	for _, entry := range entries {
		assert.Equal(t, StatusPending, entry.Status)
		assert.True(t, filepath.IsAbs(entry.Path))
	}
}

func TestScanner_Scan_NonRecursiveSkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", filepath.Join("sub", "b.jpg"))

	scanner := NewScanner(dir)
	entries, err := scanner.Scan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, entryNames(entries))
}

func TestScanner_Scan_RecursiveIncludesSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", filepath.Join("sub", "b.jpg"))

	scanner := NewScanner(dir, WithRecursive(true))
	entries, err := scanner.Scan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, entryNames(entries))
}

func TestScanner_Scan_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg", "b.PNG", "c.txt", "d.jpeg")

	scanner := NewScanner(dir, WithExtensions("jpg", ".png"))
	entries, err := scanner.Scan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.PNG"}, entryNames(entries))
}

func TestScanner_Scan_MissingRoot(t *testing.T) {
	scanner := NewScanner(filepath.Join(t.TempDir(), "nope"))

	_, err := scanner.Scan(context.Background())
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestScanner_Scan_CachedWithinTTL(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	scanner := NewScanner(dir, WithCacheTTL(time.Minute))
	first, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A file added after the first scan stays invisible until the cache
	// is invalidated.
	writeFiles(t, dir, "b.jpg")

	second, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 1)

	scanner.Invalidate()

	third, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, third, 2)
}

func TestScanner_Scan_CachedResultIsACopy(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	scanner := NewScanner(dir, WithCacheTTL(time.Minute))
	first, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", second[0].Name)
}

func TestScanner_Scan_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewScanner(dir, WithCacheTTL(0))
	_, err := scanner.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
