package triage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestExtractNonEmptyFiles(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "artifacts")
	dst := filepath.Join(tmp, "output_path")

	writeFile(t, filepath.Join(src, "empty.txt"), "")
	writeFile(t, filepath.Join(src, "non_empty.txt"), "This file is not empty.")
	writeFile(t, filepath.Join(src, "nested", "another_non_empty.txt"), "Another non-empty file.")

	records, err := Extract(src, dst)
	require.NoError(t, err)
	require.Len(t, records, 2)

	names := []string{records[0].DisplayName, records[1].DisplayName}
	sort.Strings(names)
	assert.Equal(t, []string{"another_non_empty.txt", "non_empty.txt"}, names)

	sources := map[string]string{
		"non_empty.txt":         filepath.Join(src, "non_empty.txt"),
		"another_non_empty.txt": filepath.Join(src, "nested", "another_non_empty.txt"),
	}
	for _, r := range records {
		assert.Equal(t, ".txt", r.Extension)
		assert.Equal(t, DataType, r.DataType)
		assert.Equal(t, filepath.Join(dst, r.ID+r.Extension), r.Path)

		want, err := os.ReadFile(sources[r.DisplayName])
		require.NoError(t, err)
		got, err := os.ReadFile(r.Path)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		sum := sha256.Sum256(want)
		assert.Equal(t, hex.EncodeToString(sum[:]), r.SHA256)
		assert.EqualValues(t, len(want), r.Size)
	}
	assert.NotEqual(t, records[0].ID, records[1].ID)

	// Only the two copies land in the destination.
	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// The source tree is left alone.
	_, err = os.Stat(filepath.Join(src, "empty.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(src, "non_empty.txt"))
	assert.NoError(t, err)
}

func TestExtractEmptyDirectory(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()

	records, err := Extract(src, dst)
	require.NoError(t, err)
	assert.Empty(t, records)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractOnlyEmptyFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "email.txt"), "")
	writeFile(t, filepath.Join(src, "url", "url.txt"), "")

	records, err := Extract(src, dst)
	require.NoError(t, err)
	assert.Empty(t, records)

	entries, err := os.ReadDir(dst)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtractMissingSource(t *testing.T) {
	_, err := Extract(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	assert.Error(t, err)
}

func TestExtractCreatesDestination(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "report.xml"), "<report/>")
	dst := filepath.Join(t.TempDir(), "a", "b")

	records, err := Extract(src, dst)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "report.xml", records[0].DisplayName)
	assert.Equal(t, "report.xml", records[0].Source)
	assert.Equal(t, ".xml", records[0].Extension)
	assert.FileExists(t, records[0].Path)
}

func TestExtractIsStable(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c/d.txt"} {
		writeFile(t, filepath.Join(src, name), name)
	}

	first, err := Extract(src, t.TempDir())
	require.NoError(t, err)
	second, err := Extract(src, t.TempDir())
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.Len(t, second, 3)
	for i := range first {
		assert.Equal(t, first[i].DisplayName, second[i].DisplayName)
		assert.Equal(t, first[i].SHA256, second[i].SHA256)
		assert.NotEqual(t, first[i].ID, second[i].ID)
	}
}

func TestExtractUnwritableDestination(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "email.txt"), "a@example.com")
	dst := t.TempDir()
	require.NoError(t, os.Chmod(dst, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dst, 0o755) })

	records, err := Extract(src, dst)
	require.Error(t, err)
	assert.Empty(t, records)

	partial, err := filepath.Glob(filepath.Join(dst, ".partial-*"))
	require.NoError(t, err)
	assert.Empty(t, partial)
}

func TestExtractKeepsEarlierCopiesOnFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "first")
	unreadable := filepath.Join(src, "b.txt")
	writeFile(t, unreadable, "second")
	require.NoError(t, os.Chmod(unreadable, 0o000))
	t.Cleanup(func() { _ = os.Chmod(unreadable, 0o600) })
	dst := t.TempDir()

	records, err := Extract(src, dst)
	require.Error(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a.txt", records[0].DisplayName)
	assert.FileExists(t, records[0].Path)

	partial, err := filepath.Glob(filepath.Join(dst, ".partial-*"))
	require.NoError(t, err)
	assert.Empty(t, partial)
}
