package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool writes a shell script standing in for bulk_extractor. It is
// invoked as "<script> -o <outDir> <input>".
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bulk_extractor")
	script := "#!/bin/sh\nout=\"$2\"\ninput=\"$3\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestBaseCommand(t *testing.T) {
	c := New("", []string{"-x", "all"})
	assert.Equal(t, []string{"bulk_extractor", "-x", "all", "-o", "/tmp/out"}, c.BaseCommand("/tmp/out"))
	// BaseCommand must not alias Args.
	assert.Equal(t, []string{"-x", "all"}, c.Args)
}

func TestRunSuccess(t *testing.T) {
	tool := fakeTool(t, `mkdir -p "$out" && cp "$input" "$out/copy.bin"`)
	input := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(input, []byte("image"), 0o600))
	out := filepath.Join(t.TempDir(), "out")

	require.NoError(t, New(tool, nil).Run(context.Background(), input, out))
	got, err := os.ReadFile(filepath.Join(out, "copy.bin"))
	require.NoError(t, err)
	assert.Equal(t, "image", string(got))
}

func TestRunExitStatus(t *testing.T) {
	tool := fakeTool(t, `exit 3`)
	err := New(tool, nil).Run(context.Background(), "in", filepath.Join(t.TempDir(), "out"))
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
}

func TestRunNoOutput(t *testing.T) {
	tool := fakeTool(t, `exit 0`)
	err := New(tool, nil).Run(context.Background(), "in", filepath.Join(t.TempDir(), "out"))
	assert.True(t, errors.Is(err, ErrNoOutput))
}

func TestRunMissingBinary(t *testing.T) {
	err := New(filepath.Join(t.TempDir(), "nope"), nil).Run(context.Background(), "in", t.TempDir())
	assert.Error(t, err)
}

func TestRunReportsProgress(t *testing.T) {
	tool := fakeTool(t, `mkdir -p "$out"
echo "bulk_extractor version: 2.1.1"
echo "12:00:01 Offset 67MB (12.05%) Done in 0:00:20 at 12:00:21"
printf "12:00:05 Offset 134MB (50.00%%) Done in 0:00:10 at 12:00:15"`)

	var got []float64
	c := New(tool, nil)
	c.Progress = func(pct float64, _ string) { got = append(got, pct) }
	require.NoError(t, c.Run(context.Background(), "in", filepath.Join(t.TempDir(), "out")))
	assert.Equal(t, []float64{12.05, 50}, got)
}

func TestParsePercent(t *testing.T) {
	pct, ok := ParsePercent("Offset 1GB (99.9%) Done in 0:00:01")
	assert.True(t, ok)
	assert.Equal(t, 99.9, pct)

	_, ok = ParsePercent("Phase 2. Shutting down scanners")
	assert.False(t, ok)
	_, ok = ParsePercent("(250%)")
	assert.False(t, ok)
}

func TestProgressWriterSplitsChunks(t *testing.T) {
	var got []float64
	w := newProgressWriter(func(p float64, _ string) { got = append(got, p) })
	_, _ = w.Write([]byte("a (1"))
	_, _ = w.Write([]byte("0%)\rb (20%)\n(30"))
	w.Flush()
	assert.Equal(t, []float64{10, 20}, got)
}
